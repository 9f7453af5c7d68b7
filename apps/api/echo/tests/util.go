package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	. "github.com/trezcool/mitihani/apps/api/echo"
	"github.com/trezcool/mitihani/core"
	"github.com/trezcool/mitihani/core/packet"
	metricsvc "github.com/trezcool/mitihani/services/metrics"
	"github.com/trezcool/mitihani/tests"
)

const (
	operatorID int64 = testutil.StaffAlice
	adminID    int64 = testutil.StaffBob
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type env struct {
	app  Server
	svc  packet.Service
	conf *core.Config
}

func setup(t *testing.T) env {
	conf := *testutil.Config()
	conf.Server.DisableReqLogs = true

	registry := prometheus.NewRegistry()
	metrics, err := metricsvc.NewPacketMetrics(registry)
	if err != nil {
		t.Fatalf("NewPacketMetrics() failed: %v", err)
	}

	svc, _ := testutil.NewDummyService(t, func(deps *packet.Deps) {
		deps.Conf = &conf
		deps.Observer = metrics
	})
	_, translator := testutil.NewValidator()

	app := NewServer(
		"",  /* addr */
		nil, /* shutdown */
		&Deps{
			Conf:       &conf,
			Logger:     testutil.NopLogger{},
			Translator: translator,
			PacketSvc:  svc,
			Gatherer:   registry,
		},
	)
	return env{app: app, svc: svc, conf: &conf}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, staffID int64, roles ...string) string {
	token, err := GenerateToken(conf, GetStaffClaims(conf, staffID, "", roles...))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decoding %q failed: %v", rec.Body.String(), err)
	}
}
