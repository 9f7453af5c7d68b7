package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mitihani/core"
)

func TestParse(t *testing.T) {
	err := errors.New("boom")
	tests := []struct {
		name       string
		args       []interface{}
		wantErr    error
		wantExtras map[string]interface{}
		wantPerson *Person
		wantString string
	}{
		{
			name:       "no args",
			wantExtras: map[string]interface{}{},
			wantString: "msg",
		},
		{
			name:       "key/value pairs",
			args:       []interface{}{"packet_id", "abc", "attempt", 2},
			wantExtras: map[string]interface{}{"packet_id": "abc", "attempt": 2},
			wantString: "msg packet_id=abc attempt=2",
		},
		{
			name:       "error and person",
			args:       []interface{}{err, Person{ID: "1001", Name: "Alice"}, "status", "missing"},
			wantErr:    err,
			wantExtras: map[string]interface{}{"status": "missing"},
			wantPerson: &Person{ID: "1001", Name: "Alice"},
			wantString: `msg status=missing error="boom"`,
		},
		{
			name:       "dangling key",
			args:       []interface{}{"lonely"},
			wantExtras: map[string]interface{}{"extra": "lonely"},
			wantString: "msg extra=lonely",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := parse("msg", tt.args)
			assert.Equal(t, tt.wantErr, e.err)
			assert.Equal(t, tt.wantExtras, e.extras)
			assert.Equal(t, tt.wantPerson, e.person)
			assert.Equal(t, tt.wantString, e.String())
		})
	}
}

func TestRollbarLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	l := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST"})
	l.Enable(false)

	l.Info("handover recorded", "packet_id", "abc")
	assert.Equal(t, "INFO handover recorded packet_id=abc\n", buf.String())
}
