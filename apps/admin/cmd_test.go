package main

import (
	"bytes"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/mitihani/apps/api/echo"
	"github.com/trezcool/mitihani/core/packet"
	"github.com/trezcool/mitihani/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	color.NoColor = true

	svc, _ := testutil.NewDummyService(t)
	var out bytes.Buffer
	return &commandLine{
		conf:   testutil.Config(),
		pktSvc: svc,
		dir:    testutil.NewDirectory(),
		out:    &out,
	}, &out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	switch {
	case err == nil:
		if tt.wantErr != nil || tt.wantErrStr != "" {
			t.Errorf("cli.run() error = nil, wantErr %v %s", tt.wantErr, tt.wantErrStr)
		}
	case tt.wantErr != nil:
		if err != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	default:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_root(t *testing.T) {
	cli, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol" for "admin"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}
	assert.Contains(t, out.String(), "migrate")
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	var gotCommand string
	var gotArgs []string
	migrateFunc = func(db *sql.DB, command string, args ...string) error {
		gotCommand, gotArgs = command, args
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "add_seal_index", "sql"}, extra: []string{"add_seal_index", "sql"}},
		{name: "flags pass through", args: []string{"migrate", "status", "-v"}, extra: []string{"-v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCommand, gotArgs = "", nil
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
			if len(tt.args) > 1 {
				assert.Equal(t, tt.args[1], gotCommand)
			}
			if wantArgs, ok := tt.extra.([]string); ok {
				assert.Equal(t, wantArgs, gotArgs)
			}
		})
	}
}

func Test_commandLine_token(t *testing.T) {
	cli, out := setup(t)

	tests := []cliTest{
		{name: "no staff", args: []string{"token"}, wantErrStr: `required flag(s) "staff" not set`},
		{name: "unknown staff", args: []string{"token", "--staff", "7"}, wantErrStr: "staff 7 not found"},
		{name: "unknown role", args: []string{"token", "--staff", "1001", "--role", "root"}, wantErrStr: `unknown role "root"`},
		{name: "operator", args: []string{"token", "--staff", "1001"}, extra: []string{echoapi.RoleOperator}},
		{name: "admin", args: []string{"token", "--staff", "1002", "--role", "operator,admin", "--name", "Bob"}, extra: []string{echoapi.RoleOperator, echoapi.RoleAdmin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(append([]string{"admin"}, tt.args...))
			tt.check(t, err)
			if err != nil {
				return
			}

			var claims echoapi.Claims
			_, err = jwt.ParseWithClaims(strings.TrimSpace(out.String()), &claims, func(*jwt.Token) (interface{}, error) {
				return []byte(cli.conf.SecretKey), nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.extra, claims.Roles)
			assert.NotEmpty(t, claims.Name)
		})
	}
}

func Test_commandLine_stats(t *testing.T) {
	cli, out := setup(t)
	pkt := testutil.CreatePacket(t, cli.pktSvc)
	testutil.CreatePacket(t, cli.pktSvc)
	testutil.Walk(t, cli.pktSvc, pkt.ID, testutil.FullPath()[0])

	require.NoError(t, cli.run([]string{"admin", "stats"}))
	assert.Regexp(t, regexp.MustCompile(`created\s+\|\s+1\s+\|`), out.String())
	assert.Regexp(t, regexp.MustCompile(`packed\s+\|\s+1\s+\|`), out.String())
	assert.Regexp(t, regexp.MustCompile(`(?i)total\W+2`), out.String())

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "stats", "--grade", "7"}))
	assert.Regexp(t, regexp.MustCompile(`(?i)total\W+0`), out.String())

	tt := cliTest{name: "bad flag", wantErrStr: `invalid argument "eight" for "--grade" flag: strconv.ParseInt: parsing "eight": invalid syntax`}
	tt.check(t, cli.run([]string{"admin", "stats", "--grade", "eight"}))
}

func Test_commandLine_history(t *testing.T) {
	cli, out := setup(t)
	pkt := testutil.CreatePacket(t, cli.pktSvc)
	testutil.Walk(t, cli.pktSvc, pkt.ID, testutil.FullPath()[:3]...)

	tests := []cliTest{
		{name: "no barcode", args: []string{"history"}, wantErrStr: "accepts 1 arg(s), received 0"},
		{name: "unknown barcode", args: []string{"history", "EP0001-0000000000"}, wantErr: packet.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(append([]string{"admin"}, tt.args...))
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			tt.check(t, err)
		})
	}

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "history", strings.ToLower(pkt.Barcode)}))
	got := out.String()
	assert.Contains(t, got, pkt.Barcode)
	assert.Contains(t, got, "at_region @ Central")
	assert.Contains(t, got, "dispatched_to_region")
	assert.Contains(t, got, "Bob Otieno")
	assert.Equal(t, 3, strings.Count(got, "forward"))
}
