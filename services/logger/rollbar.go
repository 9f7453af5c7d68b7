package logsvc

import (
	"fmt"
	"log"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/mitihani/core"
)

// Person identifies the staff member acting when a message is logged.
type Person struct {
	ID   string
	Name string
}

type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// entry is a log message with its args sorted out.
type entry struct {
	msg    string
	err    error
	extras map[string]interface{}
	keys   []string
	person *Person
}

// parse sorts args out: errors, Person, maps of extras and key/value pairs.
func parse(msg string, args []interface{}) entry {
	e := entry{msg: msg, extras: make(map[string]interface{})}
	set := func(k string, v interface{}) {
		if _, ok := e.extras[k]; !ok {
			e.keys = append(e.keys, k)
		}
		e.extras[k] = v
	}

	for i := 0; i < len(args); i++ {
		switch arg := args[i].(type) {
		case error:
			if e.err == nil {
				e.err = arg
			} else {
				set("error", arg.Error())
			}
		case Person:
			if e.person == nil { // only set one Person
				p := arg
				e.person = &p
			}
		case map[string]interface{}:
			for k, v := range arg {
				set(k, v)
			}
		case string:
			if i+1 < len(args) {
				set(arg, args[i+1])
				i++
			} else {
				set("extra", arg)
			}
		default:
			set(fmt.Sprintf("arg%d", i), arg)
		}
	}
	return e
}

func (l RollbarLogger) prepare(e entry) []interface{} {
	if e.person != nil {
		rollbar.SetPerson(e.person.ID, e.person.Name, "")
	} else {
		rollbar.ClearPerson()
	}

	args := []interface{}{e.msg}
	if e.err != nil {
		args = append(args, e.err)
	}
	if len(e.extras) > 0 {
		args = append(args, e.extras)
	}
	return args
}

func (e entry) String() string {
	var b strings.Builder
	b.WriteString(e.msg)
	for _, k := range e.keys {
		_, _ = fmt.Fprintf(&b, " %s=%v", k, e.extras[k])
	}
	if e.err != nil {
		_, _ = fmt.Fprintf(&b, " error=%q", e.err.Error())
	}
	return b.String()
}

func (l RollbarLogger) print(level string, e entry) {
	l.std.Printf("%s %s", level, e)
	if e.err != nil {
		l.std.Printf("%+v\n", e.err)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	e := parse(msg, args)
	rollbar.Debug(l.prepare(e)...)
	l.print("DEBUG", e)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	e := parse(msg, args)
	rollbar.Info(l.prepare(e)...)
	l.print("INFO", e)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	e := parse(msg, args)
	rollbar.Warning(l.prepare(e)...)
	l.print("WARN", e)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	e := parse(msg, args)
	rollbar.Error(l.prepare(e)...)
	l.print("ERROR", e)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	e := parse(msg, args)
	rollbar.Critical(l.prepare(e)...)
	l.print("FATAL", e)
	rollbar.Wait()
	l.std.Fatal(msg)
}
