package tests

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// the rollbar async transport is started on package init
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}
