// Package testing switches the helpdesk into test mode when imported by a test
// binary: no outbound mail, no background schedulers.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("HELPDESK_TEST_MODE", "1")
		_ = os.Unsetenv("SMTP_HOST")
	})
}

func init() {
	ensureTestMode()
}

// TestMain may be called from a package TestMain to guarantee the flag is set
// before any test runs.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
