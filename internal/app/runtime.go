package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "HELPDESK_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether HELPDESK_TEST_MODE=1. Binaries return early in
// test mode so importing them from tests has no side effects.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and caches the result.
func RefreshTestMode() bool {
	on := os.Getenv(testModeEnv) == "1"
	testMode.Store(&on)
	return on
}
