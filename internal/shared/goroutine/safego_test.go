package goroutine

import (
	"testing"
	"time"

	"github.com/orris-inc/roster/internal/shared/logger"
)

func TestSafeGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	SafeGo(logger.NewLogger(), "worker", func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	unwound := make(chan struct{})
	SafeGo(logger.NewLogger(), "exploding", func() {
		defer close(unwound)
		panic("boom")
	})

	// If recovery were missing the panic would crash the test process.
	select {
	case <-unwound:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}
