package stage

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/avcapd/avcapd/internal/pipeline"
)

func TestRunSignalWaiterRequestsStopOnDelivery(t *testing.T) {
	stop := pipeline.NewStopLatch()
	ch := make(chan os.Signal, 1)

	done := make(chan error, 1)
	go func() {
		done <- RunSignalWaiter(SignalWaiterConfig{Ch: ch, Stop: stop})
	}()

	ch <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunSignalWaiter returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunSignalWaiter did not return after a signal was delivered")
	}

	if !stop.ShouldStop() {
		t.Error("ShouldStop() = false, want true after signal delivery")
	}
}
