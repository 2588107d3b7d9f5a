package element

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liteplayer-go/liteplayer/pkg/types"
)

func TestElementRunsToFinished(t *testing.T) {
	var opened, closed, processed int32

	el := New(Config{
		Tag: "test",
		Open: func(ctx context.Context) error {
			atomic.AddInt32(&opened, 1)
			return nil
		},
		Process: func(ctx context.Context) ProcessResult {
			n := atomic.AddInt32(&processed, 1)
			if n >= 3 {
				return ProcessDone
			}
			return ProcessOK
		},
		Close: func(ctx context.Context) error {
			atomic.AddInt32(&closed, 1)
			return nil
		},
	})

	el.Run(context.Background())
	el.Resume()

	if !el.WaitForState(types.ElementStateFinished, time.Second) {
		t.Fatalf("element did not reach finished, state=%v", el.State())
	}
	if atomic.LoadInt32(&opened) != 1 {
		t.Fatalf("opened = %d, want 1", opened)
	}
	if atomic.LoadInt32(&closed) != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	if atomic.LoadInt32(&processed) != 3 {
		t.Fatalf("processed = %d, want 3", processed)
	}

	el.Terminate()
	el.Wait()
}

func TestElementPauseResume(t *testing.T) {
	var processed int32
	gate := make(chan struct{}, 1)

	el := New(Config{
		Tag: "test",
		Process: func(ctx context.Context) ProcessResult {
			select {
			case <-gate:
				atomic.AddInt32(&processed, 1)
				return ProcessOK
			default:
				return ProcessTimeout
			}
		},
	})

	el.Run(context.Background())
	el.Resume()
	if !el.WaitForState(types.ElementStateRunning, time.Second) {
		t.Fatalf("element did not reach running, state=%v", el.State())
	}

	el.Pause()
	if !el.WaitForState(types.ElementStatePaused, time.Second) {
		t.Fatalf("element did not reach paused, state=%v", el.State())
	}

	before := atomic.LoadInt32(&processed)
	gate <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&processed) != before {
		t.Fatalf("processed advanced while paused: %d -> %d", before, processed)
	}

	el.Resume()
	if !el.WaitForState(types.ElementStateRunning, time.Second) {
		t.Fatalf("element did not resume, state=%v", el.State())
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&processed) == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&processed) == before {
		t.Fatal("processed never advanced after resume")
	}

	el.Terminate()
	el.Wait()
}

func TestElementProcessFailReportsError(t *testing.T) {
	var gotErr atomic.Bool
	el := New(Config{
		Tag: "test",
		Process: func(ctx context.Context) ProcessResult {
			return ProcessFail
		},
	})
	el.SetEventListener(func(evt types.Event) {
		if evt.Type == types.EventError {
			gotErr.Store(true)
		}
	})

	el.Run(context.Background())
	el.Resume()

	if !el.WaitForState(types.ElementStateError, time.Second) {
		t.Fatalf("element did not reach error, state=%v", el.State())
	}
	if !gotErr.Load() {
		t.Fatal("no error event reported")
	}

	el.Terminate()
	el.Wait()
}

func TestElementStopDuringRun(t *testing.T) {
	el := New(Config{
		Tag: "test",
		Process: func(ctx context.Context) ProcessResult {
			return ProcessTimeout
		},
	})

	el.Run(context.Background())
	el.Resume()
	if !el.WaitForState(types.ElementStateRunning, time.Second) {
		t.Fatalf("element did not reach running, state=%v", el.State())
	}

	el.Stop()
	if !el.WaitForState(types.ElementStateStopped, time.Second) {
		t.Fatalf("element did not reach stopped, state=%v", el.State())
	}

	el.Terminate()
	el.Wait()
}

func TestElementOpenFailureReportsError(t *testing.T) {
	el := New(Config{
		Tag: "test",
		Open: func(ctx context.Context) error {
			return fmt.Errorf("boom")
		},
		Process: func(ctx context.Context) ProcessResult {
			return ProcessOK
		},
	})

	el.Run(context.Background())
	el.Resume()

	if !el.WaitForState(types.ElementStateError, time.Second) {
		t.Fatalf("element did not reach error, state=%v", el.State())
	}

	el.Terminate()
	el.Wait()
}
