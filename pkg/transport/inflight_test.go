package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestInFlightRegistryRegisterAndCancel(t *testing.T) {
	r := NewInFlightRegistry()

	cancelled := false
	r.Register("qry_abc", func() { cancelled = true })

	if !r.Cancel("qry_abc") {
		t.Error("Cancel should return true for a running query")
	}
	if !cancelled {
		t.Error("cancel function should have been called")
	}
	if r.Cancel("qry_abc") {
		t.Error("Cancel should return false after the query was cancelled")
	}
}

func TestInFlightRegistryCancelUnknown(t *testing.T) {
	if NewInFlightRegistry().Cancel("qry_missing") {
		t.Error("Cancel should return false for unknown ID")
	}
}

func TestInFlightRegistryDone(t *testing.T) {
	r := NewInFlightRegistry()

	cancelled := false
	done := r.Register("qry_abc", func() { cancelled = true })
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	done()
	done()
	if r.Len() != 0 {
		t.Errorf("Len() = %d after done, want 0", r.Len())
	}
	if r.Cancel("qry_abc") {
		t.Error("Cancel should return false after done")
	}
	if cancelled {
		t.Error("done must not cancel the query")
	}
}

func TestInFlightRegistryConcurrent(t *testing.T) {
	r := NewInFlightRegistry()
	var cancelled atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("qry_%d", i)
			done := r.Register(id, func() { cancelled.Add(1) })
			if i%2 == 0 {
				r.Cancel(id)
			}
			done()
		}(i)
	}
	wg.Wait()

	if got := cancelled.Load(); got != 25 {
		t.Errorf("cancelled = %d, want 25", got)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
