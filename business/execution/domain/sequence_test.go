package domain

import (
	"sync"
	"testing"

	"github.com/lbayas/cyclearb/internal/apperror"
)

func TestSequenceCounterRequiresInit(t *testing.T) {
	c := NewSequenceCounter()

	if c.Initialized() {
		t.Fatal("fresh counter reports initialized")
	}
	if _, err := c.Next(); !apperror.IsCode(err, apperror.CodeSequenceNotInitialized) {
		t.Fatalf("Next before Init: err = %v, want SEQUENCE_NOT_INITIALIZED", err)
	}
	if _, err := c.Peek(); !apperror.IsCode(err, apperror.CodeSequenceNotInitialized) {
		t.Fatalf("Peek before Init: err = %v, want SEQUENCE_NOT_INITIALIZED", err)
	}
}

func TestSequenceCounterGapFree(t *testing.T) {
	c := NewSequenceCounter()
	c.Init(100)

	for want := uint64(100); want < 110; want++ {
		got, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Fatalf("Next = %d, want %d", got, want)
		}
	}
}

func TestSequenceCounterResync(t *testing.T) {
	c := NewSequenceCounter()
	c.Init(5)

	if _, err := c.Next(); err != nil { // consume 5
		t.Fatalf("Next: %v", err)
	}

	// Chain says pending is 5 again: the submission never landed.
	c.Resync(5)

	got, err := c.Next()
	if err != nil {
		t.Fatalf("Next after resync: %v", err)
	}
	if got != 5 {
		t.Fatalf("Next after resync = %d, want 5", got)
	}
}

func TestSequenceCounterConcurrentNext(t *testing.T) {
	c := NewSequenceCounter()
	c.Init(0)

	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[uint64]struct{}, n)
		wg   sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Next()
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("got %d distinct values, want %d", len(seen), n)
	}
	for v := uint64(0); v < n; v++ {
		if _, ok := seen[v]; !ok {
			t.Fatalf("gap: %d never handed out", v)
		}
	}
}
