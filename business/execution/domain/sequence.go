// Package domain contains the core domain types for trade execution.
package domain

import (
	"sync"

	"github.com/lbayas/cyclearb/internal/apperror"
)

// SequenceCounter hands out gap-free transaction sequence numbers for a
// single signing account. The chain is the authority: Init and Resync
// load from it, Next only ever increments locally. Safe for concurrent
// use, though the execution pipeline has a single writer.
type SequenceCounter struct {
	mu          sync.Mutex
	next        uint64
	initialized bool
}

// NewSequenceCounter returns an uninitialized counter. Next fails until
// Init has run.
func NewSequenceCounter() *SequenceCounter {
	return &SequenceCounter{}
}

// Init seeds the counter from the chain-reported pending value.
func (c *SequenceCounter) Init(pending uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = pending
	c.initialized = true
}

// Next returns the next sequence number and advances the counter.
func (c *SequenceCounter) Next() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, apperror.New(apperror.CodeSequenceNotInitialized)
	}
	n := c.next
	c.next++
	return n, nil
}

// Peek returns the value Next would hand out, without advancing.
func (c *SequenceCounter) Peek() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, apperror.New(apperror.CodeSequenceNotInitialized)
	}
	return c.next, nil
}

// Resync replaces the local value with the chain-reported pending
// value. Called after any submission failure or confirmation timeout,
// when the local counter may no longer match chain state.
func (c *SequenceCounter) Resync(pending uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = pending
	c.initialized = true
}

// Initialized reports whether the counter has been seeded.
func (c *SequenceCounter) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}
