package storage

import "errors"

var (
	// ErrCounterUnderflow means a release targeted a counter that is missing or already zero.
	ErrCounterUnderflow = errors.New("in-flight counter underflow")
	// ErrInflightEvicted means eviction dropped a counter that still had in-flight messages.
	ErrInflightEvicted = errors.New("evicted counter with in-flight messages")
)
