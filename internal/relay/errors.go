package relay

import "errors"

var (
	// ErrQueueFull indicates the work queue cannot accept new units right now.
	ErrQueueFull = errors.New("work queue is full")
	// ErrQueueClosed indicates the work queue has been shut down.
	ErrQueueClosed = errors.New("work queue is closed")
)
