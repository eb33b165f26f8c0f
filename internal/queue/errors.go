package queue

import "errors"

var (
	ErrNotFound          = errors.New("appointment not found in any queue")
	ErrDuplicateEntry    = errors.New("appointment already queued")
	ErrInvalidReorder    = errors.New("new order is not a permutation of the queue")
	ErrInvalidTransition = errors.New("invalid queue status transition")
	ErrInvalidRequest    = errors.New("invalid queue request")
	ErrStoreTimeout      = errors.New("queue store timeout")
	ErrStoreUnavailable  = errors.New("queue store unavailable")
	ErrCorruptEntry      = errors.New("corrupt queue entry")
)

// Retryable reports whether err is an infrastructure failure worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreTimeout) || errors.Is(err, ErrStoreUnavailable)
}
