package waitlist

import "errors"

var (
	ErrEntryNotFound    = errors.New("waitlist entry not found")
	ErrInvalidEntry     = errors.New("invalid waitlist entry")
	ErrStoreUnavailable = errors.New("waitlist store unavailable")
)
