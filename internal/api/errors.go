package api

import (
	"errors"
	"net/http"

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/engine"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
	redisclient "github.com/hackgods/clinic-queue-scheduling/internal/redis"
	"github.com/hackgods/clinic-queue-scheduling/internal/waitlist"
)

// classify maps a command failure onto its HTTP status and error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrNotFound),
		errors.Is(err, waitlist.ErrEntryNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrDuplicateEntry):
		return http.StatusConflict, "duplicate_entry"
	case errors.Is(err, queue.ErrInvalidReorder):
		return http.StatusUnprocessableEntity, "invalid_reorder"
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, queue.ErrInvalidRequest),
		errors.Is(err, waitlist.ErrInvalidEntry),
		errors.Is(err, engine.ErrMissingTenant):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, queue.ErrStoreTimeout):
		return http.StatusGatewayTimeout, "store_timeout"
	case errors.Is(err, queue.ErrStoreUnavailable),
		errors.Is(err, waitlist.ErrStoreUnavailable),
		errors.Is(err, redisclient.ErrLockUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return http.StatusConflict, "queue_busy"
	case errors.Is(err, availability.ErrOracleUnavailable):
		return http.StatusServiceUnavailable, "oracle_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
