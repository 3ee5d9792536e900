package rsvp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTime is returned when a reservation window is missing an
	// endpoint or has start >= end.
	ErrInvalidTime = errors.New("invalid start or end time for the reservation")

	ErrInvalidUserID     = errors.New("user id must not be empty")
	ErrInvalidResourceID = errors.New("resource id must not be empty")
	ErrInvalidStatus     = errors.New("invalid reservation status")

	// ErrInvalidID is returned for malformed identifiers, before any storage
	// access. Distinct from ErrNotFound.
	ErrInvalidID = errors.New("invalid reservation id")

	ErrInvalidPageSize = errors.New("page size must be positive")

	// ErrNotFound covers both a truly absent record and a state-guarded
	// update whose guard failed (e.g. confirming a non-pending reservation).
	// Callers cannot distinguish the two from this error alone.
	ErrNotFound = errors.New("reservation not found")
)

// ConflictWindow identifies one side of a reservation conflict: the resource
// and the time span it occupies.
type ConflictWindow struct {
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// ConflictError is returned when an insert would overlap an active
// reservation on the same resource. It carries both competing windows so the
// caller can present "your request vs this existing booking".
type ConflictError struct {
	New ConflictWindow `json:"new"`
	Old ConflictWindow `json:"old"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reservation conflict on %s: requested [%s, %s) overlaps existing [%s, %s)",
		e.New.ResourceID,
		e.New.Start.Format(time.RFC3339), e.New.End.Format(time.RFC3339),
		e.Old.Start.Format(time.RFC3339), e.Old.End.Format(time.RFC3339))
}
