package rsvp

import "fmt"

// Status is a reservation lifecycle state. The zero value (StatusUnknown)
// marks an absent or unparseable status; it is never stored.
type Status string

const (
	StatusUnknown   Status = ""
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusBlocked   Status = "blocked"

	// StatusAll is a query-only sentinel matching every stored status.
	// Queries must name either a concrete status or StatusAll explicitly;
	// there is no implicit default.
	StatusAll Status = "all"
)

// ParseStatus converts a wire string into a Status. Unrecognized values are
// an error, not a fallback to a default.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusBlocked:
		return Status(s), nil
	default:
		return StatusUnknown, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Valid reports whether s is a storable status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusBlocked:
		return true
	}
	return false
}

// Active reports whether s participates in overlap checking. Only pending
// and confirmed reservations exclude other bookings on the same resource.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}
