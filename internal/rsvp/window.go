package rsvp

import "time"

// Window is a half-open time interval [Start, End). Reservations whose
// windows merely touch at an endpoint do not overlap.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects windows with a missing endpoint or Start >= End.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() || !w.Start.Before(w.End) {
		return ErrInvalidTime
	}
	return nil
}

// Overlaps reports whether the two half-open intervals intersect.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether t falls within [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZero reports whether the window is unset (meaning "any time" in queries).
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}
