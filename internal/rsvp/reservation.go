package rsvp

// Reservation is an exclusive time-bounded claim one user holds on one
// shared resource. IDs are server-assigned, monotonic, and never reused.
type Reservation struct {
	ID         int64  `json:"id"`
	UserID     string `json:"user_id"`
	ResourceID string `json:"resource_id"`
	Window     Window `json:"window"`
	Note       string `json:"note,omitempty"`
	Status     Status `json:"status"`
}

// validateNew checks the reserve-time contract: a valid window, non-empty
// user and resource ids, and a storable (or absent) status.
func (r Reservation) validateNew() error {
	if err := r.Window.Validate(); err != nil {
		return err
	}
	if r.UserID == "" {
		return ErrInvalidUserID
	}
	if r.ResourceID == "" {
		return ErrInvalidResourceID
	}
	if r.Status != StatusUnknown && !r.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func validateID(id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}
	return nil
}
