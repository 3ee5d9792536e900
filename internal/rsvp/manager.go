package rsvp

import (
	"context"
	"errors"
	"log/slog"
)

// Store is the persistence contract the manager drives. Implementations must
// make InsertReservation's overlap check and insert atomic with respect to
// all concurrent writers touching the same resource: of two racing inserts
// with overlapping windows, exactly one wins and the other observes a
// *ConflictError.
type Store interface {
	InsertReservation(ctx context.Context, r Reservation) (Reservation, error)
	ConfirmReservation(ctx context.Context, id int64) (Reservation, error)
	UpdateReservationNote(ctx context.Context, id int64, note string) (Reservation, error)
	GetReservation(ctx context.Context, id int64) (Reservation, error)
	DeleteReservation(ctx context.Context, id int64) (Reservation, error)

	// ScanReservations calls fn for each matching reservation in id order.
	// If fn returns an error, the scan stops and returns it.
	ScanReservations(ctx context.Context, q Query, fn func(Reservation) error) error

	// ListReservations returns up to limit matching reservations in id
	// order, starting strictly after the filter's cursor.
	ListReservations(ctx context.Context, f Filter, limit int) ([]Reservation, error)
}

// Lifecycle event names emitted after successful mutations.
const (
	EventCreated   = "reservation.created"
	EventConfirmed = "reservation.confirmed"
	EventDeleted   = "reservation.deleted"
)

// EventPublisher receives lifecycle events. Publishing is best-effort: a
// publish failure is logged, never surfaced to the API caller.
type EventPublisher interface {
	Publish(ctx context.Context, event string, r Reservation) error
}

// Manager validates reservation requests, delegates conflict enforcement to
// the store, and drives the streaming and paging read paths.
type Manager struct {
	store  Store
	events EventPublisher // nil disables event publishing
	logger *slog.Logger
}

func NewManager(store Store, events EventPublisher) *Manager {
	return &Manager{
		store:  store,
		events: events,
		logger: slog.Default(),
	}
}

// Reserve validates and persists a new reservation. Status defaults to
// pending when absent. On overlap with an active reservation the error is a
// *ConflictError naming both windows.
func (m *Manager) Reserve(ctx context.Context, r Reservation) (Reservation, error) {
	if err := r.validateNew(); err != nil {
		return Reservation{}, err
	}
	if r.Status == StatusUnknown {
		r.Status = StatusPending
	}
	r.ID = 0

	created, err := m.store.InsertReservation(ctx, r)
	if err != nil {
		return Reservation{}, err
	}
	m.publish(ctx, EventCreated, created)
	return created, nil
}

// ChangeStatus confirms a pending reservation. A reservation that is absent
// or not currently pending yields ErrNotFound; the two cases are not
// distinguished.
func (m *Manager) ChangeStatus(ctx context.Context, id int64) (Reservation, error) {
	if err := validateID(id); err != nil {
		return Reservation{}, err
	}
	confirmed, err := m.store.ConfirmReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	m.publish(ctx, EventConfirmed, confirmed)
	return confirmed, nil
}

// UpdateNote replaces the note of an existing reservation at any status.
func (m *Manager) UpdateNote(ctx context.Context, id int64, note string) (Reservation, error) {
	if err := validateID(id); err != nil {
		return Reservation{}, err
	}
	return m.store.UpdateReservationNote(ctx, id, note)
}

// Get returns a reservation by id.
func (m *Manager) Get(ctx context.Context, id int64) (Reservation, error) {
	if err := validateID(id); err != nil {
		return Reservation{}, err
	}
	return m.store.GetReservation(ctx, id)
}

// Delete hard-deletes a reservation and returns its last-known value.
func (m *Manager) Delete(ctx context.Context, id int64) (Reservation, error) {
	if err := validateID(id); err != nil {
		return Reservation{}, err
	}
	deleted, err := m.store.DeleteReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	m.publish(ctx, EventDeleted, deleted)
	return deleted, nil
}

// queryBufferSize bounds how far the producer may run ahead of the consumer.
const queryBufferSize = 16

// QueryResult is one element of a streaming query: a reservation, or a
// terminal error after which the stream is closed.
type QueryResult struct {
	Reservation Reservation
	Err         error
}

// Query streams every reservation matching q in id order. The returned
// channel is closed when the result set is exhausted, after an in-band error,
// or once ctx is canceled; cancel ctx to stop production when the consumer
// goes away. Invalid queries are rejected up front.
func (m *Manager) Query(ctx context.Context, q Query) (<-chan QueryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ch := make(chan QueryResult, queryBufferSize)
	go func() {
		defer close(ch)
		err := m.store.ScanReservations(ctx, q, func(r Reservation) error {
			select {
			case ch <- QueryResult{Reservation: r}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		select {
		case ch <- QueryResult{Err: err}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Filter returns one page of matching reservations plus a pager describing
// adjacency. It fetches one row beyond the page size to learn whether a next
// page exists without counting the full result set.
func (m *Manager) Filter(ctx context.Context, f Filter) (Pager, []Reservation, error) {
	if err := f.Validate(); err != nil {
		return Pager{}, nil, err
	}
	if f.PageSize < 0 {
		return Pager{}, nil, ErrInvalidPageSize
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.Cursor < 0 {
		return Pager{}, nil, ErrInvalidID
	}

	rows, err := m.store.ListReservations(ctx, f, f.PageSize+1)
	if err != nil {
		return Pager{}, nil, err
	}

	var pager Pager
	if len(rows) > f.PageSize {
		rows = rows[:f.PageSize]
		next := rows[len(rows)-1].ID
		pager.Next = &next
	}
	if f.Cursor != 0 && len(rows) > 0 {
		prev := rows[0].ID
		pager.Prev = &prev
	}
	return pager, rows, nil
}

func (m *Manager) publish(ctx context.Context, event string, r Reservation) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, event, r); err != nil {
		m.logger.Warn("publishing reservation event failed", "event", event, "id", r.ID, "error", err)
	}
}
