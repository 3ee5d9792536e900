package rsvp_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/huangxiaoye/reservation/internal/rsvp"
	"github.com/huangxiaoye/reservation/internal/storage"
)

func newTestManager(t *testing.T) *rsvp.Manager {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return rsvp.NewManager(store, nil)
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing time %q: %v", s, err)
	}
	return ts
}

func makeReservation(t *testing.T, m *rsvp.Manager, user, resource, start, end string) rsvp.Reservation {
	t.Helper()
	r, err := m.Reserve(context.Background(), rsvp.Reservation{
		UserID:     user,
		ResourceID: resource,
		Window: rsvp.Window{
			Start: mustParse(t, start),
			End:   mustParse(t, end),
		},
		Note: "I need to book this for xyz project for a month.",
	})
	if err != nil {
		t.Fatalf("Reserve(%s, %s): %v", user, resource, err)
	}
	return r
}

func TestReserveAssignsIDAndDefaultsToPending(t *testing.T) {
	m := newTestManager(t)

	r := makeReservation(t, m, "tyr", "ocean-view-room-713",
		"2022-12-25T15:00:00-07:00", "2022-12-28T12:00:00-07:00")

	if r.ID == 0 {
		t.Error("Reserve should assign a non-zero id")
	}
	if r.Status != rsvp.StatusPending {
		t.Errorf("Status = %q, want %q", r.Status, rsvp.StatusPending)
	}
}

func TestReserveValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	start := mustParse(t, "2022-12-25T15:00:00-07:00")
	end := mustParse(t, "2022-12-28T12:00:00-07:00")

	tests := []struct {
		name    string
		r       rsvp.Reservation
		wantErr error
	}{
		{
			"missing start",
			rsvp.Reservation{UserID: "tyr", ResourceID: "room-1", Window: rsvp.Window{End: end}},
			rsvp.ErrInvalidTime,
		},
		{
			"missing end",
			rsvp.Reservation{UserID: "tyr", ResourceID: "room-1", Window: rsvp.Window{Start: start}},
			rsvp.ErrInvalidTime,
		},
		{
			"start after end",
			rsvp.Reservation{UserID: "tyr", ResourceID: "room-1", Window: rsvp.Window{Start: end, End: start}},
			rsvp.ErrInvalidTime,
		},
		{
			"empty user id",
			rsvp.Reservation{ResourceID: "room-1", Window: rsvp.Window{Start: start, End: end}},
			rsvp.ErrInvalidUserID,
		},
		{
			"empty resource id",
			rsvp.Reservation{UserID: "tyr", Window: rsvp.Window{Start: start, End: end}},
			rsvp.ErrInvalidResourceID,
		},
		{
			"unrecognized status",
			rsvp.Reservation{UserID: "tyr", ResourceID: "room-1", Window: rsvp.Window{Start: start, End: end}, Status: "cancelled"},
			rsvp.ErrInvalidStatus,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Reserve(ctx, tt.r)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Reserve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReserveConflictNamesBothWindows(t *testing.T) {
	m := newTestManager(t)

	makeReservation(t, m, "tyr", "ocean-view-room-713",
		"2022-12-25T15:00:00-07:00", "2022-12-28T12:00:00-07:00")

	_, err := m.Reserve(context.Background(), rsvp.Reservation{
		UserID:     "alice",
		ResourceID: "ocean-view-room-713",
		Window: rsvp.Window{
			Start: mustParse(t, "2022-12-26T15:00:00-07:00"),
			End:   mustParse(t, "2022-12-30T12:00:00-07:00"),
		},
	})

	var conflict *rsvp.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Reserve() error = %v, want *ConflictError", err)
	}
	if conflict.New.ResourceID != "ocean-view-room-713" || conflict.Old.ResourceID != "ocean-view-room-713" {
		t.Errorf("conflict resources = %q / %q, want ocean-view-room-713", conflict.New.ResourceID, conflict.Old.ResourceID)
	}
	if !conflict.New.Start.Equal(mustParse(t, "2022-12-26T15:00:00-07:00")) ||
		!conflict.New.End.Equal(mustParse(t, "2022-12-30T12:00:00-07:00")) {
		t.Errorf("conflict.New window = [%v, %v), want the requested window", conflict.New.Start, conflict.New.End)
	}
	if !conflict.Old.Start.Equal(mustParse(t, "2022-12-25T15:00:00-07:00")) ||
		!conflict.Old.End.Equal(mustParse(t, "2022-12-28T12:00:00-07:00")) {
		t.Errorf("conflict.Old window = [%v, %v), want the existing window", conflict.Old.Start, conflict.Old.End)
	}
}

func TestReserveTouchingWindowsDoNotConflict(t *testing.T) {
	m := newTestManager(t)

	makeReservation(t, m, "tyr", "room-1",
		"2022-12-25T12:00:00Z", "2022-12-26T12:00:00Z")

	// Starts exactly where the previous one ends.
	r := makeReservation(t, m, "alice", "room-1",
		"2022-12-26T12:00:00Z", "2022-12-27T12:00:00Z")
	if r.ID == 0 {
		t.Error("back-to-back reservation should be accepted")
	}
}

func TestChangeStatusConfirmsOnce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	r := makeReservation(t, m, "alice", "ixia-test-1",
		"2023-01-25T15:00:00-07:00", "2023-02-25T12:00:00-07:00")

	confirmed, err := m.ChangeStatus(ctx, r.ID)
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if confirmed.Status != rsvp.StatusConfirmed {
		t.Errorf("Status = %q, want %q", confirmed.Status, rsvp.StatusConfirmed)
	}

	// Confirming again is NotFound: the pending guard no longer matches.
	_, err = m.ChangeStatus(ctx, r.ID)
	if !errors.Is(err, rsvp.ErrNotFound) {
		t.Errorf("second ChangeStatus error = %v, want ErrNotFound", err)
	}
}

func TestChangeStatusRejectsMalformedID(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []int64{0, -1} {
		_, err := m.ChangeStatus(context.Background(), id)
		if !errors.Is(err, rsvp.ErrInvalidID) {
			t.Errorf("ChangeStatus(%d) error = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestUpdateNote(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	r := makeReservation(t, m, "alice", "ixia-test-1",
		"2023-01-25T15:00:00-07:00", "2023-02-25T12:00:00-07:00")

	updated, err := m.UpdateNote(ctx, r.ID, "hello world")
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if updated.Note != "hello world" {
		t.Errorf("Note = %q, want %q", updated.Note, "hello world")
	}

	_, err = m.UpdateNote(ctx, r.ID+100, "nope")
	if !errors.Is(err, rsvp.ErrNotFound) {
		t.Errorf("UpdateNote on absent id error = %v, want ErrNotFound", err)
	}
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	r := makeReservation(t, m, "alice", "ixia-test-1",
		"2023-01-25T15:00:00-07:00", "2023-02-25T12:00:00-07:00")

	deleted, err := m.Delete(ctx, r.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.ID != r.ID || deleted.UserID != "alice" {
		t.Errorf("Delete returned %+v, want the last-known reservation", deleted)
	}

	_, err = m.Get(ctx, r.ID)
	if !errors.Is(err, rsvp.ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

// collect drains a query stream, failing the test on an in-band error.
func collect(t *testing.T, ch <-chan rsvp.QueryResult) []rsvp.Reservation {
	t.Helper()
	var out []rsvp.Reservation
	for res := range ch {
		if res.Err != nil {
			t.Fatalf("unexpected stream error: %v", res.Err)
		}
		out = append(out, res.Reservation)
	}
	return out
}

func TestQueryFilters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	r := makeReservation(t, m, "alice", "ixia-test-1",
		"2023-01-25T15:00:00-07:00", "2023-02-25T12:00:00-07:00")

	// Overlapping window and matching status: one result.
	ch, err := m.Query(ctx, rsvp.Query{
		UserID: "alice",
		Status: rsvp.StatusPending,
		Window: rsvp.Window{
			Start: mustParse(t, "2023-01-01T15:00:00-07:00"),
			End:   mustParse(t, "2023-02-28T12:00:00-07:00"),
		},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 1 || got[0].ID != r.ID {
		t.Fatalf("Query returned %d rows, want exactly the stored reservation", len(got))
	}

	// Disjoint window: empty stream.
	ch, err = m.Query(ctx, rsvp.Query{
		UserID: "alice",
		Status: rsvp.StatusPending,
		Window: rsvp.Window{
			Start: mustParse(t, "2023-01-01T15:00:00-07:00"),
			End:   mustParse(t, "2023-01-02T12:00:00-07:00"),
		},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := collect(t, ch); len(got) != 0 {
		t.Errorf("Query with disjoint window returned %d rows, want 0", len(got))
	}

	// Status that matches nothing yet: empty stream.
	confirmedQuery := rsvp.Query{UserID: "alice", Status: rsvp.StatusConfirmed}
	ch, err = m.Query(ctx, confirmedQuery)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := collect(t, ch); len(got) != 0 {
		t.Errorf("Query for confirmed returned %d rows, want 0", len(got))
	}

	// After the transition the identical query yields exactly the record.
	if _, err := m.ChangeStatus(ctx, r.ID); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	ch, err = m.Query(ctx, confirmedQuery)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got = collect(t, ch)
	if len(got) != 1 || got[0].ID != r.ID || got[0].Status != rsvp.StatusConfirmed {
		t.Errorf("Query after confirm returned %+v, want the confirmed reservation", got)
	}
}

func TestQueryRequiresExplicitStatus(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Query(context.Background(), rsvp.Query{UserID: "alice"})
	if !errors.Is(err, rsvp.ErrInvalidStatus) {
		t.Errorf("Query without status error = %v, want ErrInvalidStatus", err)
	}

	_, err = m.Query(context.Background(), rsvp.Query{UserID: "alice", Status: "whatever"})
	if !errors.Is(err, rsvp.ErrInvalidStatus) {
		t.Errorf("Query with bad status error = %v, want ErrInvalidStatus", err)
	}
}

func TestQueryOrder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		makeReservation(t, m, "alice", fmt.Sprintf("router-%d", i),
			"2022-12-26T15:00:00-07:00", "2022-12-30T12:00:00-07:00")
	}

	ch, err := m.Query(ctx, rsvp.Query{Status: rsvp.StatusAll, Desc: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := collect(t, ch)
	if len(got) != 5 {
		t.Fatalf("Query returned %d rows, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID >= got[i-1].ID {
			t.Fatalf("descending query out of order: ids %d then %d", got[i-1].ID, got[i].ID)
		}
	}
}

func TestQueryStopsWhenConsumerCancels(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 100; i++ {
		makeReservation(t, m, "alice", fmt.Sprintf("router-%d", i),
			"2022-12-26T15:00:00-07:00", "2022-12-30T12:00:00-07:00")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Query(ctx, rsvp.Query{UserID: "alice", Status: rsvp.StatusAll})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	// Consume a handful, then walk away.
	for i := 0; i < 3; i++ {
		if _, ok := <-ch; !ok {
			t.Fatal("stream closed before the consumer cancelled")
		}
	}
	cancel()

	// The producer must close the channel promptly rather than buffering
	// the remaining rows.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after consumer cancellation")
		}
	}
}

func TestFilterPagination(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 100; i++ {
		r := makeReservation(t, m, "alice", fmt.Sprintf("router-%d", i),
			"2022-12-26T15:00:00-07:00", "2022-12-30T12:00:00-07:00")
		ids = append(ids, r.ID)
	}

	// First page: default page size, no cursor.
	pager, page, err := m.Filter(ctx, rsvp.Filter{
		Query: rsvp.Query{UserID: "alice", Status: rsvp.StatusPending},
	})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(page) != rsvp.DefaultPageSize {
		t.Fatalf("first page has %d rows, want %d", len(page), rsvp.DefaultPageSize)
	}
	if pager.Prev != nil {
		t.Errorf("first page Prev = %v, want nil", *pager.Prev)
	}
	if pager.Next == nil || *pager.Next != page[len(page)-1].ID {
		t.Errorf("Next = %v, want id of the 10th returned row (%d)", pager.Next, page[len(page)-1].ID)
	}
	if pager.Total != nil {
		t.Errorf("Total = %v, want nil (never computed)", *pager.Total)
	}

	// Walk every page; ids must appear exactly once, in order.
	seen := page
	cursor := *pager.Next
	for {
		pager, page, err = m.Filter(ctx, rsvp.Filter{
			Query:  rsvp.Query{UserID: "alice", Status: rsvp.StatusPending},
			Cursor: cursor,
		})
		if err != nil {
			t.Fatalf("Filter(cursor=%d): %v", cursor, err)
		}
		if len(page) > 0 && pager.Prev == nil {
			t.Errorf("Prev = nil on a cursored page")
		}
		seen = append(seen, page...)
		if pager.Next == nil {
			break
		}
		cursor = *pager.Next
	}

	if len(seen) != len(ids) {
		t.Fatalf("pagination visited %d rows, want %d", len(seen), len(ids))
	}
	for i, r := range seen {
		if r.ID != ids[i] {
			t.Fatalf("row %d has id %d, want %d (no skips or duplicates)", i, r.ID, ids[i])
		}
	}
}

func TestFilterPageSizeValidation(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Filter(context.Background(), rsvp.Filter{
		Query:    rsvp.Query{Status: rsvp.StatusAll},
		PageSize: -1,
	})
	if !errors.Is(err, rsvp.ErrInvalidPageSize) {
		t.Errorf("Filter(page_size=-1) error = %v, want ErrInvalidPageSize", err)
	}
}

// TestConcurrentReserveSameResource races many overlapping reservations on
// one resource: exactly one may win, everyone else must observe a conflict.
func TestConcurrentReserveSameResource(t *testing.T) {
	m := newTestManager(t)
	const workers = 16

	var wins, conflicts atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		user := fmt.Sprintf("user-%d", i)
		g.Go(func() error {
			_, err := m.Reserve(ctx, rsvp.Reservation{
				UserID:     user,
				ResourceID: "ocean-view-room-713",
				Window: rsvp.Window{
					Start: mustParse(t, "2022-12-25T15:00:00-07:00"),
					End:   mustParse(t, "2022-12-28T12:00:00-07:00"),
				},
			})
			var conflict *rsvp.ConflictError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &conflict):
				conflicts.Add(1)
			default:
				return fmt.Errorf("unexpected error: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if wins.Load() != 1 {
		t.Errorf("%d reservations won, want exactly 1", wins.Load())
	}
	if conflicts.Load() != workers-1 {
		t.Errorf("%d conflicts, want %d", conflicts.Load(), workers-1)
	}
}

// TestConcurrentReserveDistinctResources verifies unrelated resources do not
// contend: every insert must succeed.
func TestConcurrentReserveDistinctResources(t *testing.T) {
	m := newTestManager(t)
	const workers = 16

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		resource := fmt.Sprintf("router-%d", i)
		g.Go(func() error {
			_, err := m.Reserve(ctx, rsvp.Reservation{
				UserID:     "alice",
				ResourceID: resource,
				Window: rsvp.Window{
					Start: mustParse(t, "2022-12-25T15:00:00-07:00"),
					End:   mustParse(t, "2022-12-28T12:00:00-07:00"),
				},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	ch, err := m.Query(context.Background(), rsvp.Query{Status: rsvp.StatusAll})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := collect(t, ch); len(got) != workers {
		t.Errorf("stored %d reservations, want %d", len(got), workers)
	}
}

// TestActiveReservationsNeverOverlap hammers one resource with random-ish
// overlapping windows from many goroutines, then asserts the safety
// invariant: the surviving active reservations are pairwise disjoint.
func TestActiveReservationsNeverOverlap(t *testing.T) {
	m := newTestManager(t)
	const workers = 32

	base := mustParse(t, "2023-06-01T00:00:00Z")
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		offset := time.Duration(i) * 30 * time.Minute
		user := fmt.Sprintf("user-%d", i)
		g.Go(func() error {
			_, err := m.Reserve(ctx, rsvp.Reservation{
				UserID:     user,
				ResourceID: "shared-bench",
				Window: rsvp.Window{
					Start: base.Add(offset),
					End:   base.Add(offset + time.Hour),
				},
			})
			var conflict *rsvp.ConflictError
			if err != nil && !errors.As(err, &conflict) {
				return fmt.Errorf("unexpected error: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	ch, err := m.Query(context.Background(), rsvp.Query{ResourceID: "shared-bench", Status: rsvp.StatusAll})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	stored := collect(t, ch)
	if len(stored) == 0 {
		t.Fatal("expected at least one reservation to win")
	}
	for i := 0; i < len(stored); i++ {
		for j := i + 1; j < len(stored); j++ {
			if !stored[i].Status.Active() || !stored[j].Status.Active() {
				continue
			}
			if stored[i].Window.Overlaps(stored[j].Window) {
				t.Fatalf("active reservations %d and %d overlap: %+v vs %+v",
					stored[i].ID, stored[j].ID, stored[i].Window, stored[j].Window)
			}
		}
	}
}

func TestReserveKeepsSuppliedBlockedStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	makeReservation(t, m, "tyr", "room-1",
		"2022-12-25T00:00:00Z", "2022-12-26T00:00:00Z")

	// An administrative hold over an already-booked window is accepted as-is:
	// blocked records sit outside overlap exclusion.
	hold, err := m.Reserve(ctx, rsvp.Reservation{
		UserID:     "ops",
		ResourceID: "room-1",
		Window: rsvp.Window{
			Start: mustParse(t, "2022-12-25T00:00:00Z"),
			End:   mustParse(t, "2022-12-26T00:00:00Z"),
		},
		Status: rsvp.StatusBlocked,
	})
	if err != nil {
		t.Fatalf("Reserve with blocked status: %v", err)
	}
	if hold.Status != rsvp.StatusBlocked {
		t.Errorf("Status = %q, want %q", hold.Status, rsvp.StatusBlocked)
	}
}

// faultStore yields a fixed set of rows and then fails the scan, standing in
// for a storage fault that strikes mid-stream.
type faultStore struct {
	rsvp.Store
	rows []rsvp.Reservation
	err  error
}

func (s *faultStore) ScanReservations(ctx context.Context, q rsvp.Query, fn func(rsvp.Reservation) error) error {
	for _, r := range s.rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return s.err
}

func TestQueryDeliversStorageFaultInBand(t *testing.T) {
	fault := errors.New("storage gone")
	m := rsvp.NewManager(&faultStore{
		rows: []rsvp.Reservation{
			{ID: 1, UserID: "alice", ResourceID: "room-1", Status: rsvp.StatusPending},
		},
		err: fault,
	}, nil)

	ch, err := m.Query(context.Background(), rsvp.Query{Status: rsvp.StatusAll})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	first, ok := <-ch
	if !ok {
		t.Fatal("stream closed before delivering the first row")
	}
	if first.Err != nil || first.Reservation.ID != 1 {
		t.Fatalf("first result = %+v, want the stored row", first)
	}

	second, ok := <-ch
	if !ok {
		t.Fatal("stream closed before delivering the fault")
	}
	if !errors.Is(second.Err, fault) {
		t.Errorf("in-band error = %v, want the storage fault", second.Err)
	}

	if _, ok := <-ch; ok {
		t.Error("stream still open after the in-band error")
	}
}
