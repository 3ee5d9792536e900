package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/huangxiaoye/reservation/internal/rsvp"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the reservation table. It implements
// rsvp.Store. The connection pool is capped at a single connection, so every
// transaction, in particular the overlap-check-and-insert in
// InsertReservation, is serialized against all other writers. That single
// serialization point is what makes the conflict check linearizable: two
// racing inserts with overlapping windows cannot both pass the check.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "reservations.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection: serializes writers and avoids "database is locked".
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Reservations ---

const reservationColumns = "id, user_id, resource_id, start_at, end_at, note, status"

func scanReservation(row interface{ Scan(...any) error }) (rsvp.Reservation, error) {
	var r rsvp.Reservation
	var startAt, endAt int64
	if err := row.Scan(&r.ID, &r.UserID, &r.ResourceID, &startAt, &endAt, &r.Note, &r.Status); err != nil {
		return rsvp.Reservation{}, err
	}
	r.Window.Start = time.UnixMicro(startAt).UTC()
	r.Window.End = time.UnixMicro(endAt).UTC()
	return r, nil
}

// InsertReservation persists a new reservation and assigns its id. The
// overlap check against active reservations on the same resource and the
// insert run in one transaction on the store's single write connection, so
// the pair is atomic as seen by all callers. On overlap the returned error
// is a *rsvp.ConflictError naming the requested and the existing window.
func (s *Store) InsertReservation(ctx context.Context, r rsvp.Reservation) (rsvp.Reservation, error) {
	startAt := r.Window.Start.UTC().UnixMicro()
	endAt := r.Window.End.UTC().UnixMicro()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	// Blocked reservations do not participate in overlap exclusion.
	if r.Status.Active() {
		var oldStart, oldEnd int64
		err := tx.QueryRowContext(ctx, `
			SELECT start_at, end_at FROM reservations
			WHERE resource_id = ? AND status IN ('pending', 'confirmed')
			  AND start_at < ? AND end_at > ?
			ORDER BY id LIMIT 1`,
			r.ResourceID, endAt, startAt,
		).Scan(&oldStart, &oldEnd)
		switch {
		case err == nil:
			return rsvp.Reservation{}, &rsvp.ConflictError{
				New: rsvp.ConflictWindow{ResourceID: r.ResourceID, Start: r.Window.Start.UTC(), End: r.Window.End.UTC()},
				Old: rsvp.ConflictWindow{
					ResourceID: r.ResourceID,
					Start:      time.UnixMicro(oldStart).UTC(),
					End:        time.UnixMicro(oldEnd).UTC(),
				},
			}
		case !errors.Is(err, sql.ErrNoRows):
			return rsvp.Reservation{}, fmt.Errorf("checking for conflicts: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO reservations (user_id, resource_id, start_at, end_at, note, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.UserID, r.ResourceID, startAt, endAt, r.Note, string(r.Status),
	)
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("inserting reservation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("reading new reservation id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return rsvp.Reservation{}, fmt.Errorf("committing insert: %w", err)
	}

	r.ID = id
	r.Window.Start = time.UnixMicro(startAt).UTC()
	r.Window.End = time.UnixMicro(endAt).UTC()
	return r, nil
}

// ConfirmReservation is an atomic compare-and-set from pending to confirmed.
// A reservation that is absent or not currently pending yields
// rsvp.ErrNotFound; the two cases are intentionally indistinguishable.
func (s *Store) ConfirmReservation(ctx context.Context, id int64) (rsvp.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("beginning confirm transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'confirmed' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("confirming reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rsvp.Reservation{}, err
	}
	if n == 0 {
		return rsvp.Reservation{}, rsvp.ErrNotFound
	}

	r, err := scanReservation(tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("reading confirmed reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return rsvp.Reservation{}, fmt.Errorf("committing confirm: %w", err)
	}
	return r, nil
}

// UpdateReservationNote replaces the note of a reservation at any status.
func (s *Store) UpdateReservationNote(ctx context.Context, id int64, note string) (rsvp.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("beginning note transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE reservations SET note = ? WHERE id = ?`, note, id)
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("updating note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rsvp.Reservation{}, err
	}
	if n == 0 {
		return rsvp.Reservation{}, rsvp.ErrNotFound
	}

	r, err := scanReservation(tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("reading updated reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return rsvp.Reservation{}, fmt.Errorf("committing note update: %w", err)
	}
	return r, nil
}

// GetReservation returns a reservation by id.
func (s *Store) GetReservation(ctx context.Context, id int64) (rsvp.Reservation, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return rsvp.Reservation{}, rsvp.ErrNotFound
	}
	if err != nil {
		return rsvp.Reservation{}, err
	}
	return r, nil
}

// DeleteReservation removes a reservation and returns its last-known value.
func (s *Store) DeleteReservation(ctx context.Context, id int64) (rsvp.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rsvp.Reservation{}, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := scanReservation(tx.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return rsvp.Reservation{}, rsvp.ErrNotFound
	}
	if err != nil {
		return rsvp.Reservation{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id); err != nil {
		return rsvp.Reservation{}, fmt.Errorf("deleting reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return rsvp.Reservation{}, fmt.Errorf("committing delete: %w", err)
	}
	return r, nil
}

// queryConditions builds the shared WHERE clause for scans and pages.
func queryConditions(q rsvp.Query) ([]string, []any) {
	var conds []string
	var args []any
	if q.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.ResourceID != "" {
		conds = append(conds, "resource_id = ?")
		args = append(args, q.ResourceID)
	}
	if q.Status != rsvp.StatusAll {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.Window.IsZero() {
		conds = append(conds, "start_at < ? AND end_at > ?")
		args = append(args, q.Window.End.UTC().UnixMicro(), q.Window.Start.UTC().UnixMicro())
	}
	return conds, args
}

func orderClause(desc bool) string {
	if desc {
		return " ORDER BY id DESC"
	}
	return " ORDER BY id ASC"
}

// ScanReservations streams matching rows to fn in id order, one at a time,
// without materializing the result set. A non-nil error from fn stops the
// scan and is returned verbatim.
func (s *Store) ScanReservations(ctx context.Context, q rsvp.Query, fn func(rsvp.Reservation) error) error {
	query := "SELECT " + reservationColumns + " FROM reservations"
	conds, args := queryConditions(q)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderClause(q.Desc)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying reservations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return fmt.Errorf("scanning reservation: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListReservations returns up to limit matching rows in id order, starting
// strictly after the filter's cursor (before it when descending).
func (s *Store) ListReservations(ctx context.Context, f rsvp.Filter, limit int) ([]rsvp.Reservation, error) {
	query := "SELECT " + reservationColumns + " FROM reservations"
	conds, args := queryConditions(f.Query)
	if f.Cursor != 0 {
		if f.Desc {
			conds = append(conds, "id < ?")
		} else {
			conds = append(conds, "id > ?")
		}
		args = append(args, f.Cursor)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderClause(f.Desc) + " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}
	defer rows.Close()

	var results []rsvp.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
