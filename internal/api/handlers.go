// Package api binds the reservation manager to an HTTP surface: JSON
// request/response handlers for the point operations, a paged listing, and a
// newline-delimited JSON stream for unbounded queries.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/huangxiaoye/reservation/internal/rsvp"
)

const maxRequestBodySize = 1 << 20 // 1MB

type Deps struct {
	Manager *rsvp.Manager
	// Token enables bearer auth on all reservation routes when non-empty.
	Token string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/health", handleHealth)

	r.Group(func(g chi.Router) {
		if deps.Token != "" {
			g.Use(BearerAuth(deps.Token))
		}
		g.Post("/reservations", handleReserve(deps))
		g.Get("/reservations", handleFilter(deps))
		g.Get("/reservations/query", handleQuery(deps))
		g.Get("/reservations/{id}", handleGet(deps))
		g.Post("/reservations/{id}/confirm", handleConfirm(deps))
		g.Patch("/reservations/{id}/note", handleUpdateNote(deps))
		g.Delete("/reservations/{id}", handleDelete(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReserve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req rsvp.Reservation
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		created, err := deps.Manager.Reserve(r.Context(), req)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(created)
	}
}

func handleConfirm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := pathID(r)
		confirmed, err := deps.Manager.ChangeStatus(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(confirmed)
	}
}

func handleUpdateNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Note string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		updated, err := deps.Manager.UpdateNote(r.Context(), pathID(r), req.Note)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(updated)
	}
}

func handleGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reservation, err := deps.Manager.Get(r.Context(), pathID(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reservation)
	}
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := deps.Manager.Delete(r.Context(), pathID(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deleted)
	}
}

// FilterResponse is the paged listing payload.
type FilterResponse struct {
	Pager        rsvp.Pager         `json:"pager"`
	Reservations []rsvp.Reservation `json:"reservations"`
}

func handleFilter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		pager, reservations, err := deps.Manager.Filter(r.Context(), f)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		if reservations == nil {
			reservations = []rsvp.Reservation{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(FilterResponse{Pager: pager, Reservations: reservations})
	}
}

// handleQuery streams matching reservations as newline-delimited JSON, one
// object per line, flushed as produced. A storage fault mid-stream is
// delivered as a final {"error": ...} line, then the stream ends. Closing
// the connection cancels the request context and stops the producer.
func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		ch, err := deps.Manager.Query(r.Context(), q)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")

		enc := json.NewEncoder(w)
		for res := range ch {
			if res.Err != nil {
				enc.Encode(map[string]string{"error": res.Err.Error()})
				flusher.Flush()
				return
			}
			enc.Encode(res.Reservation)
			flusher.Flush()
		}
	}
}

func pathID(r *http.Request) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0 // fails id validation in the manager, surfacing invalid_request_error
	}
	return id
}

func parseQuery(r *http.Request) (rsvp.Query, error) {
	vals := r.URL.Query()
	q := rsvp.Query{
		UserID:     vals.Get("user_id"),
		ResourceID: vals.Get("resource_id"),
		Status:     rsvp.Status(vals.Get("status")),
	}
	if v := vals.Get("desc"); v != "" {
		desc, err := strconv.ParseBool(v)
		if err != nil {
			return rsvp.Query{}, fmt.Errorf("invalid desc value %q", v)
		}
		q.Desc = desc
	}
	for name, dst := range map[string]*time.Time{"start": &q.Window.Start, "end": &q.Window.End} {
		v := vals.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return rsvp.Query{}, fmt.Errorf("invalid %s time %q: expected RFC 3339", name, v)
		}
		*dst = t
	}
	return q, nil
}

func parseFilter(r *http.Request) (rsvp.Filter, error) {
	q, err := parseQuery(r)
	if err != nil {
		return rsvp.Filter{}, err
	}
	f := rsvp.Filter{Query: q}

	vals := r.URL.Query()
	if v := vals.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return rsvp.Filter{}, fmt.Errorf("invalid page_size %q", v)
		}
		f.PageSize = size
	}
	if v := vals.Get("cursor"); v != "" {
		cursor, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return rsvp.Filter{}, fmt.Errorf("invalid cursor %q", v)
		}
		f.Cursor = cursor
	}
	return f, nil
}

// writeDomainError maps manager errors onto HTTP status codes. Conflicts
// carry both competing windows in the payload so clients can show the
// requested window against the existing booking.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *rsvp.ConflictError
	switch {
	case errors.As(err, &conflict):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message":  conflict.Error(),
				"type":     "conflict",
				"conflict": conflict,
			},
		})
	case errors.Is(err, rsvp.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "reservation not found")
	case errors.Is(err, rsvp.ErrInvalidTime),
		errors.Is(err, rsvp.ErrInvalidUserID),
		errors.Is(err, rsvp.ErrInvalidResourceID),
		errors.Is(err, rsvp.ErrInvalidStatus),
		errors.Is(err, rsvp.ErrInvalidID),
		errors.Is(err, rsvp.ErrInvalidPageSize):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
