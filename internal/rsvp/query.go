package rsvp

// Query selects reservations for streaming reads. Empty UserID or ResourceID
// means "any"; a zero Window means "any time". Status is required: either a
// concrete status or the explicit StatusAll sentinel.
type Query struct {
	UserID     string `json:"user_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Status     Status `json:"status"`
	Window     Window `json:"window,omitzero"`
	Desc       bool   `json:"desc,omitempty"`
}

// Validate rejects queries with an unrecognized status or a malformed window
// before any storage access.
func (q Query) Validate() error {
	if q.Status != StatusAll && !q.Status.Valid() {
		return ErrInvalidStatus
	}
	if !q.Window.IsZero() {
		return q.Window.Validate()
	}
	return nil
}

// DefaultPageSize is used when a filter omits its page size.
const DefaultPageSize = 10

// Filter is a Query plus a page specification. Cursor is the exclusive id
// bound to page from (zero means "from the start"); PageSize zero means
// DefaultPageSize.
type Filter struct {
	Query
	PageSize int   `json:"page_size,omitempty"`
	Cursor   int64 `json:"cursor,omitempty"`
}

// Pager describes page adjacency for a Filter call. Prev and Next are
// exclusive id cursors; Total is always nil: counting every matching row is
// a separate, expensive operation this service does not provide.
type Pager struct {
	Prev  *int64  `json:"prev,omitempty"`
	Next  *int64  `json:"next,omitempty"`
	Total *uint64 `json:"total,omitempty"`
}
