package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/marmos91/dittorpc/internal/audit"
)

// AuditHandler exposes the session audit journal.
type AuditHandler struct {
	journal *audit.Journal
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(journal *audit.Journal) *AuditHandler {
	return &AuditHandler{journal: journal}
}

// List handles GET /api/v1/audit.
//
// Query parameters: session, application, event, since (RFC 3339) and
// limit.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := audit.Query{
		SessionID:   q.Get("session"),
		Application: q.Get("application"),
		Event:       audit.Event(q.Get("event")),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			BadRequest(w, "limit must be a non-negative integer")
			return
		}
		query.Limit = n
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			BadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		query.Since = t
	}

	records, err := h.journal.List(r.Context(), query)
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	WriteJSONOK(w, records)
}
