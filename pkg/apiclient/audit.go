package apiclient

import (
	"net/url"
	"strconv"
	"time"
)

// AuditRecord is one session lifecycle event.
type AuditRecord struct {
	Time        time.Time `json:"time"`
	Event       string    `json:"event"`
	SessionID   string    `json:"session_id,omitempty"`
	MasterID    string    `json:"master_id,omitempty"`
	Application string    `json:"application"`
	UserName    string    `json:"user_name,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// AuditQuery filters ListAudit. Zero fields are omitted.
type AuditQuery struct {
	SessionID   string
	Application string
	Event       string
	Since       time.Time
	Limit       int
}

func (q AuditQuery) values() url.Values {
	v := url.Values{}
	if q.SessionID != "" {
		v.Set("session", q.SessionID)
	}
	if q.Application != "" {
		v.Set("application", q.Application)
	}
	if q.Event != "" {
		v.Set("event", q.Event)
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// ListAudit returns journal records, newest first.
func (c *Client) ListAudit(q AuditQuery) ([]AuditRecord, error) {
	path := "/api/v1/audit"
	if v := q.values(); len(v) > 0 {
		path += "?" + v.Encode()
	}
	var records []AuditRecord
	if err := c.get(path, &records); err != nil {
		return nil, err
	}
	return records, nil
}
