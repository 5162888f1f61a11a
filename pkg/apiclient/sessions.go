package apiclient

import (
	"net/url"
	"time"
)

// Session describes a live session.
type Session struct {
	ID          string    `json:"id"`
	MasterID    string    `json:"master_id,omitempty"`
	Application string    `json:"application"`
	UserName    string    `json:"user_name,omitempty"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	LastAccess  time.Time `json:"last_access"`
	Subs        int       `json:"subs"`
	Callbacks   int       `json:"pending_callbacks"`
	Push        bool      `json:"push"`
}

// ListSessions returns the live sessions, oldest first. A non-empty
// application filters the list.
func (c *Client) ListSessions(application string) ([]Session, error) {
	path := "/api/v1/sessions"
	if application != "" {
		path += "?application=" + url.QueryEscape(application)
	}
	var sessions []Session
	if err := c.get(path, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns one session.
func (c *Client) GetSession(id string) (*Session, error) {
	var s Session
	if err := c.get("/api/v1/sessions/"+url.PathEscape(id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DestroySession destroys a session and its sub sessions.
func (c *Client) DestroySession(id string) error {
	return c.delete("/api/v1/sessions/"+url.PathEscape(id), nil)
}
