package apiclient

import "time"

// HealthResponse is the body of the health probes.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Health queries the readiness probe. An unready server is reported as an
// *APIError with status 503.
func (c *Client) Health() (*HealthResponse, error) {
	var h HealthResponse
	if err := c.get("/health/ready", &h); err != nil {
		return nil, err
	}
	return &h, nil
}
