package apiclient

import "net/url"

// EvictResult reports an application eviction.
type EvictResult struct {
	Application      string `json:"application"`
	SecurityManagers int    `json:"security_managers"`
}

// EvictApplication drops the cached security managers and shared object of
// an application.
func (c *Client) EvictApplication(name string) (*EvictResult, error) {
	var res EvictResult
	if err := c.post("/api/v1/applications/"+url.PathEscape(name)+"/evict", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
