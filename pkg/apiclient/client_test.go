package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	client := New("http://localhost:8080/")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8080", client.baseURL)
}

func TestWithToken(t *testing.T) {
	client := New("http://localhost:8080")
	tokenClient := client.WithToken("test-token")

	// Original client should not have token
	assert.Empty(t, client.token)

	assert.Equal(t, "test-token", tokenClient.token)
	assert.Equal(t, "http://localhost:8080", tokenClient.baseURL)
}

func TestSetToken(t *testing.T) {
	client := New("http://localhost:8080")
	client.SetToken("my-token")
	assert.Equal(t, "my-token", client.token)
}

func TestDoWithAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	require.NoError(t, client.get("/test", nil))
}

func TestDoWithProblem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":   "about:blank",
			"title":  "Forbidden",
			"status": http.StatusForbidden,
			"detail": "Admin access required",
		})
	}))
	defer server.Close()

	err := New(server.URL).DestroySession("abc")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsAuthError())
	assert.Equal(t, "Forbidden: Admin access required", apiErr.Error())
}

func TestDoWithPlainError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL).Health()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "Service Unavailable", apiErr.Title)
	assert.Equal(t, "boom", apiErr.Detail)
}

func TestListSessions(t *testing.T) {
	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions", r.URL.Path)
		assert.Equal(t, "demo", r.URL.Query().Get("application"))
		_ = json.NewEncoder(w).Encode([]Session{{ID: "s1", Application: "demo", State: "active", CreatedAt: created}})
	}))
	defer server.Close()

	sessions, err := New(server.URL).ListSessions("demo")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.True(t, created.Equal(sessions[0].CreatedAt))
}

func TestGetSessionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"title": "Not Found", "status": 404})
	}))
	defer server.Close()

	_, err := New(server.URL).GetSession("missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
}

func TestDestroySession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/sessions/s1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	require.NoError(t, New(server.URL).DestroySession("s1"))
}

func TestEvictApplication(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/applications/demo/evict", r.URL.Path)
		_ = json.NewEncoder(w).Encode(EvictResult{Application: "demo", SecurityManagers: 3})
	}))
	defer server.Close()

	res, err := New(server.URL).EvictApplication("demo")
	require.NoError(t, err)
	assert.Equal(t, 3, res.SecurityManagers)
}

func TestListAudit(t *testing.T) {
	since := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "s1", q.Get("session"))
		assert.Equal(t, "destroyed", q.Get("event"))
		assert.Equal(t, "2026-05-01T08:00:00Z", q.Get("since"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Empty(t, q.Get("application"))
		_ = json.NewEncoder(w).Encode([]AuditRecord{{Event: "destroyed", SessionID: "s1", Reason: "admin"}})
	}))
	defer server.Close()

	records, err := New(server.URL).ListAudit(AuditQuery{SessionID: "s1", Event: "destroyed", Since: since, Limit: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "admin", records[0].Reason)
}
