package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())

	InitRegistry()
	assert.True(t, IsEnabled())
	require.NotNil(t, GetRegistry())
}

func TestRegisterOrReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := prometheus.CounterOpts{Name: "dittorpc_test_total", Help: "test"}

	first := RegisterOrReuse(reg, prometheus.NewCounter(opts))
	second := RegisterOrReuse(reg, prometheus.NewCounter(opts))
	assert.Same(t, first, second)

	c := prometheus.NewCounter(opts)
	assert.Same(t, c, RegisterOrReuse[prometheus.Counter](nil, c))
}

func TestHandler(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	InitRegistry()
	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
