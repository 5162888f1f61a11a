// Package metrics owns the process-wide Prometheus registry.
//
// Components build nil-safe metric structs from GetRegistry. When metrics
// are disabled (InitRegistry never called) GetRegistry returns nil and the
// structs are created without being registered.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the registry with Go runtime and process collectors.
// Calling it again keeps the existing registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// IsEnabled reports whether InitRegistry was called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() prometheus.Registerer {
	mu.RLock()
	defer mu.RUnlock()
	if registry == nil {
		return nil
	}
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	mu.RLock()
	defer mu.RUnlock()
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Reset drops the registry. Intended for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}

// RegisterOrReuse registers c with reg. If an equal collector is already
// registered, the existing one is returned so that metrics continue to be
// exported correctly on server restart. Panics on other failures.
func RegisterOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
