package session

import (
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittorpc/pkg/wire"
)

// Property namespaces and well-known keys.
const (
	PrefixClient  = "client."
	PrefixServer  = "server."
	PrefixRequest = "request."
	PrefixMarker  = "#"

	PropUserName    = "userName"
	PropUser        = "user"
	PropPassword    = "password"
	PropNewPassword = "newPassword"

	// Marker properties. Never sent to the client.
	PropInitializing = "#initializing"
	PropCacheMode    = "#cachemode"
	PropSystemID     = "#systemid"

	PropRemoteAddr = "request.remoteAddr"
	PropUserAgent  = "request.userAgent"
)

// IsPrivate reports whether key must never be placed on the wire.
func IsPrivate(key string) bool {
	if strings.HasPrefix(key, PrefixMarker) || strings.HasPrefix(key, PrefixRequest) {
		return true
	}
	return strings.Contains(strings.ToLower(key), "password")
}

// IsClientWritable reports whether a client may set key.
func IsClientWritable(key string) bool {
	return key != "" && !strings.HasPrefix(key, PrefixMarker) &&
		!strings.HasPrefix(key, PrefixServer) && !strings.HasPrefix(key, PrefixRequest)
}

// Properties is a concurrent property bag that remembers which keys changed
// since the last call to Changed.
type Properties struct {
	mu      sync.RWMutex
	values  map[string]any
	changed map[string]struct{}
}

func newProperties() *Properties {
	return &Properties{values: map[string]any{}, changed: map[string]struct{}{}}
}

// Get returns the value of key.
func (p *Properties) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// String returns the value of key when it is a string.
func (p *Properties) String(key string) string {
	v, _ := p.Get(key)
	s, _ := v.(string)
	return s
}

// Set stores value and marks key as changed. A nil value removes the key.
func (p *Properties) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if value == nil {
		delete(p.values, key)
	} else {
		p.values[key] = value
	}
	p.changed[key] = struct{}{}
}

// SetQuiet stores value without marking key as changed. Used for values the
// client already knows about.
func (p *Properties) SetQuiet(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if value == nil {
		delete(p.values, key)
		return
	}
	p.values[key] = value
}

// Delete removes key and marks it as changed.
func (p *Properties) Delete(key string) { p.Set(key, nil) }

// Keys returns all keys, sorted.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of all values.
func (p *Properties) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.values)
}

// Public returns the values that may be sent to the client.
func (p *Properties) Public() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		if !IsPrivate(k) && wire.Eligible(v) {
			out[k] = v
		}
	}
	return out
}

// Changed returns the public values changed since the last call and resets
// the change set. Removed keys are reported with a nil value.
func (p *Properties) Changed() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.changed) == 0 {
		return nil
	}
	out := make(map[string]any, len(p.changed))
	for k := range p.changed {
		if IsPrivate(k) {
			continue
		}
		v := p.values[k]
		if !wire.Eligible(v) {
			continue
		}
		out[k] = v
	}
	clear(p.changed)
	if len(out) == 0 {
		return nil
	}
	return out
}
