package config

import (
	"bytes"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Lookup is the read-only configuration surface consumed by the engine.
// Paths are dot separated and case-insensitive.
type Lookup interface {
	// Property returns the value at path, or "" when unset.
	Property(path string) string

	// Properties returns the list at path. Scalar values are split on ",".
	Properties(path string) []string
}

// AppKey builds the lookup path of an application setting.
func AppKey(application, key string) string {
	return "applications." + strings.ToLower(application) + "." + key
}

// Application setting keys.
const (
	KeyLifeCycleClass         = "lifecycle_class"
	KeyApplicationClass       = "application_class"
	KeyMaxInactiveInterval    = "max_inactive_interval"
	KeySubMaxInactiveInterval = "sub_max_inactive_interval"
	KeyAliveInterval          = "alive_interval"
	KeySecurityManager        = "security.manager"
	KeyCacheMode              = "security.cache_mode"
	KeySecurityOptions        = "security.options"
	KeyDenyObjects            = "access.deny_objects"
	KeyDenyMethods            = "access.deny_methods"
	KeyProperties             = "properties"
)

// Duration parses the value at path, returning def when unset or invalid.
func Duration(l Lookup, path string, def time.Duration) time.Duration {
	s := l.Property(path)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		if n, nerr := strconv.ParseInt(s, 10, 64); nerr == nil {
			return time.Duration(n)
		}
		return def
	}
	return d
}

// String returns the value at path or def when unset.
func String(l Lookup, path, def string) string {
	if s := l.Property(path); s != "" {
		return s
	}
	return def
}

// Bool parses the value at path, returning def when unset or invalid.
func Bool(l Lookup, path string, def bool) bool {
	b, err := strconv.ParseBool(l.Property(path))
	if err != nil {
		return def
	}
	return b
}

// MapLookup is a static Lookup backed by a map. Keys must be lower case.
type MapLookup map[string]string

func (m MapLookup) Property(path string) string {
	return m[strings.ToLower(path)]
}

func (m MapLookup) Properties(path string) []string {
	return splitList(m[strings.ToLower(path)])
}

// Keys returns the direct children of prefix, sorted.
func (m MapLookup) Keys(prefix string) []string {
	return childKeys(func(yield func(string) bool) {
		for k := range m {
			if !yield(k) {
				return
			}
		}
	}, prefix)
}

// HasApplication reports whether any setting exists for application. It
// needs a Lookup that can list keys and reports true otherwise.
func HasApplication(l Lookup, application string) bool {
	kl, ok := l.(interface{ Keys(prefix string) []string })
	if !ok {
		return true
	}
	return slices.Contains(kl.Keys("applications"), strings.ToLower(application))
}

// Source is a Lookup backed by viper. It keeps a flattened snapshot that is
// swapped atomically when the watched file changes.
type Source struct {
	v *viper.Viper

	mu       sync.RWMutex
	snapshot map[string]any
}

// NewSource loads configPath into a Source.
func NewSource(configPath string) (*Source, error) {
	v := viper.New()
	setupViper(v, configPath)
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}
	s := &Source{v: v}
	s.refresh()
	return s, nil
}

// NewSourceFromConfig builds a static Source holding cfg.
func NewSourceFromConfig(cfg *Config) (*Source, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	s := &Source{v: v}
	s.refresh()
	return s, nil
}

func (s *Source) refresh() map[string]any {
	next := make(map[string]any)
	for _, k := range s.v.AllKeys() {
		next[k] = s.v.Get(k)
	}
	s.mu.Lock()
	prev := s.snapshot
	s.snapshot = next
	s.mu.Unlock()
	return prev
}

func (s *Source) get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snapshot[strings.ToLower(path)]
	return v, ok
}

// Property implements Lookup.
func (s *Source) Property(path string) string {
	v, ok := s.get(path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []any, []string:
		return strings.Join(toStrings(t), ",")
	default:
		return fmt.Sprint(t)
	}
}

// Properties implements Lookup.
func (s *Source) Properties(path string) []string {
	v, ok := s.get(path)
	if !ok || v == nil {
		return nil
	}
	if str, ok := v.(string); ok {
		return splitList(str)
	}
	return toStrings(v)
}

// Keys returns the direct children of prefix, sorted.
func (s *Source) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return childKeys(maps.Keys(s.snapshot), prefix)
}

func childKeys(keys iter.Seq[string], prefix string) []string {
	prefix = strings.ToLower(prefix) + "."
	seen := map[string]struct{}{}
	for k := range keys {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			name, _, _ := strings.Cut(rest, ".")
			seen[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Config decodes the current snapshot into a validated Config.
func (s *Source) Config() (*Config, error) {
	return decode(s.v)
}

// Watch reloads the file on change and reports which applications had any
// setting added, removed or modified.
func (s *Source) Watch(onChange func(applications []string)) {
	s.v.OnConfigChange(func(fsnotify.Event) {
		prev := s.refresh()
		s.mu.RLock()
		changed := changedApplications(prev, s.snapshot)
		s.mu.RUnlock()
		if len(changed) > 0 && onChange != nil {
			onChange(changed)
		}
	})
	s.v.WatchConfig()
}

func changedApplications(prev, next map[string]any) []string {
	apps := map[string]struct{}{}
	diff := func(a, b map[string]any) {
		for k, v := range a {
			rest, ok := strings.CutPrefix(k, "applications.")
			if !ok {
				continue
			}
			if w, ok := b[k]; !ok || fmt.Sprint(w) != fmt.Sprint(v) {
				name, _, _ := strings.Cut(rest, ".")
				apps[name] = struct{}{}
			}
		}
	}
	diff(prev, next)
	diff(next, prev)

	out := make([]string, 0, len(apps))
	for a := range apps {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}
