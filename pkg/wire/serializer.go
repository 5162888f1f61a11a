package wire

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// Serializer encodes and decodes normalized wire values.
type Serializer interface {
	Name() string
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

// Encoder writes one value per call. Values are normalized first.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads one value per call.
type Decoder interface {
	Decode() (any, error)
}

var (
	registryMu  sync.RWMutex
	serializers = map[string]Serializer{}
)

// Register makes a serializer available by name. Registering a name twice
// replaces the earlier serializer.
func Register(s Serializer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	serializers[s.Name()] = s
}

// Lookup returns the serializer registered under name.
func Lookup(name string) (Serializer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := serializers[name]
	return s, ok
}

// Names returns the registered serializer names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(serializers))
	for n := range serializers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(Universal{})
	Register(JSON{})
	Register(Protobuf{})
}

// Rules is an allow/deny list of serializer names. An empty Allow list
// permits every name that is not denied.
type Rules struct {
	Allow []string
	Deny  []string
}

// Resolve returns the serializer for name if registered and permitted.
func (r Rules) Resolve(name string) (Serializer, error) {
	name = strings.TrimSpace(name)
	if slices.Contains(r.Deny, name) || (len(r.Allow) > 0 && !slices.Contains(r.Allow, name)) {
		return nil, rpcerrors.NewSecurityError(name, "serializer not allowed")
	}
	s, ok := Lookup(name)
	if !ok {
		return nil, rpcerrors.NewProtocolError("unknown serializer %q", name)
	}
	return s, nil
}

// EncodeValue is a convenience for one-off encoding.
func EncodeValue(s Serializer, w io.Writer, v any) error {
	if err := s.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("%s: %w", s.Name(), err)
	}
	return nil
}
