package remote

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Registry hands out server names. Names carry a per-registry random tag so
// concurrent processes (parallel test binaries, several CLIs) never collide
// in the shared server list.
type Registry struct {
	prefix string
	tag    string
	next   atomic.Uint64
}

// DefaultRegistry is used by servers created without an explicit Registry.
var DefaultRegistry = NewRegistry("VIMPILOT")

// NewRegistry creates a Registry whose names start with prefix.
func NewRegistry(prefix string) *Registry {
	tag := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return &Registry{prefix: strings.ToUpper(prefix), tag: tag}
}

// Next returns a fresh name. Safe for concurrent use.
func (r *Registry) Next() string {
	n := r.next.Add(1)
	return fmt.Sprintf("%s_%s_%d", r.prefix, r.tag, n)
}

// Prefix returns the portion shared by every name this registry issues.
func (r *Registry) Prefix() string {
	return r.prefix + "_" + r.tag + "_"
}
