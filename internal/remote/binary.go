package remote

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/vimpilot/internal/cachemanager"
	"github.com/zjrosen/vimpilot/internal/log"
)

// DefaultCandidates are probed in order when no binary is configured.
var DefaultCandidates = []string{"vim", "mvim", "gvim"}

// DefaultProbeTTL bounds how long a capability probe result is reused.
const DefaultProbeTTL = 10 * time.Minute

const (
	serverFlag = "--servername"
	noForkFlag = "--nofork"
)

// Capabilities are the features a binary advertises in its --help output.
type Capabilities struct {
	Server bool // client/server mode (--servername)
	NoFork bool // --nofork, used only when spawning
}

// Binary is a resolved editor executable.
type Binary struct {
	Path string
	Capabilities
}

// sharedProbeCache is used by every Resolver that is not given its own cache,
// so building many servers in one test binary probes each executable once.
var sharedProbeCache = cachemanager.NewInMemoryCacheManager[string, Capabilities](
	"probe", DefaultProbeTTL, cachemanager.DefaultCleanupInterval)

// Resolver picks a compatible editor binary.
type Resolver struct {
	candidates     []string
	commandFactory CommandFactoryFunc
	lookPath       func(string) (string, error)
	probes         *cachemanager.ReadThroughCache[string, Capabilities, string]
	ttl            time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCandidates replaces DefaultCandidates.
func WithCandidates(names ...string) ResolverOption {
	return func(r *Resolver) {
		r.candidates = append([]string(nil), names...)
	}
}

// WithResolverCommandFactory sets the factory used to run probes.
func WithResolverCommandFactory(fn CommandFactoryFunc) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.commandFactory = fn
		}
	}
}

// WithProbeTTL sets how long probe results stay cached.
func WithProbeTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithProbeCache replaces the shared probe cache. A nil cache disables caching.
func WithProbeCache(cache cachemanager.CacheManager[string, Capabilities], ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.probes = cachemanager.NewReadThroughCache[string, Capabilities, string](cache, r.probe, cache == nil)
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewResolver creates a Resolver with the default candidates and shared cache.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		candidates:     DefaultCandidates,
		commandFactory: defaultCommandFactory,
		lookPath:       exec.LookPath,
		ttl:            DefaultProbeTTL,
	}
	r.probes = cachemanager.NewReadThroughCache[string, Capabilities, string](sharedProbeCache, r.probe, false)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the explicit binary if it supports server mode, or the
// first candidate that does when explicit is empty.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (Binary, error) {
	if explicit != "" {
		bin, err := r.Probe(ctx, explicit)
		if err != nil {
			return Binary{}, fmt.Errorf("%w: %s: %w", ErrIncompatibleBinary, explicit, err)
		}
		if !bin.Server {
			return Binary{}, fmt.Errorf("%w: %s", ErrIncompatibleBinary, explicit)
		}
		log.Debug(log.CatBinary, "using configured binary", "path", bin.Path, "nofork", bin.NoFork)
		return bin, nil
	}

	for _, name := range r.candidates {
		bin, err := r.Probe(ctx, name)
		if err != nil {
			log.Debug(log.CatBinary, "candidate unavailable", "name", name, "error", err)
			continue
		}
		if bin.Server {
			log.Debug(log.CatBinary, "selected candidate", "path", bin.Path, "nofork", bin.NoFork)
			return bin, nil
		}
		log.Debug(log.CatBinary, "candidate lacks server mode", "path", bin.Path)
	}
	return Binary{}, fmt.Errorf("%w (tried %s)", ErrNoCompatibleBinary, strings.Join(r.candidates, ", "))
}

// Probe locates name and reports its capabilities. Results are cached per
// resolved path.
func (r *Resolver) Probe(ctx context.Context, name string) (Binary, error) {
	path, err := r.lookPath(name)
	if err != nil {
		return Binary{}, err
	}
	caps, err := r.probes.Get(ctx, path, path, r.ttl)
	if err != nil {
		return Binary{}, err
	}
	return Binary{Path: path, Capabilities: caps}, nil
}

// probe runs `<path> --help` and scans the text for the server and no-fork
// flags. Vim exits 0 for --help; some builds exit 1 but still print usage,
// so output is trusted whenever there is any.
func (r *Resolver) probe(ctx context.Context, path string) (Capabilities, error) {
	out := run(ctx, r.commandFactory, path, "--help")
	help := out.stdout + out.stderr
	if out.err != nil {
		var exitErr *exec.ExitError
		if !errors.As(out.err, &exitErr) || strings.TrimSpace(help) == "" {
			return Capabilities{}, fmt.Errorf("probing %s: %w", path, out.err)
		}
	}
	caps := ParseCapabilities(help)
	log.Debug(log.CatBinary, "probed binary", "path", path, "server", caps.Server, "nofork", caps.NoFork)
	return caps, nil
}

// ParseCapabilities scans editor help text for the flags vimpilot needs.
func ParseCapabilities(help string) Capabilities {
	return Capabilities{
		Server: strings.Contains(help, serverFlag),
		NoFork: strings.Contains(help, noForkFlag),
	}
}
