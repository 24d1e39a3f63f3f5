package asar

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/integrity"
)

// Registry shares one parsed Archive per container path.
//
// Lookups of a known path take a read lock only. The first access to a
// path parses the header once no matter how many goroutines ask for it;
// failures are returned to every waiter and not remembered.
type Registry struct {
	host        Host
	archiveOpts []asarcore.Option
	verifier    *integrity.Verifier
	identity    func(path string) string
	logger      *slog.Logger

	mu      sync.RWMutex
	entries map[string]*registered
	group   singleflight.Group
}

// registered is a live archive and its lazily computed trust decision.
type registered struct {
	archive   *asarcore.Archive
	trustOnce sync.Once
	trust     integrity.Result
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// RegistryWithArchiveOptions sets options passed to asarcore.New for every
// archive the registry opens.
func RegistryWithArchiveOptions(opts ...asarcore.Option) RegistryOption {
	return func(r *Registry) {
		r.archiveOpts = append(r.archiveOpts, opts...)
	}
}

// RegistryWithVerifier sets the verifier consulted by Trust.
func RegistryWithVerifier(v *integrity.Verifier) RegistryOption {
	return func(r *Registry) {
		r.verifier = v
	}
}

// RegistryWithIdentity sets how an archive path maps to its manifest
// identifier. The default is the base name.
func RegistryWithIdentity(fn func(path string) string) RegistryOption {
	return func(r *Registry) {
		r.identity = fn
	}
}

// RegistryWithLogger sets the logger.
func RegistryWithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// RelativeIdentity returns an identity function naming archives by their
// slash-separated path relative to root, falling back to the base name for
// archives outside it.
func RelativeIdentity(root string) func(string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return func(path string) string {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.Base(path)
		}
		return filepath.ToSlash(rel)
	}
}

// NewRegistry returns an empty Registry reading through host.
func NewRegistry(host Host, opts ...RegistryOption) *Registry {
	r := &Registry{
		host:     host,
		identity: filepath.Base,
		entries:  make(map[string]*registered),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// GetOrCreate returns the shared Archive for the container at path,
// parsing it on first use.
func (r *Registry) GetOrCreate(path string) (*asarcore.Archive, error) {
	reg, err := r.entry(path)
	if err != nil {
		return nil, err
	}
	return reg.archive, nil
}

func (r *Registry) lookup(path string) *registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[path]
}

// key is the registry key for path: absolute and clean, so that every
// spelling of one file shares an instance.
func key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func (r *Registry) entry(path string) (*registered, error) {
	path = key(path)
	if reg := r.lookup(path); reg != nil {
		return reg, nil
	}
	v, err, _ := r.group.Do(path, func() (any, error) {
		if reg := r.lookup(path); reg != nil {
			return reg, nil
		}
		a, err := r.open(path)
		if err != nil {
			return nil, err
		}
		reg := &registered{archive: a}
		r.mu.Lock()
		r.entries[path] = reg
		r.mu.Unlock()
		return reg, nil
	})
	if err != nil {
		return nil, err
	}
	reg, _ := v.(*registered) //nolint:errcheck // type assertion always succeeds when err is nil
	return reg, nil
}

func (r *Registry) open(path string) (*asarcore.Archive, error) {
	info, err := r.host.StatRaw(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	h, err := r.host.OpenRaw(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	source := &handleSource{Handle: h, sourceID: asarcore.FileSourceID(path, info)}
	opts := append([]asarcore.Option{
		asarcore.WithPath(path),
		asarcore.WithModTime(info.ModTime()),
		asarcore.WithCloser(h),
		asarcore.WithLogger(r.logger),
	}, r.archiveOpts...)
	a, err := asarcore.New(source, opts...)
	if err != nil {
		h.Close()
		r.log().Debug("archive rejected", "path", path, "error", err)
		return nil, err
	}
	r.log().Info("opened archive", "path", path, "entries", a.Len(), "size", a.Size())
	return a, nil
}

// Evict drops the archive for path and closes it. Readers still holding
// the archive fail once it is closed.
func (r *Registry) Evict(path string) error {
	path = key(path)
	r.mu.Lock()
	reg, ok := r.entries[path]
	delete(r.entries, path)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return reg.archive.Close()
}

// Clear drops and closes every archive.
func (r *Registry) Clear() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registered)
	r.mu.Unlock()

	var errs []error
	for _, reg := range entries {
		if err := reg.archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live archives.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Trust verifies the archive at path against the configured manifest. The
// result is computed once per archive instance. Without a verifier every
// archive is untrusted with ErrNoManifestEntry.
func (r *Registry) Trust(path string) integrity.Result {
	id := r.identity(key(path))
	reg, err := r.entry(path)
	if err != nil {
		return integrity.Result{ID: id, Err: errors.Join(integrity.ErrUntrusted, err)}
	}
	reg.trustOnce.Do(func() {
		reg.trust = r.verify(id, reg.archive)
	})
	return reg.trust
}

func (r *Registry) verify(id string, a *asarcore.Archive) integrity.Result {
	if r.verifier == nil {
		r.log().Warn("archive rejected", "id", id, "error", "no verifier configured")
		return integrity.Result{ID: id, Err: fmt.Errorf("%w: no verifier configured", integrity.ErrNoManifestEntry)}
	}
	return r.verifier.Verify(id, integrity.Target{
		Source: a.Source(),
		Size:   a.Size(),
		Header: a.HeaderBytes(),
	})
}

// IsArchiveTrusted reports whether the archive at path passes Trust.
func (r *Registry) IsArchiveTrusted(path string) bool {
	return r.Trust(path).Trusted()
}

// handleSource adapts a host Handle to asarcore.ByteSource.
type handleSource struct {
	Handle
	sourceID string
}

func (s *handleSource) SourceID() string {
	return s.sourceID
}

var _ asarcore.ByteSource = (*handleSource)(nil)
