// Package resource manages temporary in-memory resource handles for uploaded
// assets. A handle is created when the viewer input changes and revoked exactly
// once when that input is superseded or the viewer is torn down.
package resource

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Resource errors.
var (
	ErrResourceRevoked = errors.New("resource handle revoked")
	ErrUnknownHandle   = errors.New("unknown resource handle")
)

// Scheme prefixes every handle.
const Scheme = "blob:"

// Handle identifies one registered blob.
type Handle string

// String returns the handle as a blob URL.
func (h Handle) String() string {
	return string(h)
}

// Registry holds the bytes behind every outstanding handle.
type Registry struct {
	mu      sync.Mutex
	blobs   map[Handle][]byte
	revoked map[Handle]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		blobs:   make(map[Handle][]byte),
		revoked: make(map[Handle]struct{}),
	}
}

// Create registers data under a fresh handle. The registry keeps a reference
// to data; callers must not modify it afterwards.
func (r *Registry) Create(data []byte) Handle {
	h := Handle(Scheme + uuid.NewString())

	r.mu.Lock()
	r.blobs[h] = data
	r.mu.Unlock()
	return h
}

// Resolve returns the bytes behind h.
func (r *Registry) Resolve(h Handle) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if data, ok := r.blobs[h]; ok {
		return data, nil
	}
	return nil, r.missing(h)
}

// Revoke releases h. Revoking a handle a second time is an error.
func (r *Registry) Revoke(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blobs[h]; !ok {
		return r.missing(h)
	}
	delete(r.blobs, h)
	r.revoked[h] = struct{}{}
	return nil
}

// Outstanding returns the number of live handles.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

func (r *Registry) missing(h Handle) error {
	if _, ok := r.revoked[h]; ok {
		return fmt.Errorf("%w: %s", ErrResourceRevoked, h)
	}
	if !strings.HasPrefix(string(h), Scheme) {
		return fmt.Errorf("%w: %q is not a %s URL", ErrUnknownHandle, h, strings.TrimSuffix(Scheme, ":"))
	}
	return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
}
