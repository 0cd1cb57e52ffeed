// Package ownership implements OwnershipRegistry: the authoritative
// mapping from object id to ownership kind and metadata, and the source
// of truth for fast/consensus path classification.
package ownership

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/pkg/log"
	"github.com/txnvm/core/pkg/txnerr"
	"github.com/txnvm/core/pkg/vmtypes"
)

// entry pairs one object's metadata with a lock fine-grained enough that
// concurrent transfers on different objects never contend.
type entry struct {
	mu   sync.RWMutex
	meta vmtypes.ObjectMetadata
}

// Registry is a single concurrent map with per-entry locking, guarded at
// the map level by a RWMutex only for insert/lookup of the entry itself
// (never held during a write of meta; Stats holds it in read mode while
// it reads every entry).
type Registry struct {
	mu      sync.RWMutex
	objects map[vmtypes.ObjectID]*entry

	transferCount uint64
	transferMu    sync.Mutex

	logger zerolog.Logger
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		objects: make(map[vmtypes.ObjectID]*entry),
		logger:  log.WithComponent("ownership-registry"),
	}
}

// Register inserts meta. Fails with ErrAlreadyExists if meta.ID is present.
func (r *Registry) Register(meta vmtypes.ObjectMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.objects[meta.ID]; exists {
		return txnerr.ErrAlreadyExists
	}

	now := time.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	r.objects[meta.ID] = &entry{meta: meta}
	r.logger.Debug().Str("object_id", meta.ID.String()).Str("kind", meta.Ownership.Kind.String()).Msg("registered")
	return nil
}

func (r *Registry) lookup(id vmtypes.ObjectID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.objects[id]
	return e, ok
}

// Get returns a copy of the current metadata for id.
func (r *Registry) Get(id vmtypes.ObjectID) (vmtypes.ObjectMetadata, error) {
	e, ok := r.lookup(id)
	if !ok {
		return vmtypes.ObjectMetadata{}, txnerr.ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta, nil
}

// Transfer moves ownership of id from `from` to `to`. Requires the
// current ownership to be Owned(from); bumps version and the registry's
// transfer counter.
func (r *Registry) Transfer(id vmtypes.ObjectID, from, to vmtypes.Address) error {
	e, ok := r.lookup(id)
	if !ok {
		return txnerr.ErrNotFound
	}

	e.mu.Lock()
	if e.meta.Ownership.Kind != vmtypes.KindOwned || e.meta.Ownership.Owner != from {
		e.mu.Unlock()
		return txnerr.ErrNotOwned
	}
	e.meta.Ownership = vmtypes.Owned(to)
	e.meta.Version++
	e.meta.UpdatedAt = time.Now()
	e.mu.Unlock()

	r.transferMu.Lock()
	r.transferCount++
	r.transferMu.Unlock()

	r.logger.Debug().Str("object_id", id.String()).Str("from", from.String()).Str("to", to.String()).Msg("transferred")
	return nil
}

// Freeze transitions id from Owned(owner) to Immutable, a terminal state.
func (r *Registry) Freeze(id vmtypes.ObjectID, owner vmtypes.Address) error {
	e, ok := r.lookup(id)
	if !ok {
		return txnerr.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.meta.Ownership.Kind != vmtypes.KindOwned || e.meta.Ownership.Owner != owner {
		return txnerr.ErrNotOwned
	}
	e.meta.Ownership = vmtypes.Immutable()
	e.meta.Version++
	e.meta.UpdatedAt = time.Now()
	return nil
}

// VerifyAccess reports whether requester may perform kind access on id.
func (r *Registry) VerifyAccess(id vmtypes.ObjectID, requester vmtypes.Address, kind vmtypes.AccessKind) error {
	e, ok := r.lookup(id)
	if !ok {
		return txnerr.ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch e.meta.Ownership.Kind {
	case vmtypes.KindOwned:
		if e.meta.Ownership.Owner != requester {
			return txnerr.ErrAccessDenied
		}
		return nil
	case vmtypes.KindShared:
		return nil
	case vmtypes.KindImmutable:
		if kind == vmtypes.AccessWrite {
			return txnerr.ErrAccessDenied
		}
		return nil
	default:
		return txnerr.ErrAccessDenied
	}
}

// ShouldUseFastPath reports whether every id in ids resolves to
// Owned(sender) or Immutable — the precondition a caller must enforce
// before executing fast-path user code (spec open question: enforce
// before, not after).
func (r *Registry) ShouldUseFastPath(ids []vmtypes.ObjectID, sender vmtypes.Address) bool {
	for _, id := range ids {
		e, ok := r.lookup(id)
		if !ok {
			return false
		}
		e.mu.RLock()
		kind := e.meta.Ownership.Kind
		owner := e.meta.Ownership.Owner
		e.mu.RUnlock()

		switch kind {
		case vmtypes.KindImmutable:
			continue
		case vmtypes.KindOwned:
			if owner != sender {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// TransferCount returns the number of successful transfers so far.
func (r *Registry) TransferCount() uint64 {
	r.transferMu.Lock()
	defer r.transferMu.Unlock()
	return r.transferCount
}

// Stats computes RoutingStats' object-kind-count fields by scanning the
// registry. Not on any hot path; intended for periodic reporting.
func (r *Registry) Stats() (owned, shared, immutable uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.objects {
		e.mu.RLock()
		switch e.meta.Ownership.Kind {
		case vmtypes.KindOwned:
			owned++
		case vmtypes.KindShared:
			shared++
		case vmtypes.KindImmutable:
			immutable++
		}
		e.mu.RUnlock()
	}
	return owned, shared, immutable
}
