// Package vmtypes holds the data types shared across the engine: object
// identifiers, ownership kinds, execution paths and receipts. Keeping
// them in one leaf package avoids import cycles between store, ownership,
// router, scheduler and vm.
package vmtypes

import (
	"encoding/hex"
	"time"
)

// ObjectID is a 32-byte object identifier, matching the spec's address
// and object-id shape.
type ObjectID [32]byte

// String renders the id as lowercase hex, e.g. for log fields.
func (id ObjectID) String() string { return hex.EncodeToString(id[:]) }

// Address is a 32-byte account/owner identifier.
type Address [32]byte

// String renders the address as lowercase hex.
func (a Address) String() string { return hex.EncodeToString(a[:]) }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// OwnershipKind tags how an object may be accessed.
type OwnershipKind int

const (
	// KindOwned restricts read/write to a single address.
	KindOwned OwnershipKind = iota
	// KindShared permits read/write to any address, subject to MVCC.
	KindShared
	// KindImmutable permits read to any address, write to none.
	KindImmutable
)

func (k OwnershipKind) String() string {
	switch k {
	case KindOwned:
		return "owned"
	case KindShared:
		return "shared"
	case KindImmutable:
		return "immutable"
	default:
		return "unknown"
	}
}

// Ownership is the tagged-variant value: Owner is meaningful only when
// Kind == KindOwned.
type Ownership struct {
	Kind  OwnershipKind
	Owner Address
}

// Owned constructs an Owned(addr) ownership value.
func Owned(addr Address) Ownership { return Ownership{Kind: KindOwned, Owner: addr} }

// Shared constructs a Shared ownership value.
func Shared() Ownership { return Ownership{Kind: KindShared} }

// Immutable constructs an Immutable ownership value.
func Immutable() Ownership { return Ownership{Kind: KindImmutable} }

// ObjectMetadata is the registry's authoritative record for one object.
type ObjectMetadata struct {
	ID         ObjectID
	Version    uint64
	Ownership  Ownership
	ObjectType string
	SizeBytes  uint64
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AccessKind distinguishes read from write access for verify_access.
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
)

func (k AccessKind) String() string {
	if k == AccessWrite {
		return "write"
	}
	return "read"
}

// ExecutionPath is the route a transaction was classified onto.
type ExecutionPath int

const (
	FastPath ExecutionPath = iota
	ConsensusPath
	PrivatePath
)

func (p ExecutionPath) String() string {
	switch p {
	case FastPath:
		return "fast"
	case ConsensusPath:
		return "consensus"
	case PrivatePath:
		return "privacy"
	default:
		return "unknown"
	}
}

// Privacy marks whether a transaction requires the privacy path.
type Privacy int

const (
	Public Privacy = iota
	Private
)

// Receipt is returned for every single-transaction execution.
type Receipt struct {
	TxID                string
	Path                ExecutionPath
	Success             bool
	ReturnValue         *int32
	FallbackToConsensus bool
	LatencyMS           uint64
	Error               string
}

// RoutingStats is a point-in-time, non-atomic copy of PathRouter's route
// counters, safe to read/print.
type RoutingStats struct {
	FastCount       uint64
	ConsensusCount  uint64
	PrivacyCount    uint64
	OwnedObjects    uint64
	SharedObjects   uint64
	ImmutableObjects uint64
	TransferCount   uint64
}

// FastRatio returns fast_count / total routed, or 0 if nothing routed yet.
func (s RoutingStats) FastRatio() float64 {
	total := s.FastCount + s.ConsensusCount + s.PrivacyCount
	if total == 0 {
		return 0
	}
	return float64(s.FastCount) / float64(total)
}
