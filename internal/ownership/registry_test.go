package ownership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txnvm/core/pkg/txnerr"
	"github.com/txnvm/core/pkg/vmtypes"
)

func addr(b byte) vmtypes.Address {
	var a vmtypes.Address
	a[0] = b
	return a
}

func objID(b byte) vmtypes.ObjectID {
	var id vmtypes.ObjectID
	id[0] = b
	return id
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	meta := vmtypes.ObjectMetadata{ID: objID(0xAA), Ownership: vmtypes.Owned(addr(0x11))}
	require.NoError(t, r.Register(meta))
	err := r.Register(meta)
	assert.ErrorIs(t, err, txnerr.ErrAlreadyExists)
}

// TestOwnershipTransfer exercises scenario 6 from spec.md §8.
func TestOwnershipTransfer(t *testing.T) {
	r := New()
	id := objID(0xCC)
	a, b := addr(0xAA), addr(0xBB)
	require.NoError(t, r.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Owned(a)}))

	require.NoError(t, r.Transfer(id, a, b))

	err := r.VerifyAccess(id, a, vmtypes.AccessWrite)
	assert.ErrorIs(t, err, txnerr.ErrAccessDenied)

	err = r.VerifyAccess(id, b, vmtypes.AccessWrite)
	assert.NoError(t, err)

	assert.Equal(t, uint64(1), r.TransferCount())
}

func TestTransferRequiresCurrentOwner(t *testing.T) {
	r := New()
	id := objID(0xCC)
	a, b, c := addr(0xAA), addr(0xBB), addr(0xCC)
	require.NoError(t, r.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Owned(a)}))

	err := r.Transfer(id, b, c)
	assert.ErrorIs(t, err, txnerr.ErrNotOwned)
}

// TestFreezeIsTerminal exercises P6: once frozen, writes are always denied.
func TestFreezeIsTerminal(t *testing.T) {
	r := New()
	id := objID(0xDD)
	owner := addr(0x11)
	require.NoError(t, r.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Owned(owner)}))

	require.NoError(t, r.Freeze(id, owner))

	err := r.VerifyAccess(id, owner, vmtypes.AccessWrite)
	assert.ErrorIs(t, err, txnerr.ErrAccessDenied)

	err = r.VerifyAccess(id, owner, vmtypes.AccessRead)
	assert.NoError(t, err)
}

func TestSharedAllowsAnyReaderWriter(t *testing.T) {
	r := New()
	id := objID(0xEE)
	require.NoError(t, r.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Shared()}))

	assert.NoError(t, r.VerifyAccess(id, addr(0x01), vmtypes.AccessWrite))
	assert.NoError(t, r.VerifyAccess(id, addr(0x02), vmtypes.AccessRead))
}

func TestShouldUseFastPath(t *testing.T) {
	r := New()
	owned := objID(0x01)
	immutable := objID(0x02)
	shared := objID(0x03)
	sender := addr(0x11)

	require.NoError(t, r.Register(vmtypes.ObjectMetadata{ID: owned, Ownership: vmtypes.Owned(sender)}))
	require.NoError(t, r.Register(vmtypes.ObjectMetadata{ID: immutable, Ownership: vmtypes.Immutable()}))
	require.NoError(t, r.Register(vmtypes.ObjectMetadata{ID: shared, Ownership: vmtypes.Shared()}))

	assert.True(t, r.ShouldUseFastPath([]vmtypes.ObjectID{owned, immutable}, sender))
	assert.False(t, r.ShouldUseFastPath([]vmtypes.ObjectID{shared}, sender))
	assert.False(t, r.ShouldUseFastPath([]vmtypes.ObjectID{owned}, addr(0x99)))
}

func TestVerifyAccessUnknownObject(t *testing.T) {
	r := New()
	err := r.VerifyAccess(objID(0xFF), addr(0x01), vmtypes.AccessRead)
	assert.ErrorIs(t, err, txnerr.ErrNotFound)
}
