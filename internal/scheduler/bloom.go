package scheduler

import (
	"hash/fnv"

	"github.com/bits-and-blooms/bitset"
)

// txBloom is a fixed-size Bloom filter over one transaction's read or
// write set, sized for ~1% false-positive at expectedItems, using double
// hashing (two independent FNV-1a seeds) to derive k hash functions —
// the standard technique for fixed-k Bloom filters without k separate
// hash implementations.
type txBloom struct {
	bits *bitset.BitSet
	k    uint
}

// bloomParams computes (m bits, k hashes) for expectedItems at a target
// false-positive rate of 1%.
func bloomParams(expectedItems int) (m uint, k uint) {
	if expectedItems < 1 {
		expectedItems = 1
	}
	// m = -n*ln(p)/(ln(2)^2), p = 0.01 -> ln(p) ≈ -4.605, ln(2)^2 ≈ 0.4805
	m = uint(float64(expectedItems) * 9.585)
	if m < 64 {
		m = 64
	}
	k = uint(float64(m) / float64(expectedItems) * 0.6931)
	if k < 1 {
		k = 1
	}
	if k > 8 {
		k = 8
	}
	return m, k
}

func newTxBloom(expectedItems int) *txBloom {
	m, k := bloomParams(expectedItems)
	return &txBloom{bits: bitset.New(m), k: k}
}

func fnvHash(seed uint32, key []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	var seedBytes [4]byte
	seedBytes[0] = byte(seed)
	seedBytes[1] = byte(seed >> 8)
	seedBytes[2] = byte(seed >> 16)
	seedBytes[3] = byte(seed >> 24)
	_, _ = h.Write(seedBytes[:])
	return h.Sum32()
}

func (b *txBloom) add(key []byte) {
	h1 := fnvHash(0, key)
	h2 := fnvHash(1, key)
	m := b.bits.Len()
	for i := uint(0); i < b.k; i++ {
		idx := (uint(h1) + i*uint(h2)) % m
		b.bits.Set(idx)
	}
}

func (b *txBloom) mayContain(key []byte) bool {
	h1 := fnvHash(0, key)
	h2 := fnvHash(1, key)
	m := b.bits.Len()
	for i := uint(0); i < b.k; i++ {
		idx := (uint(h1) + i*uint(h2)) % m
		if !b.bits.Test(idx) {
			return false
		}
	}
	return true
}

// intersects reports whether any key previously added to other may also
// be a member of b (i.e. whether b's write-set Bloom and other's
// read-or-write-set Bloom possibly overlap). This is a coarse test over
// the bit vectors themselves, cheaper than re-checking individual keys
// when the caller only has the filters, not the original key lists.
func (b *txBloom) intersects(other *txBloom) bool {
	if b.bits.Len() != other.bits.Len() {
		return true // degrade to "assume overlap" rather than compare incompatible vectors
	}
	return b.bits.IntersectionCardinality(other.bits) > 0
}

// txKeys bundles the two Bloom filters the grouping logic needs per
// transaction: its write-set filter, and a combined read+write filter
// used to test against other transactions' write sets.
type txKeys struct {
	item       BatchItem
	writeBloom *txBloom
	allBloom   *txBloom
	reads      [][]byte
	writes     [][]byte
}

func buildTxKeys(item BatchItem, reads, writes [][]byte) txKeys {
	wb := newTxBloom(len(writes))
	for _, k := range writes {
		wb.add(k)
	}
	ab := newTxBloom(len(reads) + len(writes))
	for _, k := range reads {
		ab.add(k)
	}
	for _, k := range writes {
		ab.add(k)
	}
	return txKeys{item: item, writeBloom: wb, allBloom: ab, reads: reads, writes: writes}
}

// bloomGroup partitions txs into groups where no transaction's write-set
// Bloom filter intersects another's combined read-or-write Bloom filter.
// candidateDensity is the fraction of transactions that had at least one
// mutual Bloom hit against any other transaction — callers use this to
// decide whether to fall back to exact key-index grouping.
func bloomGroup(txs []txKeys) (groups [][]BatchItem, candidateDensity float64) {
	hit := make([]bool, len(txs))
	for i := range txs {
		for j := i + 1; j < len(txs); j++ {
			if txs[i].writeBloom.intersects(txs[j].allBloom) || txs[j].writeBloom.intersects(txs[i].allBloom) {
				hit[i], hit[j] = true, true
			}
		}
	}

	hitCount := 0
	var placed []txKeys
	var groupSets [][]txKeys

	for ti, tx := range txs {
		placedInGroup := false
		for gi, group := range groupSets {
			conflict := false
			for _, member := range group {
				if tx.writeBloom.intersects(member.allBloom) || member.writeBloom.intersects(tx.allBloom) {
					conflict = true
					break
				}
			}
			if !conflict {
				groupSets[gi] = append(groupSets[gi], tx)
				placedInGroup = true
				break
			}
		}
		if !placedInGroup {
			groupSets = append(groupSets, []txKeys{tx})
		}
		if hit[ti] {
			hitCount++
		}
		placed = append(placed, tx)
	}

	groups = make([][]BatchItem, len(groupSets))
	for i, g := range groupSets {
		items := make([]BatchItem, len(g))
		for j, tx := range g {
			items[j] = tx.item
		}
		groups[i] = items
	}
	if len(placed) == 0 {
		return groups, 0
	}
	return groups, float64(hitCount) / float64(len(placed))
}
