// Package dedup implements the O(1) membership filter over the dense
// [0, 1e9) key space described in spec.md §4.1.
package dedup

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Domain is the exclusive upper bound of the value space spec.md §3 fixes:
// 9 decimal digits, so [0, 999_999_999].
const Domain = 1_000_000_000

// Filter is a direct-mapped membership test over [0, Domain). It is built
// on github.com/bits-and-blooms/bitset (promoted from an indirect
// dependency of the teacher's go.mod, pulled in transitively through
// RoaringBitmap — see DESIGN.md) rather than a hand-rolled byte array: the
// library already gives direct-mapped index/bit-mask addressing (over
// 64-bit words rather than bytes), tested and free of per-call allocation.
//
// Filter is not safe for concurrent use. Per spec.md §4.1 it is called only
// from the single journal-consumer goroutine (C2), so it carries no lock.
type Filter struct {
	bits *bitset.BitSet
}

// New allocates the bitmap. One allocation for the server's lifetime, as
// required by spec.md §3 ("one allocation at startup, zero reallocations").
func New() *Filter {
	return &Filter{bits: bitset.New(Domain)}
}

// TestAndSet reports whether value was previously unseen, and marks it
// seen. Values outside [0, Domain) are a caller bug: spec.md §4.1 requires
// C5 to reject them before they reach C1, so TestAndSet panics rather than
// silently misbehaving.
func (f *Filter) TestAndSet(value uint32) bool {
	if value >= Domain {
		panic(fmt.Sprintf("dedup: value %d out of domain [0, %d)", value, Domain))
	}
	if f.bits.Test(uint(value)) {
		return false
	}
	f.bits.Set(uint(value))
	return true
}

// Count returns the number of distinct values observed so far. Exposed for
// tests verifying dedup exactness (spec.md §8).
func (f *Filter) Count() uint64 {
	return uint64(f.bits.Count())
}
