// Package cspace implements the guarded-radix CSpace resolver: walking a
// thread-relative capability address (cptr, depth-in-bits) down a tree of
// CNodes to a concrete slot.
//
// Grounded on pathres/pathres.go's step-wise walk of a path one component
// at a time with an explicit fault returned the instant a check fails,
// rather than pathres's symlink-follow loop (which has the same
// "must-terminate" shape the resolver needs: every iteration must either
// return or strictly shrink the remaining work).
package cspace

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/kerr"
)

// ObjectSpace maps a CNode capability's backing pointer to the cte.Store
// holding its 2^radix slots. The kernel has exactly one such space; tests
// can supply a fake with a handful of CNodes wired up.
type ObjectSpace interface {
	CNodeStore(ptr uint64) (cte.Store, bool)
}

// SlotRef names a resolved slot: which store it lives in, and its index
// within that store.
type SlotRef struct {
	Store cte.Store
	Addr  cte.Addr
}

// Get reads the capability at the resolved slot.
func (r SlotRef) Get() capword.Cap { return r.Store.Get(r.Addr).Cap }

// Result is the outcome of walking a CSpace address: either a fully
// resolved slot (BitsRemaining == 0), or, when the address runs past the
// last CNode in the chain, a partial resolution used by untyped/retype
// callers.
type Result struct {
	Slot           SlotRef
	BitsRemaining  uint8
}

// maxLevels bounds resolver iteration. The source's `while true {}`
// resolver loop needs an explicit bound so a corrupted CNode chain (e.g.
// a CNode whose guard+radix sum to zero) can't spin forever; wordBits is
// a safe bound since a well-formed chain strictly decreases n_bits by at
// least 1 every iteration that doesn't return.
func maxLevels(wordBits uint8) int { return int(wordBits) + 1 }

// Resolve implements the per-level walk: extract the high guardBits of
// the remaining cptr, compare against the CNode's guard, extract the
// next radixBits as the slot index, and either return the slot (remaining
// bits exhausted) or descend into the next CNode.
func Resolve(os ObjectSpace, rootCap capword.Cap, cptr uint64, nBits uint8) (Result, error) {
	if rootCap.Kind() != capword.CNode {
		return Result{}, kerr.NewFailedLookup(false, kerr.NewInvalidRoot())
	}

	cur := rootCap
	remaining := nBits

	for level := 0; ; level++ {
		if level >= maxLevels(64) {
			return Result{}, kerr.NewKernelBug("cspace: resolver exceeded %d levels, corrupted CNode chain", level)
		}

		guardBits := cur.CNodeGuardBits()
		radixBits := cur.CNodeRadixBits()
		levelBits := uint16(guardBits) + uint16(radixBits)

		if levelBits > uint16(remaining) {
			return Result{}, kerr.NewFailedLookup(false, kerr.NewDepthMismatch(uint8(levelBits), remaining))
		}

		if guardBits > 0 {
			shift := remaining - guardBits
			guardVal := (cptr >> shift) & ((uint64(1) << guardBits) - 1)
			if guardVal != cur.CNodeGuard() {
				return Result{}, kerr.NewFailedLookup(false, kerr.NewGuardMismatch(cur.CNodeGuard(), remaining, guardBits))
			}
		}

		indexShift := remaining - uint8(levelBits)
		index := (cptr >> indexShift) & ((uint64(1) << radixBits) - 1)

		store, ok := os.CNodeStore(cur.CNodePtr())
		if !ok {
			return Result{}, kerr.NewKernelBug("cspace: unknown CNode ptr %#x", cur.CNodePtr())
		}
		slot := SlotRef{Store: store, Addr: cte.Addr(index)}

		if remaining == uint8(levelBits) {
			return Result{Slot: slot, BitsRemaining: 0}, nil
		}

		remaining -= uint8(levelBits)

		next := slot.Get()
		if next.Kind() != capword.CNode {
			return Result{Slot: slot, BitsRemaining: remaining}, nil
		}
		cur = next
	}
}

// LookupSlot implements lookup_slot(thread, cptr): resolve from the
// thread's CTable with wordBits depth, requiring a full (non-partial)
// resolution.
func LookupSlot(os ObjectSpace, cTableCap capword.Cap, cptr uint64, wordBits uint8) (SlotRef, error) {
	res, err := Resolve(os, cTableCap, cptr, wordBits)
	if err != nil {
		return SlotRef{}, err
	}
	if res.BitsRemaining != 0 {
		return SlotRef{}, kerr.NewFailedLookup(false, kerr.NewDepthMismatch(wordBits-res.BitsRemaining, res.BitsRemaining))
	}
	return res.Slot, nil
}

// LookupCap implements lookup_cap(thread, cptr).
func LookupCap(os ObjectSpace, cTableCap capword.Cap, cptr uint64, wordBits uint8) (capword.Cap, error) {
	slot, err := LookupSlot(os, cTableCap, cptr, wordBits)
	if err != nil {
		return capword.Cap{}, err
	}
	return slot.Get(), nil
}

// LookupSlotForCNodeOp implements lookup_slot_for_cnode_op(is_source, root,
// cptr, depth): range-checks 1 <= depth <= wordBits before resolving, and
// tags any lookup failure with which side of the invocation (source or
// destination) it came from.
func LookupSlotForCNodeOp(os ObjectSpace, isSource bool, root capword.Cap, cptr uint64, depth uint8, wordBits uint8) (SlotRef, error) {
	if depth < 1 || depth > wordBits {
		return SlotRef{}, kerr.NewRangeError(1, uint64(wordBits))
	}

	res, err := Resolve(os, root, cptr, depth)
	if err != nil {
		return SlotRef{}, kerr.NewFailedLookup(isSource, err)
	}
	if res.BitsRemaining != 0 {
		fault := kerr.NewDepthMismatch(depth-res.BitsRemaining, res.BitsRemaining)
		return SlotRef{}, kerr.NewFailedLookup(isSource, fault)
	}
	return res.Slot, nil
}
