// Package cte implements the Capability Table Entry, the pair (cap, mdb)
// that is the storage unit of every CNode array and every TCB cspace
// slot, and the Mapping Database operations that mutate a CTE's cap and
// its MDB link together: Insert, Move, Swap, IsParentOf, IsFinal,
// EnsureNoChildren.
//
// These operations need both the Node link (package mdb) and cap identity
// comparisons (package capword), so they live here rather than in mdb
// itself, keeping mdb a pure, cap-agnostic linked-list package.
package cte

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/kerr"
	"github.com/nestybox/sel4-capcore/klog"
	"github.com/nestybox/sel4-capcore/mdb"
)

// Addr re-exports mdb.Addr so callers need not import both packages for
// the common case of addressing a slot.
type Addr = mdb.Addr

const NoAddr = mdb.NoAddr

// CTE is the (cap, mdb) storage unit.
type CTE struct {
	Cap capword.Cap
	MDB mdb.Node
}

// Empty reports whether the slot holds no capability.
func (c CTE) Empty() bool { return c.Cap.IsNull() }

// Store abstracts the slot table a CTE lives in: a CNode's backing array,
// or a TCB's fixed small slot set. Implementations need not be
// goroutine-safe; the kernel model runs single-threaded between
// preemption points.
type Store interface {
	Get(addr Addr) CTE
	Set(addr Addr, c CTE)
}

// MapStore is a Store backed by a Go map, convenient for tests and for the
// boot allocator's bump-allocated root CNode.
type MapStore map[Addr]CTE

func (s MapStore) Get(addr Addr) CTE { return s[addr] }

func (s MapStore) Set(addr Addr, c CTE) { s[addr] = c }

// Insert implements cte_insert(new_cap, src_slot, dest_slot): places new_cap
// into dest_slot with its MDB link inserted immediately after src_slot in
// the derivation list. Requires dest_slot.cap == Null.
func Insert(s Store, newCap capword.Cap, srcAddr, destAddr Addr) error {
	dest := s.Get(destAddr)
	if !dest.Cap.IsNull() {
		return kerr.NewKernelBug("cte_insert: dest slot %v is not empty", destAddr)
	}

	src := s.Get(srcAddr)

	revocable := capword.IsCapRevocable(newCap, src.Cap)
	firstBadged := true
	if newCap.Kind() == capword.Endpoint || newCap.Kind() == capword.Notification {
		firstBadged = newCap.Badge() != src.Cap.Badge()
	}

	newNode := mdb.Node{
		Prev:        srcAddr,
		Next:        src.MDB.Next,
		Revocable:   revocable,
		FirstBadged: firstBadged,
	}

	// splice dest in right after src
	src.MDB.Next = destAddr
	s.Set(srcAddr, src)

	if newNode.Next != mdb.NoAddr {
		next := s.Get(newNode.Next)
		next.MDB.Prev = destAddr
		s.Set(newNode.Next, next)
	}

	s.Set(destAddr, CTE{Cap: newCap, MDB: newNode})
	klog.Tracef("cte: insert dest=%v after src=%v", destAddr, srcAddr)
	return nil
}

// Move implements cte_move: swaps new_cap into dest_slot, rewrites
// src_slot's former MDB neighbours to point at dest_slot so the derivation
// link moves with the cap, then nulls src_slot.
func Move(s Store, srcAddr, destAddr Addr) error {
	src := s.Get(srcAddr)
	if src.Cap.IsNull() {
		return kerr.NewKernelBug("cte_move: src slot %v is empty", srcAddr)
	}
	dest := s.Get(destAddr)
	if !dest.Cap.IsNull() {
		return kerr.NewKernelBug("cte_move: dest slot %v is not empty", destAddr)
	}

	node := src.MDB
	if node.Prev != mdb.NoAddr {
		prev := s.Get(node.Prev)
		prev.MDB.Next = destAddr
		s.Set(node.Prev, prev)
	}
	if node.Next != mdb.NoAddr {
		next := s.Get(node.Next)
		next.MDB.Prev = destAddr
		s.Set(node.Next, next)
	}

	s.Set(destAddr, CTE{Cap: src.Cap, MDB: node})
	s.Set(srcAddr, CTE{})
	klog.Tracef("cte: move src=%v dest=%v", srcAddr, destAddr)
	return nil
}

// Swap implements cte_swap: an atomic two-slot exchange of (cap, mdb),
// rewriting each slot's external neighbours to point at its new location.
// Used by CNodeRotate and by Zombie-cycle resolution
// (reduce_zombie's cap_swap_for_delete).
func Swap(s Store, aAddr, bAddr Addr) error {
	if aAddr == bAddr {
		return nil
	}

	a := s.Get(aAddr)
	b := s.Get(bAddr)

	relink := func(node mdb.Node, oldAddr, newAddr Addr, other Addr) {
		if node.Prev != mdb.NoAddr && node.Prev != other {
			prev := s.Get(node.Prev)
			prev.MDB.Next = newAddr
			s.Set(node.Prev, prev)
		}
		if node.Next != mdb.NoAddr && node.Next != other {
			next := s.Get(node.Next)
			next.MDB.Prev = newAddr
			s.Set(node.Next, next)
		}
	}

	// Retarget neighbours before writing the swapped entries, since a and
	// b may be adjacent (each other's neighbour) and must then point back
	// at the other's new address rather than a stale self-reference.
	relink(a.MDB, aAddr, bAddr, bAddr)
	relink(b.MDB, bAddr, aAddr, aAddr)

	newA := a.MDB
	if newA.Prev == bAddr {
		newA.Prev = aAddr
	}
	if newA.Next == bAddr {
		newA.Next = aAddr
	}
	newB := b.MDB
	if newB.Prev == aAddr {
		newB.Prev = bAddr
	}
	if newB.Next == aAddr {
		newB.Next = bAddr
	}

	s.Set(aAddr, CTE{Cap: b.Cap, MDB: newB})
	s.Set(bAddr, CTE{Cap: a.Cap, MDB: newA})
	klog.Tracef("cte: swap a=%v b=%v", aAddr, bAddr)
	return nil
}

// covers reports whether an Untyped cap's region contains the object
// addressed by b, approximated here (as the rest of this package does) by
// pointer containment within the untyped's block.
func covers(a, b capword.Cap) bool {
	base := a.UntypedPtr()
	size := uint64(1) << a.UntypedBlockSizeBits()
	var target uint64
	switch b.Kind() {
	case capword.Untyped:
		target = b.UntypedPtr()
	case capword.CNode:
		target = b.CNodePtr()
	case capword.Frame:
		target = b.FrameBasePtr()
	case capword.PageTable:
		target = b.PageTableBasePtr()
	case capword.Endpoint:
		target = b.EndpointPtr()
	case capword.Notification:
		target = b.NotificationPtr()
	case capword.Thread:
		target = b.ThreadTCB()
	default:
		return true
	}
	return target >= base && target < base+size
}

// IsParentOf implements IsParentOf(a, b): the predicate driving
// revocation. a is a parent of b iff they're the same object, a's
// derivation is revocable, and (for Untyped) a's region covers b, and (for
// badged Endpoint/Notification) a is either unbadged or shares b's badge
// and b isn't where that badge first appeared.
func IsParentOf(s Store, aAddr, bAddr Addr) bool {
	a := s.Get(aAddr)
	b := s.Get(bAddr)

	if !a.MDB.Revocable || !capword.SameObjectAs(a.Cap, b.Cap) {
		return false
	}

	if a.Cap.Kind() == capword.Untyped {
		return covers(a.Cap, b.Cap)
	}

	if a.Cap.Kind() == capword.Endpoint || a.Cap.Kind() == capword.Notification {
		if a.Cap.Badge() == 0 {
			return true
		}
		return a.Cap.Badge() == b.Cap.Badge() && !b.MDB.FirstBadged
	}

	return true
}

// IsFinal implements IsFinal(slot): true iff neither
// immediate MDB neighbour refers to the same object. Because Insert always
// splices a new copy in immediately after its source, every copy of one
// object ends up contiguous in the derivation list, so checking only the
// immediate neighbours suffices (this is the invariant the rest of this
// package must preserve).
func IsFinal(s Store, addr Addr) bool {
	c := s.Get(addr)
	if c.Cap.IsNull() {
		return false
	}

	if c.MDB.Prev != mdb.NoAddr {
		prev := s.Get(c.MDB.Prev)
		if capword.SameObjectAs(c.Cap, prev.Cap) {
			return false
		}
	}
	if c.MDB.Next != mdb.NoAddr {
		next := s.Get(c.MDB.Next)
		if capword.SameObjectAs(c.Cap, next.Cap) {
			return false
		}
	}
	return true
}

// EnsureNoChildren implements EnsureNoChildren(slot): true
// iff no MDB successor of slot is IsParentOf(slot, _). Walks forward from
// slot while the chain remains part of the same object's derivation run.
func EnsureNoChildren(s Store, addr Addr) bool {
	cur := s.Get(addr)
	next := cur.MDB.Next
	for next != mdb.NoAddr {
		nextEntry := s.Get(next)
		if !capword.SameObjectAs(cur.Cap, nextEntry.Cap) && !IsParentOf(s, addr, next) {
			break
		}
		if IsParentOf(s, addr, next) {
			return false
		}
		next = nextEntry.MDB.Next
	}
	return true
}
