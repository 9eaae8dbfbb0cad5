package zombie

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/kerr"
	"github.com/nestybox/sel4-capcore/mdb"
)

// slotResult is finalise_slot's internal outcome: whether the slot is
// fully handled (cap_removable held) and, if so, what cleanup to fire
// once the slot is actually emptied.
type slotResult struct {
	done    bool
	cleanup CleanupInfo
}

// finaliseSlot implements the finalise_slot(slot, exposed) loop:
// repeatedly finalise the slot's current capability (which may turn into
// a Zombie) and reduce that Zombie, until either the slot is
// cap_removable or, for an unexposed, self-referential Zombie, the loop
// must stop and wait for a future call once the slot is no longer the
// Zombie's own target.
func finaliseSlot(s cte.Store, addr cte.Addr, w World, exposed bool, pe *Preemption) (slotResult, error) {
	for {
		c := s.Get(addr)
		if c.Cap.IsNull() {
			return slotResult{done: true}, nil
		}

		isFinal := cte.IsFinal(s, addr)
		remainder, cleanup, err := FinaliseCap(w, c.Cap, isFinal, exposed)
		if err != nil {
			return slotResult{}, err
		}

		if CapRemovable(remainder, addr) {
			return slotResult{done: true, cleanup: cleanup}, nil
		}

		s.Set(addr, cte.CTE{Cap: remainder, MDB: c.MDB})

		if !exposed && remainder.ZombiePtr() == uint64(addr) {
			return slotResult{done: false}, nil
		}

		if err := reduceZombie(s, addr, w, exposed, pe); err != nil {
			return slotResult{}, err
		}
		if err := pe.Point(); err != nil {
			return slotResult{}, err
		}
	}
}

// emptySlot implements empty_slot(slot, cleanup): unlink the slot's MDB
// neighbours (propagating first_badged to whichever successor inherits
// the badge run), write Null, and dispatch the deferred cleanup. A slot
// that already holds Null is left as it is and fires no cleanup.
func emptySlot(s cte.Store, addr cte.Addr, cleanup CleanupInfo, w World) {
	c := s.Get(addr)
	if c.Cap.IsNull() {
		return
	}

	if c.MDB.Prev != cte.NoAddr {
		prev := s.Get(c.MDB.Prev)
		prev.MDB.Next = c.MDB.Next
		s.Set(c.MDB.Prev, prev)
	}
	if c.MDB.Next != cte.NoAddr {
		next := s.Get(c.MDB.Next)
		next.MDB.Prev = c.MDB.Prev
		if c.MDB.FirstBadged {
			next.MDB.FirstBadged = true
		}
		s.Set(c.MDB.Next, next)
	}

	s.Set(addr, cte.CTE{MDB: mdb.Node{Prev: cte.NoAddr, Next: cte.NoAddr}})
	w.PostCapDeletion(cleanup)
}

// Delete implements cte_delete(slot, exposed): finalise the slot, and
// empty it whenever finalise_slot succeeded or the caller is an exposed
// (top-level, user-visible) deletion. An unexposed, not-yet-removable
// Zombie is left in place for a later call to keep reducing.
func Delete(s cte.Store, addr cte.Addr, exposed bool, w World, pe *Preemption) (CleanupInfo, error) {
	outcome, err := finaliseSlot(s, addr, w, exposed, pe)
	if err != nil {
		return CleanupInfo{}, err
	}

	if outcome.done || exposed {
		emptySlot(s, addr, outcome.cleanup, w)
		return outcome.cleanup, nil
	}
	return CleanupInfo{}, nil
}

// reduceZombie implements reduce_zombie(slot, immediate): shrink the
// Zombie one object-slot at a time (immediate), or push it one level
// outward via a swap so a later call can make progress (!immediate).
//
// Zombie-covered slots are kernel-internal and never appear in the
// user-visible derivation tree, so unlike cte.Swap/cte.Move the value
// exchange below does not attempt to rewrite external MDB neighbours
// across the two slot tables involved: there is nothing pointing at a
// Zombie-owned slot except the reduction itself.
func reduceZombie(s cte.Store, addr cte.Addr, w World, immediate bool, pe *Preemption) error {
	c := s.Get(addr)
	z := c.Cap
	if z.Kind() != capword.Zombie {
		return kerr.NewKernelBug("reduce_zombie: slot %v does not hold a Zombie", addr)
	}

	target, ok := zombieStore(w, z)
	if !ok {
		return kerr.NewKernelBug("reduce_zombie: unknown zombie target %#x", z.ZombiePtr())
	}

	if immediate {
		endAddr := cte.Addr(z.ZombieLastSlot())
		if _, err := Delete(target, endAddr, true, w, pe); err != nil {
			return err
		}

		// The recursive delete above may have mutated addr itself (a
		// self-referential CNode/TCB), in which case its own reduction
		// already accounted for this slot and we must not double-count.
		cur := s.Get(addr)
		if cur.Cap.Kind() == capword.Zombie &&
			capword.SameObjectAs(cur.Cap, z) &&
			cur.Cap.ZombieNumber() == z.ZombieNumber() &&
			z.ZombieNumber() > 0 {
			s.Set(addr, cte.CTE{Cap: cur.Cap.WithZombieNumber(z.ZombieNumber() - 1), MDB: cur.MDB})
		}
		return nil
	}

	interiorAddr := cte.Addr(z.ZombiePtr())
	interior := target.Get(interiorAddr)
	target.Set(interiorAddr, c)
	s.Set(addr, interior)
	return nil
}

// Revoke implements cte_revoke(slot): delete every descendant in the MDB
// derivation list while it remains a child of slot, checking
// preemption_point() between deletions.
func Revoke(s cte.Store, addr cte.Addr, w World, pe *Preemption) error {
	for {
		c := s.Get(addr)
		next := c.MDB.Next
		if next == cte.NoAddr || !cte.IsParentOf(s, addr, next) {
			return nil
		}
		if _, err := Delete(s, next, true, w, pe); err != nil {
			return err
		}
		if err := pe.Point(); err != nil {
			return err
		}
	}
}
