// Package zombie implements the Finalise/Delete/Revoke protocol: turning
// a capability into the side effects its deletion requires, and, when
// the underlying object can't be torn down in one step because it still
// owns other capabilities (a CNode, a thread's cspace), a transient
// Zombie placeholder that a follow-up delete can keep chipping away at.
//
// Grounded on pidmonitor/monitor.go's poll loop: drain whatever is ready
// this pass, remove entries that are fully handled, and leave the rest for
// the next pass. cte_delete's finalise loop has the same shape, with
// preemption_point() standing in for pidMonitor's poll-period sleep as the
// point where the loop may yield control back to its caller.
package zombie

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/kerr"
)

// CleanupKind distinguishes the deferred side effects finalise_cap hands
// back to its caller for dispatch after the slot is actually emptied.
type CleanupKind int

const (
	CleanupNone CleanupKind = iota
	CleanupThread
	CleanupIRQ
)

// CleanupInfo is the cleanup_info finalise_cap threads out and into
// post_cap_deletion, once the capability's slot has been made Null.
type CleanupInfo struct {
	Kind CleanupKind
	TCB  uint64
	IRQ  uint16
}

// World is everything the finalise engine needs from the rest of the
// kernel: where an object's own slot table lives, and the object-kind
// side effects (IPC queues, VSpace mappings, IRQ state) that finalise_cap
// triggers. Component M (package external) is expected to implement this.
type World interface {
	// CNodeStore returns the slot table backing the CNode object at ptr,
	// for recursing into a CNode's contents during Zombie reduction.
	CNodeStore(ptr uint64) (cte.Store, bool)

	// TCBStore returns a thread's fixed cspace slot table.
	TCBStore(tcb uint64) (cte.Store, bool)

	CancelAllOnEndpoint(ptr uint64)
	CancelSignalAndUnbind(ptr uint64)
	SuspendThread(tcb uint64)
	UnbindThreadNotification(tcb uint64)
	UnmapFrame(cap capword.Cap)
	UnmapPageTable(cap capword.Cap)
	ReleaseIRQ(irq uint16)

	// PostCapDeletion dispatches the CleanupInfo empty_slot collected once
	// a slot has actually gone Null.
	PostCapDeletion(cleanup CleanupInfo)
}

// tcbCNodeSlots is the fixed number of cspace slots every TCB carries
// (cspace root, vspace root, ipc buffer frame, reply slot), mirrored here
// as a constant rather than in kconfig since it is an ABI fact, not a
// boot-time tunable.
const tcbCNodeSlots = 4

// FinaliseCap implements finalise_cap(cap, is_final, immediate): the
// per-kind table of what tearing a capability down means, and what (if
// anything) of the underlying object survives as a Zombie.
func FinaliseCap(w World, cap capword.Cap, isFinal, immediate bool) (capword.Cap, CleanupInfo, error) {
	switch cap.Kind() {
	case capword.Null:
		return cap, CleanupInfo{}, nil

	case capword.Endpoint:
		if isFinal {
			w.CancelAllOnEndpoint(cap.EndpointPtr())
		}
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.Notification:
		if isFinal {
			w.CancelSignalAndUnbind(cap.NotificationPtr())
		}
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.Reply:
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.CNode:
		if isFinal && !immediate {
			radix := cap.CNodeRadixBits()
			z := capword.NewZombie(cap.CNodePtr(), capword.ZombieCNode, uint64(1)<<radix)
			return z, CleanupInfo{}, nil
		}
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.Thread:
		if isFinal {
			w.SuspendThread(cap.ThreadTCB())
			w.UnbindThreadNotification(cap.ThreadTCB())
			z := capword.NewZombie(cap.ThreadTCB(), capword.ZombieTCB, tcbCNodeSlots)
			return z, CleanupInfo{Kind: CleanupThread, TCB: cap.ThreadTCB()}, nil
		}
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.Frame:
		w.UnmapFrame(cap)
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.PageTable:
		w.UnmapPageTable(cap)
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.Untyped, capword.IrqControl, capword.Domain, capword.AsidControl:
		return capword.NullCap(), CleanupInfo{}, nil

	case capword.IrqHandler:
		w.ReleaseIRQ(cap.Irq())
		return capword.NullCap(), CleanupInfo{Kind: CleanupIRQ, IRQ: cap.Irq()}, nil

	case capword.Zombie:
		// Already mid-deletion: finalise_cap is a no-op on a Zombie, which
		// is what makes the whole protocol re-entrant-safe.
		return cap, CleanupInfo{}, nil

	case capword.AsidPool:
		return capword.NullCap(), CleanupInfo{}, nil

	default:
		return capword.NullCap(), CleanupInfo{}, kerr.NewKernelBug("finalise_cap: unhandled kind %v", cap.Kind())
	}
}

// CapRemovable implements cap_removable(cap, slot): true once there is
// nothing left for reduce_zombie to chip away at.
func CapRemovable(cap capword.Cap, addr cte.Addr) bool {
	if cap.IsNull() {
		return true
	}
	if cap.Kind() != capword.Zombie {
		return false
	}
	if cap.ZombieNumber() == 0 {
		return true
	}
	return cap.ZombieNumber() == 1 && cap.ZombiePtr() == uint64(addr)
}

func zombieStore(w World, z capword.Cap) (cte.Store, bool) {
	switch z.ZombieType() {
	case capword.ZombieCNode:
		return w.CNodeStore(z.ZombiePtr())
	case capword.ZombieTCB:
		return w.TCBStore(z.ZombiePtr())
	}
	return nil, false
}
