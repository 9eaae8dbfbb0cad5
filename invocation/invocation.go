// Package invocation implements the CNode invocation decoder: the nine
// labelled operations a thread drives through a CNode capability, each
// resolving its slot(s) and committing through exactly one of
// cte.Insert/Move/Swap or zombie.Delete/Revoke.
//
// Grounded on containerdUtils/dockerUtils: a small adapter package, one
// exported function per external operation, that resolves just enough
// state up front and then delegates to a narrow lower-level call, the
// same shape as GetDataRoot() reading a config path and handing the
// result to its caller, rather than folding everything into one large
// dispatch function.
package invocation

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cspace"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/kerr"
	"github.com/nestybox/sel4-capcore/rights"
	"github.com/nestybox/sel4-capcore/zombie"
)

// Label names the nine invocation labels.
type Label int

const (
	Revoke Label = iota
	Delete
	Copy
	Mint
	Move
	Mutate
	Rotate
	SaveCaller
	CancelBadgedSends
)

func (l Label) String() string {
	switch l {
	case Revoke:
		return "Revoke"
	case Delete:
		return "Delete"
	case Copy:
		return "Copy"
	case Mint:
		return "Mint"
	case Move:
		return "Move"
	case Mutate:
		return "Mutate"
	case Rotate:
		return "Rotate"
	case SaveCaller:
		return "SaveCaller"
	case CancelBadgedSends:
		return "CancelBadgedSends"
	}
	return "unknown"
}

// Thread is the minimal view of the invoking thread an invocation needs:
// enough to resolve its own CSpace and to force it into Restart state
// before committing, so a restart replays the syscall from the user PC
// rather than re-running a half-committed one.
type Thread interface {
	CSpaceRootCap() capword.Cap
	WordBits() uint8
	SetRestart()

	// CallerSlot resolves the thread's own Caller slot, used by
	// SaveCaller to relocate the reply cap left there by an IPC Call.
	CallerSlot() (cspace.SlotRef, error)
}

// Target names a capability address relative to some root: the triple
// every invocation's dest/src/pivot argument decodes into.
type Target struct {
	Root  capword.Cap
	Index uint64
	Depth uint8
}

func lookup(os cspace.ObjectSpace, isSource bool, t Target, wordBits uint8) (cspace.SlotRef, error) {
	return cspace.LookupSlotForCNodeOp(os, isSource, t.Root, t.Index, t.Depth, wordBits)
}

// ensureEmpty implements the ensure_empty_slot check on destination
// slots that must not already hold a capability.
func ensureEmpty(slot cspace.SlotRef) error {
	if !slot.Get().IsNull() {
		return kerr.NewSyscallError(kerr.DeleteFirst)
	}
	return nil
}

// applyMask applies mask_cap_rights to the kinds that carry a rights
// set; every other kind passes through unchanged.
func applyMask(c capword.Cap, requested rights.Set) capword.Cap {
	switch c.Kind() {
	case capword.Endpoint:
		return c.WithRights(rights.Mask(requested, c.EndpointRights()))
	case capword.Notification:
		return c.WithRights(rights.Mask(requested, c.NotificationRights()))
	case capword.Reply:
		return c.WithRights(rights.Mask(requested, c.ReplyRights()))
	case capword.Frame:
		return c.WithRights(rights.Mask(requested, c.FrameVMRights()))
	default:
		return c
	}
}

// deriveMasked resolves src, masks its rights, optionally runs
// update_cap_data (Mint passes updateWord non-nil), and derives: the
// shared prefix of Copy and Mint's "derive after mask [and
// update_cap_data]" step.
func deriveMasked(srcSlot cspace.SlotRef, requested rights.Set, updateWord *uint64, preserve bool, wordBits uint8) (capword.Cap, error) {
	srcCap := srcSlot.Get()
	if srcCap.IsNull() {
		return capword.Cap{}, kerr.NewFailedLookup(true, kerr.NewInvalidRoot())
	}

	masked := applyMask(srcCap, requested)
	if updateWord != nil {
		masked = capword.UpdateCapData(preserve, *updateWord, masked, wordBits)
	}

	derived, err := cte.DeriveCap(srcSlot.Store, srcSlot.Addr, masked)
	if err != nil {
		return capword.Cap{}, err
	}
	if derived.IsNull() {
		return capword.Cap{}, kerr.NewSyscallError(kerr.IllegalOperation)
	}
	return derived, nil
}

// InvokeRevoke implements the Revoke label: revoke every derivative of
// dest.
func InvokeRevoke(os cspace.ObjectSpace, th Thread, w zombie.World, pe *zombie.Preemption, dest Target) error {
	th.SetRestart()
	slot, err := lookup(os, false, dest, th.WordBits())
	if err != nil {
		return err
	}
	return zombie.Revoke(slot.Store, slot.Addr, w, pe)
}

// InvokeDelete implements the Delete label: delete dest (an exposed,
// user-facing deletion).
func InvokeDelete(os cspace.ObjectSpace, th Thread, w zombie.World, pe *zombie.Preemption, dest Target) error {
	th.SetRestart()
	slot, err := lookup(os, false, dest, th.WordBits())
	if err != nil {
		return err
	}
	_, err = zombie.Delete(slot.Store, slot.Addr, true, w, pe)
	return err
}

// InvokeCopy implements the Copy label: derive src after masking its
// rights down to requested, and insert the result into dest.
func InvokeCopy(os cspace.ObjectSpace, th Thread, dest, src Target, requested rights.Set) error {
	th.SetRestart()
	wordBits := th.WordBits()

	destSlot, err := lookup(os, false, dest, wordBits)
	if err != nil {
		return err
	}
	if err := ensureEmpty(destSlot); err != nil {
		return err
	}

	srcSlot, err := lookup(os, true, src, wordBits)
	if err != nil {
		return err
	}

	derived, err := deriveMasked(srcSlot, requested, nil, false, wordBits)
	if err != nil {
		return err
	}

	return cte.Insert(destSlot.Store, derived, srcSlot.Addr, destSlot.Addr)
}

// InvokeMint implements the Mint label: like Copy, but also runs
// update_cap_data(preserve=false, data) before deriving, setting a fresh
// badge/guard on the copy.
func InvokeMint(os cspace.ObjectSpace, th Thread, dest, src Target, requested rights.Set, data uint64) error {
	th.SetRestart()
	wordBits := th.WordBits()

	destSlot, err := lookup(os, false, dest, wordBits)
	if err != nil {
		return err
	}
	if err := ensureEmpty(destSlot); err != nil {
		return err
	}

	srcSlot, err := lookup(os, true, src, wordBits)
	if err != nil {
		return err
	}

	derived, err := deriveMasked(srcSlot, requested, &data, false, wordBits)
	if err != nil {
		return err
	}

	return cte.Insert(destSlot.Store, derived, srcSlot.Addr, destSlot.Addr)
}

// InvokeMove implements the Move label: src_cap becomes dest_cap and src
// becomes Null, preserving src's MDB position.
func InvokeMove(os cspace.ObjectSpace, th Thread, dest, src Target) error {
	th.SetRestart()
	wordBits := th.WordBits()

	destSlot, err := lookup(os, false, dest, wordBits)
	if err != nil {
		return err
	}
	if err := ensureEmpty(destSlot); err != nil {
		return err
	}

	srcSlot, err := lookup(os, true, src, wordBits)
	if err != nil {
		return err
	}
	if srcSlot.Get().IsNull() {
		return kerr.NewFailedLookup(true, kerr.NewInvalidRoot())
	}

	return moveBetween(srcSlot, destSlot)
}

// InvokeMutate implements the Mutate label: like Move, but the relocated
// cap also goes through update_cap_data(preserve=true, newdata), a
// re-badge/re-guard that refuses to stomp an already-badged endpoint.
func InvokeMutate(os cspace.ObjectSpace, th Thread, dest, src Target, newdata uint64) error {
	th.SetRestart()
	wordBits := th.WordBits()

	destSlot, err := lookup(os, false, dest, wordBits)
	if err != nil {
		return err
	}
	if err := ensureEmpty(destSlot); err != nil {
		return err
	}

	srcSlot, err := lookup(os, true, src, wordBits)
	if err != nil {
		return err
	}
	srcCap := srcSlot.Get()
	if srcCap.IsNull() {
		return kerr.NewFailedLookup(true, kerr.NewInvalidRoot())
	}

	mutated := capword.UpdateCapData(true, newdata, srcCap, wordBits)
	if mutated.IsNull() {
		return kerr.NewSyscallError(kerr.IllegalOperation)
	}

	if err := moveBetween(srcSlot, destSlot); err != nil {
		return err
	}
	// moveBetween already relocated src's original cap; overwrite with the
	// mutated copy now that it sits at destSlot.
	overwriteCap(destSlot, mutated)
	return nil
}

// overwriteCap replaces a slot's capability in place, leaving its MDB
// linkage untouched. Used after a Move/Swap has already relocated a CTE,
// to rewrite the cap value update_cap_data produced.
func overwriteCap(slot cspace.SlotRef, c capword.Cap) {
	e := slot.Store.Get(slot.Addr)
	e.Cap = c
	slot.Store.Set(slot.Addr, e)
}

// moveBetween relocates a CTE's (cap, mdb) pair from src to dest. Both
// slots are expected to resolve to the same backing Store in a
// single-address-space deployment (mdb.Addr already combines an object's
// base with its slot index, per package mdb's doc comment); cte.Move
// requires exactly that.
func moveBetween(src, dest cspace.SlotRef) error {
	return cte.Move(dest.Store, src.Addr, dest.Addr)
}

// InvokeRotate implements the Rotate label: a three-slot permutation used
// to relocate src into dest by routing it through an already-occupied
// pivot slot (so the move works even when plain Move's "dest must be
// empty" rule would otherwise force a degenerate case): dest (required
// empty) receives src's cap updated by src_data, src's own slot receives
// pivot's cap updated by pivot_data, and pivot ends up empty.
func InvokeRotate(os cspace.ObjectSpace, th Thread, dest, pivot, src Target, pivotData, srcData uint64) error {
	th.SetRestart()
	wordBits := th.WordBits()

	destSlot, err := lookup(os, false, dest, wordBits)
	if err != nil {
		return err
	}
	if err := ensureEmpty(destSlot); err != nil {
		return err
	}

	pivotSlot, err := lookup(os, true, pivot, wordBits)
	if err != nil {
		return err
	}
	srcSlot, err := lookup(os, true, src, wordBits)
	if err != nil {
		return err
	}

	srcCap := srcSlot.Get()
	if srcCap.IsNull() {
		return kerr.NewFailedLookup(true, kerr.NewInvalidRoot())
	}
	pivotCap := pivotSlot.Get()
	if pivotCap.IsNull() {
		return kerr.NewFailedLookup(true, kerr.NewInvalidRoot())
	}

	newSrcCap := capword.UpdateCapData(false, srcData, srcCap, wordBits)
	if newSrcCap.IsNull() {
		return kerr.NewSyscallError(kerr.IllegalOperation)
	}
	newPivotCap := capword.UpdateCapData(false, pivotData, pivotCap, wordBits)
	if newPivotCap.IsNull() {
		return kerr.NewSyscallError(kerr.IllegalOperation)
	}

	if err := moveBetween(srcSlot, destSlot); err != nil {
		return err
	}
	overwriteCap(destSlot, newSrcCap)

	if err := moveBetween(pivotSlot, srcSlot); err != nil {
		return err
	}
	overwriteCap(srcSlot, newPivotCap)

	return nil
}

// InvokeSaveCaller implements the SaveCaller label: move the invoking
// thread's Caller slot into dest. A cap found there must be a non-master
// Reply; an empty Caller slot moves nothing and returns nil.
func InvokeSaveCaller(os cspace.ObjectSpace, th Thread, dest Target) error {
	th.SetRestart()
	wordBits := th.WordBits()

	destSlot, err := lookup(os, false, dest, wordBits)
	if err != nil {
		return err
	}
	if err := ensureEmpty(destSlot); err != nil {
		return err
	}

	callerSlot, err := th.CallerSlot()
	if err != nil {
		return err
	}
	callerCap := callerSlot.Get()
	if callerCap.IsNull() {
		return nil
	}
	if callerCap.Kind() != capword.Reply || callerCap.ReplyIsMaster() {
		return kerr.NewSyscallError(kerr.IllegalOperation)
	}

	return cte.Move(destSlot.Store, callerSlot.Addr, destSlot.Addr)
}

// InvokeCancelBadgedSends implements the CancelBadgedSends label: cancel
// all badged sends pending on an Endpoint cap with a non-zero badge.
type EndpointCanceller interface {
	CancelBadgedSends(epPtr, badge uint64)
}

func InvokeCancelBadgedSends(os cspace.ObjectSpace, th Thread, canceller EndpointCanceller, ep Target) error {
	th.SetRestart()
	slot, err := lookup(os, true, ep, th.WordBits())
	if err != nil {
		return err
	}
	epCap := slot.Get()
	if epCap.Kind() != capword.Endpoint {
		return kerr.NewSyscallError(kerr.IllegalOperation)
	}
	if epCap.Badge() == 0 {
		return kerr.NewSyscallError(kerr.IllegalOperation)
	}
	if !epCap.EndpointRights().Has(rights.AllowWrite) {
		return kerr.NewSyscallError(kerr.IllegalOperation)
	}
	canceller.CancelBadgedSends(epCap.EndpointPtr(), epCap.Badge())
	return nil
}
