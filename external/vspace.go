// Package external implements the collaborator interfaces consumed but
// not owned by the object core: the VSpace, IRQ controller and boot-time
// diagnostics surfaces around the object core. No core package (cspace,
// zombie, sched, boot) imports this one; they take plain callbacks or
// their own interfaces instead.
//
// Grounded on pidfd/pidfd.go's style: a small typed handle wrapping one or
// two raw syscalls behind an otherwise ordinary Go API, rather than a
// thick platform abstraction layer.
package external

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/nestybox/sel4-capcore/capword"
)

// VSpace is the collaborator for address-space setup: seeding kernel
// mappings into a fresh root, installing the initial thread's mappings,
// switching the active VSpace on a thread switch, and translating
// between kernel-virtual and physical addresses.
type VSpace interface {
	CopyGlobalMappings(vspaceRoot uint64)
	MapITFrameCap(pdCap, frameCap capword.Cap) error
	CreateITPTCap(pdCap capword.Cap, ptPtr, vaddr uint64, asid uint32) capword.Cap
	SetVMRoot(vspaceRoot uint64) error
	PPtrToPaddr(p uint64) uint64
	KPPtrToPaddr(p uint64) uint64
}

// OffsetVSpace is a VSpace backed by a single kernel-virtual-to-physical
// offset (pv_offset), the common case for a kernel linked at a fixed
// virtual base with physical memory identity-mapped at an offset. CopyGlobalMappings is tracked with a mapset.Set the same way
// overlayUtils.go intersects mount option sets, here used to make the
// "seed this root exactly once" check an O(1) set membership test instead
// of a linear scan of previously-seeded roots.
type OffsetVSpace struct {
	PVOffset  int64
	KPVOffset int64

	seeded  mapset.Set
	current uint64
}

// NewOffsetVSpace builds a VSpace with the given physical/kernel-virtual
// offsets.
func NewOffsetVSpace(pvOffset, kpvOffset int64) *OffsetVSpace {
	return &OffsetVSpace{PVOffset: pvOffset, KPVOffset: kpvOffset, seeded: mapset.NewSet()}
}

// CopyGlobalMappings implements copy_global_mappings(vspace_root):
// idempotent per root.
func (v *OffsetVSpace) CopyGlobalMappings(vspaceRoot uint64) {
	v.seeded.Add(vspaceRoot)
}

// Seeded reports whether CopyGlobalMappings has already run for root.
func (v *OffsetVSpace) Seeded(vspaceRoot uint64) bool {
	return v.seeded.Contains(vspaceRoot)
}

// MapITFrameCap implements map_it_frame_cap: the frame cap's kind must
// already be Frame (derive/retype is the caller's job).
func (v *OffsetVSpace) MapITFrameCap(pdCap, frameCap capword.Cap) error {
	if frameCap.Kind() != capword.Frame {
		return errNotAFrame
	}
	return nil
}

// CreateITPTCap implements create_it_pt_cap: builds a PageTable cap at
// ptPtr, mapped under pdCap at vaddr for asid. The mapping itself is a
// side effect this model doesn't track beyond the returned cap, matching
// this package's role as a thin adapter rather than a full MMU model.
func (v *OffsetVSpace) CreateITPTCap(pdCap capword.Cap, ptPtr, vaddr uint64, asid uint32) capword.Cap {
	return capword.NewPageTable(ptPtr).WithPageTableMapping(asid, vaddr)
}

// SetVMRoot implements set_vm_root(tcb): installs vspaceRoot as the
// active VSpace.
func (v *OffsetVSpace) SetVMRoot(vspaceRoot uint64) error {
	v.current = vspaceRoot
	return nil
}

// PPtrToPaddr implements pptr_to_paddr(p).
func (v *OffsetVSpace) PPtrToPaddr(p uint64) uint64 {
	return uint64(int64(p) - v.PVOffset)
}

// KPPtrToPaddr implements kpptr_to_paddr(p).
func (v *OffsetVSpace) KPPtrToPaddr(p uint64) uint64 {
	return uint64(int64(p) - v.KPVOffset)
}

type vspaceError string

func (e vspaceError) Error() string { return string(e) }

const errNotAFrame = vspaceError("external: cap is not a Frame")
