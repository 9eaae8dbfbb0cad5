package boot

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/kerr"
	"github.com/nestybox/sel4-capcore/mdb"
)

// CapSlot names a well-known initial capability slot index in the root
// CNode.
type CapSlot int

const (
	CapInitThreadCNode CapSlot = iota + 1
	CapInitThreadVspace
	CapInitThreadIPCBuffer
	CapInitThreadTCB
	CapInitThreadASIDPool
	CapASIDControl
	CapIRQControl
	CapDomain
	CapBootInfoFrame
	NumInitialCaps
)

// ObjectSizes bits-per-object the allocator needs to carve
// CalculateRootServerSize from, mirroring calculate_rootserver_size's
// explicit per-object BIT!() sum (kept as named fields rather than a
// single opaque total so a deployment's page/TCB/CNode size choices are
// visible at one call site).
type ObjectSizes struct {
	CNodeSizeBits     uint // radix bits + slot-size bits
	TCBSizeBits       uint
	PageSizeBits      uint
	BootInfoSizeBits  uint
	ASIDPoolSizeBits  uint
	VSpaceSizeBits    uint
	ExtraBISizeBits   uint // 0 if no extra boot info
	PageTableSizeBits uint
	NumPagingObjects  uint64
}

// TotalSize sums every rootserver object's size, matching
// calculate_rootserver_size.
func (o ObjectSizes) TotalSize() uint64 {
	size := bit(o.CNodeSizeBits)
	size += bit(o.TCBSizeBits)
	size += bit(o.PageSizeBits)
	size += bit(o.BootInfoSizeBits)
	size += bit(o.ASIDPoolSizeBits)
	if o.ExtraBISizeBits > 0 {
		size += bit(o.ExtraBISizeBits)
	}
	size += bit(o.VSpaceSizeBits)
	size += o.NumPagingObjects * bit(o.PageTableSizeBits)
	return size
}

// AlignBits is rootserver_max_size_bits: the carved region's alignment is
// the widest of the CNode, VSpace and extra-boot-info sizes.
func (o ObjectSizes) AlignBits() uint {
	max := o.CNodeSizeBits
	if o.VSpaceSizeBits > max {
		max = o.VSpaceSizeBits
	}
	if o.ExtraBISizeBits > max {
		max = o.ExtraBISizeBits
	}
	return max
}

// Objects records the bump-allocated offset of each root-server object,
// mirroring the original's static `rootserver` struct.
type Objects struct {
	CNode     uint64
	VSpace    uint64
	ASIDPool  uint64
	IPCBuf    uint64
	BootInfo  uint64
	ExtraBI   uint64
	TCB       uint64
	PagingLow uint64
}

// Allocator bump-allocates root-server objects out of a single carved
// Region, implementing alloc_rootserver_obj's natural-alignment
// assertion.
type Allocator struct {
	mem Region
	obj Objects
}

// NewAllocator wraps a carved region for bump allocation.
func NewAllocator(mem Region) *Allocator {
	return &Allocator{mem: mem}
}

// allocObj implements alloc_rootserver_obj(size_bits, n): returns the
// region's current bump pointer, asserting it is already aligned to the
// object's natural size, then advances by n objects. A misaligned bump
// pointer or running past the carved region's end is a kernel invariant
// violation (the carve step in CarveRootServerRegion is responsible for
// getting the starting alignment right), surfaced here as an error rather
// than a panic, though callers of this package are expected to treat it
// as fatal exactly the way a real kernel bug is.
func (a *Allocator) allocObj(sizeBits uint, n uint64) (uint64, error) {
	allocated := a.mem.Start
	if allocated%bit(sizeBits) != 0 {
		return 0, kerr.NewKernelBug("boot: rootserver bump pointer %#x misaligned for size_bits=%d", allocated, sizeBits)
	}
	a.mem.Start += n * bit(sizeBits)
	if a.mem.Start > a.mem.End {
		return 0, kerr.NewKernelBug("boot: rootserver region exhausted")
	}
	return allocated, nil
}

// CreateRootServerObjects bump-allocates every root-server object in the
// same order as create_rootserver_objects, recording each offset in the
// returned Objects.
func (a *Allocator) CreateRootServerObjects(sizes ObjectSizes) (Objects, error) {
	var o Objects
	var err error

	if sizes.ExtraBISizeBits > 0 {
		if o.ExtraBI, err = a.allocObj(sizes.ExtraBISizeBits, 1); err != nil {
			return o, err
		}
	}
	if o.CNode, err = a.allocObj(sizes.CNodeSizeBits, 1); err != nil {
		return o, err
	}
	if o.VSpace, err = a.allocObj(sizes.VSpaceSizeBits, 1); err != nil {
		return o, err
	}
	if o.ASIDPool, err = a.allocObj(sizes.ASIDPoolSizeBits, 1); err != nil {
		return o, err
	}
	if o.IPCBuf, err = a.allocObj(sizes.PageSizeBits, 1); err != nil {
		return o, err
	}
	if o.BootInfo, err = a.allocObj(sizes.BootInfoSizeBits, 1); err != nil {
		return o, err
	}
	if sizes.NumPagingObjects > 0 {
		if o.PagingLow, err = a.allocObj(sizes.PageTableSizeBits, sizes.NumPagingObjects); err != nil {
			return o, err
		}
	}
	if o.TCB, err = a.allocObj(sizes.TCBSizeBits, 1); err != nil {
		return o, err
	}
	if a.mem.Start != a.mem.End {
		return o, kerr.NewKernelBug("boot: rootserver region left %d bytes unused after allocating every object", a.mem.End-a.mem.Start)
	}

	a.obj = o
	return o, nil
}

// PopulateInitialCaps writes the well-known initial capabilities into
// root at their CapSlot addresses (1..NumInitialCaps-1; slot 0 is not
// written). asidBase comes from the caller's ASID assignment; wordBits and
// domain are accepted but not used. Each slot starts as its own one-element derivation list
// (Prev/Next both NoAddr), matching an empty CTE everywhere else in the
// tree.
func PopulateInitialCaps(root cte.MapStore, o Objects, wordBits uint8, cnodeRadixBits uint8, asidBase uint32, domain uint8) {
	set := func(slot CapSlot, cap capword.Cap) {
		root.Set(cte.Addr(slot), cte.CTE{Cap: cap, MDB: mdb.Node{Prev: mdb.NoAddr, Next: mdb.NoAddr}})
	}

	set(CapInitThreadCNode, capword.NewCNode(o.CNode, cnodeRadixBits, 0, 0))
	set(CapInitThreadVspace, capword.NewPageTable(o.VSpace))
	set(CapInitThreadIPCBuffer, capword.NewFrame(o.IPCBuf, 12, 0, asidBase, 0, false))
	set(CapInitThreadTCB, capword.NewThread(o.TCB))
	set(CapInitThreadASIDPool, capword.NewAsidPool(asidBase, o.ASIDPool))
	set(CapASIDControl, capword.NewAsidControl())
	set(CapIRQControl, capword.NewIrqControl())
	set(CapDomain, capword.NewDomain())
	set(CapBootInfoFrame, capword.NewFrame(o.BootInfo, 12, 0, 0, 0, false))
}
