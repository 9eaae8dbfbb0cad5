// Package capword implements the kernel's capability value: a tagged,
// kind-specific payload identifying a kernel object and the authority held
// over it.
//
// The source kernel this package is modeled on (see sysbox-libs/capability,
// which packs POSIX capability bits into fixed machine words) keeps a single
// tagged struct and exposes kind-specific accessors instead of a Go
// interface hierarchy, so that object-kind dispatch stays a plain switch
// rather than dynamic dispatch. We follow the same shape here: one Cap
// struct, one Kind tag, and field groups that are meaningful only for the
// matching kind.
package capword

import "github.com/nestybox/sel4-capcore/rights"

// Kind identifies the variant a Cap carries. The zero value is Null, the
// empty-slot sentinel.
type Kind uint8

const (
	Null Kind = iota
	Untyped
	Endpoint
	Notification
	Reply
	CNode
	Thread
	IrqControl
	IrqHandler
	Domain
	Frame
	PageTable
	AsidControl
	AsidPool
	Zombie
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "Null"
	case Untyped:
		return "Untyped"
	case Endpoint:
		return "Endpoint"
	case Notification:
		return "Notification"
	case Reply:
		return "Reply"
	case CNode:
		return "CNode"
	case Thread:
		return "Thread"
	case IrqControl:
		return "IrqControl"
	case IrqHandler:
		return "IrqHandler"
	case Domain:
		return "Domain"
	case Frame:
		return "Frame"
	case PageTable:
		return "PageTable"
	case AsidControl:
		return "AsidControl"
	case AsidPool:
		return "AsidPool"
	case Zombie:
		return "Zombie"
	}
	return "unknown"
}

// ZombieType distinguishes the two shapes a Zombie cap can take (see
// finaliseCap): a partially-deleted CNode (whose remaining slots still
// need to be drained) or a partially-deleted TCB.
type ZombieType uint8

const (
	ZombieCNode ZombieType = iota
	ZombieTCB
)

// Cap is the tagged capability value. Only the fields relevant to Kind are
// meaningful; accessors on the wrong kind panic (see must below) because a
// mismatched accessor call is a kernel bug, not a recoverable condition.
type Cap struct {
	kind Kind

	// Untyped
	ptr           uint64
	blockSizeBits uint8
	isDevice      bool
	freeIndex     uint64

	// Endpoint / Notification badge+rights; Reply tcb+master+grant.
	objPtr         uint64 // ep_ptr / nf_ptr / tcb_ptr / base_ptr, kind-dependent
	badge          uint64
	epRights       rights.Set
	replyIsMaster  bool

	// CNode
	radixBits uint8
	guardBits uint8
	guard     uint64

	// IrqHandler
	irq uint16

	// Frame / PageTable
	sizeBits   uint8
	vmRights   rights.Set
	asid       uint32
	mappedAddr uint64
	isMapped   bool

	// AsidPool
	asidBase uint32

	// Zombie
	zombieType ZombieType
	number     uint64
}

func must(c Cap, k Kind) {
	if c.kind != k {
		panic("capword: accessor for " + k.String() + " called on " + c.kind.String())
	}
}

// Kind reports the tag of the capability. Unlike the kind-specific
// accessors this is total: every Cap has a Kind.
func (c Cap) Kind() Kind { return c.kind }

func (c Cap) IsNull() bool { return c.kind == Null }

// --- Null ---

// NullCap returns the empty-slot sentinel capability.
func NullCap() Cap { return Cap{kind: Null} }

// --- Untyped ---

func NewUntyped(ptr uint64, blockSizeBits uint8, isDevice bool, freeIndex uint64) Cap {
	return Cap{kind: Untyped, ptr: ptr, blockSizeBits: blockSizeBits, isDevice: isDevice, freeIndex: freeIndex}
}

func (c Cap) UntypedPtr() uint64 { must(c, Untyped); return c.ptr }

func (c Cap) UntypedBlockSizeBits() uint8 { must(c, Untyped); return c.blockSizeBits }

func (c Cap) UntypedIsDevice() bool { must(c, Untyped); return c.isDevice }

func (c Cap) UntypedFreeIndex() uint64 { must(c, Untyped); return c.freeIndex }

// WithUntypedFreeIndex returns a copy with an updated bump-allocation
// cursor; Untyped caps are otherwise immutable value types.
func (c Cap) WithUntypedFreeIndex(idx uint64) Cap {
	must(c, Untyped)
	c.freeIndex = idx
	return c
}

// --- Endpoint ---

func NewEndpoint(epPtr uint64, badge uint64, r rights.Set) Cap {
	return Cap{kind: Endpoint, objPtr: epPtr, badge: badge, epRights: r}
}

func (c Cap) EndpointPtr() uint64 { must(c, Endpoint); return c.objPtr }

func (c Cap) Badge() uint64 {
	if c.kind != Endpoint && c.kind != Notification {
		panic("capword: Badge() called on " + c.kind.String())
	}
	return c.badge
}

func (c Cap) WithBadge(badge uint64) Cap {
	if c.kind != Endpoint && c.kind != Notification {
		panic("capword: WithBadge() called on " + c.kind.String())
	}
	c.badge = badge
	return c
}

func (c Cap) EndpointRights() rights.Set { must(c, Endpoint); return c.epRights }

func (c Cap) WithRights(r rights.Set) Cap {
	switch c.kind {
	case Endpoint, Notification:
		c.epRights = r
	case Reply:
		// CanGrant only, folded into epRights for storage simplicity.
		c.epRights = r
	case Frame:
		c.vmRights = r
	default:
		panic("capword: WithRights() called on " + c.kind.String())
	}
	return c
}

// --- Notification ---

func NewNotification(nfPtr uint64, badge uint64, r rights.Set) Cap {
	return Cap{kind: Notification, objPtr: nfPtr, badge: badge, epRights: r}
}

func (c Cap) NotificationPtr() uint64 { must(c, Notification); return c.objPtr }

func (c Cap) NotificationRights() rights.Set { must(c, Notification); return c.epRights }

// --- Reply ---

func NewReply(tcbPtr uint64, isMaster bool, canGrant bool) Cap {
	r := rights.Set(0)
	if canGrant {
		r = r.Add(rights.AllowGrant)
	}
	return Cap{kind: Reply, objPtr: tcbPtr, replyIsMaster: isMaster, epRights: r}
}

func (c Cap) ReplyTCB() uint64 { must(c, Reply); return c.objPtr }

func (c Cap) ReplyIsMaster() bool { must(c, Reply); return c.replyIsMaster }

func (c Cap) ReplyCanGrant() bool { must(c, Reply); return c.epRights.Has(rights.AllowGrant) }

// ReplyRights returns the rights folded into a Reply cap (just
// AllowGrant today), so callers that mask rights generically don't need a
// Reply-specific branch around ReplyCanGrant.
func (c Cap) ReplyRights() rights.Set { must(c, Reply); return c.epRights }

// --- CNode ---

func NewCNode(ptr uint64, radixBits, guardBits uint8, guard uint64) Cap {
	return Cap{kind: CNode, ptr: ptr, radixBits: radixBits, guardBits: guardBits, guard: guard}
}

func (c Cap) CNodePtr() uint64 { must(c, CNode); return c.ptr }

func (c Cap) CNodeRadixBits() uint8 { must(c, CNode); return c.radixBits }

func (c Cap) CNodeGuardBits() uint8 { must(c, CNode); return c.guardBits }

func (c Cap) CNodeGuard() uint64 { must(c, CNode); return c.guard }

// --- Thread ---

func NewThread(tcbPtr uint64) Cap { return Cap{kind: Thread, objPtr: tcbPtr} }

func (c Cap) ThreadTCB() uint64 { must(c, Thread); return c.objPtr }

// --- IrqControl / IrqHandler ---

func NewIrqControl() Cap { return Cap{kind: IrqControl} }

func NewIrqHandler(irq uint16) Cap { return Cap{kind: IrqHandler, irq: irq} }

func (c Cap) Irq() uint16 { must(c, IrqHandler); return c.irq }

// --- Domain ---

func NewDomain() Cap { return Cap{kind: Domain} }

// --- Frame ---

func NewFrame(basePtr uint64, sizeBits uint8, vmRights rights.Set, asid uint32, mappedAddr uint64, isDevice bool) Cap {
	return Cap{
		kind: Frame, ptr: basePtr, sizeBits: sizeBits, vmRights: vmRights,
		asid: asid, mappedAddr: mappedAddr, isDevice: isDevice,
	}
}

func (c Cap) FrameBasePtr() uint64 { must(c, Frame); return c.ptr }

func (c Cap) FrameSizeBits() uint8 { must(c, Frame); return c.sizeBits }

func (c Cap) FrameVMRights() rights.Set { must(c, Frame); return c.vmRights }

func (c Cap) FrameASID() uint32 { must(c, Frame); return c.asid }

func (c Cap) FrameMappedAddr() uint64 { must(c, Frame); return c.mappedAddr }

func (c Cap) FrameIsDevice() bool { must(c, Frame); return c.isDevice }

func (c Cap) FrameIsMapped() bool { must(c, Frame); return c.asid != 0 }

// WithFrameMapping returns a copy of the Frame cap mapped at asid/vaddr.
func (c Cap) WithFrameMapping(asid uint32, vaddr uint64) Cap {
	must(c, Frame)
	c.asid = asid
	c.mappedAddr = vaddr
	return c
}

// WithFrameUnmapped returns a copy of the Frame cap with mapping state cleared.
func (c Cap) WithFrameUnmapped() Cap {
	must(c, Frame)
	c.asid = 0
	c.mappedAddr = 0
	return c
}

// --- PageTable ---

func NewPageTable(basePtr uint64) Cap { return Cap{kind: PageTable, ptr: basePtr} }

func (c Cap) PageTableBasePtr() uint64 { must(c, PageTable); return c.ptr }

func (c Cap) PageTableIsMapped() bool { must(c, PageTable); return c.isMapped }

func (c Cap) PageTableMappedASID() uint32 { must(c, PageTable); return c.asid }

func (c Cap) PageTableMappedAddr() uint64 { must(c, PageTable); return c.mappedAddr }

func (c Cap) WithPageTableMapping(asid uint32, vaddr uint64) Cap {
	must(c, PageTable)
	c.isMapped = true
	c.asid = asid
	c.mappedAddr = vaddr
	return c
}

func (c Cap) WithPageTableUnmapped() Cap {
	must(c, PageTable)
	c.isMapped = false
	c.asid = 0
	c.mappedAddr = 0
	return c
}

// --- AsidControl / AsidPool ---

func NewAsidControl() Cap { return Cap{kind: AsidControl} }

func NewAsidPool(asidBase uint32, poolPtr uint64) Cap {
	return Cap{kind: AsidPool, asidBase: asidBase, ptr: poolPtr}
}

func (c Cap) AsidPoolBase() uint32 { must(c, AsidPool); return c.asidBase }

func (c Cap) AsidPoolPtr() uint64 { must(c, AsidPool); return c.ptr }

// --- Zombie ---

// NewZombie builds a transient deletion-in-progress capability. Zombie caps
// are never user-visible: they only ever live in a CTE mid-cte_delete.
func NewZombie(ptr uint64, zt ZombieType, number uint64) Cap {
	return Cap{kind: Zombie, ptr: ptr, zombieType: zt, number: number}
}

func (c Cap) ZombiePtr() uint64 { must(c, Zombie); return c.ptr }

func (c Cap) ZombieType() ZombieType { must(c, Zombie); return c.zombieType }

func (c Cap) ZombieNumber() uint64 { must(c, Zombie); return c.number }

// WithZombieNumber returns a copy with the remaining-slot count updated, as
// reduce_zombie shrinks it on each recursive step.
func (c Cap) WithZombieNumber(n uint64) Cap {
	must(c, Zombie)
	c.number = n
	return c
}

// ZombieLastSlot returns the pointer of the last CTE this Zombie still
// covers (ptr + number - 1 in the capability address space).
func (c Cap) ZombieLastSlot() uint64 {
	must(c, Zombie)
	if c.number == 0 {
		return c.ptr
	}
	return c.ptr + c.number - 1
}
