package boot

// SlotRegion is a half-open range of CNode slot indices, e.g. the user
// image frames or user image paging caps installed during boot.
type SlotRegion struct {
	Start uint64
	End   uint64
}

// UntypedDesc describes one free untyped region handed to the root
// server, matching the wire layout's field names:
// {paddr, size_bits, is_device, padding[6]}.
type UntypedDesc struct {
	Paddr    uint64
	SizeBits uint8
	IsDevice bool
}

// BootInfo is the physical frame layout populated once at the end of
// boot and handed to the root task read-only.
type BootInfo struct {
	NodeID          uint64
	NumNodes        uint64
	NumIOPTLevels   uint64
	IPCBufferVaddr  uint64
	EmptySlotRange  SlotRegion
	SharedFrames    SlotRegion
	UserImageFrames SlotRegion
	UserImagePaging SlotRegion
	IOSpaceCaps     SlotRegion
	ExtraBIPages    SlotRegion
	InitCNodeBits   uint8
	InitDomain      uint8
	UntypedSlotRange SlotRegion
	UntypedList     []UntypedDesc
}

// NewBootInfo populates the fixed fields of a BootInfo the way
// rust_populate_bi_frame does: everything variable-length (frame/paging
// slot regions, the untyped list) is filled in later as those steps of
// boot run.
func NewBootInfo(nodeID, numNodes uint64, ipcBufferVaddr uint64, initCNodeBits, initDomain uint8) BootInfo {
	return BootInfo{
		NodeID:         nodeID,
		NumNodes:       numNodes,
		IPCBufferVaddr: ipcBufferVaddr,
		InitCNodeBits:  initCNodeBits,
		InitDomain:     initDomain,
		EmptySlotRange: SlotRegion{Start: uint64(NumInitialCaps)},
	}
}
