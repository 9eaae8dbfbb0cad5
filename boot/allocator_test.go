package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/klog"
)

// allocObj's exhaustion/misalignment checks raise a KernelBug, which logs
// through klog's halt hook; disarm it for this binary.
func init() {
	klog.SetHaltFunc(func(args ...interface{}) {})
}

func testSizes() ObjectSizes {
	return ObjectSizes{
		CNodeSizeBits:     12, // 4096
		TCBSizeBits:       10, // 1024
		PageSizeBits:      12,
		BootInfoSizeBits:  12,
		ASIDPoolSizeBits:  12,
		VSpaceSizeBits:    12,
		PageTableSizeBits: 12,
		NumPagingObjects:  2,
	}
}

func TestObjectSizesTotalAndAlign(t *testing.T) {
	sizes := testSizes()
	assert.Equal(t, uint(12), sizes.AlignBits())

	want := bit(12) + bit(10) + bit(12) + bit(12) + bit(12) + bit(12) + 2*bit(12)
	assert.Equal(t, want, sizes.TotalSize())
}

func TestCreateRootServerObjectsExactlyFillsRegion(t *testing.T) {
	sizes := testSizes()
	region := Region{Start: 0, End: sizes.TotalSize()}
	a := NewAllocator(region)

	objs, err := a.CreateRootServerObjects(sizes)
	require.NoError(t, err)

	// every offset must be naturally aligned and within the region.
	assert.True(t, objs.CNode%bit(sizes.CNodeSizeBits) == 0)
	assert.True(t, objs.TCB%bit(sizes.TCBSizeBits) == 0)
	assert.True(t, objs.PagingLow%bit(sizes.PageTableSizeBits) == 0)
}

func TestCreateRootServerObjectsFailsWhenRegionTooSmall(t *testing.T) {
	sizes := testSizes()
	region := Region{Start: 0, End: sizes.TotalSize() - 1}
	a := NewAllocator(region)

	_, err := a.CreateRootServerObjects(sizes)
	assert.Error(t, err)
}

func TestAllocObjRejectsMisalignedBumpPointer(t *testing.T) {
	a := NewAllocator(Region{Start: 1, End: 0x10000})
	_, err := a.allocObj(12, 1)
	assert.Error(t, err)
}

func TestPopulateInitialCapsWritesEveryWellKnownSlot(t *testing.T) {
	root := cte.MapStore{}
	objs := Objects{CNode: 0x1000, VSpace: 0x2000, ASIDPool: 0x3000, IPCBuf: 0x4000, BootInfo: 0x5000, TCB: 0x6000}

	PopulateInitialCaps(root, objs, 64, 12, 1, 0)

	assert.Equal(t, capword.CNode, root.Get(cte.Addr(CapInitThreadCNode)).Cap.Kind())
	assert.Equal(t, capword.PageTable, root.Get(cte.Addr(CapInitThreadVspace)).Cap.Kind())
	assert.Equal(t, capword.Thread, root.Get(cte.Addr(CapInitThreadTCB)).Cap.Kind())
	assert.Equal(t, capword.AsidPool, root.Get(cte.Addr(CapInitThreadASIDPool)).Cap.Kind())
	assert.Equal(t, capword.AsidControl, root.Get(cte.Addr(CapASIDControl)).Cap.Kind())
	assert.Equal(t, capword.IrqControl, root.Get(cte.Addr(CapIRQControl)).Cap.Kind())
	assert.Equal(t, capword.Domain, root.Get(cte.Addr(CapDomain)).Cap.Kind())
	assert.Equal(t, capword.Frame, root.Get(cte.Addr(CapBootInfoFrame)).Cap.Kind())
}
