package external

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sel4-capcore/capword"
)

func TestCopyGlobalMappingsIsIdempotentAndTracked(t *testing.T) {
	v := NewOffsetVSpace(0x1000, 0x2000)
	assert.False(t, v.Seeded(0x9000))

	v.CopyGlobalMappings(0x9000)
	v.CopyGlobalMappings(0x9000)

	assert.True(t, v.Seeded(0x9000))
	assert.False(t, v.Seeded(0xA000))
}

func TestMapITFrameCapRejectsNonFrame(t *testing.T) {
	v := NewOffsetVSpace(0, 0)
	pd := capword.NewPageTable(1)
	notFrame := capword.NewThread(2)

	err := v.MapITFrameCap(pd, notFrame)
	require.Error(t, err)

	frame := capword.NewFrame(3, 12, 0, 1, 0, false)
	require.NoError(t, v.MapITFrameCap(pd, frame))
}

func TestCreateITPTCapReturnsPageTableAtPtr(t *testing.T) {
	v := NewOffsetVSpace(0, 0)
	pd := capword.NewPageTable(1)

	got := v.CreateITPTCap(pd, 0x4000, 0x1000, 7)
	assert.Equal(t, capword.PageTable, got.Kind())
}

func TestPPtrToPaddrAppliesOffset(t *testing.T) {
	v := NewOffsetVSpace(0x1000, 0x2000)
	assert.Equal(t, uint64(0x9000), v.PPtrToPaddr(0xA000))
	assert.Equal(t, uint64(0x8000), v.KPPtrToPaddr(0xA000))
}

func TestSetVMRootRecordsCurrentRoot(t *testing.T) {
	v := NewOffsetVSpace(0, 0)
	require.NoError(t, v.SetVMRoot(0x5000))
	assert.Equal(t, uint64(0x5000), v.current)
}
