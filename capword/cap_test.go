package capword

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nestybox/sel4-capcore/rights"
)

func TestNullCapIsNull(t *testing.T) {
	assert.True(t, NullCap().IsNull())
	assert.False(t, NewThread(1).IsNull())
}

func TestAccessorPanicsOnKindMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic calling a CNode accessor on a Thread cap")
		}
	}()
	NewThread(1).CNodePtr()
}

func TestBadgeAppliesToEndpointAndNotification(t *testing.T) {
	ep := NewEndpoint(0x10, 5, rights.NewSet(rights.AllowRead))
	assert.Equal(t, uint64(5), ep.Badge())

	rebadged := ep.WithBadge(9)
	assert.Equal(t, uint64(9), rebadged.Badge())
	assert.Equal(t, uint64(5), ep.Badge(), "WithBadge must not mutate the receiver")

	nf := NewNotification(0x20, 1, rights.Set(0))
	assert.Equal(t, uint64(1), nf.Badge())
}

func TestBadgePanicsOnNonBadgeableKind(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic")
		}
	}()
	NewThread(1).Badge()
}

func TestReplyCanGrantTracksConstructorArg(t *testing.T) {
	r := NewReply(0x30, false, true)
	assert.True(t, r.ReplyCanGrant())
	assert.False(t, r.ReplyIsMaster())

	master := NewReply(0x30, true, false)
	assert.True(t, master.ReplyIsMaster())
	assert.False(t, master.ReplyCanGrant())
}

func TestFrameMappingRoundTrip(t *testing.T) {
	f := NewFrame(0x1000, 12, rights.NewSet(rights.AllowRead), 0, 0, false)
	assert.False(t, f.FrameIsMapped())

	mapped := f.WithFrameMapping(7, 0x4000)
	assert.True(t, mapped.FrameIsMapped())
	assert.Equal(t, uint32(7), mapped.FrameASID())
	assert.Equal(t, uint64(0x4000), mapped.FrameMappedAddr())

	unmapped := mapped.WithFrameUnmapped()
	assert.False(t, unmapped.FrameIsMapped())
}

func TestZombieLastSlotAndNumber(t *testing.T) {
	z := NewZombie(0x9000, ZombieCNode, 3)
	assert.Equal(t, uint64(0x9002), z.ZombieLastSlot())

	shrunk := z.WithZombieNumber(1)
	assert.Equal(t, uint64(1), shrunk.ZombieNumber())
	assert.Equal(t, uint64(0x9000), shrunk.ZombieLastSlot())

	empty := z.WithZombieNumber(0)
	assert.Equal(t, uint64(0x9000), empty.ZombieLastSlot())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "CNode", CNode.String())
	assert.Equal(t, "unknown", Kind(255).String())
}
