package zombie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/mdb"
	"github.com/nestybox/sel4-capcore/rights"
)

// fakeWorld is a recording World for tests: it logs every side-effect call
// instead of touching real IPC/VSpace/IRQ state, and serves CNode/TCB slot
// tables out of a plain map.
type fakeWorld struct {
	stores map[uint64]cte.Store

	cancelledEndpoints     []uint64
	cancelledNotifications []uint64
	suspendedThreads       []uint64
	unboundThreads         []uint64
	unmappedFrames         []capword.Cap
	unmappedPageTables     []capword.Cap
	releasedIRQs           []uint16
	cleanups               []CleanupInfo
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{stores: map[uint64]cte.Store{}}
}

func (w *fakeWorld) CNodeStore(ptr uint64) (cte.Store, bool) {
	s, ok := w.stores[ptr]
	return s, ok
}

func (w *fakeWorld) TCBStore(tcb uint64) (cte.Store, bool) {
	s, ok := w.stores[tcb]
	return s, ok
}

func (w *fakeWorld) CancelAllOnEndpoint(ptr uint64) {
	w.cancelledEndpoints = append(w.cancelledEndpoints, ptr)
}
func (w *fakeWorld) CancelSignalAndUnbind(ptr uint64) {
	w.cancelledNotifications = append(w.cancelledNotifications, ptr)
}
func (w *fakeWorld) SuspendThread(tcb uint64) { w.suspendedThreads = append(w.suspendedThreads, tcb) }
func (w *fakeWorld) UnbindThreadNotification(tcb uint64) {
	w.unboundThreads = append(w.unboundThreads, tcb)
}
func (w *fakeWorld) UnmapFrame(c capword.Cap)     { w.unmappedFrames = append(w.unmappedFrames, c) }
func (w *fakeWorld) UnmapPageTable(c capword.Cap) { w.unmappedPageTables = append(w.unmappedPageTables, c) }
func (w *fakeWorld) ReleaseIRQ(irq uint16)        { w.releasedIRQs = append(w.releasedIRQs, irq) }
func (w *fakeWorld) PostCapDeletion(c CleanupInfo) { w.cleanups = append(w.cleanups, c) }

func TestFinaliseCapEndpointIsFinal(t *testing.T) {
	w := newFakeWorld()
	ep := capword.NewEndpoint(0x1000, 0, rights.Set(0).Add(rights.AllowRead))

	remainder, cleanup, err := FinaliseCap(w, ep, true, false)
	require.NoError(t, err)
	assert.True(t, remainder.IsNull())
	assert.Equal(t, CleanupInfo{}, cleanup)
	assert.Equal(t, []uint64{0x1000}, w.cancelledEndpoints)
}

func TestFinaliseCapEndpointNotFinalSkipsCancel(t *testing.T) {
	w := newFakeWorld()
	ep := capword.NewEndpoint(0x1000, 0, rights.Set(0))

	remainder, _, err := FinaliseCap(w, ep, false, false)
	require.NoError(t, err)
	assert.True(t, remainder.IsNull())
	assert.Empty(t, w.cancelledEndpoints)
}

func TestFinaliseCapCNodeFinalNotImmediateYieldsZombie(t *testing.T) {
	w := newFakeWorld()
	cn := capword.NewCNode(0x2000, 4, 0, 0)

	remainder, _, err := FinaliseCap(w, cn, true, false)
	require.NoError(t, err)
	require.Equal(t, capword.Zombie, remainder.Kind())
	assert.Equal(t, capword.ZombieCNode, remainder.ZombieType())
	assert.Equal(t, uint64(16), remainder.ZombieNumber())
	assert.Equal(t, uint64(0x2000), remainder.ZombiePtr())
}

func TestFinaliseCapCNodeImmediateYieldsNull(t *testing.T) {
	w := newFakeWorld()
	cn := capword.NewCNode(0x2000, 4, 0, 0)

	remainder, _, err := FinaliseCap(w, cn, true, true)
	require.NoError(t, err)
	assert.True(t, remainder.IsNull())
}

func TestFinaliseCapThreadFinal(t *testing.T) {
	w := newFakeWorld()
	th := capword.NewThread(0x3000)

	remainder, cleanup, err := FinaliseCap(w, th, true, false)
	require.NoError(t, err)
	require.Equal(t, capword.Zombie, remainder.Kind())
	assert.Equal(t, capword.ZombieTCB, remainder.ZombieType())
	assert.Equal(t, uint64(tcbCNodeSlots), remainder.ZombieNumber())
	assert.Equal(t, CleanupInfo{Kind: CleanupThread, TCB: 0x3000}, cleanup)
	assert.Equal(t, []uint64{0x3000}, w.suspendedThreads)
	assert.Equal(t, []uint64{0x3000}, w.unboundThreads)
}

func TestFinaliseCapZombieIsNoOp(t *testing.T) {
	w := newFakeWorld()
	z := capword.NewZombie(0x4000, capword.ZombieCNode, 3)

	remainder, _, err := FinaliseCap(w, z, true, true)
	require.NoError(t, err)
	assert.Equal(t, z, remainder)
}

func TestCapRemovable(t *testing.T) {
	tests := []struct {
		name string
		cap  capword.Cap
		addr cte.Addr
		want bool
	}{
		{"null", capword.NullCap(), 0, true},
		{"zombie zero remaining", capword.NewZombie(5, capword.ZombieCNode, 0), 5, true},
		{"zombie self reference", capword.NewZombie(5, capword.ZombieCNode, 1), 5, true},
		{"zombie still has other slots", capword.NewZombie(5, capword.ZombieCNode, 1), 6, false},
		{"zombie multiple remaining", capword.NewZombie(5, capword.ZombieCNode, 3), 5, false},
		{"live endpoint", capword.NewEndpoint(1, 0, rights.Set(0)), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CapRemovable(tt.cap, tt.addr))
		})
	}
}

// singleCNodeWorld wires a single root CNode's slot table behind its own
// pointer, enough to exercise Delete/Revoke end to end without a real
// object space.
func singleCNodeWorld(ptr uint64, store cte.Store) *fakeWorld {
	w := newFakeWorld()
	w.stores[ptr] = store
	return w
}

func TestDeleteEndpointEmptiesSlotAndFiresCleanup(t *testing.T) {
	w := newFakeWorld()
	s := cte.MapStore{}
	ep := capword.NewEndpoint(0x1000, 0, rights.Set(0))
	s[0] = cte.CTE{Cap: ep, MDB: mdbEmpty()}

	cleanup, err := Delete(s, 0, true, w, nil)
	require.NoError(t, err)
	assert.Equal(t, CleanupInfo{}, cleanup)
	assert.True(t, s.Get(0).Cap.IsNull())
	assert.Equal(t, []uint64{0x1000}, w.cancelledEndpoints)
	assert.Len(t, w.cleanups, 1)
}

func TestDeleteNullSlotIsNoOp(t *testing.T) {
	w := newFakeWorld()
	s := cte.MapStore{}

	cleanup, err := Delete(s, 0, true, w, nil)
	require.NoError(t, err)
	assert.Equal(t, CleanupInfo{}, cleanup)
	assert.Empty(t, w.cleanups)
}

func TestDeleteExposedCNodeDropsWithoutTouchingContents(t *testing.T) {
	// An exposed (user-facing) delete of a CNode capability only ever
	// finalises to Null (finalise_cap's immediate == exposed == true), the
	// same way deleting a capability in seL4 never by itself reclaims the
	// memory a CNode/TCB object occupies: only Untyped retype/reset does
	// that, by walking the region with exposed=false instead (see below).
	cspaceSlot := cte.MapStore{}
	cn := capword.NewCNode(0x9000, 1, 0, 0)
	cspaceSlot[0] = cte.CTE{Cap: cn, MDB: mdbEmpty()}

	interior := cte.MapStore{
		0x9000: {Cap: capword.NewEndpoint(1, 0, rights.Set(0)), MDB: mdbEmpty()},
		0x9001: {Cap: capword.NewEndpoint(2, 0, rights.Set(0)), MDB: mdbEmpty()},
	}
	w := singleCNodeWorld(0x9000, interior)

	_, err := Delete(cspaceSlot, 0, true, w, nil)
	require.NoError(t, err)
	assert.True(t, cspaceSlot.Get(0).Cap.IsNull())
	assert.False(t, interior.Get(0x9000).Cap.IsNull(), "exposed delete must not recurse into the CNode's contents")
}

func TestDeleteUnexposedCNodeMakesOneStepOfProgress(t *testing.T) {
	// An unexposed delete (exposed=false) of the last capability to a
	// CNode does produce a Zombie, and reduce_zombie's non-immediate swap
	// pushes it one level outward into the CNode's own first slot while
	// whatever was sitting there takes the original slot's place and gets
	// finalised in turn: one step of "terminates because each swap
	// strictly reduces depth", not full completion in a single call.
	cspaceSlot := cte.MapStore{}
	cn := capword.NewCNode(0x9000, 1, 0, 0)
	cspaceSlot[0] = cte.CTE{Cap: cn, MDB: mdbEmpty()}

	interior := cte.MapStore{
		0x9000: {Cap: capword.NewEndpoint(1, 0, rights.Set(0)), MDB: mdbEmpty()},
		0x9001: {Cap: capword.NewEndpoint(2, 0, rights.Set(0)), MDB: mdbEmpty()},
	}
	w := singleCNodeWorld(0x9000, interior)

	_, err := Delete(cspaceSlot, 0, false, w, nil)
	require.NoError(t, err)

	assert.True(t, cspaceSlot.Get(0).Cap.IsNull(), "the endpoint swapped into the original slot gets finalised and emptied")
	assert.Equal(t, []uint64{1}, w.cancelledEndpoints)

	pushed := interior.Get(0x9000).Cap
	require.Equal(t, capword.Zombie, pushed.Kind(), "the CNode's own Zombie was pushed into its first interior slot")
	assert.Equal(t, uint64(2), pushed.ZombieNumber())
	assert.False(t, interior.Get(0x9001).Cap.IsNull(), "the CNode's second slot is untouched by this single step")
}

func TestReduceZombieImmediateShrinksNumberAndDeletesEndSlot(t *testing.T) {
	s := cte.MapStore{}
	z := capword.NewZombie(0x9000, capword.ZombieCNode, 2)
	s[0] = cte.CTE{Cap: z, MDB: mdbEmpty()}

	interior := cte.MapStore{
		0x9000: {Cap: capword.NewEndpoint(1, 0, rights.Set(0)), MDB: mdbEmpty()},
		0x9001: {Cap: capword.NewEndpoint(2, 0, rights.Set(0)), MDB: mdbEmpty()},
	}
	w := singleCNodeWorld(0x9000, interior)

	require.NoError(t, reduceZombie(s, 0, w, true, nil))

	assert.True(t, interior.Get(0x9001).Cap.IsNull(), "the last covered slot (ptr+number-1) was deleted")
	assert.Equal(t, []uint64{2}, w.cancelledEndpoints)

	shrunk := s.Get(0).Cap
	require.Equal(t, capword.Zombie, shrunk.Kind())
	assert.Equal(t, uint64(1), shrunk.ZombieNumber(), "number decremented since our own slot's identity survived")
}

func TestReduceZombieNonImmediateSwapsWithInteriorSlot(t *testing.T) {
	s := cte.MapStore{}
	z := capword.NewZombie(0x9000, capword.ZombieCNode, 2)
	s[0] = cte.CTE{Cap: z, MDB: mdbEmpty()}

	interior := cte.MapStore{
		0x9000: {Cap: capword.NewEndpoint(1, 0, rights.Set(0)), MDB: mdbEmpty()},
		0x9001: {Cap: capword.NewEndpoint(2, 0, rights.Set(0)), MDB: mdbEmpty()},
	}
	w := singleCNodeWorld(0x9000, interior)

	require.NoError(t, reduceZombie(s, 0, w, false, nil))

	assert.Equal(t, capword.Endpoint, s.Get(0).Cap.Kind(), "the endpoint formerly at the interior slot now sits at the original slot")
	assert.Equal(t, capword.Zombie, interior.Get(0x9000).Cap.Kind(), "the Zombie was pushed into the interior slot")
}

func TestRevokeDeletesChildrenNotSelf(t *testing.T) {
	s := cte.MapStore{}
	parent := capword.NewUntyped(0x1000, 12, false, 0)
	child := capword.NewUntyped(0x1000, 12, false, 0)

	s[0] = cte.CTE{Cap: parent, MDB: mdb.Node{Prev: mdb.NoAddr, Next: 1, Revocable: true, FirstBadged: true}}
	s[1] = cte.CTE{Cap: child, MDB: mdb.Node{Prev: 0, Next: mdb.NoAddr, Revocable: true, FirstBadged: true}}

	w := newFakeWorld()
	require.NoError(t, Revoke(s, 0, w, nil))

	assert.False(t, s.Get(0).Cap.IsNull(), "revoke must not delete the slot itself")
	assert.True(t, s.Get(1).Cap.IsNull(), "revoke must delete the child")
}

func mdbEmpty() mdb.Node {
	return mdb.Node{Prev: mdb.NoAddr, Next: mdb.NoAddr}
}
