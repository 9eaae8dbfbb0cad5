package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sel4-capcore/kconfig"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(kconfig.Default())
}

func TestEnqueueDequeueHighestReady(t *testing.T) {
	s := newTestScheduler()
	low := &TCB{Domain: 0, Priority: 5}
	high := &TCB{Domain: 0, Priority: 200}

	s.Enqueue(low)
	s.Enqueue(high)

	got, ok := s.HighestReady(0)
	require.True(t, ok)
	assert.Same(t, high, got)

	s.Dequeue(high)
	got, ok = s.HighestReady(0)
	require.True(t, ok)
	assert.Same(t, low, got)

	s.Dequeue(low)
	_, ok = s.HighestReady(0)
	assert.False(t, ok)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	s := newTestScheduler()
	tcb := &TCB{Domain: 0, Priority: 10}
	s.Enqueue(tcb)
	s.Enqueue(tcb)

	assert.Len(t, s.ready[0][10], 1)
}

func TestEnqueueAppendsAppendPrepends(t *testing.T) {
	s := newTestScheduler()
	a := &TCB{Domain: 0, Priority: 10}
	b := &TCB{Domain: 0, Priority: 10}

	s.Enqueue(a)
	s.Append(b)

	assert.Equal(t, []*TCB{b, a}, s.ready[0][10])
}

func TestDomainsAreIndependent(t *testing.T) {
	cfg := kconfig.Default()
	cfg.NumDomains = 2
	s := NewScheduler(cfg)
	d0 := &TCB{Domain: 0, Priority: 50}

	s.Enqueue(d0)
	_, ok := s.HighestReady(0)
	require.True(t, ok)
	_, ok = s.HighestReady(1)
	assert.False(t, ok)
}

func TestPossibleSwitchToUpgradesResumeCurrent(t *testing.T) {
	s := newTestScheduler()
	s.action = Action{Kind: ActionResumeCurrent} // NewScheduler starts in ChooseNew
	t1 := &TCB{Domain: 0, Priority: 1}

	s.PossibleSwitchTo(t1)
	assert.Equal(t, Action{Kind: ActionSwitchTo, Target: t1}, s.Action())
}

func TestPossibleSwitchToDowngradesExistingSwitchTo(t *testing.T) {
	s := newTestScheduler()
	s.action = Action{Kind: ActionResumeCurrent} // NewScheduler starts in ChooseNew
	t1 := &TCB{Domain: 0, Priority: 1}
	t2 := &TCB{Domain: 0, Priority: 1}

	s.PossibleSwitchTo(t1)
	s.PossibleSwitchTo(t2)

	assert.Equal(t, ActionChooseNew, s.Action().Kind)
	assert.True(t, t1.Queued)
}

func TestRescheduleRequiredEnqueuesHeldTarget(t *testing.T) {
	s := newTestScheduler()
	s.action = Action{Kind: ActionResumeCurrent} // NewScheduler starts in ChooseNew
	t1 := &TCB{Domain: 0, Priority: 1}
	s.PossibleSwitchTo(t1)

	s.RescheduleRequired()

	assert.Equal(t, ActionChooseNew, s.Action().Kind)
	assert.True(t, t1.Queued)
}

func TestScheduleChooseNewPicksHighestReadyAndDequeues(t *testing.T) {
	s := newTestScheduler()
	idle := &TCB{State: IdleThreadState}
	t1 := &TCB{Domain: 0, Priority: 100}
	s.Enqueue(t1)

	got := s.Schedule(0, idle)

	assert.Same(t, t1, got)
	assert.False(t, t1.Queued)
	assert.Equal(t, ActionResumeCurrent, s.Action().Kind)
}

func TestScheduleChooseNewFallsBackToIdle(t *testing.T) {
	s := newTestScheduler()
	idle := &TCB{State: IdleThreadState}

	got := s.Schedule(0, idle)

	assert.Same(t, idle, got)
}

func TestScheduleSwitchToReturnsTargetAndDequeues(t *testing.T) {
	s := newTestScheduler()
	idle := &TCB{State: IdleThreadState}
	t1 := &TCB{Domain: 0, Priority: 3}
	s.Enqueue(t1)
	s.action = Action{Kind: ActionResumeCurrent} // NewScheduler starts in ChooseNew
	s.PossibleSwitchTo(t1)

	got := s.Schedule(0, idle)

	assert.Same(t, t1, got)
	assert.False(t, t1.Queued)
}

func TestScheduleResumeCurrentReturnsNil(t *testing.T) {
	s := newTestScheduler()
	idle := &TCB{State: IdleThreadState}

	got := s.Schedule(0, idle)
	require.Same(t, idle, got)

	// action is back to ResumeCurrent after the first Schedule() call.
	got = s.Schedule(0, idle)
	assert.Nil(t, got)
}
