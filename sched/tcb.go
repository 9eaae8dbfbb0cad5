package sched

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/kerr"
	"github.com/nestybox/sel4-capcore/zombie"
)

// State is a thread's position in the kernel thread state machine.
type State int

const (
	Inactive State = iota
	Running
	Restart
	IdleThreadState
	BlockedOnReceive
	BlockedOnSend
	BlockedOnReply
	BlockedOnNotification
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Running:
		return "Running"
	case Restart:
		return "Restart"
	case IdleThreadState:
		return "IdleThreadState"
	case BlockedOnReceive:
		return "BlockedOnReceive"
	case BlockedOnSend:
		return "BlockedOnSend"
	case BlockedOnReply:
		return "BlockedOnReply"
	case BlockedOnNotification:
		return "BlockedOnNotification"
	default:
		return "State(?)"
	}
}

// FaultKind tags the two-word Fault record a blocked-or-faulted thread
// carries, per SUPPLEMENTED FEATURES item 3.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultVM
	FaultUnknownSyscall
	FaultUserException
	FaultCapFault
)

// Fault is the record a thread's fault endpoint is sent when it traps:
// a kind tag plus the two words real seL4 packs a fault message into
// (address/FSR for VM faults, syscall number/badge for the others).
type Fault struct {
	Kind  FaultKind
	Word0 uint64
	Word1 uint64
}

// TCB is the scheduler-visible half of a thread: its ready-queue linkage,
// its state-machine state, its pending fault, if any, and its CSpace root
// cap. Of the invocation.Thread methods it provides CSpaceRootCap and
// SetRestart, but not WordBits or CallerSlot.
type TCB struct {
	Domain   Domain
	Priority Priority
	Queued   bool

	State State
	Fault Fault

	// FaultIP is the PC at which the thread last trapped or was
	// suspended; NextIP is where activate_thread resumes it. Restart
	// copies FaultIP into NextIP exactly once, on the Restart->Running
	// transition.
	FaultIP uint64
	NextIP  uint64

	CSpaceRoot capword.Cap
}

// CSpaceRootCap implements invocation.Thread.
func (t *TCB) CSpaceRootCap() capword.Cap { return t.CSpaceRoot }

// SetRestart implements invocation.Thread: any invocation that might not
// complete atomically forces the invoking thread back to Restart so a
// retry replays from FaultIP rather than resuming a half-applied syscall.
func (t *TCB) SetRestart() {
	if t.State == Running {
		t.State = Restart
	}
}

// Suspend implements tcb_suspend: drop out of the ready queue and go
// Inactive, regardless of prior state.
func Suspend(t *TCB, s *Scheduler) {
	s.Dequeue(t)
	t.State = Inactive
}

// ResumeFrom implements tcb_resume: an Inactive thread becomes runnable
// again from its last fault PC; a thread in any other state is left
// alone (resuming a Running or already-blocked thread is a no-op, not an
// error, matching seL4's restart semantics).
func ResumeFrom(t *TCB, s *Scheduler) {
	if t.State != Inactive {
		return
	}
	t.State = Restart
	s.Enqueue(t)
	s.PossibleSwitchTo(t)
}

// ActivateThread implements activate_thread(): the state transition a
// thread goes through immediately before it actually runs on a
// processor. Restart copies FaultIP into NextIP so execution resumes (or,
// for a first run, begins) at the right PC; Running and the idle thread
// need no adjustment. Any other state reaching here is a scheduler
// invariant violation (a BlockedOn* thread was picked off the ready
// queue, which should never happen since blocked threads are never
// queued).
func ActivateThread(t *TCB) error {
	switch t.State {
	case Running:
		return nil
	case Restart:
		t.NextIP = t.FaultIP
		t.State = Running
		return nil
	case IdleThreadState:
		return nil
	default:
		return kerr.NewKernelBug("activate_thread: thread in unexpected state %s", t.State)
	}
}

// PreemptionPoint is the scheduler-facing name for the shared work-unit
// budget behind preemption_point(): the same zombie.Preemption type
// cte_delete/cte_revoke use, not a second copy of the threshold logic.
// Nothing in Scheduler itself calls it.
type PreemptionPoint = zombie.Preemption

// NewPreemptionPoint builds a PreemptionPoint with the given work-unit
// threshold and pending-interrupt check.
func NewPreemptionPoint(maxWorkUnits uint32, pending func() bool) *PreemptionPoint {
	return zombie.NewPreemption(maxWorkUnits, pending)
}
