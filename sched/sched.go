// Package sched implements the bitmap priority scheduler and TCB state
// machine: per-domain ready queues selected via a two-level priority
// bitmap, the single-word scheduler action, and thread activation.
//
// Grounded on fileMonitor/fileMon.go and pidmonitor/pidmon.go's cmd-channel
// plus event-channel polling goroutine: both run a loop that holds a small
// set of "ready" items, services the highest-priority one, and reacts to
// an external command (stop/rescan) between units of work, reshaped here
// into Schedule()'s pick-highest-ready step and the cmd-like Action word
// that tells it whether to keep running, switch, or re-pick.
package sched

import (
	"math/bits"

	"github.com/nestybox/sel4-capcore/kconfig"
	"github.com/nestybox/sel4-capcore/klog"
)

// wordBits is the width of one priority bitmap word (64-bit machine word),
// matching kconfig.Config.L2BitmapWords * wordBits == NumPriorities.
const wordBits = 64

// Domain and Priority index the scheduler's two-level structure.
type Domain uint8
type Priority uint16

// Scheduler holds the ready queues and the L1/L2 bitmaps of the priority
// select: one ready queue per (domain, priority), an L1 bitmap per domain
// with one bit per L2 row, and the L2 rows themselves.
//
// This drops the source's "L1 stored MSB = highest priority, L2 row ~i"
// micro-optimisation (a single CLZ instruction trick) in favour of plain
// ascending bit numbering in both levels. The two-level cascaded lookup
// (word group, then bit within it) is preserved; see DESIGN.md.
type Scheduler struct {
	cfg   kconfig.Config
	ready [][][]*TCB
	l1    []uint64
	l2    [][]uint64

	action Action
}

// NewScheduler allocates ready queues and bitmaps sized from cfg.
func NewScheduler(cfg kconfig.Config) *Scheduler {
	ready := make([][][]*TCB, cfg.NumDomains)
	for d := range ready {
		ready[d] = make([][]*TCB, cfg.NumPriorities)
	}
	l2 := make([][]uint64, cfg.NumDomains)
	for d := range l2 {
		l2[d] = make([]uint64, cfg.L2BitmapWords)
	}
	return &Scheduler{
		cfg:    cfg,
		ready:  ready,
		l1:     make([]uint64, cfg.NumDomains),
		l2:     l2,
		action: Action{Kind: ActionChooseNew},
	}
}

func (s *Scheduler) setBit(d Domain, p Priority) {
	i := int(p) / wordBits
	bit := uint(int(p) % wordBits)
	s.l2[d][i] |= 1 << bit
	s.l1[d] |= 1 << uint(i)
}

func (s *Scheduler) clearBitIfEmpty(d Domain, p Priority) {
	i := int(p) / wordBits
	if s.l2[d][i] != 0 {
		return
	}
	s.l1[d] &^= 1 << uint(i)
}

func (s *Scheduler) clearBit(d Domain, p Priority) {
	i := int(p) / wordBits
	bit := uint(int(p) % wordBits)
	s.l2[d][i] &^= 1 << bit
	s.clearBitIfEmpty(d, p)
}

// Enqueue implements tcb_sched_enqueue: append t to its ready queue's
// tail. Idempotent on an already-queued TCB.
func (s *Scheduler) Enqueue(t *TCB) {
	if t.Queued {
		return
	}
	s.ready[t.Domain][t.Priority] = append(s.ready[t.Domain][t.Priority], t)
	t.Queued = true
	s.setBit(t.Domain, t.Priority)
	klog.Tracef("sched: enqueue tcb=%p domain=%d priority=%d", t, t.Domain, t.Priority)
}

// Append implements tcb_sched_append: insert t at its ready queue's head,
// the ordering tcb_sched_enqueue and tcb_sched_append differ on for
// priority ties.
func (s *Scheduler) Append(t *TCB) {
	if t.Queued {
		return
	}
	s.ready[t.Domain][t.Priority] = append([]*TCB{t}, s.ready[t.Domain][t.Priority]...)
	t.Queued = true
	s.setBit(t.Domain, t.Priority)
}

// Dequeue implements tcb_sched_dequeue: unlink t, clearing the bitmap bit
// if its queue becomes empty.
func (s *Scheduler) Dequeue(t *TCB) {
	if !t.Queued {
		return
	}
	q := s.ready[t.Domain][t.Priority]
	for i, cand := range q {
		if cand == t {
			s.ready[t.Domain][t.Priority] = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	t.Queued = false
	if len(s.ready[t.Domain][t.Priority]) == 0 {
		s.clearBit(t.Domain, t.Priority)
	}
	klog.Tracef("sched: dequeue tcb=%p domain=%d priority=%d", t, t.Domain, t.Priority)
}

func highestBit(word uint64) (int, bool) {
	if word == 0 {
		return 0, false
	}
	return bits.Len64(word) - 1, true
}

// HighestReady implements the priority-select half of scheduling: the
// head of the highest-priority non-empty queue in domain d, found via two
// cascaded highest-set-bit searches (L1 picks the word group, L2 picks the
// bit within it).
func (s *Scheduler) HighestReady(d Domain) (*TCB, bool) {
	i, ok := highestBit(s.l1[d])
	if !ok {
		return nil, false
	}
	bit, ok := highestBit(s.l2[d][i])
	if !ok {
		return nil, false
	}
	p := Priority(i*wordBits + bit)
	q := s.ready[d][p]
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}

// ActionKind is the scheduler_action word's three interpretations.
type ActionKind int

const (
	ActionResumeCurrent ActionKind = iota
	ActionChooseNew
	ActionSwitchTo
)

// Action is the single-word scheduler_action.
type Action struct {
	Kind   ActionKind
	Target *TCB
}

// Action returns the scheduler's current action word.
func (s *Scheduler) Action() Action { return s.action }

// PossibleSwitchTo implements possible_switch_to(t): upgrades
// ResumeCurrent to SwitchTo(t); downgrades an existing SwitchTo(_) to
// ChooseNew, enqueuing the displaced target first so it isn't lost.
func (s *Scheduler) PossibleSwitchTo(t *TCB) {
	switch s.action.Kind {
	case ActionResumeCurrent:
		s.action = Action{Kind: ActionSwitchTo, Target: t}
	case ActionSwitchTo:
		if s.action.Target != t {
			s.Enqueue(s.action.Target)
		}
		s.action = Action{Kind: ActionChooseNew}
	case ActionChooseNew:
		// already committed to picking fresh; nothing to upgrade.
	}
}

// RescheduleRequired implements reschedule_required(): force ChooseNew,
// enqueuing any held-aside SwitchTo target first.
func (s *Scheduler) RescheduleRequired() {
	if s.action.Kind == ActionSwitchTo && s.action.Target != nil {
		s.Enqueue(s.action.Target)
	}
	s.action = Action{Kind: ActionChooseNew}
}

// Schedule implements the conceptual schedule(): resolve
// the action word to a concrete TCB to run (or nil for "idle"), dequeue
// it, and reset the action word to ResumeCurrent the way committing a
// switch does. idle is returned when ChooseNew finds nothing ready.
func (s *Scheduler) Schedule(currentDomain Domain, idle *TCB) *TCB {
	var next *TCB
	switch s.action.Kind {
	case ActionSwitchTo:
		next = s.action.Target
	case ActionChooseNew:
		if t, ok := s.HighestReady(currentDomain); ok {
			next = t
		} else {
			next = idle
		}
	case ActionResumeCurrent:
		next = nil // caller keeps whatever is already current
	}

	if next != nil && next != idle {
		s.Dequeue(next)
	}
	s.action = Action{Kind: ActionResumeCurrent}
	return next
}
