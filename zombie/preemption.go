package zombie

import "github.com/nestybox/sel4-capcore/kerr"

// Preemption tracks preemption_point()'s work-unit budget: long-running
// kernel loops (cte_delete's finalise loop, cte_revoke) call
// Point() after each unit of work, and it returns kerr.ErrPreempted once
// the budget is exhausted and an interrupt is actually pending, so the
// loop can unwind leaving enough state (a Zombie in the slot) to resume.
type Preemption struct {
	budget    uint32
	maxBudget uint32
	pending   func() bool
}

// NewPreemption builds a budget whose every maxWorkUnits-th call to
// Point() resets the count and consults pending for whether to preempt;
// the calls in between return nil without consulting it.
func NewPreemption(maxWorkUnits uint32, pending func() bool) *Preemption {
	return &Preemption{maxBudget: maxWorkUnits, pending: pending}
}

// Point consumes one work unit and reports whether the caller should
// unwind now.
func (p *Preemption) Point() error {
	if p == nil {
		return nil
	}
	p.budget++
	if p.budget < p.maxBudget {
		return nil
	}
	p.budget = 0
	if p.pending != nil && p.pending() {
		return kerr.ErrPreempted
	}
	return nil
}
