package boot

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/cte"
	"github.com/nestybox/sel4-capcore/kconfig"
	"github.com/nestybox/sel4-capcore/mdb"
	"github.com/nestybox/sel4-capcore/sched"
)

// CreateInitialThread implements create_initial_thread's scheduler-facing
// half: builds the root task's TCB at maximum priority in the boot
// domain, marks it Running (the kernel's state machine starts it
// directly rather than via Restart, since there is no fault to replay),
// and enqueues it so the first Schedule() call picks it up.
func CreateInitialThread(s *sched.Scheduler, cfg kconfig.Config, domain sched.Domain, entryPC uint64, cnodeRoot capword.Cap) *sched.TCB {
	maxPriority := sched.Priority(cfg.NumPriorities - 1)
	tcb := &sched.TCB{
		Domain:     domain,
		Priority:   maxPriority,
		State:      sched.Running,
		FaultIP:    entryPC,
		NextIP:     entryPC,
		CSpaceRoot: cnodeRoot,
	}
	s.Enqueue(tcb)
	return tcb
}

// InstallInitialCapSlot implements write_slot(ptr.add(slot), cap) for the
// small set of initial capability slots this package owns; invocation and
// external code consult the same root MapStore afterward through the
// ordinary cte.Store interface.
func InstallInitialCapSlot(root cte.MapStore, slot CapSlot, cap capword.Cap) {
	root.Set(cte.Addr(slot), cte.CTE{Cap: cap, MDB: mdb.Node{Prev: mdb.NoAddr, Next: mdb.NoAddr}})
}
