package sched

import "github.com/nestybox/sel4-capcore/kconfig"

// DomainTracker walks the static (domain, length) schedule: cur_domain
// names the row currently running, domain_time counts down the ticks
// left in it, and Tick() wraps back to row 0 once the table is exhausted.
type DomainTracker struct {
	schedule   []kconfig.DomainSlice
	index      int
	domainTime uint32
}

// NewDomainTracker starts at row 0 of schedule with its full tick length
// loaded. An empty schedule degenerates to a single always-on domain 0,
// matching kconfig.Default().
func NewDomainTracker(schedule []kconfig.DomainSlice) *DomainTracker {
	if len(schedule) == 0 {
		schedule = []kconfig.DomainSlice{{Domain: 0, Length: 1}}
	}
	return &DomainTracker{schedule: schedule, domainTime: schedule[0].Length}
}

// Current returns the domain presently running.
func (d *DomainTracker) Current() Domain {
	return Domain(d.schedule[d.index].Domain)
}

// Tick implements the domain-timer expiry check: consumes one tick, and
// when the current row's length is exhausted, advances to the next row
// (wrapping to 0), reporting whether the domain changed so the caller can
// force reschedule_required().
func (d *DomainTracker) Tick() (changed bool) {
	if d.domainTime > 1 {
		d.domainTime--
		return false
	}
	d.index = (d.index + 1) % len(d.schedule)
	d.domainTime = d.schedule[d.index].Length
	return true
}
