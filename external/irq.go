package external

import (
	"golang.org/x/sys/unix"
)

// IRQState mirrors set_irq_state(state, irq)'s argument: each line is
// Inactive, bound to the timer, or bound to a notification.
type IRQState int

const (
	IRQInactive IRQState = iota
	IRQTimer
	IRQNotification
)

// IRQController is the collaborator for interrupt routing: per-line
// state, the preemption-point pending check, and the per-IRQ handler
// CTE array's base pointer (int_state_irq_node).
type IRQController interface {
	SetIRQState(irq uint16, state IRQState)
	IsPending() bool
	HandlerNodeBase() uint64
}

// PollIRQController implements IsPending via a zero-timeout unix.Poll on
// a single file descriptor, the "is it readable right now" pattern
// preemption_point() needs without blocking the kernel loop that calls
// it. fd is expected to be the platform's pending-interrupt signalling
// fd (an eventfd or similar); tests substitute a pipe.
type PollIRQController struct {
	fd              int
	handlerNodeBase uint64
	lines           map[uint16]IRQState
}

// NewPollIRQController wraps fd, the descriptor IsPending polls, and
// handlerNodeBase, the base address of the per-IRQ handler CTE array.
func NewPollIRQController(fd int, handlerNodeBase uint64) *PollIRQController {
	return &PollIRQController{fd: fd, handlerNodeBase: handlerNodeBase, lines: make(map[uint16]IRQState)}
}

// SetIRQState implements set_irq_state(state, irq).
func (c *PollIRQController) SetIRQState(irq uint16, state IRQState) {
	c.lines[irq] = state
}

// State reports irq's last-set state, defaulting to IRQInactive.
func (c *PollIRQController) State(irq uint16) IRQState {
	return c.lines[irq]
}

// HandlerNodeBase implements int_state_irq_node.
func (c *PollIRQController) HandlerNodeBase() uint64 {
	return c.handlerNodeBase
}

// IsPending implements is_irq_pending(): a non-blocking poll for data
// available to read on fd.
func (c *PollIRQController) IsPending() bool {
	if c.fd < 0 {
		return false
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil || n <= 0 {
		return false
	}
	return fds[0].Revents&unix.POLLIN != 0
}
