// Package kerr implements the error/fault plumbing: syscall errors,
// lookup faults, and the internal exception-kind taxonomy used to
// propagate results out of the CSpace resolver, the MDB, and the
// finalise/Zombie engine.
//
// Grounded on idMap/idMapMount.go and idShiftUtils's use of
// github.com/pkg/errors to annotate a lower-level cause while preserving
// its identity for callers that type-switch on it.
package kerr

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nestybox/sel4-capcore/klog"
)

// SyscallErrorKind enumerates the recoverable, user-surfaced syscall
// error kinds.
type SyscallErrorKind int

const (
	InvalidArgument SyscallErrorKind = iota
	InvalidCapability
	IllegalOperation
	RangeError
	AlignmentError
	FailedLookup
	TruncatedMessage
	DeleteFirst
	RevokeFirst
	NotEnoughMemory
)

func (k SyscallErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidCapability:
		return "InvalidCapability"
	case IllegalOperation:
		return "IllegalOperation"
	case RangeError:
		return "RangeError"
	case AlignmentError:
		return "AlignmentError"
	case FailedLookup:
		return "FailedLookup"
	case TruncatedMessage:
		return "TruncatedMessage"
	case DeleteFirst:
		return "DeleteFirst"
	case RevokeFirst:
		return "RevokeFirst"
	case NotEnoughMemory:
		return "NotEnoughMemory"
	}
	return "unknown"
}

// SyscallError is the thread-local current_syscall_error record.
type SyscallError struct {
	Kind                SyscallErrorKind
	FailedLookupWasSource bool
	RangeMin, RangeMax    uint64
	InvalidArgumentNumber int
	InvalidCapNumber      int
	cause                 error
}

func (e *SyscallError) Error() string {
	switch e.Kind {
	case RangeError:
		return fmt.Sprintf("SyscallError(%s): want [%d, %d]", e.Kind, e.RangeMin, e.RangeMax)
	case InvalidCapability:
		return fmt.Sprintf("SyscallError(%s): cap index %d", e.Kind, e.InvalidCapNumber)
	case FailedLookup:
		return fmt.Sprintf("SyscallError(%s): was_source=%v: %v", e.Kind, e.FailedLookupWasSource, e.cause)
	default:
		return fmt.Sprintf("SyscallError(%s)", e.Kind)
	}
}

// Cause returns the wrapped LookupFault cause, if any, satisfying
// github.com/pkg/errors's causer interface so errors.Cause reaches it.
// SyscallError has no Unwrap method, so errors.As applies to Cause()'s
// result, not to the SyscallError itself.
func (e *SyscallError) Cause() error { return e.cause }

func NewSyscallError(kind SyscallErrorKind) *SyscallError {
	e := &SyscallError{Kind: kind}
	klog.Debugf("%s", e.Error())
	return e
}

func NewRangeError(min, max uint64) *SyscallError {
	e := &SyscallError{Kind: RangeError, RangeMin: min, RangeMax: max}
	klog.Debugf("%s", e.Error())
	return e
}

func NewInvalidCapability(index int) *SyscallError {
	e := &SyscallError{Kind: InvalidCapability, InvalidCapNumber: index}
	klog.Debugf("%s", e.Error())
	return e
}

// NewFailedLookup wraps a LookupFault into a SyscallError, annotating which
// side of a two-cap invocation (source vs. destination) triggered it.
func NewFailedLookup(wasSource bool, fault error) *SyscallError {
	e := &SyscallError{
		Kind:                  FailedLookup,
		FailedLookupWasSource: wasSource,
		cause:                 errors.Wrap(fault, "lookup failed"),
	}
	klog.Debugf("%s", e.Error())
	return e
}

// LookupFaultKind enumerates the resolver's fault variants.
type LookupFaultKind int

const (
	InvalidRoot LookupFaultKind = iota
	MissingCapability
	DepthMismatch
	GuardMismatch
)

// LookupFault is the thread-local current_lookup_fault record.
type LookupFault struct {
	Kind LookupFaultKind

	// MissingCapability
	Depth uint8

	// DepthMismatch
	DepthFound     uint8
	DepthRemaining uint8

	// GuardMismatch
	Guard            uint64
	GuardDepthRemain uint8
	GuardBits        uint8
}

func (f *LookupFault) Error() string {
	switch f.Kind {
	case InvalidRoot:
		return "LookupFault(InvalidRoot)"
	case MissingCapability:
		return fmt.Sprintf("LookupFault(MissingCapability): depth=%d", f.Depth)
	case DepthMismatch:
		return fmt.Sprintf("LookupFault(DepthMismatch): found=%d remaining=%d", f.DepthFound, f.DepthRemaining)
	case GuardMismatch:
		return fmt.Sprintf("LookupFault(GuardMismatch): guard=%#x remaining=%d bits=%d", f.Guard, f.GuardDepthRemain, f.GuardBits)
	}
	return "LookupFault(unknown)"
}

func NewInvalidRoot() *LookupFault { return &LookupFault{Kind: InvalidRoot} }

func NewDepthMismatch(found, remaining uint8) *LookupFault {
	return &LookupFault{Kind: DepthMismatch, DepthFound: found, DepthRemaining: remaining}
}

func NewGuardMismatch(guard uint64, depthRemaining, guardBits uint8) *LookupFault {
	return &LookupFault{Kind: GuardMismatch, Guard: guard, GuardDepthRemain: depthRemaining, GuardBits: guardBits}
}

// Exception is the internal propagation kind returned by every
// kernel-internal operation. None means success.
type Exception int

const (
	ExcNone Exception = iota
	ExcFault
	ExcLookupFault
	ExcSyscallError
	ExcPreempted
)

func (e Exception) String() string {
	switch e {
	case ExcNone:
		return "None"
	case ExcFault:
		return "Fault"
	case ExcLookupFault:
		return "LookupFault"
	case ExcSyscallError:
		return "SyscallError"
	case ExcPreempted:
		return "Preempted"
	}
	return "unknown"
}

// ErrPreempted is returned by any loop that calls preemption_point() and
// finds a pending interrupt: the caller must stash enough state (a Zombie
// cap left in the slot being processed) to resume later from the same
// point.
var ErrPreempted = errors.New("preempted")

// KernelBug is raised for unrecoverable conditions: assertion failures
// that indicate a kernel invariant was violated rather than a user error.
// Constructing one logs at Fatal and halts through klog's configured halt
// hook; tests that deliberately trigger a KernelBug path override that
// hook with klog.SetHaltFunc first so the test binary keeps running.
type KernelBug struct {
	msg string
}

func (e *KernelBug) Error() string { return "kernel bug: " + e.msg }

func NewKernelBug(format string, args ...interface{}) *KernelBug {
	bug := &KernelBug{msg: fmt.Sprintf(format, args...)}
	klog.Fatalf("%s", bug.Error())
	return bug
}
