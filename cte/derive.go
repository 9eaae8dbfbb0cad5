package cte

import (
	"github.com/nestybox/sel4-capcore/capword"
	"github.com/nestybox/sel4-capcore/kerr"
)

// DeriveCap implements derive_cap(slot, cap): most kinds derive
// unchanged. An Untyped only derives while its slot has no children
// (otherwise the caller must Revoke first). A Frame/PageTable only
// derives while unmapped. Returns (capword.NullCap(), nil) when
// derivation should continue with a null result rather than fail the
// whole operation.
func DeriveCap(s Store, slotAddr Addr, cap capword.Cap) (capword.Cap, error) {
	switch cap.Kind() {
	case capword.Untyped:
		if !EnsureNoChildren(s, slotAddr) {
			return capword.NullCap(), kerr.NewSyscallError(kerr.RevokeFirst)
		}
		return cap, nil
	case capword.Frame:
		if cap.FrameIsMapped() {
			return capword.NullCap(), nil
		}
		return cap, nil
	case capword.PageTable:
		if cap.PageTableIsMapped() {
			return capword.NullCap(), nil
		}
		return cap, nil
	default:
		return cap, nil
	}
}
