// Package mdb implements the per-slot Mapping Database node: a
// doubly-linked derivation-tree link plus the revocable/first-badged
// flags. The MDB is deliberately a flat linked list, not a tree with
// child pointers: insertion always places a new node immediately after
// its parent, so the list is locally a total order on derivation depth
// and cycles are impossible by construction.
//
// This package holds only the link itself; the operations that splice it
// together while also touching a slot's capability (Insert/Move/Swap/
// IsParentOf/IsFinal/EnsureNoChildren) live in package cte, since they
// need both the Node and the Cap stored alongside it.
package mdb

// Addr identifies a capability slot: a CNode array index combined with its
// CNode's base, or a TCB's fixed cspace slot. It is opaque to this package;
// callers pick whatever numbering scheme fits their slot table.
type Addr uint64

// NoAddr is the sentinel meaning "no neighbour" (the list head/tail).
const NoAddr Addr = ^Addr(0)

// Node is the per-slot MDB tuple: (prev, next, revocable, first_badged).
type Node struct {
	Prev         Addr
	Next         Addr
	Revocable    bool
	FirstBadged  bool
}

// Empty reports whether this node has no derivation-list neighbours at all,
// i.e. both links are NoAddr. A zero-value Node is not Empty: its links
// read as address 0.
func (n Node) Empty() bool {
	return n.Prev == NoAddr && n.Next == NoAddr
}
