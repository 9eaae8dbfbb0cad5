// Package rights implements the Read/Write/Grant/GrantReply authority
// lattice carried by Endpoint, Notification, Reply and Frame
// capabilities.
//
// The masking operation is a monotone set intersection, the same shape as
// overlayUtils.GetMountOpt's separation of an overlay mount's combined
// option string into two option sets via mapset.Set.Intersect. Here the
// "mount options" are the four right bits instead.
package rights

import mapset "github.com/deckarep/golang-set"

// Right is a single bit of authority.
type Right uint8

const (
	AllowRead Right = 1 << iota
	AllowWrite
	AllowGrant
	AllowGrantReply
)

func (r Right) String() string {
	switch r {
	case AllowRead:
		return "read"
	case AllowWrite:
		return "write"
	case AllowGrant:
		return "grant"
	case AllowGrantReply:
		return "grant_reply"
	}
	return "unknown"
}

// All enumerates every right bit, used to build the mapset.Set backing a
// Set's intersection arithmetic.
var All = []Right{AllowRead, AllowWrite, AllowGrant, AllowGrantReply}

// Set is a bitmask of Rights. The zero value is the empty set.
type Set uint8

func NewSet(rs ...Right) Set {
	var s Set
	for _, r := range rs {
		s = s.Add(r)
	}
	return s
}

func (s Set) Has(r Right) bool { return uint8(s)&uint8(r) != 0 }

func (s Set) Add(r Right) Set { return Set(uint8(s) | uint8(r)) }

func (s Set) Remove(r Right) Set { return Set(uint8(s) &^ uint8(r)) }

// toMapSet / fromMapSet bridge Set's compact bitmask representation to a
// mapset.Set so Mask can express intersection the same way
// overlayUtils.GetMountOpt does for mount option sets, rather than hand
// rolling bitwise AND.
func (s Set) toMapSet() mapset.Set {
	ms := mapset.NewThreadUnsafeSet()
	for _, r := range All {
		if s.Has(r) {
			ms.Add(r)
		}
	}
	return ms
}

func fromMapSet(ms mapset.Set) Set {
	var s Set
	for _, v := range ms.ToSlice() {
		s = s.Add(v.(Right))
	}
	return s
}

// Mask implements mask_cap_rights: a monotone intersection of the
// requested rights against the rights already on the cap. Masking is
// idempotent and commutative with further masking:
// Mask(r1, Mask(r2, c)) == Mask(r1∩r2, c).
func Mask(requested, have Set) Set {
	return fromMapSet(requested.toMapSet().Intersect(have.toMapSet()))
}
