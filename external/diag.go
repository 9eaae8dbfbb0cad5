package external

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// NodeInfo is the boot-time host identification the boot info's
// NodeID/numNodes fields are ultimately sourced from on a real
// deployment.
type NodeInfo struct {
	Sysname string
	Release string
}

// HostNodeInfo implements the Uname-style boot-time diagnostic read:
// grounded on utils/linux.go's GetKernelRelease, trimming the NUL-padded
// fixed-size unix.Utsname fields into plain strings.
func HostNodeInfo() (NodeInfo, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return NodeInfo{}, fmt.Errorf("uname: %w", err)
	}
	return NodeInfo{
		Sysname: cString(uts.Sysname[:]),
		Release: cString(uts.Release[:]),
	}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
