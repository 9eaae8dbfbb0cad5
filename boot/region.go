// Package boot implements the root-server boot-time allocator: carving a
// single contiguous physical region out of the free-memory list and
// bump-allocating the initial objects out of it.
//
// Grounded on idMap/overlayUtils's region/offset arithmetic for the carve
// algorithm, and utils/linux.go's package-level afero.Fs for reading the
// free-memory-region list, so tests fake a memory map instead of /proc.
package boot

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/nestybox/sel4-capcore/kerr"
)

// Region is a half-open range of physical addresses [Start, End).
type Region struct {
	Start uint64
	End   uint64
}

// Empty reports whether the region holds no bytes.
func (r Region) Empty() bool { return r.Start >= r.End }

// Size returns the number of bytes the region spans.
func (r Region) Size() uint64 { return r.End - r.Start }

// appFs is the package-level filesystem handle, overridable in tests the
// way utils/linux.go swaps appFs for an afero.MemMapFs.
var appFs afero.Fs = afero.NewOsFs()

// LoadFreeMemoryRegions reads a free-memory-region list from path: one
// "start end" pair of hex addresses per line, blank lines and lines
// starting with '#' ignored. Regions are returned in file order, which by
// convention (matching the original's ndks_boot.freemem) runs low address
// to high address.
func LoadFreeMemoryRegions(path string) ([]Region, error) {
	f, err := appFs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("boot: malformed free-memory line %q", line)
		}
		start, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("boot: bad start address %q: %w", fields[0], err)
		}
		end, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("boot: bad end address %q: %w", fields[1], err)
		}
		regions = append(regions, Region{Start: start, End: end})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

func bit(n uint) uint64 { return uint64(1) << n }

func roundDown(v uint64, alignBits uint) uint64 {
	mask := bit(alignBits) - 1
	return v &^ mask
}

// CarveRootServerRegion implements root_server_mem_init's scan: walk
// freemem from its highest non-empty index down, and for each candidate
// region try to fit a size-byte block aligned to alignBits at its top. On
// success the candidate region is split around the carved block (the
// slice is mutated in place) and the carved Region is returned. Regions
// too small are shuffled one slot up to make room for the split, exactly
// as the original does with its extra trailing empty slot.
//
// freemem must have one spare trailing Region (zero-valued) to receive
// the shuffled entries, matching ndks_boot.freemem's fixed-capacity array
// with a known-empty top slot.
func CarveRootServerRegion(freemem []Region, size uint64, alignBits uint) (Region, error) {
	i := len(freemem) - 1
	for i >= 0 && freemem[i].Empty() {
		i--
	}

	for i >= 0 {
		if i+1 >= len(freemem) {
			return Region{}, kerr.NewKernelBug("boot: freemem has no spare slot to shuffle into")
		}
		candidate := freemem[i]
		if size > candidate.End {
			// size doesn't fit at all in this region, even unaligned.
			freemem[i+1] = candidate
			freemem[i] = Region{}
			i--
			continue
		}
		unalignedStart := candidate.End - size
		start := roundDown(unalignedStart, alignBits)

		if unalignedStart <= candidate.End && start >= candidate.Start {
			freemem[i+1] = Region{Start: start + size, End: candidate.End}
			freemem[i].End = start
			return Region{Start: start, End: start + size}, nil
		}

		freemem[i+1] = candidate
		freemem[i] = Region{}
		i--
	}

	return Region{}, kerr.NewSyscallError(kerr.NotEnoughMemory)
}
