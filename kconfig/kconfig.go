// Package kconfig loads the kernel's compile-time-equivalent tunables
// (word width, preemption budget, the domain schedule) from an optional
// TOML file, falling back to built-in defaults when none is found.
//
// Grounded on containerdUtils.GetDataRoot: try a short list of well-known
// config paths, parse with BurntSushi/toml, and fall back to a default
// value if nothing is found or a field is left unset.
package kconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DomainSlice is one entry of the static domain schedule: "domain d runs
// for length ticks before the schedule advances".
type DomainSlice struct {
	Domain uint8 `toml:"domain"`
	Length uint32 `toml:"length"`
}

// Config holds the kernel's boot-time tunables.
type Config struct {
	// WordBits is the machine word width in bits; it bounds CNode
	// guard+radix and CSpace lookup depth.
	WordBits uint8 `toml:"word_bits"`

	// MaxWorkUnits is CONFIG_MAX_WORK_UNITS: the voluntary-preemption
	// threshold checked by preemption_point().
	MaxWorkUnits uint32 `toml:"max_work_units"`

	// MaxBootInfoUntypedCaps bounds the untyped_list in the boot info
	// layout.
	MaxBootInfoUntypedCaps int `toml:"max_bootinfo_untyped_caps"`

	// L2BitmapWords is the number of 64-bit level-2 priority bitmap words
	// per domain; each word covers 64 priorities and has one L1 bit.
	L2BitmapWords int `toml:"l2_bitmap_words"`

	// NumPriorities is the number of distinct scheduler priorities
	// (0..NumPriorities-1).
	NumPriorities int `toml:"num_priorities"`

	// NumDomains is the number of scheduler domains.
	NumDomains int `toml:"num_domains"`

	// DomainSchedule is the static (domain, length) table consulted at
	// boot and on domain-timer expiry.
	DomainSchedule []DomainSlice `toml:"domain_schedule"`
}

// Default returns the kernel's built-in configuration, matching a 64-bit
// seL4-style build: 64-bit words, 256 priorities, a single always-on
// domain.
func Default() Config {
	return Config{
		WordBits:               64,
		MaxWorkUnits:           100,
		MaxBootInfoUntypedCaps: 230,
		L2BitmapWords:          4, // 4 * 64 = 256 priorities per domain
		NumPriorities:          256,
		NumDomains:             1,
		DomainSchedule:         []DomainSlice{{Domain: 0, Length: 1}},
	}
}

// searchPaths lists where a deployment may drop a kernel.toml override,
// checked in order the same way containerdUtils.GetDataRoot walks its list
// of candidate containerd config paths.
var searchPaths = []string{
	"/etc/capcore/kernel.toml",
	"/usr/local/etc/capcore/kernel.toml",
}

// Load reads the first config file found in searchPaths, overlaying its
// fields onto Default(). If no file is found, Default() is returned
// unmodified along with a nil error.
func Load() (Config, error) {
	cfg := Default()

	for _, path := range searchPaths {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return cfg, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("could not decode %s: %w", path, err)
		}
		return cfg, nil
	}

	return cfg, nil
}

// LoadFrom decodes a specific TOML file onto Default(), without consulting
// searchPaths. Used by tests and by callers that already know their config
// file's location.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("could not decode %s: %w", path, err)
	}
	return cfg, nil
}
