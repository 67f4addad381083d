// Package semver parses and compares the three-part version strings exchanged between
// the driver and the board firmware.
package semver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFormat indicates that a version string is not three dot-separated non-negative integers.
var ErrFormat = errors.New("semver: invalid version format")

// Version is a parsed major.minor.patch version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses text of the exact form "major.minor.patch".
func Parse(text string) (Version, error) {
	parts := strings.Split(text, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrFormat, text)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := parseComponent(part)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrFormat, text)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// Compatible reports whether a and b share major and minor versions.
// Patch releases are wire-compatible.
func Compatible(a, b Version) bool {
	return a.Major == b.Major && a.Minor == b.Minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// parseComponent accepts decimal digits only, rejecting signs and whitespace
// that strconv.Atoi would otherwise tolerate.
func parseComponent(s string) (int, error) {
	if s == "" {
		return 0, ErrFormat
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrFormat
		}
	}
	return strconv.Atoi(s)
}
