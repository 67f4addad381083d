package util

import (
	"strings"
)

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

const hexDigits = "0123456789abcdef"

// HexBytes renders b as space separated lowercase hex pairs, e.g. "7f 00 41".
func HexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[v>>4])
		sb.WriteByte(hexDigits[v&0x0f])
	}

	return sb.String()
}

// Printable renders b as ASCII, replacing every byte outside the printable range with '.'.
func Printable(b []byte) string {
	out := make([]byte, len(b))
	for i, v := range b {
		if v < 0x20 || v > 0x7e {
			out[i] = '.'
		} else {
			out[i] = v
		}
	}

	return string(out)
}
