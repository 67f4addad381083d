package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneSlice(t *testing.T) {
	require := require.New(t)

	src := []byte{1, 2, 3}
	clone := CloneSlice(src, 0)
	require.Equal(src, clone)
	clone[0] = 9
	require.Equal(byte(1), src[0])

	require.Equal([]byte{1, 2, 3, 0}, CloneSlice(src, 4))
	require.Equal([]byte{1}, CloneSlice(src, 1))
}

func TestHexBytes(t *testing.T) {
	require := require.New(t)

	require.Equal("", HexBytes(nil))
	require.Equal("7f", HexBytes([]byte{0x7f}))
	require.Equal("02 00 fe 00 41", HexBytes([]byte{0x02, 0x00, 0xfe, 0x00, 'A'}))
}

func TestPrintable(t *testing.T) {
	require := require.New(t)

	require.Equal("", Printable(nil))
	require.Equal("..A~.", Printable([]byte{0x00, 0x1f, 'A', '~', 0x7f}))
}
