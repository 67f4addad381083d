package econet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseScoutFrame(t *testing.T) {
	require := require.New(t)

	scout, err := ParseScoutFrame([]byte{2, 0, 127, 0, 0x80, 0x99, 0xaa})
	require.NoError(err)
	require.Equal(ScoutFrame{
		ToStation: 2, ToNetwork: 0, FromStation: 127, FromNetwork: 0,
		ControlByte: 0x80, Port: 0x99, Extra: []byte{0xaa},
	}, scout)

	_, err = ParseScoutFrame([]byte{1, 2, 3, 4, 5})
	require.ErrorIs(err, ErrFrameTooShort)
}

func TestParseDataFrame(t *testing.T) {
	require := require.New(t)

	data, err := ParseDataFrame([]byte{2, 0, 127, 0, 0x90, 0, 1})
	require.NoError(err)
	require.Equal(uint8(127), data.FromStation)
	require.Equal([]byte{0x90, 0, 1}, data.Payload)

	data, err = ParseDataFrame([]byte{2, 0, 127, 0})
	require.NoError(err)
	require.Empty(data.Payload)

	_, err = ParseDataFrame([]byte{2, 0, 127})
	require.ErrorIs(err, ErrFrameTooShort)
}
