package pagemanager

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPage_ResetClearsEverything(t *testing.T) {
	p := NewPage(PageID(7), 128)
	copy(p.GetData(), bytes.Repeat([]byte{0xCD}, 128))
	p.Pin()
	p.SetDirty(true)

	p.Reset()

	require.Equal(t, InvalidPageID, p.GetPageID())
	require.Equal(t, uint32(0), p.GetPinCount())
	require.False(t, p.IsDirty())
	require.Equal(t, make([]byte, 128), p.GetData())
}

func TestPage_PinCountSaturatesAtZero(t *testing.T) {
	p := NewPage(PageID(1), 16)
	p.Pin()
	p.Pin()
	require.Equal(t, uint32(2), p.GetPinCount())

	p.Unpin()
	p.Unpin()
	p.Unpin()
	require.Equal(t, uint32(0), p.GetPinCount())
}

func TestPage_SetDataCopiesInPlace(t *testing.T) {
	p := NewPage(PageID(1), 8)
	buf := p.GetData()
	require.True(t, p.SetData([]byte{1, 2, 3}))
	require.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, buf)
}
