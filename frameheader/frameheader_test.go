package frameheader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestFillLayout(t *testing.T) {
	h := New()
	h.Fill(0x01020a, http2.FrameData, http2.FlagDataEndStream, 0x01020304)

	assert.Equal(t, []byte{
		0x01, 0x02, 0x0a, // 24-bit length
		0x00,                   // type
		0x01,                   // flags
		0x01, 0x02, 0x03, 0x04, // stream id
	}, []byte(h))

	assert.Equal(t, 0x01020a, h.Length())
	assert.Equal(t, http2.FrameData, h.Type())
	assert.True(t, h.Flags().Has(http2.FlagDataEndStream))
	assert.Equal(t, uint32(0x01020304), h.StreamID())
}

func TestReservedBitMasked(t *testing.T) {
	h := New()
	h.Fill(0, http2.FramePing, 0, 1|1<<31)
	assert.Equal(t, uint32(1), h.StreamID())
	assert.Zero(t, h[5]&0x80)

	// incoming headers with the reserved bit set decode without it too
	h[5] |= 0x80
	assert.Equal(t, uint32(1), h.StreamID())
}

func TestSetters(t *testing.T) {
	h := New()
	h.SetLength(300)
	h.SetType(http2.FrameWindowUpdate)
	h.SetFlags(0x4)
	h.SetStreamID(7)

	require.Equal(t, 300, h.Length())
	require.Equal(t, http2.FrameWindowUpdate, h.Type())
	require.Equal(t, http2.Flags(0x4), h.Flags())
	require.Equal(t, uint32(7), h.StreamID())
}
