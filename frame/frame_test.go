package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

// unmarshalFrame re-reads raw bytes through the x/net framer, which acts as
// the reference peer for everything this package produces.
func unmarshalFrame(tb testing.TB, b []byte) http2.Frame {
	tb.Helper()
	framer := http2.NewFramer(nil, bytes.NewReader(b))
	f, err := framer.ReadFrame()
	require.NoError(tb, err)
	return f
}

func TestEncodeHeaderLayout(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b, err := Encode(http2.FrameHeaders, 0x1, 0, nil)
	a.NoError(err)
	a.Equal([]byte{0x00, 0x00, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00}, b)
}

func TestDecodeEmptySettings(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f, rest, err := Decode([]byte{0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00})
	a.NoError(err)
	a.Empty(rest)

	sf, ok := f.(Settings)
	a.True(ok)
	a.Equal(uint32(0), sf.StreamID())
	a.Equal(http2.Flags(0), sf.Flags())
	a.False(sf.Ack)
	a.Empty(sf.Settings)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		typ      http2.FrameType
		flags    http2.Flags
		streamID uint32
		payload  []byte
	}{
		{"data", http2.FrameData, http2.FlagDataEndStream, 1, []byte("hello")},
		{"data empty", http2.FrameData, 0, 3, nil},
		{"ping", http2.FramePing, http2.FlagPingAck, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"continuation", http2.FrameContinuation, http2.FlagContinuationEndHeaders, 5, []byte{0x82}},
		{"unknown", http2.FrameType(0xfa), 0x13, 7, []byte{0xde, 0xad}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := assert.New(t)

			b, err := Encode(tt.typ, tt.flags, tt.streamID, tt.payload)
			a.NoError(err)

			f, rest, err := Decode(b)
			a.NoError(err)
			a.Empty(rest)
			a.Equal(tt.typ, f.Type())
			a.Equal(tt.flags, f.Flags())
			a.Equal(tt.streamID, f.StreamID())
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	b, err := Encode(http2.FrameData, 0, 1, []byte("payload"))
	a.NoError(err)

	_, rest, err := Decode(b[:5])
	a.ErrorIs(err, ErrTruncated)
	a.Equal(b[:5], rest)

	_, rest, err = Decode(b[:len(b)-1])
	a.ErrorIs(err, ErrTruncated)
	a.Equal(b[:len(b)-1], rest)
}

func TestDecodeLeavesRest(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	first, err := Encode(http2.FrameData, 0, 1, []byte("one"))
	a.NoError(err)
	second := BuildPing([8]byte{}, false)

	f, rest, err := Decode(append(first, second...))
	a.NoError(err)
	a.Equal(second, rest)
	a.Equal([]byte("one"), f.(Data).Data)
}

func TestEncodeTooLarge(t *testing.T) {
	t.Parallel()

	_, err := Encode(http2.FrameData, 0, 1, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDataPadding(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	var buf bytes.Buffer
	framer := http2.NewFramer(&buf, nil)
	require.NoError(t, framer.WriteDataPadded(1, true, []byte("body"), []byte{0, 0, 0}))

	f, rest, err := Decode(buf.Bytes())
	a.NoError(err)
	a.Empty(rest)

	df := f.(Data)
	a.Equal([]byte("body"), df.Data)
	a.True(df.EndStream)
}

func TestRSTStreamDecodesToStreamError(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f, rest, err := Decode(BuildRSTStream(7, http2.ErrCodeCancel))
	a.Nil(f)
	a.Empty(rest)

	var streamErr StreamError
	a.ErrorAs(err, &streamErr)
	a.Equal(uint32(7), streamErr.StreamID)
	a.Equal(http2.ErrCodeCancel, streamErr.Code)
}

func TestGoAwayDecodesToGoAwayError(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f, _, err := Decode(BuildGoAway(9, http2.ErrCodeProtocol, []byte("bye")))
	a.Nil(f)

	var goAwayErr GoAwayError
	a.ErrorAs(err, &goAwayErr)
	a.Equal(uint32(9), goAwayErr.LastStreamID)
	a.Equal(http2.ErrCodeProtocol, goAwayErr.Code)
	a.Equal([]byte("bye"), goAwayErr.DebugData)
}

func TestBuildersAgainstReferenceFramer(t *testing.T) {
	t.Parallel()

	t.Run("settings", func(t *testing.T) {
		t.Parallel()
		a := assert.New(t)

		f := unmarshalFrame(t, BuildSettings(http2.Setting{
			ID:  http2.SettingInitialWindowSize,
			Val: 1 << 20,
		}))
		sf := f.(*http2.SettingsFrame)
		val, ok := sf.Value(http2.SettingInitialWindowSize)
		a.True(ok)
		a.Equal(uint32(1<<20), val)
	})

	t.Run("settings ack", func(t *testing.T) {
		t.Parallel()
		a := assert.New(t)

		sf := unmarshalFrame(t, BuildSettingsAck()).(*http2.SettingsFrame)
		a.True(sf.IsAck())
	})

	t.Run("rst stream", func(t *testing.T) {
		t.Parallel()
		a := assert.New(t)

		rf := unmarshalFrame(t, BuildRSTStream(3, http2.ErrCodeRefusedStream)).(*http2.RSTStreamFrame)
		a.Equal(uint32(3), rf.StreamID)
		a.Equal(http2.ErrCodeRefusedStream, rf.ErrCode)
	})

	t.Run("window update", func(t *testing.T) {
		t.Parallel()
		a := assert.New(t)

		wf := unmarshalFrame(t, BuildWindowUpdate(5, 4096)).(*http2.WindowUpdateFrame)
		a.Equal(uint32(5), wf.StreamID)
		a.Equal(uint32(4096), wf.Increment)
	})

	t.Run("ping", func(t *testing.T) {
		t.Parallel()
		a := assert.New(t)

		data := [8]byte{8, 7, 6, 5, 4, 3, 2, 1}
		pf := unmarshalFrame(t, BuildPing(data, true)).(*http2.PingFrame)
		a.Equal(data, pf.Data)
		a.True(pf.IsAck())
	})

	t.Run("goaway", func(t *testing.T) {
		t.Parallel()
		a := assert.New(t)

		gf := unmarshalFrame(t, BuildGoAway(11, http2.ErrCodeNo, []byte("done"))).(*http2.GoAwayFrame)
		a.Equal(uint32(11), gf.LastStreamID)
		a.Equal(http2.ErrCodeNo, gf.ErrCode)
		a.Equal([]byte("done"), gf.DebugData())
	})
}

func TestPreface(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"), Preface())
}

func TestStatusFromIndex(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	a.Equal(200, StatusFromIndex(8))
	a.Equal(204, StatusFromIndex(9))
	a.Equal(206, StatusFromIndex(10))
	a.Equal(304, StatusFromIndex(11))
	a.Equal(400, StatusFromIndex(12))
	a.Equal(404, StatusFromIndex(13))
	a.Equal(500, StatusFromIndex(14))
	// unmapped values pass through
	a.Equal(42, StatusFromIndex(42))
}
