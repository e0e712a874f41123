package frame

import (
	"encoding/binary"

	"golang.org/x/net/http2"

	"github.com/h2wire/h2wire/frameheader"
)

var preface = []byte(http2.ClientPreface)

// Preface returns a copy of the fixed 24-byte connection preface
// ("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n").
func Preface() []byte {
	return append([]byte(nil), preface...)
}

func build(t http2.FrameType, flags http2.Flags, streamID uint32, payloadLen int) []byte {
	b := make([]byte, frameheader.Size+payloadLen)
	frameheader.FrameHeader(b).Fill(payloadLen, t, flags, streamID)
	return b
}

// BuildSettings serializes a SETTINGS frame; with no arguments it is the
// empty SETTINGS sent during the handshake.
func BuildSettings(settings ...http2.Setting) []byte {
	b := build(http2.FrameSettings, 0, 0, len(settings)*6)
	p := b[frameheader.Size:]
	for i, s := range settings {
		binary.BigEndian.PutUint16(p[i*6:], uint16(s.ID))
		binary.BigEndian.PutUint32(p[i*6+2:], s.Val)
	}
	return b
}

func BuildSettingsAck() []byte {
	return build(http2.FrameSettings, http2.FlagSettingsAck, 0, 0)
}

func BuildRSTStream(streamID uint32, code http2.ErrCode) []byte {
	b := build(http2.FrameRSTStream, 0, streamID, 4)
	binary.BigEndian.PutUint32(b[frameheader.Size:], uint32(code))
	return b
}

func BuildWindowUpdate(streamID, increment uint32) []byte {
	b := build(http2.FrameWindowUpdate, 0, streamID, 4)
	binary.BigEndian.PutUint32(b[frameheader.Size:], increment&0x7fffffff)
	return b
}

func BuildPing(data [8]byte, ack bool) []byte {
	var flags http2.Flags
	if ack {
		flags = http2.FlagPingAck
	}
	b := build(http2.FramePing, flags, 0, 8)
	copy(b[frameheader.Size:], data[:])
	return b
}

func BuildGoAway(lastStreamID uint32, code http2.ErrCode, debugData []byte) []byte {
	b := build(http2.FrameGoAway, 0, 0, 8+len(debugData))
	p := b[frameheader.Size:]
	binary.BigEndian.PutUint32(p, lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(p[4:], uint32(code))
	copy(p[8:], debugData)
	return b
}
