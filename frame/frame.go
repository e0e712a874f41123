// Package frame encodes and decodes HTTP/2 frames. Decoding turns raw
// transport bytes into one of a closed set of typed frames; RST_STREAM and
// GOAWAY payloads surface as typed errors instead, since for the engine they
// are failure signals rather than payloads.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/net/http2"

	"github.com/h2wire/h2wire/frameheader"
)

// MaxPayloadSize is the largest payload expressible by the 24-bit length
// field of a frame header.
const MaxPayloadSize = 1<<24 - 1

var (
	ErrPayloadTooLarge = errors.New("frame: payload exceeds 24-bit length field")
	ErrTruncated       = errors.New("frame: truncated")
)

// StreamError is the decode result of an RST_STREAM frame: the canonical
// per-stream failure signal.
type StreamError struct {
	StreamID uint32
	Code     http2.ErrCode
}

func (e StreamError) Error() string {
	return fmt.Sprintf("stream %d reset: %s", e.StreamID, e.Code)
}

// GoAwayError is the decode result of a GOAWAY frame: the canonical
// connection-level failure signal.
type GoAwayError struct {
	LastStreamID uint32
	Code         http2.ErrCode
	DebugData    []byte
}

func (e GoAwayError) Error() string {
	return fmt.Sprintf("goaway: %s, last stream %d", e.Code, e.LastStreamID)
}

// Frame is one decoded HTTP/2 frame. The set of implementations is closed;
// wire codes this package does not know decode to Unknown.
type Frame interface {
	Type() http2.FrameType
	Flags() http2.Flags
	StreamID() uint32
	isFrame()
}

type meta struct {
	flags    http2.Flags
	streamID uint32
}

func (m meta) Flags() http2.Flags { return m.flags }
func (m meta) StreamID() uint32   { return m.streamID }
func (meta) isFrame()             {}

type Data struct {
	meta
	Data      []byte
	EndStream bool
}

func (Data) Type() http2.FrameType { return http2.FrameData }

type Headers struct {
	meta
	Fragment   []byte
	EndStream  bool
	EndHeaders bool
}

func (Headers) Type() http2.FrameType { return http2.FrameHeaders }

type Priority struct {
	meta
	StreamDep uint32
	Exclusive bool
	Weight    uint8
}

func (Priority) Type() http2.FrameType { return http2.FramePriority }

type Settings struct {
	meta
	Ack      bool
	Settings []http2.Setting
}

func (Settings) Type() http2.FrameType { return http2.FrameSettings }

type PushPromise struct {
	meta
	PromisedID uint32
	Fragment   []byte
	EndHeaders bool
}

func (PushPromise) Type() http2.FrameType { return http2.FramePushPromise }

type Ping struct {
	meta
	Ack  bool
	Data [8]byte
}

func (Ping) Type() http2.FrameType { return http2.FramePing }

type WindowUpdate struct {
	meta
	Increment uint32
}

func (WindowUpdate) Type() http2.FrameType { return http2.FrameWindowUpdate }

type Continuation struct {
	meta
	Fragment   []byte
	EndHeaders bool
}

func (Continuation) Type() http2.FrameType { return http2.FrameContinuation }

// Unknown preserves frames with unrecognized type codes so callers can pass
// them through or ignore them without losing bytes.
type Unknown struct {
	meta
	FrameType http2.FrameType
	Payload   []byte
}

func (f Unknown) Type() http2.FrameType { return f.FrameType }

// Decode parses one frame from the head of b and returns the remaining
// bytes. It fails with ErrTruncated when b holds fewer bytes than the frame
// header declares; in that case rest is b unchanged.
func Decode(b []byte) (f Frame, rest []byte, err error) {
	if len(b) < frameheader.Size {
		return nil, b, fmt.Errorf("%w: frame header needs %d bytes, have %d",
			ErrTruncated, frameheader.Size, len(b))
	}
	h := frameheader.FrameHeader(b[:frameheader.Size])
	length := h.Length()
	rest = b[frameheader.Size:]
	if len(rest) < length {
		return nil, b, fmt.Errorf("%w: payload needs %d bytes, have %d",
			ErrTruncated, length, len(rest))
	}

	f, err = Parse(h, rest[:length])
	return f, rest[length:], err
}

// Parse builds a typed frame from an already-split header and payload.
// RST_STREAM and GOAWAY parse to a nil frame and a StreamError/GoAwayError.
func Parse(h frameheader.FrameHeader, payload []byte) (Frame, error) {
	m := meta{h.Flags(), h.StreamID()}

	switch h.Type() {
	case http2.FrameData:
		data, err := stripPadding(payload, m.flags.Has(http2.FlagDataPadded), 0)
		if err != nil {
			return nil, err
		}
		return Data{m, data, m.flags.Has(http2.FlagDataEndStream)}, nil

	case http2.FrameHeaders:
		skip := 0
		if m.flags.Has(http2.FlagHeadersPriority) {
			skip = 5
		}
		fragment, err := stripPadding(payload, m.flags.Has(http2.FlagHeadersPadded), skip)
		if err != nil {
			return nil, err
		}
		return Headers{
			m, fragment,
			m.flags.Has(http2.FlagHeadersEndStream),
			m.flags.Has(http2.FlagHeadersEndHeaders),
		}, nil

	case http2.FramePriority:
		if len(payload) != 5 {
			return nil, malformed(h, payload)
		}
		dep := binary.BigEndian.Uint32(payload)
		return Priority{m, dep & 0x7fffffff, dep>>31 != 0, payload[4]}, nil

	case http2.FrameRSTStream:
		if len(payload) != 4 {
			return nil, malformed(h, payload)
		}
		return nil, StreamError{
			StreamID: m.streamID,
			Code:     http2.ErrCode(binary.BigEndian.Uint32(payload)),
		}

	case http2.FrameSettings:
		if len(payload)%6 != 0 {
			return nil, malformed(h, payload)
		}
		settings := make([]http2.Setting, 0, len(payload)/6)
		for i := 0; i < len(payload); i += 6 {
			settings = append(settings, http2.Setting{
				ID:  http2.SettingID(binary.BigEndian.Uint16(payload[i:])),
				Val: binary.BigEndian.Uint32(payload[i+2:]),
			})
		}
		return Settings{m, m.flags.Has(http2.FlagSettingsAck), settings}, nil

	case http2.FramePushPromise:
		fragment, err := stripPadding(payload, m.flags.Has(http2.FlagPushPromisePadded), 0)
		if err != nil {
			return nil, err
		}
		if len(fragment) < 4 {
			return nil, malformed(h, payload)
		}
		return PushPromise{
			m,
			binary.BigEndian.Uint32(fragment) & 0x7fffffff,
			fragment[4:],
			m.flags.Has(http2.FlagPushPromiseEndHeaders),
		}, nil

	case http2.FramePing:
		if len(payload) != 8 {
			return nil, malformed(h, payload)
		}
		f := Ping{m, m.flags.Has(http2.FlagPingAck), [8]byte{}}
		copy(f.Data[:], payload)
		return f, nil

	case http2.FrameGoAway:
		if len(payload) < 8 {
			return nil, malformed(h, payload)
		}
		return nil, GoAwayError{
			LastStreamID: binary.BigEndian.Uint32(payload) & 0x7fffffff,
			Code:         http2.ErrCode(binary.BigEndian.Uint32(payload[4:])),
			DebugData:    payload[8:],
		}

	case http2.FrameWindowUpdate:
		if len(payload) != 4 {
			return nil, malformed(h, payload)
		}
		return WindowUpdate{m, binary.BigEndian.Uint32(payload) & 0x7fffffff}, nil

	case http2.FrameContinuation:
		return Continuation{m, payload, m.flags.Has(http2.FlagContinuationEndHeaders)}, nil
	}

	return Unknown{m, h.Type(), payload}, nil
}

func malformed(h frameheader.FrameHeader, payload []byte) error {
	return fmt.Errorf("frame: malformed %s payload of %d bytes", h.Type(), len(payload))
}

func stripPadding(payload []byte, padded bool, skip int) ([]byte, error) {
	padLength := 0
	if padded {
		if len(payload) == 0 {
			return nil, fmt.Errorf("frame: padded frame with empty payload")
		}
		padLength = int(payload[0])
		payload = payload[1:]
	}
	if skip+padLength > len(payload) {
		return nil, fmt.Errorf("frame: padding %d and fields %d exceed payload %d",
			padLength, skip, len(payload))
	}
	return payload[skip : len(payload)-padLength], nil
}

// Encode serializes a frame header and payload. The only failure is a
// payload that cannot fit the 24-bit length field.
func Encode(t http2.FrameType, flags http2.Flags, streamID uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	b := make([]byte, frameheader.Size+len(payload))
	frameheader.FrameHeader(b).Fill(len(payload), t, flags, streamID)
	copy(b[frameheader.Size:], payload)
	return b, nil
}
