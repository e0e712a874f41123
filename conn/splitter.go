package conn

import (
	"bytes"

	"github.com/h2wire/h2wire/frameheader"
)

// splitter reassembles whole frames from arbitrarily fragmented transport
// reads. A frame boundary is assumed only once the bytes declared by the
// header have arrived.
type splitter struct {
	buf []byte
}

func (s *splitter) feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// next pops one complete frame, copying it out of the carry-over buffer so
// the bytes stay valid across subsequent feeds.
func (s *splitter) next() (frameheader.FrameHeader, []byte, bool) {
	if len(s.buf) < frameheader.Size {
		return nil, nil, false
	}
	header := frameheader.FrameHeader(s.buf[:frameheader.Size])
	total := frameheader.Size + header.Length()
	if len(s.buf) < total {
		return nil, nil, false
	}

	header = bytes.Clone(header)
	payload := bytes.Clone(s.buf[frameheader.Size:total])
	s.buf = s.buf[:copy(s.buf, s.buf[total:])]
	return header, payload, true
}
