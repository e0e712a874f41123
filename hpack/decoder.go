// Package hpack implements the header compression context of an HTTP/2
// connection: a static table of well-known entries, a size-bounded dynamic
// table per direction, and the indexed/literal encodings of RFC 7541.
//
// Encoder and decoder states are independent; a connection owns one of each
// and must serialize access, since the dynamic table is order-dependent
// shared state.
package hpack

import (
	"errors"
	"fmt"

	xhpack "golang.org/x/net/http2/hpack"
)

var (
	ErrInvalidIndex      = errors.New("hpack: index out of table range")
	ErrTruncated         = errors.New("hpack: truncated header block")
	ErrIntegerOverflow   = errors.New("hpack: integer overflow")
	ErrTableSizeExceeded = errors.New("hpack: table size update above negotiated maximum")
)

// Decoder decodes header blocks received from the peer.
type Decoder struct {
	table dynamicTable

	// maxAllowed caps dynamic-table size updates announced by the peer.
	maxAllowed uint32
}

func NewDecoder(maxTableSize uint32) *Decoder {
	d := &Decoder{maxAllowed: maxTableSize}
	d.table.maxSize = maxTableSize
	return d
}

// SetMaxDynamicTableSize raises or lowers the negotiated table bound,
// evicting entries when it shrinks.
func (d *Decoder) SetMaxDynamicTableSize(n uint32) {
	d.maxAllowed = n
	d.table.setMaxSize(n)
}

// TableSize reports the current total size of the dynamic table.
func (d *Decoder) TableSize() uint32 { return d.table.size }

// Decode consumes a complete header block and returns the decoded entries
// in order. Decoding is iterative; it terminates when the block is
// exhausted. A malformed block fails without emitting garbage entries.
func (d *Decoder) Decode(block []byte) ([]HeaderField, error) {
	var fields []HeaderField
	for len(block) > 0 {
		b := block[0]
		switch {
		case b&0x80 != 0:
			// 1xxxxxxx: fully indexed.
			index, rest, err := readInteger(block, 7)
			if err != nil {
				return nil, err
			}
			f, err := d.table.at(index)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			block = rest

		case b&0xc0 == 0x40:
			// 01xxxxxx: literal with incremental indexing.
			f, rest, err := d.readLiteral(block, 6)
			if err != nil {
				return nil, err
			}
			d.table.add(f)
			fields = append(fields, f)
			block = rest

		case b&0xe0 == 0x20:
			// 001xxxxx: dynamic table size update.
			size, rest, err := readInteger(block, 5)
			if err != nil {
				return nil, err
			}
			if size > uint64(d.maxAllowed) {
				return nil, fmt.Errorf("%w: %d > %d", ErrTableSizeExceeded, size, d.maxAllowed)
			}
			d.table.setMaxSize(uint32(size))
			block = rest

		case b&0xf0 == 0x10:
			// 0001xxxx: literal, never indexed.
			f, rest, err := d.readLiteral(block, 4)
			if err != nil {
				return nil, err
			}
			f.Sensitive = true
			fields = append(fields, f)
			block = rest

		default:
			// 0000xxxx: literal without indexing.
			f, rest, err := d.readLiteral(block, 4)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			block = rest
		}
	}
	return fields, nil
}

func (d *Decoder) readLiteral(b []byte, prefix uint8) (HeaderField, []byte, error) {
	nameIndex, rest, err := readInteger(b, prefix)
	if err != nil {
		return HeaderField{}, nil, err
	}

	var f HeaderField
	if nameIndex == 0 {
		f.Name, rest, err = readString(rest)
		if err != nil {
			return HeaderField{}, nil, err
		}
	} else {
		indexed, err := d.table.at(nameIndex)
		if err != nil {
			return HeaderField{}, nil, err
		}
		f.Name = indexed.Name
	}

	f.Value, rest, err = readString(rest)
	if err != nil {
		return HeaderField{}, nil, err
	}
	return f, rest, nil
}

// readInteger decodes the variable-length integer of RFC 7541 §5.1 with the
// given prefix width.
func readInteger(b []byte, prefix uint8) (uint64, []byte, error) {
	if len(b) == 0 {
		return 0, nil, ErrTruncated
	}
	mask := byte(1)<<prefix - 1
	v := uint64(b[0] & mask)
	b = b[1:]
	if v < uint64(mask) {
		return v, b, nil
	}

	var shift uint
	for {
		if len(b) == 0 {
			return 0, nil, ErrTruncated
		}
		if shift > 56 {
			return 0, nil, ErrIntegerOverflow
		}
		c := b[0]
		b = b[1:]
		v += uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, b, nil
		}
		shift += 7
	}
}

// readString decodes a length-prefixed string literal, inflating
// Huffman-coded literals through the reference Huffman code.
func readString(b []byte) (string, []byte, error) {
	if len(b) == 0 {
		return "", nil, ErrTruncated
	}
	huffman := b[0]&0x80 != 0
	length, rest, err := readInteger(b, 7)
	if err != nil {
		return "", nil, err
	}
	if length > uint64(len(rest)) {
		return "", nil, fmt.Errorf("%w: string of %d bytes, %d left", ErrTruncated, length, len(rest))
	}
	raw := rest[:length]
	rest = rest[length:]

	if !huffman {
		return string(raw), rest, nil
	}
	s, err := xhpack.HuffmanDecodeToString(raw)
	if err != nil {
		return "", nil, fmt.Errorf("hpack: huffman literal: %w", err)
	}
	return s, rest, nil
}
