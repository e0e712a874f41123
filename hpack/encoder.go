package hpack

// Encoder encodes header lists for sending to the peer. It emits the
// fully-indexed form when an entry is present in the combined table, the
// incremental-indexing literal form otherwise, and the never-indexed form
// for sensitive entries. String literals are emitted plain; both plain and
// Huffman-coded literals are accepted on decode.
type Encoder struct {
	table dynamicTable

	// sizeUpdatePending makes the next Encode emit a table size update.
	sizeUpdatePending bool
}

func NewEncoder(maxTableSize uint32) *Encoder {
	e := &Encoder{}
	e.table.maxSize = maxTableSize
	return e
}

func (e *Encoder) SetMaxDynamicTableSize(n uint32) {
	e.table.setMaxSize(n)
	e.sizeUpdatePending = true
}

// TableSize reports the current total size of the dynamic table.
func (e *Encoder) TableSize() uint32 { return e.table.size }

// Encode produces the header block for fields, in order.
func (e *Encoder) Encode(fields []HeaderField) []byte {
	return e.EncodeTo(nil, fields)
}

// EncodeTo appends the header block for fields to buf.
func (e *Encoder) EncodeTo(buf []byte, fields []HeaderField) []byte {
	if e.sizeUpdatePending {
		buf = appendInteger(buf, 0x20, 5, uint64(e.table.maxSize))
		e.sizeUpdatePending = false
	}
	for _, f := range fields {
		buf = e.appendField(buf, f)
	}
	return buf
}

func (e *Encoder) appendField(buf []byte, f HeaderField) []byte {
	if f.Sensitive {
		return e.appendLiteral(buf, 0x10, 4, f)
	}

	index, exact := e.table.lookup(f)
	if exact {
		return appendInteger(buf, 0x80, 7, index)
	}

	buf = e.appendLiteral(buf, 0x40, 6, f)
	e.table.add(f)
	return buf
}

func (e *Encoder) appendLiteral(buf []byte, pattern byte, prefix uint8, f HeaderField) []byte {
	nameIndex, _ := e.table.lookup(HeaderField{Name: f.Name})
	if nameIndex != 0 {
		name, err := e.table.at(nameIndex)
		if err != nil || name.Name != f.Name {
			nameIndex = 0
		}
	}

	buf = appendInteger(buf, pattern, prefix, nameIndex)
	if nameIndex == 0 {
		buf = appendString(buf, f.Name)
	}
	return appendString(buf, f.Value)
}

// appendInteger encodes v with the given prefix width, setting the pattern
// bits above the prefix (RFC 7541 §5.1).
func appendInteger(buf []byte, pattern byte, prefix uint8, v uint64) []byte {
	mask := uint64(1)<<prefix - 1
	if v < mask {
		return append(buf, pattern|byte(v))
	}
	buf = append(buf, pattern|byte(mask))
	v -= mask
	for v >= 0x80 {
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendString(buf []byte, s string) []byte {
	buf = appendInteger(buf, 0, 7, uint64(len(s)))
	return append(buf, s...)
}
