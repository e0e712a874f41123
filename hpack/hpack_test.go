package hpack

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xhpack "golang.org/x/net/http2/hpack"
)

func requestFields() []HeaderField {
	return []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/v1/items"},
		{Name: ":authority", Value: "example.com"},
		{Name: "user-agent", Value: "h2wire/1.0"},
		{Name: "x-request-source", Value: "integration-suite"},
	}
}

func TestDecodeStaticIndexed(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	d := NewDecoder(4096)
	fields, err := d.Decode([]byte{0x82})
	a.NoError(err)
	a.Equal([]HeaderField{{Name: ":method", Value: "GET"}}, fields)
	// fully indexed entries add nothing to the dynamic table
	a.Zero(d.TableSize())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	enc := NewEncoder(4096)
	dec := NewDecoder(4096)

	fields := requestFields()
	decoded, err := dec.Decode(enc.Encode(fields))
	a.NoError(err)
	a.Equal(fields, decoded)
}

func TestRoundTripReusesDynamicTable(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	enc := NewEncoder(4096)
	dec := NewDecoder(4096)

	fields := requestFields()

	first := enc.Encode(fields)
	second := enc.Encode(fields)
	// the second block must be all indexed references
	a.Less(len(second), len(first))

	decoded, err := dec.Decode(first)
	a.NoError(err)
	a.Equal(fields, decoded)

	decoded, err = dec.Decode(second)
	a.NoError(err)
	a.Equal(fields, decoded)
}

func TestSensitiveNeverIndexed(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	enc := NewEncoder(4096)
	dec := NewDecoder(4096)

	fields := []HeaderField{{Name: "authorization", Value: "Bearer s3cr3t", Sensitive: true}}
	block := enc.Encode(fields)
	a.Zero(enc.TableSize())

	decoded, err := dec.Decode(block)
	a.NoError(err)
	a.Equal(fields, decoded)
	a.Zero(dec.TableSize())
}

func TestDynamicTableBound(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	const maxSize = 128
	dec := NewDecoder(maxSize)
	enc := NewEncoder(maxSize)

	for i := 0; i < 64; i++ {
		f := HeaderField{
			Name:  "x-dyn-" + strings.Repeat("a", i%7),
			Value: strings.Repeat("v", i%23),
		}
		block := enc.Encode([]HeaderField{f})
		a.LessOrEqual(enc.TableSize(), uint32(maxSize))

		_, err := dec.Decode(block)
		a.NoError(err)
		a.LessOrEqual(dec.TableSize(), uint32(maxSize))
		a.Equal(enc.TableSize(), dec.TableSize())
	}
}

func TestOversizedEntryEmptiesTable(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	var table dynamicTable
	table.maxSize = 100

	table.add(HeaderField{Name: "a", Value: "b"})
	a.NotZero(table.size)

	table.add(HeaderField{Name: "huge", Value: strings.Repeat("x", 200)})
	a.Zero(table.size)
	a.Empty(table.entries)
}

func TestTableSizeUpdate(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	enc := NewEncoder(4096)
	dec := NewDecoder(4096)

	_, err := dec.Decode(enc.Encode(requestFields()))
	a.NoError(err)
	a.NotZero(dec.TableSize())

	// shrinking to zero evicts everything on both sides
	enc.SetMaxDynamicTableSize(0)
	block := enc.Encode([]HeaderField{{Name: ":method", Value: "GET"}})
	_, err = dec.Decode(block)
	a.NoError(err)
	a.Zero(enc.TableSize())
	a.Zero(dec.TableSize())
}

func TestTableSizeUpdateAboveMaximum(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	dec := NewDecoder(256)
	// size update announcing 4096 on a decoder capped at 256
	block := appendInteger(nil, 0x20, 5, 4096)
	_, err := dec.Decode(block)
	a.ErrorIs(err, ErrTableSizeExceeded)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		block []byte
		want  error
	}{
		{"index past combined table", []byte{0xff, 0x7f}, ErrInvalidIndex},
		{"zero index", []byte{0x80}, ErrInvalidIndex},
		{"truncated integer", []byte{0xff, 0x80}, ErrTruncated},
		{"truncated string", []byte{0x40, 0x03, 'a'}, ErrTruncated},
		{"missing value", []byte{0x42}, ErrTruncated},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := NewDecoder(4096)
			fields, err := d.Decode(tt.block)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, fields)
		})
	}
}

// TestEncoderAgainstReferenceDecoder feeds our encoder's output into the
// x/net decoder, the reference peer for interoperability.
func TestEncoderAgainstReferenceDecoder(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	enc := NewEncoder(4096)

	var got []HeaderField
	refDec := xhpack.NewDecoder(4096, func(f xhpack.HeaderField) {
		got = append(got, HeaderField{Name: f.Name, Value: f.Value, Sensitive: f.Sensitive})
	})

	fields := requestFields()
	for i := 0; i < 3; i++ {
		got = got[:0]
		_, err := refDec.Write(enc.Encode(fields))
		require.NoError(t, err)
		a.Equal(fields, got)
	}
}

// TestDecoderAgainstReferenceEncoder decodes blocks produced by the x/net
// encoder, which emits Huffman-coded literals and indexed references.
func TestDecoderAgainstReferenceEncoder(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	var buf bytes.Buffer
	refEnc := xhpack.NewEncoder(&buf)
	dec := NewDecoder(4096)

	fields := requestFields()
	for i := 0; i < 3; i++ {
		buf.Reset()
		for _, f := range fields {
			require.NoError(t, refEnc.WriteField(xhpack.HeaderField{Name: f.Name, Value: f.Value}))
		}
		decoded, err := dec.Decode(buf.Bytes())
		a.NoError(err)
		a.Equal(fields, decoded)
	}
}
