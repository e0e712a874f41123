package conn

import (
	"github.com/h2wire/h2wire/hpack"
)

type encodeRequest struct {
	fields []hpack.HeaderField
	// tableSize, when set, resizes the dynamic table instead of encoding.
	tableSize *uint32
	result    chan []byte
}

// headerEncoder owns the send-side compression context. The dynamic table
// is order-dependent shared state, so every encode from every stream is
// serialized through the owner goroutine; streams talk to it over a
// request/response channel and never touch the table.
type headerEncoder struct {
	enc      *hpack.Encoder
	requests chan encodeRequest
	done     chan struct{}
}

func newHeaderEncoder(maxTableSize uint32, done chan struct{}) *headerEncoder {
	return &headerEncoder{
		enc:      hpack.NewEncoder(maxTableSize),
		requests: make(chan encodeRequest),
		done:     done,
	}
}

func (e *headerEncoder) run() {
	for {
		select {
		case req := <-e.requests:
			if req.tableSize != nil {
				e.enc.SetMaxDynamicTableSize(*req.tableSize)
				req.result <- nil
				continue
			}
			req.result <- e.enc.Encode(req.fields)
		case <-e.done:
			return
		}
	}
}

func (e *headerEncoder) submit(req encodeRequest) ([]byte, error) {
	select {
	case e.requests <- req:
	case <-e.done:
		return nil, ErrConnectionClosed
	}
	select {
	case b := <-req.result:
		return b, nil
	case <-e.done:
		return nil, ErrConnectionClosed
	}
}

// EncodeHeaders implements stream.HeaderEncoder.
func (e *headerEncoder) EncodeHeaders(fields []hpack.HeaderField) ([]byte, error) {
	return e.submit(encodeRequest{fields: fields, result: make(chan []byte, 1)})
}

// SetMaxDynamicTableSize applies a SETTINGS_HEADER_TABLE_SIZE change in
// order with in-flight encodes.
func (e *headerEncoder) SetMaxDynamicTableSize(n uint32) error {
	_, err := e.submit(encodeRequest{tableSize: &n, result: make(chan []byte, 1)})
	return err
}
