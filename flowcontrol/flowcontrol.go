// Package flowcontrol tracks HTTP/2 send-window accounting. FlowControl is
// the per-stream instance: it queues outbound data chunks and releases them
// in FIFO order as the peer grants window. ConnWindow is the shared
// connection-level budget.
package flowcontrol

import (
	"errors"
	"fmt"

	"github.com/h2wire/h2wire/consts"
)

var ErrWindowOverflow = errors.New("flowcontrol: window above protocol ceiling")

// Chunk is one sendable unit of body data, sized to the negotiated maximum
// frame size. EndStream is set only on the final chunk of a payload.
type Chunk struct {
	Data      []byte
	EndStream bool
}

// FlowControl belongs to a single stream and is driven only from that
// stream's event loop, so it needs no locking. The window may go negative
// only through a settings-driven decrease, never through a send.
type FlowControl struct {
	window       int64
	maxFrameSize int
	queue        []Chunk
}

func New(initialWindowSize uint32, maxFrameSize int) *FlowControl {
	if maxFrameSize <= 0 {
		maxFrameSize = consts.DefaultMaxFrameSize
	}
	return &FlowControl{
		window:       int64(initialWindowSize),
		maxFrameSize: maxFrameSize,
	}
}

// Add enqueues payload for sending, split to the maximum frame size. The
// end-of-stream marker lands on the final chunk only. A nil payload with
// endStream set enqueues one empty end-of-stream chunk.
func (fc *FlowControl) Add(payload []byte, endStream bool) {
	for len(payload) > fc.maxFrameSize {
		fc.queue = append(fc.queue, Chunk{Data: payload[:fc.maxFrameSize]})
		payload = payload[fc.maxFrameSize:]
	}
	fc.queue = append(fc.queue, Chunk{Data: payload, EndStream: endStream})
}

// Process dequeues every chunk the current window permits, decrementing the
// window by each chunk's size. A chunk larger than the remaining window
// stays at the head of the queue until a future increment; chunks are never
// reordered or partially sent.
func (fc *FlowControl) Process() []Chunk {
	var sendable []Chunk
	for len(fc.queue) > 0 {
		head := fc.queue[0]
		if int64(len(head.Data)) > fc.window {
			break
		}
		fc.window -= int64(len(head.Data))
		sendable = append(sendable, head)
		fc.queue = fc.queue[1:]
	}
	if len(fc.queue) == 0 {
		fc.queue = nil
	}
	return sendable
}

// IncrementWindow adds n to the send window. n is negative when a
// SETTINGS_INITIAL_WINDOW_SIZE decrease is applied retroactively. Growing
// the window past the protocol ceiling is a flow-control protocol error.
func (fc *FlowControl) IncrementWindow(n int32) error {
	next := fc.window + int64(n)
	if next > consts.MaxWindowSize {
		return fmt.Errorf("%w: %d", ErrWindowOverflow, next)
	}
	fc.window = next
	return nil
}

// SetMaxFrameSize changes the chunking bound for future Add calls. Chunks
// already queued keep their segmentation.
func (fc *FlowControl) SetMaxFrameSize(n int) {
	if n > 0 {
		fc.maxFrameSize = n
	}
}

// Window reports the current send window, possibly negative.
func (fc *FlowControl) Window() int64 { return fc.window }

// Pending reports how many chunks await window availability.
func (fc *FlowControl) Pending() int { return len(fc.queue) }
