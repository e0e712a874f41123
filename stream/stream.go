// Package stream drives one HTTP/2 stream as an independently scheduled
// state machine. Every instance owns its state and flow-control accounting
// and processes one event at a time on its own goroutine; correctness
// relies on that serialization, not on locks.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/h2wire/h2wire/flowcontrol"
	"github.com/h2wire/h2wire/frame"
	"github.com/h2wire/h2wire/hpack"
)

var (
	// ErrClosed reports an operation on a stream that already terminated.
	ErrClosed = errors.New("stream: closed")
	// ErrCanceled marks responses of streams terminated by an explicit
	// close; pending sends are dropped, not flushed.
	ErrCanceled = errors.New("stream: canceled")
)

// Transport is the narrow sending contract to the connection writer:
// ordered, fire-and-forget byte delivery.
type Transport interface {
	Send(b []byte) error
	// SendData delivers an encoded DATA frame after claiming price bytes
	// of the connection-level flow-control window.
	SendData(b []byte, price uint32) error
}

// HeaderEncoder is the connection-owned compression context. Access is
// serialized by the owner, never by the streams.
type HeaderEncoder interface {
	EncodeHeaders(fields []hpack.HeaderField) ([]byte, error)
}

// Delivery receives terminal responses and push notifications.
type Delivery interface {
	OnResponse(*Response)
	OnPush(*PushPromise)
}

// Response is the terminal record delivered when a stream closes.
type Response struct {
	StreamID  uint32
	RequestID uuid.UUID
	Status    int
	Headers   []hpack.HeaderField
	Body      []byte
	Err       error
}

// PushPromise is delivered when the peer announces a pushed stream, before
// any of its response accumulates.
type PushPromise struct {
	StreamID   uint32 // stream the promise was sent on
	PromisedID uint32
	Headers    []hpack.HeaderField
}

type State int32

const (
	Idle State = iota
	Open
	ReservedRemote
	HalfClosedLocal
	HalfClosedRemote
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Open:
		return "open"
	case ReservedRemote:
		return "reserved_remote"
	case HalfClosedLocal:
		return "half_closed_local"
	case HalfClosedRemote:
		return "half_closed_remote"
	case Closed:
		return "closed"
	}
	return "unknown"
}

type Config struct {
	ID                uint32
	InitialWindowSize uint32
	MaxFrameSize      int
	Transport         Transport
	Encoder           HeaderEncoder
	Delivery          Delivery
	Log               *zap.Logger

	// OnClose lets the owner drop the instance once it terminates.
	OnClose func(id uint32)
	// Callback optionally receives the terminal response of this one
	// stream, in addition to Delivery.
	Callback func(*Response)
}

type Stream struct {
	id        uint32
	requestID uuid.UUID

	state     State
	stateView atomic.Int32

	fc        *flowcontrol.FlowControl
	transport Transport
	enc       HeaderEncoder
	delivery  Delivery
	callback  func(*Response)
	onClose   func(uint32)
	log       *zap.Logger

	headers   []hpack.HeaderField
	body      bytes.Buffer
	delivered bool
	failure   error

	events chan event
	done   chan struct{}
}

type eventKind int

const (
	evFrame eventKind = iota
	evSend
	evReset
	evFail
	evSettings
	evClose
)

type event struct {
	kind         eventKind
	frame        frame.Frame
	fields       []hpack.HeaderField
	send         *sendRequest
	err          error
	windowDelta  int32
	maxFrameSize int
}

type sendRequest struct {
	headers []hpack.HeaderField
	body    []byte
	ack     chan error
}

// New creates a stream in the idle state and starts its event loop.
func New(cfg Config) *Stream {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{
		id:        cfg.ID,
		requestID: uuid.New(),
		fc:        flowcontrol.New(cfg.InitialWindowSize, cfg.MaxFrameSize),
		transport: cfg.Transport,
		enc:       cfg.Encoder,
		delivery:  cfg.Delivery,
		callback:  cfg.Callback,
		onClose:   cfg.OnClose,
		log:       log.With(zap.Uint32("stream-id", cfg.ID)),
		events:    make(chan event, 16),
		done:      make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Stream) ID() uint32           { return s.id }
func (s *Stream) RequestID() uuid.UUID { return s.requestID }

// State reports the last committed state; safe from any goroutine.
func (s *Stream) State() State { return State(s.stateView.Load()) }

// Done is closed once the stream terminates.
func (s *Stream) Done() <-chan struct{} { return s.done }

// HandleFrame applies one decoded frame. Header-bearing frames arrive with
// their fragment already decoded by the connection's compression context.
// Frames are applied strictly in delivery order.
func (s *Stream) HandleFrame(f frame.Frame, fields []hpack.HeaderField) {
	s.deliver(event{kind: evFrame, frame: f, fields: fields})
}

// Reset applies a received RST_STREAM: the stream closes whatever its
// state, carrying the peer's error code unless it is NO_ERROR.
func (s *Stream) Reset(code http2.ErrCode) {
	var err error
	if code != http2.ErrCodeNo {
		err = frame.StreamError{StreamID: s.id, Code: code}
	}
	s.deliver(event{kind: evReset, err: err})
}

// Fail terminates the stream with err (timeout, GOAWAY, transport failure).
func (s *Stream) Fail(err error) {
	s.deliver(event{kind: evFail, err: err})
}

// ApplySettings adjusts the flow-control instance for negotiated
// initial-window-size and max-frame-size changes without interrupting
// in-flight state.
func (s *Stream) ApplySettings(windowDelta int32, maxFrameSize int) {
	s.deliver(event{kind: evSettings, windowDelta: windowDelta, maxFrameSize: maxFrameSize})
}

// Close terminates the stream immediately. Pending sends are dropped, not
// flushed.
func (s *Stream) Close() {
	s.deliver(event{kind: evClose})
}

// SendHeaders encodes and sends the request headers (end-of-stream set when
// body is empty), enqueues the body through flow control, and moves the
// stream out of idle. It blocks until the instance acknowledges the send,
// not until the response completes.
func (s *Stream) SendHeaders(headers []hpack.HeaderField, body []byte) error {
	req := &sendRequest{headers: headers, body: body, ack: make(chan error, 1)}
	if !s.deliver(event{kind: evSend, send: req}) {
		return ErrClosed
	}
	select {
	case err := <-req.ack:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Stream) deliver(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Stream) loop() {
	defer func() {
		if s.onClose != nil {
			s.onClose(s.id)
		}
	}()
	defer close(s.done)

	for s.state != Closed {
		s.handle(<-s.events)
	}
}

func (s *Stream) handle(ev event) {
	switch ev.kind {
	case evFrame:
		s.handleFrame(ev.frame, ev.fields)
	case evSend:
		ev.send.ack <- s.sendHeaders(ev.send.headers, ev.send.body)
	case evReset:
		if s.failure == nil {
			s.failure = ev.err
		}
		s.setState(Closed)
	case evFail:
		if s.failure == nil {
			s.failure = ev.err
		}
		s.setState(Closed)
	case evSettings:
		if err := s.fc.IncrementWindow(ev.windowDelta); err != nil {
			s.log.Warn("settings window adjustment", zap.Error(err))
		}
		s.fc.SetMaxFrameSize(ev.maxFrameSize)
		s.flush()
	case evClose:
		if s.failure == nil {
			s.failure = ErrCanceled
		}
		s.setState(Closed)
	}
}

func (s *Stream) handleFrame(f frame.Frame, fields []hpack.HeaderField) {
	switch fr := f.(type) {
	case frame.Data:
		s.body.Write(fr.Data)
		if !fr.EndStream {
			return
		}
		if s.state == HalfClosedLocal {
			s.setState(Closed)
		} else {
			s.setState(HalfClosedRemote)
		}

	case frame.Headers:
		s.headers = append(s.headers, fields...)
		if fr.EndStream {
			s.setState(HalfClosedRemote)
		}

	case frame.Continuation:
		s.headers = append(s.headers, fields...)

	case frame.PushPromise:
		if s.state != Idle {
			s.ignore(f)
			return
		}
		s.setState(ReservedRemote)
		if s.delivery != nil {
			s.delivery.OnPush(&PushPromise{
				StreamID:   fr.StreamID(),
				PromisedID: s.id,
				Headers:    fields,
			})
		}

	case frame.WindowUpdate:
		if err := s.fc.IncrementWindow(int32(fr.Increment)); err != nil {
			s.log.Warn("window update", zap.Error(err))
			return
		}
		s.flush()

	default:
		s.ignore(f)
	}
}

// ignore keeps liveness against protocol extensions and event/state pairs
// this engine does not know: logged, never a failure.
func (s *Stream) ignore(f frame.Frame) {
	s.log.Warn("ignoring frame",
		zap.String("frame-type", f.Type().String()),
		zap.String("state", s.state.String()),
	)
}

func (s *Stream) sendHeaders(headers []hpack.HeaderField, body []byte) error {
	if s.state != Idle {
		return fmt.Errorf("stream %d: send_headers in state %s", s.id, s.state)
	}

	block, err := s.enc.EncodeHeaders(headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	flags := http2.FlagHeadersEndHeaders
	if len(body) == 0 {
		flags |= http2.FlagHeadersEndStream
	}
	b, err := frame.Encode(http2.FrameHeaders, flags, s.id, block)
	if err != nil {
		return err
	}
	if err := s.transport.Send(b); err != nil {
		return fmt.Errorf("send headers: %w", err)
	}

	s.setState(Open)
	if len(body) == 0 {
		s.setState(HalfClosedLocal)
		return nil
	}

	s.fc.Add(body, true)
	s.flush()
	return nil
}

func (s *Stream) flush() {
	for _, c := range s.fc.Process() {
		var flags http2.Flags
		if c.EndStream {
			flags = http2.FlagDataEndStream
		}
		b, err := frame.Encode(http2.FrameData, flags, s.id, c.Data)
		if err != nil {
			s.log.Error("encode data frame", zap.Error(err))
			return
		}
		if err := s.transport.SendData(b, uint32(len(c.Data))); err != nil {
			if s.failure == nil {
				s.failure = err
			}
			s.setState(Closed)
			return
		}
		if c.EndStream && s.state == Open {
			s.setState(HalfClosedLocal)
		}
	}
}

func (s *Stream) setState(next State) {
	if s.state == next || s.state == Closed {
		return
	}
	s.state = next
	s.stateView.Store(int32(next))

	switch next {
	case HalfClosedRemote:
		// Remote half-close is stream completion from the local side:
		// reset the stream and finish.
		if err := s.transport.Send(frame.BuildRSTStream(s.id, http2.ErrCodeNo)); err != nil {
			s.log.Debug("send rst_stream", zap.Error(err))
		}
		s.setState(Closed)
	case Closed:
		s.deliverResponse()
	}
}

func (s *Stream) deliverResponse() {
	if s.delivered {
		return
	}
	s.delivered = true

	resp := &Response{
		StreamID:  s.id,
		RequestID: s.requestID,
		Status:    statusFrom(s.headers),
		Headers:   s.headers,
		Body:      s.body.Bytes(),
		Err:       s.failure,
	}
	if s.callback != nil {
		s.callback(resp)
	}
	if s.delivery != nil {
		s.delivery.OnResponse(resp)
	}
}

func statusFrom(headers []hpack.HeaderField) int {
	for _, f := range headers {
		if f.Name != ":status" {
			continue
		}
		if status, err := strconv.Atoi(f.Value); err == nil {
			return status
		}
	}
	return 0
}
