// Package conn runs one HTTP/2 client connection: it performs the preface
// and settings exchange, splits transport bytes into typed frames, routes
// each frame to its stream's state machine, and owns the two header
// compression contexts (one per direction) on behalf of all streams.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"

	"github.com/h2wire/h2wire/consts"
	"github.com/h2wire/h2wire/flowcontrol"
	"github.com/h2wire/h2wire/frame"
	"github.com/h2wire/h2wire/frameheader"
	"github.com/h2wire/h2wire/hpack"
	"github.com/h2wire/h2wire/stream"
	"github.com/h2wire/h2wire/streams/limiter"
	"github.com/h2wire/h2wire/streams/store"
)

var (
	ErrConnectionClosed = errors.New("conn: connection closed")
	ErrGoingAway        = errors.New("conn: connection is going away")
	ErrResponseTimeout  = errors.New("conn: response timeout")
	ErrHandshake        = errors.New("conn: handshake failed")
)

// settings holds the live negotiated values. The receive loop writes them
// on SETTINGS frames; stream creation reads them.
type settings struct {
	mu                   sync.Mutex
	initialWindowSize    uint32
	maxFrameSize         int
	maxConcurrentStreams uint32
}

func (s *settings) snapshot() (initialWindow uint32, maxFrame int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialWindowSize, s.maxFrameSize
}

type Conn struct {
	nc       net.Conn
	log      *zap.Logger
	delivery stream.Delivery

	enc *headerEncoder
	dec *hpack.Decoder // owned by the receive loop

	streams  *store.Sharded[*stream.Stream]
	limiter  limiter.Limiter
	fcConn   *flowcontrol.ConnWindow
	timeouts *timeoutQueue

	// sp carries partial frames across reads; shared by Handshake and the
	// receive loop so bytes coalesced with the server's SETTINGS survive.
	sp splitter

	writeCh    chan []byte
	priorityCh chan []byte
	sendQ      *sendQueue

	settings settings

	respTimeout time.Duration

	nextID    atomic.Uint32
	goingAway atomic.Bool

	done      chan struct{}
	closeOnce sync.Once

	// receive-side DATA accounting for window replenishment
	windowDebt int
}

var connSeq atomic.Uint32

type Option func(*Conn)

// WithResponseTimeout changes how long a stream may wait for its terminal
// response before being force-closed.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Conn) { c.respTimeout = d }
}

// New wraps an established transport. The caller must run Handshake before
// Run, and Run before opening streams.
func New(nc net.Conn, delivery stream.Delivery, log *zap.Logger, opts ...Option) *Conn {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Conn{
		nc:          nc,
		log:         log.Named("conn").With(zap.Uint32("conn-id", connSeq.Add(1))),
		delivery:    delivery,
		dec:         hpack.NewDecoder(consts.DefaultMaxDynamicTableSize),
		streams:     store.NewSharded[*stream.Stream](16, func() store.Store[*stream.Stream] { return store.NewMap[*stream.Stream](16) }),
		limiter:     limiter.New(0),
		fcConn:      flowcontrol.NewConnWindow(consts.DefaultInitialWindowSize),
		writeCh:     make(chan []byte, 64),
		priorityCh:  make(chan []byte, 8),
		sendQ:       newSendQueue(),
		respTimeout: consts.ResponseTimeout,
		done:        make(chan struct{}),
	}
	c.enc = newHeaderEncoder(consts.DefaultMaxDynamicTableSize, c.done)
	c.settings.initialWindowSize = consts.DefaultInitialWindowSize
	c.settings.maxFrameSize = consts.DefaultMaxFrameSize
	c.nextID.Store(1)
	for _, o := range opts {
		o(c)
	}
	c.timeouts = newTimeoutQueue(c.respTimeout)
	return c
}

// Handshake sends the connection preface and empty SETTINGS, applies the
// server's SETTINGS, and acknowledges them.
func (c *Conn) Handshake(ctx context.Context) error {
	deadline := time.Now().Add(consts.ReceiveTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}

	if _, err := c.nc.Write(frame.Preface()); err != nil {
		return fmt.Errorf("%w: write preface: %w", ErrHandshake, err)
	}
	if _, err := c.nc.Write(frame.BuildSettings()); err != nil {
		return fmt.Errorf("%w: write settings: %w", ErrHandshake, err)
	}

	f, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("%w: read settings: %w", ErrHandshake, err)
	}
	sf, ok := f.(frame.Settings)
	if !ok || sf.Ack {
		return fmt.Errorf("%w: first frame from server is %s, not settings", ErrHandshake, f.Type())
	}
	c.applySettings(sf.Settings, true)

	if _, err := c.nc.Write(frame.BuildSettingsAck()); err != nil {
		return fmt.Errorf("%w: write settings ack: %w", ErrHandshake, err)
	}
	return c.nc.SetDeadline(time.Time{})
}

// readFrame reads whole frames synchronously; only used by the handshake,
// before the receive loop starts. Bytes beyond the returned frame stay in
// the splitter for the receive loop.
func (c *Conn) readFrame() (frame.Frame, error) {
	buf := make([]byte, consts.ReceiveBufferSize)
	for {
		if h, payload, ok := c.sp.next(); ok {
			return frame.Parse(h, payload)
		}
		n, err := c.nc.Read(buf)
		if err != nil {
			return nil, err
		}
		c.sp.feed(buf[:n])
	}
}

// Run drives the connection until the context is canceled or the transport
// fails. On return every remaining stream has been failed and the socket
// closed.
func (c *Conn) Run(ctx context.Context) (err error) {
	defer func() {
		failure := err
		if failure == nil {
			failure = ErrConnectionClosed
		}
		c.streams.Each(func(s *stream.Stream) { s.Fail(failure) })
		err = multierr.Append(err, c.nc.Close())
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		// release everything the other loops may be blocked on
		c.goingAway.Store(true)
		c.closeOnce.Do(func() { close(c.done) })
		c.fcConn.Disable()
		c.timeouts.Close()
		c.sendQ.close()
		return c.nc.SetDeadline(time.Now())
	})
	g.Go(func() error {
		return c.readLoop(ctx)
	})
	g.Go(func() error {
		return c.writeLoop(ctx)
	})
	g.Go(func() error {
		return c.sendLoop()
	})
	g.Go(func() error {
		c.enc.run()
		return nil
	})
	g.Go(func() error {
		c.timeoutLoop()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (c *Conn) readLoop(ctx context.Context) error {
	defer c.log.Debug("receive loop done")

	buf := make([]byte, consts.ReceiveBufferSize)
	for {
		// drain carried-over frames (handshake leftovers included) before
		// blocking on the transport
		for {
			h, payload, ok := c.sp.next()
			if !ok {
				break
			}
			if err := c.dispatch(h, payload); err != nil {
				return err
			}
		}

		if err := c.nc.SetReadDeadline(time.Now().Add(consts.ReceiveTimeout)); err != nil {
			return err
		}
		n, err := c.nc.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}
		c.sp.feed(buf[:n])
	}
}

// dispatch routes one raw frame. Returned errors are connection-fatal:
// codec failures and header-compression corruption make the shared table
// state unreliable, so the whole connection is torn down.
func (c *Conn) dispatch(h frameheader.FrameHeader, payload []byte) error {
	f, err := frame.Parse(h, payload)
	if err != nil {
		var streamErr frame.StreamError
		if errors.As(err, &streamErr) {
			// per-stream failure signal, not connection-fatal
			if s := c.streams.GetAndDelete(streamErr.StreamID); s != nil {
				s.Reset(streamErr.Code)
			} else {
				c.log.Debug("rst_stream for unknown stream",
					zap.Uint32("stream-id", streamErr.StreamID))
			}
			return nil
		}
		var goAwayErr frame.GoAwayError
		if errors.As(err, &goAwayErr) {
			return c.handleGoAway(goAwayErr)
		}
		return fmt.Errorf("decode frame: %w", err)
	}

	if f.StreamID() == 0 {
		c.handleConnFrame(f)
		return nil
	}
	return c.dispatchStreamFrame(f)
}

func (c *Conn) dispatchStreamFrame(f frame.Frame) error {
	var fields []hpack.HeaderField
	var err error
	target := f.StreamID()

	switch fr := f.(type) {
	case frame.Headers:
		fields, err = c.dec.Decode(fr.Fragment)
	case frame.Continuation:
		fields, err = c.dec.Decode(fr.Fragment)
	case frame.PushPromise:
		// the promise addresses an existing stream but reserves a new
		// one; route it to the promised stream, created on first
		// reference
		fields, err = c.dec.Decode(fr.Fragment)
		target = fr.PromisedID
	case frame.Data:
		c.replenishWindow(len(fr.Data))
	}
	if err != nil {
		// compression state is now unreliable for every later block
		return fmt.Errorf("header block: %w", err)
	}

	s := c.streams.Get(target)
	if s == nil {
		if _, promised := f.(frame.PushPromise); promised {
			s = c.newStream(target, nil, false)
		} else {
			c.log.Warn("frame for unknown stream",
				zap.Uint32("stream-id", target),
				zap.String("frame-type", f.Type().String()))
			return nil
		}
	}
	s.HandleFrame(f, fields)
	return nil
}

// replenishWindow grants the peer connection-level window back once a
// quarter of the initial window has been consumed by DATA frames.
// Stream-level windows are never replenished: a single response body larger
// than the initial stream window stalls until the response timeout.
func (c *Conn) replenishWindow(n int) {
	c.windowDebt += n
	if c.windowDebt < consts.WindowUpdateThreshold {
		return
	}
	c.sendPriority(frame.BuildWindowUpdate(0, uint32(c.windowDebt)))
	c.windowDebt = 0
}

func (c *Conn) handleConnFrame(f frame.Frame) {
	switch fr := f.(type) {
	case frame.Settings:
		if fr.Ack {
			return
		}
		c.applySettings(fr.Settings, false)
		c.sendPriority(frame.BuildSettingsAck())
	case frame.Ping:
		if !fr.Ack {
			c.sendPriority(frame.BuildPing(fr.Data, true))
		}
	case frame.WindowUpdate:
		c.fcConn.Add(fr.Increment)
	default:
		c.log.Warn("ignoring connection-level frame",
			zap.String("frame-type", f.Type().String()))
	}
}

func (c *Conn) applySettings(incoming []http2.Setting, handshake bool) {
	logFields := make([]zap.Field, 0, len(incoming))
	for _, s := range incoming {
		logFields = append(logFields, zap.Uint32("setting_"+s.ID.String(), s.Val))

		switch s.ID {
		case http2.SettingInitialWindowSize:
			c.settings.mu.Lock()
			delta := int32(int64(s.Val) - int64(c.settings.initialWindowSize))
			c.settings.initialWindowSize = s.Val
			c.settings.mu.Unlock()
			if !handshake && delta != 0 {
				// applied retroactively to live streams; may push
				// their windows negative
				c.streams.Each(func(st *stream.Stream) {
					st.ApplySettings(delta, 0)
				})
			}
		case http2.SettingMaxFrameSize:
			c.settings.mu.Lock()
			c.settings.maxFrameSize = int(s.Val)
			c.settings.mu.Unlock()
			if !handshake {
				c.streams.Each(func(st *stream.Stream) {
					st.ApplySettings(0, int(s.Val))
				})
			}
		case http2.SettingMaxConcurrentStreams:
			c.settings.mu.Lock()
			c.settings.maxConcurrentStreams = s.Val
			c.settings.mu.Unlock()
			if handshake {
				c.limiter = limiter.New(s.Val)
			}
		case http2.SettingHeaderTableSize:
			if handshake {
				// the encode owner is not running yet
				c.enc.enc.SetMaxDynamicTableSize(s.Val)
			} else if err := c.enc.SetMaxDynamicTableSize(s.Val); err != nil {
				c.log.Warn("resize encoder table", zap.Error(err))
			}
		default:
			c.log.Debug("unsupported setting",
				zap.String("id", s.ID.String()), zap.Uint32("val", s.Val))
		}
	}
	c.log.Info("applied settings", logFields...)
}

func (c *Conn) handleGoAway(goAway frame.GoAwayError) error {
	c.goingAway.Store(true)
	c.log.Info("got goaway",
		zap.Uint32("last-stream-id", goAway.LastStreamID),
		zap.ByteString("debug-data", goAway.DebugData),
	)
	c.streams.Each(func(s *stream.Stream) {
		if s.ID() > goAway.LastStreamID {
			s.Fail(goAway)
		}
	})
	if goAway.Code != http2.ErrCodeNo {
		return goAway
	}
	return ErrConnectionClosed
}

func (c *Conn) writeLoop(ctx context.Context) error {
	defer c.log.Debug("write loop done")

	write := func(b []byte) error {
		_, err := c.nc.Write(b)
		return err
	}
	for {
		// priority frames (pings, acks, window updates) jump the queue
		select {
		case b := <-c.priorityCh:
			if err := write(b); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case b := <-c.priorityCh:
			if err := write(b); err != nil {
				return err
			}
		case b := <-c.writeCh:
			if err := write(b); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) sendPriority(b []byte) {
	select {
	case c.priorityCh <- b:
	case <-c.done:
	}
}

// Send implements stream.Transport: ordered, fire-and-forget delivery.
func (c *Conn) Send(b []byte) error {
	select {
	case c.writeCh <- b:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

// SendData implements stream.Transport. The frame is queued for the sender
// loop without blocking: a stream goroutine must never wait on the
// connection window itself, or the receive loop can back up behind its full
// event buffer and the stream-0 WINDOW_UPDATE that would grow the window is
// never read.
func (c *Conn) SendData(b []byte, price uint32) error {
	if !c.sendQ.push(outFrame{b, price}) {
		return ErrConnectionClosed
	}
	return nil
}

// sendLoop forwards flow-controlled frames in FIFO order, claiming
// connection-level window before each write.
func (c *Conn) sendLoop() error {
	for {
		f, ok := c.sendQ.pop()
		if !ok {
			return nil
		}
		if !c.fcConn.Wait(f.price) {
			return nil
		}
		if err := c.Send(f.b); err != nil {
			// only fails once the connection is already going down
			return nil
		}
	}
}

func (c *Conn) newStream(id uint32, callback func(*stream.Response), limited bool) *stream.Stream {
	initialWindow, maxFrame := c.settings.snapshot()
	s := stream.New(stream.Config{
		ID:                id,
		InitialWindowSize: initialWindow,
		MaxFrameSize:      maxFrame,
		Transport:         c,
		Encoder:           c.enc,
		Delivery:          c.delivery,
		Log:               c.log,
		Callback:          callback,
		OnClose: func(id uint32) {
			c.streams.Delete(id)
			if limited {
				c.limiter.Release()
			}
		},
	})
	c.streams.Set(id, s)
	c.timeouts.Add(id)
	return s
}

// OpenStream issues a request on a fresh stream: it claims a concurrency
// slot, sends the headers (and body, window permitting), and returns once
// the stream has acknowledged the send.
func (c *Conn) OpenStream(headers []hpack.HeaderField, body []byte, callback func(*stream.Response)) (*stream.Stream, error) {
	if c.goingAway.Load() {
		return nil, ErrGoingAway
	}
	c.limiter.WaitAllow()

	id := c.nextID.Add(2) - 2
	s := c.newStream(id, callback, true)
	if err := s.SendHeaders(headers, body); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (c *Conn) timeoutLoop() {
	for {
		id, ok := c.timeouts.Next()
		if !ok {
			return
		}
		if s := c.streams.Get(id); s != nil {
			c.log.Warn("response timeout", zap.Uint32("stream-id", id))
			s.Fail(ErrResponseTimeout)
		}
	}
}

// Streams reports how many streams are currently live.
func (c *Conn) Streams() int { return c.streams.Len() }

// Close tears the connection down without waiting for in-flight streams.
func (c *Conn) Close() error {
	c.goingAway.Store(true)
	c.closeOnce.Do(func() { close(c.done) })
	return c.nc.Close()
}
