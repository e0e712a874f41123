// Package report collects finished exchanges. A Sink receives every
// terminal response and every push promise the engine sees; implementations
// range from per-second console stats to machine-readable JSON lines.
package report

import (
	"golang.org/x/sync/errgroup"

	"github.com/h2wire/h2wire/stream"
)

// Sink consumes delivery events. OnResponse and OnPush must be safe for
// concurrent use: stream goroutines call them directly. Run drains any
// internal buffering until Close.
type Sink interface {
	stream.Delivery
	Run() error
	Close() error
}

// Multi fans every event out to all nested sinks.
type Multi struct {
	nested []Sink
}

func NewMulti(nested ...Sink) *Multi {
	return &Multi{nested}
}

func (m *Multi) Run() error {
	g := new(errgroup.Group)
	for _, s := range m.nested {
		g.Go(s.Run)
	}
	return g.Wait()
}

func (m *Multi) Close() error {
	g := new(errgroup.Group)
	for _, s := range m.nested {
		g.Go(s.Close)
	}
	return g.Wait()
}

func (m *Multi) OnResponse(r *stream.Response) {
	for _, s := range m.nested {
		s.OnResponse(r)
	}
}

func (m *Multi) OnPush(pp *stream.PushPromise) {
	for _, s := range m.nested {
		s.OnPush(pp)
	}
}

// Noop drops everything.
type Noop struct {
	close chan struct{}
}

func NewNoop() *Noop {
	return &Noop{make(chan struct{})}
}

func (n *Noop) Run() error {
	<-n.close
	return nil
}

func (n *Noop) Close() error {
	close(n.close)
	return nil
}

func (n *Noop) OnResponse(*stream.Response) {}
func (n *Noop) OnPush(*stream.PushPromise)  {}

// Channel hands events to the consumer over buffered channels; events that
// find the buffer full are dropped rather than blocking a stream goroutine.
type Channel struct {
	responses chan *stream.Response
	pushes    chan *stream.PushPromise
	close     chan struct{}
}

func NewChannel(size int) *Channel {
	return &Channel{
		responses: make(chan *stream.Response, size),
		pushes:    make(chan *stream.PushPromise, size),
		close:     make(chan struct{}),
	}
}

func (c *Channel) Responses() <-chan *stream.Response { return c.responses }
func (c *Channel) Pushes() <-chan *stream.PushPromise { return c.pushes }

func (c *Channel) Run() error {
	<-c.close
	return nil
}

func (c *Channel) Close() error {
	close(c.close)
	return nil
}

func (c *Channel) OnResponse(r *stream.Response) {
	select {
	case c.responses <- r:
	default:
	}
}

func (c *Channel) OnPush(pp *stream.PushPromise) {
	select {
	case c.pushes <- pp:
	default:
	}
}
