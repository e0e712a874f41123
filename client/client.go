// Package client is the user-facing surface of the engine: it dials,
// handshakes, and turns Request values into streams on a single connection.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/h2wire/h2wire/conn"
	"github.com/h2wire/h2wire/hpack"
	"github.com/h2wire/h2wire/report"
	"github.com/h2wire/h2wire/stream"
)

var ErrInvalidRequest = errors.New("client: invalid request")

// Request is one HTTP/2 exchange to perform. Header names must be
// lowercase; pseudo-headers are filled in from the dedicated fields and
// must not appear in Headers.
type Request struct {
	Method    string
	Scheme    string // defaults to "https"
	Authority string
	Path      string // defaults to "/"

	Headers []hpack.HeaderField
	Body    []byte
}

// fields assembles the header list in wire order: pseudo-headers first.
func (r *Request) fields() ([]hpack.HeaderField, error) {
	if r.Method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	if r.Authority == "" {
		return nil, fmt.Errorf("%w: authority is required", ErrInvalidRequest)
	}
	scheme := r.Scheme
	if scheme == "" {
		scheme = "https"
	}
	path := r.Path
	if path == "" {
		path = "/"
	}

	fields := make([]hpack.HeaderField, 0, 4+len(r.Headers))
	fields = append(fields,
		hpack.HeaderField{Name: ":method", Value: r.Method},
		hpack.HeaderField{Name: ":scheme", Value: scheme},
		hpack.HeaderField{Name: ":path", Value: path},
		hpack.HeaderField{Name: ":authority", Value: r.Authority},
	)
	for _, f := range r.Headers {
		if strings.HasPrefix(f.Name, ":") {
			return nil, fmt.Errorf("%w: pseudo-header %q in Headers", ErrInvalidRequest, f.Name)
		}
		if f.Name != strings.ToLower(f.Name) {
			return nil, fmt.Errorf("%w: header %q is not lowercase", ErrInvalidRequest, f.Name)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Client multiplexes requests onto one HTTP/2 connection. Every terminal
// response also reaches the sink, including those returned from Do.
type Client struct {
	conn   *conn.Conn
	sink   report.Sink
	log    *zap.Logger
	cancel context.CancelFunc
	runErr chan error
}

// New performs the connection handshake on nc and starts the engine. The
// returned client is ready for Do calls; Close releases it.
func New(ctx context.Context, nc net.Conn, sink report.Sink, log *zap.Logger, opts ...conn.Option) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = report.NewNoop()
	}

	c := conn.New(nc, sink, log, opts...)
	if err := c.Handshake(ctx); err != nil {
		return nil, multierr.Append(err, nc.Close())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cl := &Client{
		conn:   c,
		sink:   sink,
		log:    log.Named("client"),
		cancel: cancel,
		runErr: make(chan error, 2),
	}
	go func() { cl.runErr <- c.Run(runCtx) }()
	go func() { cl.runErr <- sink.Run() }()
	return cl, nil
}

// Dial connects to addr over TLS with the "h2" protocol negotiated and
// returns a ready client.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, sink report.Sink, log *zap.Logger, opts ...conn.Option) (*Client, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{"h2"}
	if tlsConf.ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("client: split addr: %w", err)
		}
		tlsConf.ServerName = host
	}

	d := &tls.Dialer{Config: tlsConf}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	if proto := nc.(*tls.Conn).ConnectionState().NegotiatedProtocol; proto != "h2" {
		return nil, multierr.Append(
			fmt.Errorf("client: server negotiated %q, not h2", proto),
			nc.Close(),
		)
	}
	return New(ctx, nc, sink, log, opts...)
}

// Do performs one request and blocks until its terminal response, the
// context, or the connection ends. A response carrying a stream-level
// failure is returned with resp.Err set, not as Do's error.
func (c *Client) Do(ctx context.Context, req *Request) (*stream.Response, error) {
	fields, err := req.fields()
	if err != nil {
		return nil, err
	}

	got := make(chan *stream.Response, 1)
	s, err := c.conn.OpenStream(fields, req.Body, func(r *stream.Response) { got <- r })
	if err != nil {
		return nil, err
	}

	select {
	case r := <-got:
		return r, nil
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// DoAsync issues the request without waiting; the terminal response reaches
// the sink only.
func (c *Client) DoAsync(req *Request) error {
	fields, err := req.fields()
	if err != nil {
		return err
	}
	_, err = c.conn.OpenStream(fields, req.Body, nil)
	return err
}

// Streams reports how many exchanges are currently in flight.
func (c *Client) Streams() int { return c.conn.Streams() }

// Close tears down the connection and the sink. In-flight requests fail.
func (c *Client) Close() error {
	c.cancel()
	err := <-c.runErr
	err = multierr.Append(err, c.sink.Close())
	return multierr.Append(err, <-c.runErr)
}
