package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/h2wire/h2wire/client"
	"github.com/h2wire/h2wire/conn"
	"github.com/h2wire/h2wire/hpack"
	"github.com/h2wire/h2wire/report"
)

type GetCommand struct {
	URL string `arg:"" required:"" help:"Target URL (https://host[:port]/path)."`

	Method   string   `default:"GET" help:"Request method."`
	Header   []string `short:"H" help:"Extra header ('name: value'), repeatable."`
	Body     string   `help:"Request body."`
	BodyFile *os.File `help:"Read request body from file."`

	Timeout  time.Duration `default:"5s" help:"Response timeout."`
	Insecure bool          `help:"Skip TLS certificate verification."`

	JSONReport string `help:"Write per-exchange JSON lines to file." type:"path"`
	Stats      bool   `help:"Print per-second aggregate stats."`

	Verbose bool `help:"Verbose output."`
}

func (c *GetCommand) Run(ctx context.Context) (err error) {
	log := zap.NewNop()
	if c.Verbose {
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck
	}

	req, addr, err := c.request()
	if err != nil {
		return err
	}

	sinks := []report.Sink{report.NewNoop()}
	if c.Stats {
		sinks = append(sinks, report.NewStats(os.Stderr))
	}
	if c.JSONReport != "" {
		f, err := os.Create(c.JSONReport)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer multierr.AppendInvoke(&err, multierr.Close(f))
		sinks = append(sinks, report.NewJSONLines(f))
	}

	cl, err := client.Dial(
		ctx, addr,
		&tls.Config{InsecureSkipVerify: c.Insecure}, //nolint:gosec
		report.NewMulti(sinks...),
		log,
		conn.WithResponseTimeout(c.Timeout),
	)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(cl.Close))

	resp, err := cl.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return resp.Err
	}

	fmt.Printf("status: %d\n", resp.Status)
	for _, f := range resp.Headers {
		if !strings.HasPrefix(f.Name, ":") {
			fmt.Printf("%s: %s\n", f.Name, f.Value)
		}
	}
	fmt.Printf("body: %s\n\n", humanize.IBytes(uint64(len(resp.Body))))
	_, err = os.Stdout.Write(resp.Body)
	return err
}

func (c *GetCommand) request() (*client.Request, string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme %q, only https is spoken", u.Scheme)
	}

	addr := u.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "443")
	}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	body := []byte(c.Body)
	if c.BodyFile != nil {
		defer c.BodyFile.Close() //nolint:errcheck
		body, err = os.ReadFile(c.BodyFile.Name())
		if err != nil {
			return nil, "", fmt.Errorf("read body file: %w", err)
		}
	}

	headers := make([]hpack.HeaderField, 0, len(c.Header))
	for _, h := range c.Header {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, "", fmt.Errorf("malformed header %q, want 'name: value'", h)
		}
		headers = append(headers, hpack.HeaderField{
			Name:  strings.ToLower(strings.TrimSpace(name)),
			Value: strings.TrimSpace(value),
		})
	}

	return &client.Request{
		Method:    c.Method,
		Scheme:    u.Scheme,
		Authority: u.Host,
		Path:      path,
		Headers:   headers,
		Body:      body,
	}, addr, nil
}
