package main

import (
	"context"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
)

var CLI struct {
	Get         GetCommand        `cmd:"" help:"Perform HTTP/2 requests and print the responses."`
	Man         mangokong.ManFlag `help:"Write man page." hidden:""`
	DebugServer bool              `help:"Enable debug server."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`h2wire is a standalone HTTP/2 client engine.

It speaks the binary framing layer directly: own frame codec, header
compression contexts and per-stream flow control, multiplexed over a single
connection.
		`),
	)

	if CLI.DebugServer {
		go func() {
			http.ListenAndServe(":8081", nil) //nolint:errcheck,gosec
		}()
	}

	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
