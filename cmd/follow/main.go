// Command follow tracks a session from the passenger side and prints each
// change in what the passenger would see.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-shuttletrack/internal/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "follow:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("follow", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	base := fs.String("base", "http://localhost:8080", "API base URL")
	interval := fs.Duration("interval", 5*time.Second, "poll interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: follow [-base url] [-interval d] <tracking-ref>")
	}

	var last string
	poller := client.NewPoller(client.NewAPI(*base, ""), fs.Arg(0), *interval, func(v client.View) {
		if v.Message == last {
			return
		}
		last = v.Message
		fmt.Fprintf(out, "%s\t%s\n", v.State, v.Message)
	})
	return poller.Run(ctx)
}
