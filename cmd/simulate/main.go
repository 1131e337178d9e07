// Command simulate drives a fake vehicle toward a stop and reports its
// position the way a driver device would.
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
	"backend-shuttletrack/internal/shared/geo"
	"backend-shuttletrack/internal/tracking"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "simulate:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	base := fs.String("base", "http://localhost:8080", "API base URL")
	token := fs.String("token", os.Getenv("TRACKING_TOKEN"), "driver bearer token")
	lat := fs.Float64("lat", 0, "stop latitude")
	lng := fs.Float64("lng", 0, "stop longitude")
	dist := fs.Float64("distance", 5000, "starting distance from the stop in meters")
	speed := fs.Float64("speed", 40, "vehicle speed in km/h")
	every := fs.Duration("every", 2*time.Second, "interval between position changes")
	backup := fs.Duration("backup", 30*time.Second, "backup push interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: simulate -lat x -lng y [flags] <tracking-ref>")
	}
	dest := geo.Point{Lat: *lat, Lng: *lng}
	if !dest.Valid() {
		return errors.New("invalid stop coordinates")
	}

	src := client.NewLinearSource(dest, *dist, *speed, *every)
	reporter := client.NewReporter(client.NewAPI(*base, *token), fs.Arg(0), src, client.ReporterConfig{
		Throttle: *every,
		Backup:   *backup,
		OnResult: func(res tracking.PushResult) {
			eta := "-"
			if res.ETAMinutes != nil {
				eta = fmt.Sprintf("%d", *res.ETAMinutes)
			}
			fmt.Fprintf(out, "status=%s stop=%d eta=%s notified=%v\n", res.Status, res.CurrentStopIndex, eta, res.Notified)
		},
		OnError: func(err error) { fmt.Fprintln(out, "error:", err) },
	})

	err := reporter.Run(ctx)
	if errors.Is(err, tracking.ErrSessionInactive) {
		fmt.Fprintln(out, "session ended")
		return nil
	}
	return err
}
