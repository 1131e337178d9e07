// Command issue-token prints a signed API token for local testing and for
// provisioning driver devices.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"backend-shuttletrack/internal/auth"
	"backend-shuttletrack/internal/config"
)

var loadConfig = config.Load

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "issue-token:", err)
		os.Exit(2)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("sub", "", "token subject, e.g. a driver id")
	role := fs.String("role", auth.RoleDriver, "driver, dispatcher or passenger")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *role {
	case auth.RoleDriver, auth.RoleDispatcher, auth.RolePassenger:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}
	if *ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	token, err := auth.NewIssuer(loadConfig().JWTSecret).Issue(*subject, *role, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
