// Package config parses the CLI surface named in the external-interfaces
// contract: mutually exclusive host/join/discover subcommands. The
// interactive menu and full argument parser are themselves listed as an
// external collaborator out of scope for the core, but the flag
// grammar they must expose is specified, so it lives here as a small,
// directly testable parser using the standard flag package the way the
// teacher's own main.go does.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/melq/melq/internal/tunnel"
)

// Exit codes per the CLI contract.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitInterrupt = 130
)

// DefaultPort is the hub's default listening port. A second hub on the
// same machine falls through Listen's contention probing and binds the
// next free port above it instead.
const DefaultPort = 42045

type Mode int

const (
	ModeHost Mode = iota
	ModeJoin
	ModeDiscover
)

type HostConfig struct {
	Internet     bool
	LocalOnly    bool
	Password     string
	Tunnel       tunnel.Method
	Port         int
	CustomDomain string
}

type JoinConfig struct {
	ConnectionCode string
}

type DiscoverConfig struct {
	Timeout time.Duration
}

// Config is the parsed result of one CLI invocation.
type Config struct {
	Mode     Mode
	Host     HostConfig
	Join     JoinConfig
	Discover DiscoverConfig
}

// Parse interprets args (as in os.Args[1:]) into a Config, or returns an
// error describing what's wrong with the invocation. A parse error maps
// to ExitError at the call site; Parse never calls os.Exit itself.
func Parse(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected a subcommand: host, join, or discover")
	}

	switch args[0] {
	case "host":
		return parseHost(args[1:])
	case "join":
		return parseJoin(args[1:])
	case "discover":
		return parseDiscover(args[1:])
	default:
		return nil, fmt.Errorf("unknown subcommand %q: expected host, join, or discover", args[0])
	}
}

func parseHost(args []string) (*Config, error) {
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	internet := fs.Bool("internet", false, "advertise a public tunnel URL")
	localOnly := fs.Bool("local-only", false, "skip tunnel setup, LAN discovery only")
	password := fs.String("password", "", "require this password to join")
	tunnelMethod := fs.String("tunnel", string(tunnel.MethodAuto), "auto|localtunnel|ngrok|serveo|manual")
	port := fs.Int("port", DefaultPort, "local port to listen on")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *internet && *localOnly {
		return nil, fmt.Errorf("--internet and --local-only are mutually exclusive")
	}

	return &Config{
		Mode: ModeHost,
		Host: HostConfig{
			Internet:  *internet,
			LocalOnly: *localOnly,
			Password:  *password,
			Tunnel:    tunnel.Method(*tunnelMethod),
			Port:      *port,
		},
	}, nil
}

func parseJoin(args []string) (*Config, error) {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("join requires exactly one connection code argument")
	}
	return &Config{Mode: ModeJoin, Join: JoinConfig{ConnectionCode: fs.Arg(0)}}, nil
}

func parseDiscover(args []string) (*Config, error) {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "how long to wait for replies")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &Config{Mode: ModeDiscover, Discover: DiscoverConfig{Timeout: *timeout}}, nil
}
