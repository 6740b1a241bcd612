package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/viant/deferq"
	"github.com/viant/deferq/internal/logging"
	"github.com/viant/deferq/model/address"
	"gopkg.in/yaml.v3"
)

// app carries the options shared by every command.
type app struct {
	stdout io.Writer
	stderr io.Writer
	state  string
	config string
}

func newApp(stdout, stderr io.Writer) *app {
	state := os.Getenv("DEFERQ_STATE")
	if state == "" {
		state = ".deferq"
	}
	return &app{stdout: stdout, stderr: stderr, state: state}
}

// flags returns a flag set with the shared --state and --config flags.
func (a *app) flags(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(&a.state, "state", a.state, "state directory, any afs URL (env DEFERQ_STATE); local directories may be shared by concurrent processes")
	flagSet.StringVar(&a.config, "config", a.config, "YAML or TOML configuration file")
	return flagSet
}

// open builds the service over the state directory.
func (a *app) open(ctx context.Context) (*deferq.Service, error) {
	cfg := deferq.DefaultConfig()
	if a.config != "" {
		var err error
		if cfg, err = deferq.LoadConfig(ctx, a.config); err != nil {
			return nil, err
		}
	}
	cfg.Store = deferq.StoreConfig{Kind: deferq.StoreFS, URL: a.state}
	logger := logging.NewWithWriter(a.stderr, "deferq", cfg.Logging)
	return deferq.New(deferq.WithConfig(cfg), deferq.WithLogger(logger))
}

// with opens the service, runs fn and shuts the service down.
func (a *app) with(fn func(ctx context.Context, srv *deferq.Service) error) error {
	ctx := context.Background()
	srv, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer srv.Shutdown()
	return fn(ctx, srv)
}

func (a *app) print(v any) error {
	encoder := yaml.NewEncoder(a.stdout)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

// parseAddress accepts a hex address or a principal name.
func parseAddress(flag, text string) (address.Address, error) {
	if text == "" {
		return address.Address{}, fmt.Errorf("--%s is required", flag)
	}
	if len(text) == 2*address.Size {
		if ret, err := address.Parse(text); err == nil {
			return ret, nil
		}
	}
	return address.Principal(text), nil
}

func root(a *app) *Command {
	return &Command{
		Name:    "deferq",
		Summary: "Deferred task queues and delegatable accounts",
		Subcommands: []*Command{
			queueCommand(a),
			authorityCommand(a),
			enqueueCommand(a),
			releaseCommand(a),
			accountCommand(a),
			crankCommand(a),
		},
		stderr: a.stderr,
	}
}
