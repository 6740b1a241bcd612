package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/viant/deferq"
	"github.com/viant/deferq/service/crank"
)

type executionView struct {
	Task      string `yaml:"task"`
	Slot      uint16 `yaml:"slot"`
	Outcome   string `yaml:"outcome"`
	Signature string `yaml:"signature,omitempty"`
	Error     string `yaml:"error,omitempty"`
	Attempts  int    `yaml:"attempts"`
	Reclaimed bool   `yaml:"reclaimed,omitempty"`
}

func crankCommand(a *app) *Command {
	var once bool
	return &Command{
		Name:    "crank",
		Summary: "Execute due tasks; with --once run a single pass, otherwise run with the settler until interrupted",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("crank")
			flagSet.BoolVar(&once, "once", false, "execute currently due tasks and exit")
			return flagSet
		},
		Run: func(args []string) error {
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				if once {
					executions, err := srv.Crank().RunOnce(ctx)
					if err != nil {
						return err
					}
					settled, err := srv.Settler().RunOnce(ctx)
					if err != nil {
						return err
					}
					return a.print(map[string]any{"executions": executionViews(executions), "settled": settled})
				}
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if err := srv.Start(ctx); err != nil {
					return err
				}
				return a.print(srv.Crank().Progress())
			})
		},
	}
}

func executionViews(executions []*crank.Execution) []executionView {
	ret := make([]executionView, 0, len(executions))
	for _, execution := range executions {
		ret = append(ret, executionView{
			Task:      execution.Ref.Address.String(),
			Slot:      execution.Ref.Slot,
			Outcome:   string(execution.Outcome),
			Signature: execution.Signature,
			Error:     execution.Err,
			Attempts:  execution.Attempts,
			Reclaimed: execution.Reclaimed,
		})
	}
	return ret
}
