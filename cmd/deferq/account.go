package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/viant/deferq"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/model/fault"
	"github.com/viant/deferq/service/ledger"
	"github.com/viant/deferq/service/poll"
	"github.com/viant/deferq/service/program/state"
)

type accountView struct {
	Address   string `yaml:"address"`
	Side      string `yaml:"side"`
	Present   bool   `yaml:"present"`
	State     string `yaml:"state,omitempty"`
	Validator string `yaml:"validator,omitempty"`
	Value     string `yaml:"value,omitempty"`
	Commits   uint64 `yaml:"commits"`
	Settled   bool   `yaml:"settled"`
}

func newAccountView(side account.Side, snapshot *account.Snapshot) *accountView {
	ret := &accountView{
		Address: snapshot.Address.String(),
		Side:    string(side),
		Present: snapshot.Present,
		State:   string(snapshot.State),
		Commits: snapshot.Commits,
	}
	if !snapshot.Validator.IsZero() {
		ret.Validator = snapshot.Validator.String()
	}
	if value, ok := state.Value(snapshot.Payload); ok {
		ret.Value = fmt.Sprint(value)
	} else if len(snapshot.Payload) > 0 {
		ret.Value = "0x" + hex.EncodeToString(snapshot.Payload)
	}
	if side == account.SideBase {
		ret.Settled = account.IsSettled(snapshot)
	}
	return ret
}

type transactionView struct {
	Signature string   `yaml:"signature"`
	Side      string   `yaml:"side"`
	Logs      []string `yaml:"logs"`
}

// submit runs ix on the ledger of side and fails unless it confirmed.
func submit(ctx context.Context, srv *deferq.Service, side account.Side, signer address.Address, ix compiled.Instruction) (*transactionView, error) {
	tx, err := compiled.Compile([]compiled.Instruction{ix}, nil)
	if err != nil {
		return nil, err
	}
	client := srv.Ledger(side)
	signature, err := client.Submit(ctx, tx, signer)
	if err != nil {
		return nil, err
	}
	summary, err := client.AwaitConfirmation(ctx, signature)
	if err != nil {
		return nil, err
	}
	if summary.Status != ledger.StatusConfirmed {
		return nil, fmt.Errorf("transaction %s failed: %s", signature, summary.Err)
	}
	return &transactionView{Signature: signature, Side: string(side), Logs: summary.Logs}, nil
}

func parseSide(text string) (account.Side, error) {
	switch side := account.Side(text); side {
	case account.SideBase, account.SideEphemeral:
		return side, nil
	}
	return "", fmt.Errorf("unsupported side %q", text)
}

func accountCommand(a *app) *Command {
	return &Command{
		Name:    "account",
		Summary: "Manage delegatable accounts",
		Subcommands: []*Command{
			accountInitCommand(a),
			accountDelegateCommand(a),
			accountMutateCommand(a),
			accountCommitCommand(a),
			accountUndelegateCommand(a),
			accountSettleCommand(a),
			accountCloseCommand(a),
			accountShowCommand(a),
		},
	}
}

func accountInitCommand(a *app) *Command {
	var owner, contextRef string
	var value uint64
	return &Command{
		Name:    "init",
		Summary: "Create the delegatable account of an owner",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("init")
			flagSet.StringVar(&owner, "owner", "", "account owner")
			flagSet.StringVar(&contextRef, "context", "", "context account referenced by the account")
			flagSet.Uint64Var(&value, "value", 0, "initial value")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("owner", owner)
			if err != nil {
				return err
			}
			var ref address.Address
			if contextRef != "" {
				if ref, err = parseAddress("context", contextRef); err != nil {
					return err
				}
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				acct, err := srv.Delegation().Initialize(ctx, ownerAddr, ref, state.Payload(value))
				if err != nil {
					return err
				}
				return a.print(newAccountView(account.SideBase, acct.View(account.SideBase)))
			})
		},
	}
}

func accountDelegateCommand(a *app) *Command {
	var owner, validator string
	return &Command{
		Name:    "delegate",
		Summary: "Delegate an account to a validator on the ephemeral side",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("delegate")
			flagSet.StringVar(&owner, "owner", "", "account owner, signs the delegation")
			flagSet.StringVar(&validator, "validator", "", "validator receiving write authority")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("owner", owner)
			if err != nil {
				return err
			}
			validatorAddr, err := parseAddress("validator", validator)
			if err != nil {
				return err
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				view, err := submit(ctx, srv, account.SideBase, ownerAddr, state.Delegate(ownerAddr, address.User(ownerAddr), validatorAddr))
				if err != nil {
					return err
				}
				return a.print(view)
			})
		},
	}
}

func accountMutateCommand(a *app) *Command {
	var owner, caller, side string
	var value uint64
	var commit bool
	return &Command{
		Name:    "mutate",
		Summary: "Store a new value from the base layer or the ephemeral side",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("mutate")
			flagSet.StringVar(&owner, "account", "", "owner of the account")
			flagSet.StringVar(&caller, "caller", "", "signer, the owner on base or the validator on ephemeral")
			flagSet.StringVar(&side, "side", string(account.SideBase), "base or ephemeral")
			flagSet.Uint64Var(&value, "value", 0, "value to store")
			flagSet.BoolVar(&commit, "commit", false, "commit the value toward the base layer")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("account", owner)
			if err != nil {
				return err
			}
			callerAddr, err := parseAddress("caller", caller)
			if err != nil {
				return err
			}
			aSide, err := parseSide(side)
			if err != nil {
				return err
			}
			ix := state.Update(callerAddr, address.User(ownerAddr), value)
			if commit {
				ix = state.UpdateCommit(callerAddr, address.User(ownerAddr), value)
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				view, err := submit(ctx, srv, aSide, callerAddr, ix)
				if err != nil {
					return err
				}
				return a.print(view)
			})
		},
	}
}

func accountCommitCommand(a *app) *Command {
	var owner, validator string
	var value uint64
	return &Command{
		Name:    "commit",
		Summary: "Store a value on the ephemeral side and commit it toward the base layer",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("commit")
			flagSet.StringVar(&owner, "account", "", "owner of the account")
			flagSet.StringVar(&validator, "validator", "", "delegated validator, signs the commit")
			flagSet.Uint64Var(&value, "value", 0, "value to store and commit")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("account", owner)
			if err != nil {
				return err
			}
			validatorAddr, err := parseAddress("validator", validator)
			if err != nil {
				return err
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				view, err := submit(ctx, srv, account.SideEphemeral, validatorAddr, state.UpdateCommit(validatorAddr, address.User(ownerAddr), value))
				if err != nil {
					return err
				}
				return a.print(view)
			})
		},
	}
}

func accountUndelegateCommand(a *app) *Command {
	var owner, validator string
	return &Command{
		Name:    "undelegate",
		Summary: "Return an account to the base layer once settled",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("undelegate")
			flagSet.StringVar(&owner, "account", "", "owner of the account")
			flagSet.StringVar(&validator, "validator", "", "delegated validator, signs the undelegation")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("account", owner)
			if err != nil {
				return err
			}
			validatorAddr, err := parseAddress("validator", validator)
			if err != nil {
				return err
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				view, err := submit(ctx, srv, account.SideEphemeral, validatorAddr, state.Undelegate(validatorAddr, address.User(ownerAddr)))
				if err != nil {
					return err
				}
				return a.print(view)
			})
		},
	}
}

func accountSettleCommand(a *app) *Command {
	var owner string
	var wait time.Duration
	return &Command{
		Name:    "settle",
		Summary: "Apply a pending commit or undelegation whose settlement delay elapsed",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("settle")
			flagSet.StringVar(&owner, "account", "", "owner of the account")
			flagSet.DurationVar(&wait, "wait", 0, "keep retrying until settled or wait elapsed")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("account", owner)
			if err != nil {
				return err
			}
			addr := address.User(ownerAddr)
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				var acct *account.Delegatable
				settle := func(ctx context.Context) (bool, error) {
					var err error
					acct, err = srv.Delegation().Settle(ctx, addr)
					if errors.Is(err, fault.ErrSettlementNotFinalized) && wait > 0 {
						return false, nil
					}
					return err == nil, err
				}
				if wait > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, wait)
					defer cancel()
					err = poll.Until(ctx, poll.Fixed(100*time.Millisecond, 0), settle)
				} else {
					_, err = settle(ctx)
				}
				if err != nil {
					return err
				}
				return a.print(newAccountView(account.SideBase, acct.View(account.SideBase)))
			})
		},
	}
}

func accountCloseCommand(a *app) *Command {
	var owner string
	return &Command{
		Name:    "close",
		Summary: "Close a settled account",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("close")
			flagSet.StringVar(&owner, "owner", "", "account owner")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("owner", owner)
			if err != nil {
				return err
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				addr := address.User(ownerAddr)
				if err := srv.Delegation().Close(ctx, ownerAddr, addr); err != nil {
					return err
				}
				return a.print(map[string]string{"closed": addr.String()})
			})
		},
	}
}

func accountShowCommand(a *app) *Command {
	var owner, side string
	return &Command{
		Name:    "show",
		Summary: "Show an account as observed from one side",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("show")
			flagSet.StringVar(&owner, "account", "", "owner of the account")
			flagSet.StringVar(&side, "side", string(account.SideBase), "base or ephemeral")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("account", owner)
			if err != nil {
				return err
			}
			aSide, err := parseSide(side)
			if err != nil {
				return err
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				snapshot, err := srv.Delegation().Snapshot(ctx, aSide, address.User(ownerAddr))
				if err != nil {
					return err
				}
				return a.print(newAccountView(aSide, snapshot))
			})
		},
	}
}
