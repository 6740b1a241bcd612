package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/viant/deferq"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/model/queue"
	"github.com/viant/deferq/model/task"
	"github.com/viant/deferq/policy"
	"github.com/viant/deferq/service/poll"
	"github.com/viant/deferq/service/program/memo"
	"github.com/viant/deferq/service/program/state"
	"github.com/viant/deferq/service/taskqueue"
)

type queueView struct {
	Address          string     `yaml:"address"`
	Namespace        string     `yaml:"namespace"`
	Name             string     `yaml:"name"`
	Owner            string     `yaml:"owner"`
	Capacity         uint32     `yaml:"capacity"`
	MinCrankReward   uint64     `yaml:"minCrankReward"`
	StaleTaskAge     string     `yaml:"staleTaskAge"`
	ReclaimAbandoned bool       `yaml:"reclaimAbandoned"`
	Occupied         []int      `yaml:"occupied"`
	Tasks            []taskView `yaml:"tasks,omitempty"`
}

type taskView struct {
	Slot        uint16 `yaml:"slot"`
	Address     string `yaml:"address"`
	Trigger     string `yaml:"trigger"`
	CrankReward uint64 `yaml:"crankReward"`
	QueuedAt    string `yaml:"queuedAt"`
	Due         bool   `yaml:"due"`
	Description string `yaml:"description,omitempty"`
}

func newQueueView(q *queue.TaskQueue, occupied []int, tasks []*task.Task) *queueView {
	ret := &queueView{
		Address:          q.Address.String(),
		Namespace:        q.Namespace,
		Name:             q.Name,
		Owner:            q.Owner.String(),
		Capacity:         q.Capacity,
		MinCrankReward:   q.MinCrankReward,
		StaleTaskAge:     q.StaleTaskAge.String(),
		ReclaimAbandoned: q.ReclaimAbandoned,
		Occupied:         occupied,
	}
	now := clock.Now()
	for _, aTask := range tasks {
		ret.Tasks = append(ret.Tasks, taskView{
			Slot:        aTask.Slot,
			Address:     aTask.Address().String(),
			Trigger:     aTask.Trigger.String(),
			CrankReward: aTask.CrankReward,
			QueuedAt:    aTask.QueuedTime().UTC().Format(time.RFC3339),
			Due:         aTask.IsDue(now),
			Description: aTask.Description,
		})
	}
	return ret
}

// queueFlags binds the flags naming a queue.
type queueFlags struct {
	namespace string
	name      string
}

func (f *queueFlags) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.namespace, "namespace", "default", "queue namespace")
	flagSet.StringVar(&f.name, "queue", "", "queue name")
}

func (f *queueFlags) lookup(ctx context.Context, srv *deferq.Service) (*queue.TaskQueue, error) {
	if f.name == "" {
		return nil, fmt.Errorf("--queue is required")
	}
	return srv.TaskQueue().LookupQueue(ctx, f.namespace, f.name)
}

func queueCommand(a *app) *Command {
	return &Command{
		Name:        "queue",
		Summary:     "Create and inspect task queues",
		Subcommands: []*Command{queueCreateCommand(a), queueShowCommand(a)},
	}
}

func queueCreateCommand(a *app) *Command {
	var target queueFlags
	var owner, staleAge string
	var capacity uint32
	var minReward uint64
	var reclaim bool
	return &Command{
		Name:    "create",
		Summary: "Create a queue",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("create")
			target.bind(flagSet)
			flagSet.StringVar(&owner, "owner", "", "queue owner")
			flagSet.Uint32Var(&capacity, "capacity", 64, "number of slots")
			flagSet.Uint64Var(&minReward, "min-reward", 0, "minimum crank reward")
			flagSet.StringVar(&staleAge, "stale-age", "", "age after which failing tasks are abandoned")
			flagSet.BoolVar(&reclaim, "reclaim", false, "free slots of abandoned tasks")
			return flagSet
		},
		Run: func(args []string) error {
			ownerAddr, err := parseAddress("owner", owner)
			if err != nil {
				return err
			}
			if target.name == "" {
				return fmt.Errorf("--queue is required")
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				pol, err := srv.Config().QueuePolicy()
				if err != nil {
					return err
				}
				if staleAge == "" {
					staleAge = pol.StaleAge().String()
				}
				pol, err = policy.FromConfig(&policy.Config{MinCrankReward: max(minReward, pol.MinCrankReward), StaleTaskAge: staleAge, ReclaimAbandoned: reclaim || pol.ReclaimAbandoned})
				if err != nil {
					return err
				}
				q, err := srv.CreateQueue(ctx, ownerAddr, target.namespace, target.name, capacity, pol)
				if err != nil {
					return err
				}
				return a.print(newQueueView(q, nil, nil))
			})
		},
	}
}

func queueShowCommand(a *app) *Command {
	var target queueFlags
	return &Command{
		Name:    "show",
		Summary: "Show a queue with its occupied slots and tasks",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("show")
			target.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				q, err := target.lookup(ctx, srv)
				if err != nil {
					return err
				}
				occupied, err := srv.TaskQueue().Occupied(ctx, q.Address)
				if err != nil {
					return err
				}
				tasks, err := srv.TaskQueue().Tasks(ctx, q.Address)
				if err != nil {
					return err
				}
				return a.print(newQueueView(q, occupied, tasks))
			})
		},
	}
}

func authorityCommand(a *app) *Command {
	return &Command{
		Name:        "authority",
		Summary:     "Manage queue authorities",
		Subcommands: []*Command{authorityAddCommand(a)},
	}
}

func authorityAddCommand(a *app) *Command {
	var target queueFlags
	var authority string
	return &Command{
		Name:    "add",
		Summary: "Register an authority allowed to enqueue; repeating it is a no-op",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("add")
			target.bind(flagSet)
			flagSet.StringVar(&authority, "authority", "", "authority to register")
			return flagSet
		},
		Run: func(args []string) error {
			authorityAddr, err := parseAddress("authority", authority)
			if err != nil {
				return err
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				q, err := target.lookup(ctx, srv)
				if err != nil {
					return err
				}
				if err = srv.TaskQueue().RegisterAuthority(ctx, q.Address, authorityAddr); err != nil {
					return err
				}
				return a.print(map[string]string{"queue": q.Address.String(), "authority": authorityAddr.String()})
			})
		},
	}
}

func enqueueCommand(a *app) *Command {
	var target queueFlags
	var authority, text, at, cronSpec, description, caller, account string
	var reward, value uint64
	var update, commit, retry bool
	return &Command{
		Name:    "enqueue",
		Summary: "Enqueue a memo or a state update task",
		Usage:   "deferq enqueue --queue NAME --authority A (--memo TEXT | --update --account OWNER --caller VALIDATOR --value N) [--at TIME | --cron SPEC]",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("enqueue")
			target.bind(flagSet)
			flagSet.StringVar(&authority, "authority", "", "registered authority")
			flagSet.StringVar(&text, "memo", "", "memo text to log")
			flagSet.BoolVar(&update, "update", false, "update a delegatable account instead of logging a memo")
			flagSet.StringVar(&account, "account", "", "owner of the account to update")
			flagSet.StringVar(&caller, "caller", "", "signer of the update")
			flagSet.Uint64Var(&value, "value", 0, "value to store")
			flagSet.BoolVar(&commit, "commit", false, "commit the update toward the base layer")
			flagSet.StringVar(&at, "at", "", "run at RFC3339 time")
			flagSet.StringVar(&cronSpec, "cron", "", "run on a cron schedule")
			flagSet.Uint64Var(&reward, "reward", 0, "crank reward, the queue minimum when 0")
			flagSet.StringVar(&description, "description", "", "task description")
			flagSet.BoolVar(&retry, "retry", false, "retry while the queue is full or the slot is taken")
			return flagSet
		},
		Run: func(args []string) error {
			authorityAddr, err := parseAddress("authority", authority)
			if err != nil {
				return err
			}
			trigger, err := parseTrigger(at, cronSpec)
			if err != nil {
				return err
			}
			var ix compiled.Instruction
			switch {
			case update:
				callerAddr, err := parseAddress("caller", caller)
				if err != nil {
					return err
				}
				ownerAddr, err := parseAddress("account", account)
				if err != nil {
					return err
				}
				ix = state.Update(callerAddr, address.User(ownerAddr), value)
				if commit {
					ix = state.UpdateCommit(callerAddr, address.User(ownerAddr), value)
				}
			case text != "":
				ix = memo.Instruction(text, authorityAddr)
			default:
				return fmt.Errorf("either --memo or --update is required")
			}
			instructions, err := compiled.CompileBytes([]compiled.Instruction{ix}, nil)
			if err != nil {
				return err
			}
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				q, err := target.lookup(ctx, srv)
				if err != nil {
					return err
				}
				req := &taskqueue.EnqueueRequest{
					Queue:        q.Address,
					Authority:    authorityAddr,
					Trigger:      trigger,
					CrankReward:  reward,
					Description:  description,
					Instructions: instructions,
				}
				var ref *task.Ref
				if retry {
					backoff, bErr := srv.Config().RetryBackoff()
					if bErr != nil {
						return bErr
					}
					if backoff.MaxAttempts == 0 {
						backoff.MaxAttempts = 5
					}
					ref, err = poll.EnqueueWithRetry(ctx, srv.TaskQueue(), req, backoff)
				} else {
					ref, err = srv.TaskQueue().Enqueue(ctx, req)
				}
				if err != nil {
					return err
				}
				return a.print(map[string]any{"queue": ref.Queue.String(), "slot": ref.Slot, "task": ref.Address.String()})
			})
		},
	}
}

func parseTrigger(at, cronSpec string) (task.Trigger, error) {
	switch {
	case at != "" && cronSpec != "":
		return task.Trigger{}, fmt.Errorf("--at and --cron are exclusive")
	case at != "":
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return task.Trigger{}, fmt.Errorf("--at: %w", err)
		}
		return task.At(ts), nil
	case cronSpec != "":
		return task.Cron(cronSpec), nil
	}
	return task.Now(), nil
}

func releaseCommand(a *app) *Command {
	var target queueFlags
	var slot uint16
	return &Command{
		Name:    "release",
		Summary: "Release a slot after its task was executed",
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("release")
			target.bind(flagSet)
			flagSet.Uint16Var(&slot, "slot", 0, "slot to release")
			return flagSet
		},
		Run: func(args []string) error {
			return a.with(func(ctx context.Context, srv *deferq.Service) error {
				q, err := target.lookup(ctx, srv)
				if err != nil {
					return err
				}
				if err = srv.TaskQueue().Release(ctx, q.Address, slot); err != nil {
					return err
				}
				return a.print(map[string]any{"queue": q.Address.String(), "released": slot})
			})
		},
	}
}
