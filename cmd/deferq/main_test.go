package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type cli struct {
	t     *testing.T
	state string
}

func (c *cli) run(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	a.state = c.state
	err := root(a).Execute(args)
	return stdout.String(), err
}

func (c *cli) mustRun(args ...string) map[string]any {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "%v", args)
	ret := map[string]any{}
	require.NoError(c.t, yaml.Unmarshal([]byte(out), &ret))
	return ret
}

func TestQueueWorkflow(t *testing.T) {
	c := &cli{t: t, state: t.TempDir()}

	created := c.mustRun("queue", "create", "--queue", "jobs", "--owner", "alice", "--capacity", "4")
	assert.Equal(t, 4, created["capacity"])
	c.mustRun("authority", "add", "--queue", "jobs", "--authority", "scheduler")
	c.mustRun("authority", "add", "--queue", "jobs", "--authority", "scheduler")

	enqueued := c.mustRun("enqueue", "--queue", "jobs", "--authority", "scheduler", "--memo", "hello")
	assert.Equal(t, 0, enqueued["slot"])
	enqueued = c.mustRun("enqueue", "--queue", "jobs", "--authority", "scheduler", "--memo", "later", "--at", "2999-01-01T00:00:00Z")
	assert.Equal(t, 1, enqueued["slot"])

	_, err := c.run("enqueue", "--queue", "jobs", "--authority", "mallory", "--memo", "nope")
	assert.ErrorContains(t, err, "UnauthorizedAuthority")

	shown := c.mustRun("queue", "show", "--queue", "jobs")
	assert.Equal(t, []any{0, 1}, shown["occupied"])

	cranked := c.mustRun("crank", "--once")
	executions, ok := cranked["executions"].([]any)
	require.True(t, ok)
	require.Len(t, executions, 1)
	assert.Equal(t, "confirmed", executions[0].(map[string]any)["outcome"])

	shown = c.mustRun("queue", "show", "--queue", "jobs")
	assert.Equal(t, []any{1}, shown["occupied"])

	c.mustRun("release", "--queue", "jobs", "--slot", "1")
	_, err = c.run("release", "--queue", "jobs", "--slot", "1")
	assert.ErrorContains(t, err, "SlotNotOccupied")
}

func TestAccountWorkflow(t *testing.T) {
	c := &cli{t: t, state: t.TempDir()}

	initialized := c.mustRun("account", "init", "--owner", "alice", "--value", "7")
	assert.Equal(t, "7", initialized["value"])
	assert.Equal(t, true, initialized["settled"])

	c.mustRun("account", "delegate", "--owner", "alice", "--validator", "validator-1")
	ephemeral := c.mustRun("account", "show", "--account", "alice", "--side", "ephemeral")
	assert.Equal(t, "Delegated", ephemeral["state"])

	_, err := c.run("account", "mutate", "--account", "alice", "--caller", "alice", "--value", "9")
	assert.Error(t, err)
	c.mustRun("account", "mutate", "--account", "alice", "--caller", "validator-1", "--side", "ephemeral", "--value", "9")

	base := c.mustRun("account", "show", "--account", "alice")
	assert.Equal(t, "7", base["value"])
	assert.Equal(t, false, base["settled"])

	_, err = c.run("account", "close", "--owner", "alice")
	assert.ErrorContains(t, err, "IllegalStateTransition")
}

func TestUnknownCommand(t *testing.T) {
	c := &cli{t: t, state: t.TempDir()}
	_, err := c.run("bogus")
	assert.ErrorContains(t, err, "unknown command")
	_, err = c.run("queue")
	assert.Error(t, err)
	_, err = c.run("queue", "show", "--queue", "jobs", "--nope")
	assert.Error(t, err)
}
