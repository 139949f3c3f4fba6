package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerCapturesOutputAndExitCode(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), "echo out; echo err 1>&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestExecRunnerSuccess(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), "true")
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
}

func TestExecRunnerTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ExecRunner{}.Run(ctx, "sleep 5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestGitProbeOrdersCalls(t *testing.T) {
	g := NewGit("origin", "release")
	outputs := map[string]string{}
	outputs["rev-parse --abbrev-ref HEAD"] = "release"
	outputs["rev-parse HEAD"] = "aaa"
	outputs["fetch --prune origin"] = ""
	outputs["rev-parse origin/release"] = "bbb"
	outputs["rev-list --count HEAD..origin/release"] = "7"

	var calls []string
	scriptGit(g, outputs, &calls)

	status, err := g.Probe(context.Background(), 1700000000)
	require.NoError(t, err)
	assert.Equal(t, "release", status.Branch)
	assert.Equal(t, "aaa", status.LocalCommit)
	assert.Equal(t, "bbb", status.RemoteCommit)
	assert.Equal(t, int32(7), status.CommitsBehind)
	assert.Equal(t, int64(1700000000), status.CheckedTs)

	// The fetch must precede the remote ref resolution.
	require.Len(t, calls, 5)
	assert.Equal(t, "fetch --prune origin", calls[2])
	assert.Equal(t, "rev-parse origin/release", calls[3])
}

func TestGitProbeRejectsGarbageCount(t *testing.T) {
	g := NewGit("origin", "main")
	outputs := map[string]string{}
	outputs["rev-parse --abbrev-ref HEAD"] = "main"
	outputs["rev-parse HEAD"] = "aaa"
	outputs["fetch --prune origin"] = ""
	outputs["rev-parse origin/main"] = "bbb"
	outputs["rev-list --count HEAD..origin/main"] = "not-a-number"

	var calls []string
	scriptGit(g, outputs, &calls)

	_, err := g.Probe(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rev-list")
}
