package heartbeat

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// GitStatus is one revision probe of the local checkout.
type GitStatus struct {
	Branch        string
	LocalCommit   string
	RemoteCommit  string
	CommitsBehind int32
	CheckedTs     int64
}

// Git probes the node's checkout against a tracked remote branch.
type Git struct {
	Remote string
	Branch string

	run func(ctx context.Context, args ...string) (string, error)
}

func NewGit(remote, branch string) *Git {
	return &Git{Remote: remote, Branch: branch, run: runGit}
}

func runGit(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return "", errors.Wrapf(err, "git %s", strings.Join(args, " "))
	}
	return strings.TrimSpace(string(out)), nil
}

// Probe reports the checkout's position relative to the tracked remote
// branch. The fetch runs first so the remote ref is fresh.
func (g *Git) Probe(ctx context.Context, now int64) (*GitStatus, error) {
	branch, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}
	local, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	if _, err := g.run(ctx, "fetch", "--prune", g.Remote); err != nil {
		return nil, err
	}

	ref := g.Remote + "/" + g.Branch
	remote, err := g.run(ctx, "rev-parse", ref)
	if err != nil {
		return nil, err
	}
	behindRaw, err := g.run(ctx, "rev-list", "--count", "HEAD.."+ref)
	if err != nil {
		return nil, err
	}
	behind, err := strconv.Atoi(behindRaw)
	if err != nil {
		return nil, errors.Wrapf(err, "unexpected rev-list output %q", behindRaw)
	}

	return &GitStatus{
		Branch:        branch,
		LocalCommit:   local,
		RemoteCommit:  remote,
		CommitsBehind: int32(behind),
		CheckedTs:     now,
	}, nil
}

// CommandResult is what the update command produced.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes the operator-requested update command.
type Runner interface {
	Run(ctx context.Context, command string) (*CommandResult, error)
}

// ExecRunner runs the command through the shell. A non-zero exit is reported
// in the result, not as an error; an error means the command never ran or
// was killed by the deadline.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command string) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	if ctx.Err() != nil {
		return res, errors.Wrap(ctx.Err(), "update command timed out")
	}
	return res, nil
}
