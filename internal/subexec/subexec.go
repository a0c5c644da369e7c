// Package subexec substitutes validated parameters into a catalog
// template and spawns it, optionally inside a target network namespace.
package subexec

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"

	"github.com/scoutflo/remote-exec-agent/internal/execresult"
	"github.com/scoutflo/remote-exec-agent/internal/netns"
	"github.com/scoutflo/remote-exec-agent/internal/params"
)

// Run tokenizes template on whitespace, substitutes "$name" tokens with
// the matching parameter's value as a single argv entry, and spawns the
// result. When peerPid is non-zero and differs from the agent's own pid,
// the spawn happens inside that pid's network namespace.
func Run(ctx context.Context, template string, plist []params.Param, peerPid, selfPid int) (execresult.Output, error) {
	argv, err := buildArgv(template, plist)
	if err != nil {
		return execresult.Output{}, err
	}

	var out execresult.Output
	var runErr error

	spawn := func() {
		out, runErr = spawnAndCapture(ctx, argv)
	}

	if peerPid != 0 && peerPid != selfPid {
		netns.Switch(netns.PathFor(peerPid), spawn)
	} else {
		spawn()
	}

	return out, runErr
}

func buildArgv(template string, plist []params.Param) ([]string, error) {
	fields := strings.Fields(template)
	argv := make([]string, len(fields))
	for i, tok := range fields {
		if !strings.HasPrefix(tok, "$") {
			argv[i] = tok
			continue
		}
		key := strings.TrimPrefix(tok, "$")
		value, ok := params.Lookup(plist, key)
		if !ok {
			return nil, &execresult.ParamError{Template: template, Key: key}
		}
		argv[i] = value
	}
	return argv, nil
}

func spawnAndCapture(ctx context.Context, argv []string) (execresult.Output, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := execresult.Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if err == nil {
		return out, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.Exited() {
			code := exitErr.ExitCode()
			return out, &execresult.ExitError{Code: &code}
		}
		return out, &execresult.ExitError{Code: nil}
	}

	klog.Warningf("subexec: spawning %v: %v", argv, err)
	return out, err
}

// OwnPID returns the agent's own process id, used to decide whether a
// requested peer pid actually names a foreign namespace.
func OwnPID() int {
	return os.Getpid()
}
