// Package utils holds small OS-process helpers shared by the git backends.
package utils

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RunCommand runs command with args in cwd and returns its trimmed stdout
// and stderr separately, so callers that classify git failures (see
// gitbackend.classify) have the raw stderr text to match against.
func RunCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, command string, args ...string) (stdout, stderr string, err error) {
	cmdStr := command + " " + strings.Join(args, " ")
	log.Log(ctx, -8, "running command", "cwd", cwd, "cmd", cmdStr)

	cmd := exec.CommandContext(ctx, command, args...)
	// force kill git & child process 5 seconds after sending it sigterm (when ctx is cancelled/timed out)
	cmd.WaitDelay = 5 * time.Second
	if cwd != "" {
		cmd.Dir = cwd
	}
	outbuf := bytes.NewBuffer(nil)
	errbuf := bytes.NewBuffer(nil)
	cmd.Stdout = outbuf
	cmd.Stderr = errbuf

	// envs are additional variables (credentials, GIT_SSH_COMMAND, ...),
	// not a full replacement: the child still needs PATH/HOME from the
	// current process's environment to find and run git (and, for SSH
	// remotes, the ssh binary GIT_SSH_COMMAND execs). Leaving cmd.Env nil
	// when there's nothing to add preserves plain inheritance.
	if len(envs) > 0 {
		cmd.Env = append(os.Environ(), envs...)
	}

	start := time.Now()
	runErr := cmd.Run()
	runTime := time.Since(start)

	stdout = strings.TrimSpace(outbuf.String())
	stderr = strings.TrimSpace(errbuf.String())
	if ctx.Err() == context.DeadlineExceeded {
		runErr = ctx.Err()
	}
	if runErr != nil {
		return "", stderr, fmt.Errorf("run(%s): %w", cmdStr, runErr)
	}

	log.Log(ctx, -8, "command result", "stdout", stdout, "stderr", stderr, "time", runTime)
	return stdout, stderr, nil
}
