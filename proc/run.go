package proc

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// RunResult is the outcome of a synchronous command.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes a command to completion under ctx, capturing stdout and
// stderr. A nonzero exit is reported through ExitCode, not through err; err
// is reserved for failures to execute at all (missing binary, canceled
// context, I/O failure).
func Run(ctx context.Context, name string, args []string, dir string, env map[string]string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
