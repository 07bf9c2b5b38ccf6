// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Subprocess execution with stream capture and group termination

package execute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// DefaultGraceTimeout is how long a cancelled process may run after
// the termination signal before the whole group is killed
const DefaultGraceTimeout = 5 * time.Second

// Capture aliases are the workspace-local names the executor writes
// redirected streams to; staging out picks them up like any other file.
const (
	StdoutAlias = ".stdout"
	StderrAlias = ".stderr"
)

// SpawnError reports a command that never started
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Config configures an Executor
type Config struct {
	GraceTimeout time.Duration
}

// Options carries the per-run settings for one spawn
type Options struct {
	Dir        string            // working directory, empty inherits
	Env        map[string]string // overrides applied on top of the worker env
	StdoutPath string            // file capturing stdout, empty discards
	StderrPath string            // file capturing stderr, empty discards
}

// Result is the outcome of a completed process
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Executor spawns subprocesses in their own process group so that
// cancellation reaches the whole tree, not just the direct child
type Executor struct {
	config *Config
}

// NewExecutor creates a new executor
func NewExecutor(config *Config) *Executor {
	if config == nil {
		config = &Config{GraceTimeout: DefaultGraceTimeout}
	}
	if config.GraceTimeout <= 0 {
		config.GraceTimeout = DefaultGraceTimeout
	}
	return &Executor{config: config}
}

// Run spawns argv and waits for it to finish. A nonzero exit code is a
// normal outcome carried in the Result; the error return is reserved
// for processes that never started (SpawnError) and for cancellation,
// which terminates the process group and returns the context's error.
func (e *Executor) Run(ctx context.Context, argv []string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, &SpawnError{Command: "", Err: errors.New("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = mergeEnv(opts.Env)
	}
	setProcessGroup(cmd)

	stdout, err := openCapture(opts.StdoutPath)
	if err != nil {
		return nil, &SpawnError{Command: argv[0], Err: err}
	}
	if stdout != nil {
		defer stdout.Close()
		cmd.Stdout = stdout
	}

	stderr, err := openCapture(opts.StderrPath)
	if err != nil {
		return nil, &SpawnError{Command: argv[0], Err: err}
	}
	if stderr != nil {
		defer stderr.Close()
		cmd.Stderr = stderr
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: argv[0], Err: err}
	}

	// Terminate the group on cancellation, escalating to kill after
	// the grace period so a stuck handler cannot wedge the worker.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			terminateProcessGroup(cmd)
			select {
			case <-done:
			case <-time.After(e.config.GraceTimeout):
				killProcessGroup(cmd)
			}
		case <-done:
		}
	}()

	err = cmd.Wait()
	close(done)
	duration := time.Since(startTime)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{ExitCode: exitErr.ExitCode(), Duration: duration}, nil
		}
		return nil, fmt.Errorf("failed to wait for %s: %w", argv[0], err)
	}
	return &Result{ExitCode: 0, Duration: duration}, nil
}

// openCapture creates the capture file for a stream, nil when unset
func openCapture(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	return f, nil
}

// mergeEnv rebuilds the process environment with the overrides applied
// on top; rebuilding avoids duplicate keys, which os/exec resolves by
// position rather than by override.
func mergeEnv(overrides map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
