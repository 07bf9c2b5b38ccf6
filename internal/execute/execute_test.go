// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Tests for subprocess execution, capture and cancellation

package execute_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sony-level/cmdproxy/internal/execute"
)

func TestRun_Success(t *testing.T) {
	e := execute.NewExecutor(nil)

	res, err := e.Run(context.Background(), []string{"sh", "-c", "exit 0"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRun_NonzeroExitIsNotAnError(t *testing.T) {
	e := execute.NewExecutor(nil)

	res, err := e.Run(context.Background(), []string{"sh", "-c", "exit 3"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for a nonzero exit", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRun_SpawnError(t *testing.T) {
	e := execute.NewExecutor(nil)

	_, err := e.Run(context.Background(), []string{"/nonexistent/definitely-missing-bin"}, nil)

	var spawnErr *execute.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Run() error = %v, want *execute.SpawnError", err)
	}
	if spawnErr.Command != "/nonexistent/definitely-missing-bin" {
		t.Errorf("SpawnError.Command = %q", spawnErr.Command)
	}
}

func TestRun_EmptyArgv(t *testing.T) {
	e := execute.NewExecutor(nil)

	var spawnErr *execute.SpawnError
	if _, err := e.Run(context.Background(), nil, nil); !errors.As(err, &spawnErr) {
		t.Fatalf("Run() with empty argv error = %v, want *execute.SpawnError", err)
	}
}

func TestRun_CapturesStreams(t *testing.T) {
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, ".stdout")
	stderrPath := filepath.Join(dir, ".stderr")

	e := execute.NewExecutor(nil)
	res, err := e.Run(context.Background(),
		[]string{"sh", "-c", "echo to-out; echo to-err 1>&2"},
		&execute.Options{StdoutPath: stdoutPath, StderrPath: stderrPath})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}

	out, err := os.ReadFile(stdoutPath)
	if err != nil {
		t.Fatalf("failed to read stdout capture: %v", err)
	}
	if string(out) != "to-out\n" {
		t.Errorf("stdout capture = %q, want %q", out, "to-out\n")
	}

	errOut, err := os.ReadFile(stderrPath)
	if err != nil {
		t.Fatalf("failed to read stderr capture: %v", err)
	}
	if string(errOut) != "to-err\n" {
		t.Errorf("stderr capture = %q, want %q", errOut, "to-err\n")
	}
}

func TestRun_EnvOverride(t *testing.T) {
	t.Setenv("CMDPROXY_TEST_INHERITED", "from-worker")
	t.Setenv("CMDPROXY_TEST_OVERRIDDEN", "old")

	stdoutPath := filepath.Join(t.TempDir(), "out")
	e := execute.NewExecutor(nil)

	_, err := e.Run(context.Background(),
		[]string{"sh", "-c", `printf '%s %s' "$CMDPROXY_TEST_INHERITED" "$CMDPROXY_TEST_OVERRIDDEN"`},
		&execute.Options{
			Env:        map[string]string{"CMDPROXY_TEST_OVERRIDDEN": "new"},
			StdoutPath: stdoutPath,
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out, _ := os.ReadFile(stdoutPath)
	if string(out) != "from-worker new" {
		t.Errorf("child environment = %q, want %q", out, "from-worker new")
	}
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("failed to resolve temp dir: %v", err)
	}

	stdoutPath := filepath.Join(t.TempDir(), "out")
	e := execute.NewExecutor(nil)

	if _, err := e.Run(context.Background(), []string{"pwd"},
		&execute.Options{Dir: dir, StdoutPath: stdoutPath}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	out, _ := os.ReadFile(stdoutPath)
	if got := strings.TrimSpace(string(out)); got != resolved {
		t.Errorf("pwd = %q, want %q", got, resolved)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	e := execute.NewExecutor(&execute.Config{GraceTimeout: time.Second})
	start := time.Now()

	_, err := e.Run(ctx, []string{"sh", "-c", "sleep 30"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancelled run took %v, termination did not reach the process", elapsed)
	}
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := execute.NewExecutor(nil)
	if _, err := e.Run(ctx, []string{"sh", "-c", "exit 0"}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
