// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Tests for the worker pool serving queue deliveries

package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sony-level/cmdproxy/internal/engine"
	"github.com/sony-level/cmdproxy/internal/protocol"
	"github.com/sony-level/cmdproxy/internal/queue"
	"github.com/sony-level/cmdproxy/internal/store"
)

func startPool(t *testing.T, q *queue.Memory, size int, subjects []string) (stop func()) {
	t.Helper()

	e := engine.New(store.NewMemory(), &engine.Config{
		BaseDir: t.TempDir(),
		Logger:  quietLogger(),
	})
	pool := engine.NewPool(e, q, &engine.PoolConfig{
		Size:         size,
		DrainTimeout: 5 * time.Second,
		Logger:       quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- pool.Serve(ctx, subjects) }()

	return func() {
		cancel()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Serve() did not stop after cancellation")
		}
	}
}

func TestPool_ServesRequests(t *testing.T) {
	q := queue.NewMemory()
	subject := queue.SubjectFor("sh")
	stop := startPool(t, q, 2, []string{subject})
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := q.Submit(ctx, subject, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Failure != nil {
		t.Fatalf("result failure = %v", res.Failure)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", res.ExitCode)
	}
}

func TestPool_ConcurrentRequests(t *testing.T) {
	q := queue.NewMemory()
	subject := queue.SubjectFor("sh")
	stop := startPool(t, q, 4, []string{subject})
	defer stop()

	const n = 6
	var wg sync.WaitGroup
	codes := make([]int, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			res, err := q.Submit(ctx, subject, &protocol.RunRequest{
				Command: "sh",
				Args:    []string{"-c", fmt.Sprintf("exit %d", i)},
			})
			if err != nil {
				errs[i] = err
				return
			}
			if res.ExitCode != nil {
				codes[i] = *res.ExitCode
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d error = %v", i, errs[i])
		}
		if codes[i] != i {
			t.Errorf("request %d exit code = %d, want %d", i, codes[i], i)
		}
	}
}

func TestPool_DrainsInFlightRunOnShutdown(t *testing.T) {
	q := queue.NewMemory()
	subject := queue.SubjectFor("sh")

	e := engine.New(store.NewMemory(), &engine.Config{
		BaseDir: t.TempDir(),
		Logger:  quietLogger(),
	})
	pool := engine.NewPool(e, q, &engine.PoolConfig{
		Size:         1,
		DrainTimeout: 30 * time.Second,
		Logger:       quietLogger(),
	})

	serveCtx, cancelServe := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- pool.Serve(serveCtx, []string{subject}) }()

	started := filepath.Join(t.TempDir(), "started")

	type outcome struct {
		res *protocol.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		res, err := q.Submit(ctx, subject, &protocol.RunRequest{
			Command: "sh",
			Args:    []string{"-c", fmt.Sprintf("touch %s && sleep 1", started)},
		})
		done <- outcome{res, err}
	}()

	// Shut down only once the subprocess is demonstrably running.
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := os.Stat(started); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subprocess never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancelServe()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Submit() error = %v", out.err)
		}
		if out.res.Failure != nil {
			t.Fatalf("result failure = %v, want the drained run to finish", out.res.Failure)
		}
		if out.res.ExitCode == nil || *out.res.ExitCode != 0 {
			t.Errorf("ExitCode = %v, want 0", out.res.ExitCode)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("in-flight run did not finish during drain")
	}

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("Serve() did not stop after draining")
	}
}

func TestPool_FailureRoutedBack(t *testing.T) {
	q := queue.NewMemory()
	subject := queue.SubjectFor("cat")
	stop := startPool(t, q, 1, []string{subject})
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := q.Submit(ctx, subject, &protocol.RunRequest{
		Command: "cat",
		Args:    []string{"<#:i>absent.txt</>"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Failure == nil || res.Failure.Kind != protocol.KindStageIn {
		t.Fatalf("result failure = %v, want kind %s", res.Failure, protocol.KindStageIn)
	}
}
