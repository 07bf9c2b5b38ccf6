// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// End-to-end tests for the run coordinator

package engine_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony-level/cmdproxy/internal/engine"
	"github.com/sony-level/cmdproxy/internal/palette"
	"github.com/sony-level/cmdproxy/internal/plan"
	"github.com/sony-level/cmdproxy/internal/protocol"
	"github.com/sony-level/cmdproxy/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, mem *store.Memory) *engine.Engine {
	t.Helper()

	return engine.New(mem, &engine.Config{
		BaseDir: t.TempDir(),
		Logger:  quietLogger(),
	})
}

func strPtr(s string) *string { return &s }

func TestRun_CatThroughStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Put(ctx, "a.txt", []byte("hello"))

	e := newEngine(t, mem)
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", "cat <#:i>a.txt</> > <#:o>b.txt</>"},
	})

	if res.Failure != nil {
		t.Fatalf("Run() failure = %v", res.Failure)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("ExitCode = %v, want 0", res.ExitCode)
	}
	got, err := mem.Get(ctx, "b.txt")
	if err != nil {
		t.Fatalf("output was not staged out: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("staged out content = %q, want %q", got, "hello")
	}
}

func TestRun_StdoutCapture(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	e := newEngine(t, mem)
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", "echo visible; echo hidden 1>&2"},
		Stdout:  strPtr("run.out"),
		Stderr:  strPtr("run.err"),
	})

	if res.Failure != nil {
		t.Fatalf("Run() failure = %v", res.Failure)
	}
	out, err := mem.Get(ctx, "run.out")
	if err != nil {
		t.Fatalf("stdout capture was not staged out: %v", err)
	}
	if string(out) != "visible\n" {
		t.Errorf("stdout capture = %q, want %q", out, "visible\n")
	}
	errOut, err := mem.Get(ctx, "run.err")
	if err != nil {
		t.Fatalf("stderr capture was not staged out: %v", err)
	}
	if string(errOut) != "hidden\n" {
		t.Errorf("stderr capture = %q, want %q", errOut, "hidden\n")
	}
}

func TestRun_NonzeroExitStillStagesOut(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	e := newEngine(t, mem)
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", "echo partial > <#:o>part.txt</>; exit 3"},
	})

	if res.Failure != nil {
		t.Fatalf("Run() failure = %v, want none for a nonzero exit", res.Failure)
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Fatalf("ExitCode = %v, want 3", res.ExitCode)
	}
	got, err := mem.Get(ctx, "part.txt")
	if err != nil {
		t.Fatalf("artifact of the failed command was not staged out: %v", err)
	}
	if string(got) != "partial\n" {
		t.Errorf("staged out content = %q", got)
	}
}

func TestRun_MissingOutput(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	e := newEngine(t, mem)
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", "exit 0"},
		Uploads: []protocol.TransferPair{{Remote: "never.txt", Alias: "never.txt"}},
	})

	if res.Failure == nil || res.Failure.Kind != protocol.KindMissingOutput {
		t.Fatalf("Run() failure = %v, want kind %s", res.Failure, protocol.KindMissingOutput)
	}
	if res.Failure.Remote != "never.txt" {
		t.Errorf("Failure.Remote = %q, want never.txt", res.Failure.Remote)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0 alongside the delivery failure", res.ExitCode)
	}
}

func TestRun_SpawnFailureSkipsStageOut(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Put(ctx, "in.txt", []byte("staged"))
	base := t.TempDir()

	e := engine.New(mem, &engine.Config{BaseDir: base, Logger: quietLogger()})
	res := e.Run(ctx, &protocol.RunRequest{
		Command:   "/nonexistent/definitely-missing-bin",
		Downloads: []protocol.TransferPair{{Remote: "in.txt", Alias: "in.txt"}},
		Uploads:   []protocol.TransferPair{{Remote: "out.txt", Alias: "out.txt"}},
	})

	if res.Failure == nil || res.Failure.Kind != protocol.KindSpawn {
		t.Fatalf("Run() failure = %v, want kind %s", res.Failure, protocol.KindSpawn)
	}
	if res.ExitCode != nil {
		t.Errorf("ExitCode = %d, want none when the process never started", *res.ExitCode)
	}
	if ok, _ := mem.Exists(ctx, "out.txt"); ok {
		t.Error("stage-out ran despite the spawn failure")
	}

	// the workspace must be gone even though the run failed
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("failed to read base dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace left behind after failed run: %v", entries)
	}
}

func TestRun_MarkerSyntaxFailure(t *testing.T) {
	mem := store.NewMemory()

	e := newEngine(t, mem)
	res := e.Run(context.Background(), &protocol.RunRequest{
		Command: "cat",
		Args:    []string{"<#:i>unclosed"},
	})

	if res.Failure == nil || res.Failure.Kind != protocol.KindMarkerSyntax {
		t.Fatalf("Run() failure = %v, want kind %s", res.Failure, protocol.KindMarkerSyntax)
	}
	if res.Failure.Fragment != "<#:i>unclosed" {
		t.Errorf("Failure.Fragment = %q", res.Failure.Fragment)
	}
	if res.ExitCode != nil {
		t.Errorf("ExitCode = %d, want none", *res.ExitCode)
	}
}

func TestRun_PlanConflict(t *testing.T) {
	mem := store.NewMemory()

	e := newEngine(t, mem)
	res := e.Run(context.Background(), &protocol.RunRequest{
		Command:   "cat",
		Args:      []string{"<#:i>data.txt</>"},
		Downloads: []protocol.TransferPair{{Remote: "data.txt", Alias: "other-name.txt"}},
	})

	if res.Failure == nil || res.Failure.Kind != protocol.KindPlanConflict {
		t.Fatalf("Run() failure = %v, want kind %s", res.Failure, protocol.KindPlanConflict)
	}
}

func TestRun_StageInFailure(t *testing.T) {
	mem := store.NewMemory()

	e := newEngine(t, mem)
	res := e.Run(context.Background(), &protocol.RunRequest{
		Command: "cat",
		Args:    []string{"<#:i>absent.txt</>"},
	})

	if res.Failure == nil || res.Failure.Kind != protocol.KindStageIn {
		t.Fatalf("Run() failure = %v, want kind %s", res.Failure, protocol.KindStageIn)
	}
	if res.Failure.Remote != "absent.txt" {
		t.Errorf("Failure.Remote = %q, want absent.txt", res.Failure.Remote)
	}
}

func TestRun_EnvAndCwd(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	e := newEngine(t, mem)
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", `printf '%s:' "$RUN_GREETING"; pwd`},
		Env:     map[string]string{"RUN_GREETING": "hi"},
		Cwd:     strPtr("sub/dir"),
		Stdout:  strPtr("probe.out"),
	})

	if res.Failure != nil {
		t.Fatalf("Run() failure = %v", res.Failure)
	}
	out, err := mem.Get(ctx, "probe.out")
	if err != nil {
		t.Fatalf("capture was not staged out: %v", err)
	}
	got := strings.TrimSpace(string(out))
	if !strings.HasPrefix(got, "hi:") {
		t.Errorf("environment override missing, output = %q", got)
	}
	if !strings.HasSuffix(got, "/sub/dir") {
		t.Errorf("working directory = %q, want a path ending in /sub/dir", got)
	}
}

func TestRun_InPlaceUpdate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Put(ctx, "state.bin", []byte("v1\n"))

	e := newEngine(t, mem)
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", "grep -q v1 <#:i>state.bin</> && echo v2 > <#:o>state.bin</>"},
	})

	if res.Failure != nil {
		t.Fatalf("Run() failure = %v", res.Failure)
	}
	got, _ := mem.Get(ctx, "state.bin")
	if string(got) != "v2\n" {
		t.Errorf("in-place content = %q, want %q", got, "v2\n")
	}
}

func TestRun_InPlaceUntouchedOutputKeepsContent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Put(ctx, "keep.bin", []byte("original"))

	// the output file pre-exists because the same name was staged in;
	// the command never rewrites it, so its original bytes upload
	e := newEngine(t, mem)
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", ": <#:i>keep.bin</> <#:o>keep.bin</>"},
	})

	if res.Failure != nil {
		t.Fatalf("Run() failure = %v", res.Failure)
	}
	got, _ := mem.Get(ctx, "keep.bin")
	if string(got) != "original" {
		t.Errorf("untouched in-place content = %q, want %q", got, "original")
	}
}

func TestRun_InPlaceDisabled(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Put(ctx, "state.bin", []byte("v1"))

	e := engine.New(mem, &engine.Config{
		BaseDir:     t.TempDir(),
		Logger:      quietLogger(),
		PlanOptions: &plan.Options{AllowInPlace: false},
	})
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", ": <#:i>state.bin</> <#:o>state.bin</>"},
	})

	if res.Failure == nil || res.Failure.Kind != protocol.KindPlanConflict {
		t.Fatalf("Run() failure = %v, want kind %s", res.Failure, protocol.KindPlanConflict)
	}
}

func TestRun_PaletteResolvesCommand(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	e := engine.New(mem, &engine.Config{
		BaseDir: t.TempDir(),
		Logger:  quietLogger(),
		Palette: &palette.Palette{Commands: map[string]string{"shell": "sh"}},
	})
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "shell",
		Args:    []string{"-c", "exit 0"},
	})

	if res.Failure != nil {
		t.Fatalf("Run() failure = %v, palette did not resolve the command", res.Failure)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", res.ExitCode)
	}
}

func TestRun_ConcurrentRunsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Put(ctx, "shared.txt", []byte("same input"))

	e := newEngine(t, mem)

	var wg sync.WaitGroup
	results := make([]*protocol.RunResult, 2)
	outputs := []string{"copy-one.txt", "copy-two.txt"}
	for i := range outputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Run(ctx, &protocol.RunRequest{
				Command: "sh",
				Args:    []string{"-c", "cat <#:i>shared.txt</> > <#:o>" + outputs[i] + "</>"},
			})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.Failure != nil {
			t.Fatalf("run %d failure = %v", i, res.Failure)
		}
		got, err := mem.Get(ctx, outputs[i])
		if err != nil {
			t.Fatalf("run %d output missing: %v", i, err)
		}
		if string(got) != "same input" {
			t.Errorf("run %d content = %q", i, got)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	mem := store.NewMemory()
	base := t.TempDir()

	e := engine.New(mem, &engine.Config{
		BaseDir:      base,
		Logger:       quietLogger(),
		GraceTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	res := e.Run(ctx, &protocol.RunRequest{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
	})

	if res.Failure == nil || res.Failure.Kind != protocol.KindCancelled {
		t.Fatalf("Run() failure = %v, want kind %s", res.Failure, protocol.KindCancelled)
	}
	if res.ExitCode != nil {
		t.Errorf("ExitCode = %d, want none for a cancelled run", *res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancelled run took %v", elapsed)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("failed to read base dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace left behind after cancelled run: %v", entries)
	}
}
