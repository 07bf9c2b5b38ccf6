// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Run coordinator driving requests through parse, plan, stage and spawn

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony-level/cmdproxy/internal/execute"
	"github.com/sony-level/cmdproxy/internal/marker"
	"github.com/sony-level/cmdproxy/internal/palette"
	"github.com/sony-level/cmdproxy/internal/plan"
	"github.com/sony-level/cmdproxy/internal/protocol"
	"github.com/sony-level/cmdproxy/internal/stage"
	"github.com/sony-level/cmdproxy/internal/store"
	"github.com/sony-level/cmdproxy/internal/workspace"
)

// Config configures an Engine
type Config struct {
	Palette        *palette.Palette
	BaseDir        string        // workspace base, empty uses the system temp dir
	TransferLimit  int           // per-run concurrent transfer bound
	GraceTimeout   time.Duration // termination grace for cancelled processes
	KeepWorkspaces bool          // keep run directories after release, for debugging
	PlanOptions    *plan.Options
	Logger         *slog.Logger
}

// Engine executes run requests against a remote store. One engine
// serves many concurrent runs; requests share nothing beyond the store
// client, which must be safe for concurrent use.
type Engine struct {
	store    store.Store
	palette  *palette.Palette
	stager   *stage.Stager
	executor *execute.Executor
	wsConfig *workspace.Config
	planOpts *plan.Options
	logger   *slog.Logger
}

// New creates an engine over the given store
func New(st store.Store, config *Config) *Engine {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		palette:  config.Palette,
		stager:   stage.New(st, config.TransferLimit),
		executor: execute.NewExecutor(&execute.Config{GraceTimeout: config.GraceTimeout}),
		wsConfig: &workspace.Config{BaseDir: config.BaseDir, Keep: config.KeepWorkspaces},
		planOpts: config.PlanOptions,
		logger:   logger,
	}
}

// Run drives one request to its terminal outcome. Failures of any kind
// come back inside the RunResult; the method itself never errors, so a
// caller always has something to route back to the submitter.
func (e *Engine) Run(ctx context.Context, req *protocol.RunRequest) *protocol.RunResult {
	c := &run{engine: e, req: req, state: StateReceived, logger: e.logger}
	if req.ID != "" {
		c.logger = e.logger.With("request_id", req.ID)
	}
	c.logger.Info("run received", "command", req.Command, "args", len(req.Args))

	res := c.execute(ctx)
	if res.Failure != nil {
		c.logger.Warn("run failed", "state", c.state, "kind", res.Failure.Kind, "error", res.Failure.Message)
	} else {
		c.logger.Info("run finished", "exit_code", *res.ExitCode)
	}
	return res
}

// run tracks one request through the state machine
type run struct {
	engine   *Engine
	req      *protocol.RunRequest
	logger   *slog.Logger
	state    State
	exitCode *int
}

func (c *run) advance(next State) {
	c.logger.Debug("state transition", "from", c.state, "to", next)
	c.state = next
}

// fail enters the terminal failed state. Delivery failures keep the
// exit code the process actually produced; every other kind reports
// none.
func (c *run) fail(err error, fallback protocol.FailureKind) *protocol.RunResult {
	c.state = StateFailed
	failure := classify(err, fallback)
	res := &protocol.RunResult{Failure: failure}
	if failure.DeliveryFailed() {
		res.ExitCode = c.exitCode
	}
	return res
}

func (c *run) execute(ctx context.Context) *protocol.RunResult {
	cmdFrag, argFrags, err := marker.ParseAll(c.req.Command, c.req.Args)
	if err != nil {
		return c.fail(err, protocol.KindMarkerSyntax)
	}
	c.advance(StateParsed)

	p, err := c.buildPlan(cmdFrag, argFrags)
	if err != nil {
		return c.fail(err, protocol.KindPlanConflict)
	}
	c.advance(StatePlanned)

	ws, err := workspace.Acquire(c.engine.wsConfig)
	if err != nil {
		return c.fail(err, protocol.KindStageIn)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			c.logger.Warn("failed to release workspace", "workspace", ws.Path, "error", err)
		}
	}()
	c.logger = c.logger.With("run_id", ws.RunID)

	if err := c.engine.stager.StageIn(ctx, p, ws); err != nil {
		return c.fail(err, protocol.KindStageIn)
	}
	c.advance(StateStagedIn)

	argv, err := execute.Render(cmdFrag, argFrags, func(name string) (string, error) {
		local, err := p.Resolve(name)
		if err != nil {
			return "", err
		}
		return ws.Resolve(local)
	})
	if err != nil {
		return c.fail(err, protocol.KindSpawn)
	}
	argv[0] = c.engine.palette.Resolve(argv[0])

	opts, err := c.buildOptions(ws)
	if err != nil {
		return c.fail(err, protocol.KindSpawn)
	}

	result, err := c.engine.executor.Run(ctx, argv, opts)
	if err != nil {
		return c.fail(err, protocol.KindSpawn)
	}
	c.exitCode = &result.ExitCode
	c.advance(StateExecuted)
	c.logger.Debug("process exited", "exit_code", result.ExitCode, "duration", result.Duration)

	// Stage-out runs even after a nonzero exit: partial artifacts and
	// captured streams of a failed command still belong to the caller.
	if err := c.engine.stager.StageOut(ctx, p, ws); err != nil {
		return c.fail(err, protocol.KindStageOut)
	}
	c.advance(StateStagedOut)

	c.advance(StateDone)
	return &protocol.RunResult{ExitCode: c.exitCode}
}

// buildPlan merges discovered references, explicit transfer pairs and
// stream captures into one validated plan before any I/O happens
func (c *run) buildPlan(cmdFrag marker.Fragment, argFrags []marker.Fragment) (*plan.Plan, error) {
	b := plan.NewBuilder(c.engine.planOpts)

	if err := b.AddFragment(cmdFrag); err != nil {
		return nil, err
	}
	for _, frag := range argFrags {
		if err := b.AddFragment(frag); err != nil {
			return nil, err
		}
	}
	for _, d := range c.req.Downloads {
		if err := b.AddDownload(d.Remote, d.Alias); err != nil {
			return nil, err
		}
	}
	for _, u := range c.req.Uploads {
		if err := b.AddUpload(u.Alias, u.Remote); err != nil {
			return nil, err
		}
	}
	if c.req.Stdout != nil {
		if err := b.AddUpload(execute.StdoutAlias, *c.req.Stdout); err != nil {
			return nil, err
		}
	}
	if c.req.Stderr != nil {
		if err := b.AddUpload(execute.StderrAlias, *c.req.Stderr); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func (c *run) buildOptions(ws *workspace.Workspace) (*execute.Options, error) {
	cwd, err := ws.ResolveCwd(c.req.Cwd)
	if err != nil {
		return nil, err
	}
	opts := &execute.Options{Dir: cwd, Env: c.req.Env}

	if c.req.Stdout != nil {
		path, err := ws.Resolve(execute.StdoutAlias)
		if err != nil {
			return nil, err
		}
		opts.StdoutPath = path
	}
	if c.req.Stderr != nil {
		path, err := ws.Resolve(execute.StderrAlias)
		if err != nil {
			return nil, err
		}
		opts.StderrPath = path
	}
	return opts, nil
}
