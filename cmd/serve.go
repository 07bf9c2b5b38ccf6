/*
Copyright © 2026 ソニーレベル <C7kali3@gmail.com>

*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/sony-level/cmdproxy/internal/config"
	"github.com/sony-level/cmdproxy/internal/engine"
	"github.com/sony-level/cmdproxy/internal/palette"
	"github.com/sony-level/cmdproxy/internal/queue"
	"github.com/sony-level/cmdproxy/internal/store"
	"github.com/sony-level/cmdproxy/internal/workspace"
)

var (
	// Worker flags
	palettePath    string
	queueNames     []string
	poolSize       int
	transferLimit  int
	drainTimeout   time.Duration
	graceTimeout   time.Duration
	keepWorkspaces bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run requests as a worker",
	Long: `serve starts a worker. It subscribes to the configured command queues
and, for each request, stages the referenced inputs into a private
workspace, runs the command, stages the declared outputs back to the
blob store, and replies with the outcome.

The worker runs until interrupted. On shutdown it stops taking new
requests and lets in-flight runs finish within the drain timeout
before cancelling them.

Examples:
  cmdproxy serve
  cmdproxy serve --queues sh,gcc --pool 8
  cmdproxy serve --palette palette.yaml --base-dir /var/lib/cmdproxy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := config.FromEnv()
	serveCmd.Flags().StringVar(&palettePath, "palette", defaults.PalettePath, "Command palette file mapping names to executables (env: CMDPROXY_COMMAND_PALETTE)")
	serveCmd.Flags().StringSliceVar(&queueNames, "queues", defaults.Queues, "Command queues to serve (env: CMDPROXY_QUEUES)")
	serveCmd.Flags().IntVar(&poolSize, "pool", defaults.PoolSize, "Number of concurrent runs (env: CMDPROXY_POOL)")
	serveCmd.Flags().IntVar(&transferLimit, "transfer-limit", defaults.TransferLimit, "Concurrent transfers per staging phase (env: CMDPROXY_TRANSFER_LIMIT)")
	serveCmd.Flags().DurationVar(&drainTimeout, "drain-timeout", defaults.DrainTimeout, "How long in-flight runs may finish after shutdown (env: CMDPROXY_DRAIN_TIMEOUT)")
	serveCmd.Flags().DurationVar(&graceTimeout, "grace-timeout", defaults.GraceTimeout, "Delay between SIGTERM and SIGKILL when cancelling a run (env: CMDPROXY_GRACE_TIMEOUT)")
	serveCmd.Flags().BoolVar(&keepWorkspaces, "keep", false, "Keep run workspaces after execution for debugging")
}

func executeServe() error {
	logger := newLogger()

	// Load and validate the palette before touching the network: a
	// misconfigured worker must not join a queue group.
	var pal *palette.Palette
	if palettePath != "" {
		p, err := palette.Load(palettePath)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		pal = p
	}

	served := pal.ServeQueues(queueNames)
	subjects := make([]string, len(served))
	for i, name := range served {
		subjects[i] = queue.SubjectFor(name)
	}

	// Sweep roots abandoned by crashed workers. The age guard keeps the
	// sweep away from workspaces other live workers on this host own.
	if released, err := workspace.ReleaseStale(workspaceBase(), defaultStaleAge); err != nil {
		logger.Warn("failed to sweep stale workspaces", "error", err)
	} else if released > 0 {
		logger.Info("swept stale workspaces", "count", released)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(natsURL,
		nats.Name("cmdproxy-worker"),
		nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", natsURL, err)
	}
	defer nc.Close()

	st, err := store.NewObjectStore(ctx, nc, bucket)
	if err != nil {
		return err
	}

	eng := engine.New(st, &engine.Config{
		Palette:        pal,
		BaseDir:        baseDir,
		TransferLimit:  transferLimit,
		GraceTimeout:   graceTimeout,
		KeepWorkspaces: keepWorkspaces,
		Logger:         logger,
	})
	pool := engine.NewPool(eng, queue.NewNats(nc, logger), &engine.PoolConfig{
		Size:         poolSize,
		DrainTimeout: drainTimeout,
		Logger:       logger,
	})

	logger.Info("worker starting",
		"nats_url", natsURL, "bucket", bucket, "queues", served, "pool", poolSize)

	return pool.Serve(ctx, subjects)
}
