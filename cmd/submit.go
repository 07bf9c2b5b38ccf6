/*
Copyright © 2026 ソニーレベル <C7kali3@gmail.com>

*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/sony-level/cmdproxy/internal/client"
	"github.com/sony-level/cmdproxy/internal/engine"
	"github.com/sony-level/cmdproxy/internal/protocol"
	"github.com/sony-level/cmdproxy/internal/queue"
	"github.com/sony-level/cmdproxy/internal/store"
)

var (
	// Submit flags
	downloadPairs []string
	uploadPairs   []string
	stdoutName    string
	stderrName    string
	envPairs      []string
	cwdPath       string
	queueName     string
	submitTimeout time.Duration
	putPairs      []string
	getPairs      []string
	localMode     bool
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit [flags] -- command [args...]",
	Short: "Submit a command to a worker and wait for the result",
	Long: `submit sends one command to a worker queue and waits for the outcome.
Arguments may embed remote file references: <#:i>name</> is fetched
from the blob store before the run and replaced by its local path,
<#:o>name</> becomes a local path whose content is stored under the
remote name after the run.

The process exit status mirrors the remote command's exit code.

Examples:
  cmdproxy submit -- sh -c 'cat <#:i>a.txt</> > <#:o>b.txt</>'
  cmdproxy submit --put main.c --get a.out -- gcc -o '<#:o>a.out</>' '<#:i>main.c</>'
  cmdproxy submit --stdout run.out -- sh -c 'echo hello'
  cmdproxy submit --local -- sh -c 'echo no broker needed'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := executeSubmit(args)
		if err != nil {
			return err
		}
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringArrayVar(&downloadPairs, "download", nil, "Extra stage-in as remote=alias (repeatable)")
	submitCmd.Flags().StringArrayVar(&uploadPairs, "upload", nil, "Extra stage-out as alias=remote (repeatable)")
	submitCmd.Flags().StringVar(&stdoutName, "stdout", "", "Store the command's stdout under this remote name and print it")
	submitCmd.Flags().StringVar(&stderrName, "stderr", "", "Store the command's stderr under this remote name and print it")
	submitCmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Environment variable as KEY=VALUE (repeatable)")
	submitCmd.Flags().StringVar(&cwdPath, "cwd", "", "Working directory inside the workspace")
	submitCmd.Flags().StringVar(&queueName, "queue", "", "Queue to submit to (default: the command name)")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 0, "Give up waiting for the result after this long (0: wait forever)")
	submitCmd.Flags().StringArrayVar(&putPairs, "put", nil, "Upload a local file to the store first, as local[=remote] (repeatable)")
	submitCmd.Flags().StringArrayVar(&getPairs, "get", nil, "Download a stored object afterwards, as remote[=local] (repeatable)")
	submitCmd.Flags().BoolVar(&localMode, "local", false, "Run in-process against an in-memory store instead of a broker")
}

func executeSubmit(args []string) (int, error) {
	req, err := buildRequest(args)
	if err != nil {
		return 0, err
	}

	target := queueName
	if target == "" {
		target = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, submitTimeout)
		defer cancel()
	}

	var (
		c  *client.Client
		st store.Store
	)
	if localMode {
		mem := store.NewMemory()
		eng := engine.New(mem, &engine.Config{BaseDir: baseDir, Logger: newLogger()})
		c = client.New(localSubmitter{engine: eng}, mem)
		st = mem
	} else {
		nc, err := nats.Connect(natsURL, nats.Name("cmdproxy-client"))
		if err != nil {
			return 0, fmt.Errorf("failed to connect to %s: %w", natsURL, err)
		}
		defer nc.Close()

		obj, err := store.NewObjectStore(ctx, nc, bucket)
		if err != nil {
			return 0, err
		}
		c = client.New(queue.NewNats(nc, newLogger()), obj)
		st = obj
	}

	for _, p := range putPairs {
		local, remote := parsePut(p)
		if err := c.PutFile(ctx, remote, local); err != nil {
			return 0, err
		}
		if verbose {
			fmt.Printf("Uploaded %s as %s\n", local, remote)
		}
	}

	if verbose {
		fmt.Printf("Request ID: %s\n", req.ID)
		fmt.Printf("Queue: %s\n", target)
	}

	res, err := c.Run(ctx, target, req)
	if err != nil {
		return 0, err
	}
	if f := res.Failure; f != nil {
		if res.ExitCode != nil {
			return 0, fmt.Errorf("run failed (%s) after exit code %d: %s", f.Kind, *res.ExitCode, f.Message)
		}
		return 0, fmt.Errorf("run failed (%s): %s", f.Kind, f.Message)
	}

	for _, p := range getPairs {
		remote, local := parseGet(p)
		if err := c.GetFile(ctx, remote, local); err != nil {
			return 0, err
		}
		if verbose {
			fmt.Printf("Downloaded %s to %s\n", remote, local)
		}
	}

	// Echo captured streams so submit feels like running the command
	if stdoutName != "" {
		if data, err := st.Get(ctx, stdoutName); err == nil {
			os.Stdout.Write(data)
		}
	}
	if stderrName != "" {
		if data, err := st.Get(ctx, stderrName); err == nil {
			os.Stderr.Write(data)
		}
	}

	if res.ExitCode == nil {
		return 0, fmt.Errorf("worker reply carried no exit code")
	}
	return *res.ExitCode, nil
}

// buildRequest assembles the run request from the command line
func buildRequest(args []string) (*protocol.RunRequest, error) {
	b := client.NewRequest(args[0])
	for _, a := range args[1:] {
		b.Arg(a)
	}
	for _, p := range downloadPairs {
		remote, alias := parseTransfer(p)
		b.Download(remote, alias)
	}
	for _, p := range uploadPairs {
		alias, remote := parseTransfer(p)
		b.Upload(alias, remote)
	}
	if stdoutName != "" {
		b.CaptureStdout(stdoutName)
	}
	if stderrName != "" {
		b.CaptureStderr(stderrName)
	}
	for _, kv := range envPairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		b.Env(key, value)
	}
	if cwdPath != "" {
		b.Cwd(cwdPath)
	}
	return b.Build()
}

// localSubmitter runs requests in-process instead of over a broker
type localSubmitter struct {
	engine *engine.Engine
}

func (s localSubmitter) Submit(ctx context.Context, _ string, req *protocol.RunRequest) (*protocol.RunResult, error) {
	return s.engine.Run(ctx, req), nil
}

// parseTransfer splits "left=right"; a bare value names both sides
func parseTransfer(s string) (string, string) {
	left, right, ok := strings.Cut(s, "=")
	if !ok {
		return s, s
	}
	return left, right
}

// parsePut splits "local=remote"; a bare path stores under its base name
func parsePut(s string) (local, remote string) {
	local, remote, ok := strings.Cut(s, "=")
	if !ok {
		return s, filepath.Base(s)
	}
	return local, remote
}

// parseGet splits "remote=local"; a bare name downloads to its base name
func parseGet(s string) (remote, local string) {
	remote, local, ok := strings.Cut(s, "=")
	if !ok {
		return s, filepath.Base(s)
	}
	return remote, local
}
