// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Client-side request builder and queue round-trip

package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sony-level/cmdproxy/internal/marker"
	"github.com/sony-level/cmdproxy/internal/protocol"
	"github.com/sony-level/cmdproxy/internal/queue"
	"github.com/sony-level/cmdproxy/internal/store"
)

// In renders an input reference for embedding in an argument
func In(remote string) string {
	return marker.Format(remote, marker.Input)
}

// Out renders an output reference for embedding in an argument
func Out(remote string) string {
	return marker.Format(remote, marker.Output)
}

// RequestBuilder assembles a run request field by field. Methods return
// the builder for chaining; Build validates the assembled request.
type RequestBuilder struct {
	req protocol.RunRequest
}

// NewRequest starts a request for command. The command text may itself
// embed references, for example a script staged in by marker.
func NewRequest(command string) *RequestBuilder {
	return &RequestBuilder{req: protocol.RunRequest{Command: command}}
}

// Arg appends one literal argument
func (b *RequestBuilder) Arg(text string) *RequestBuilder {
	b.req.Args = append(b.req.Args, text)
	return b
}

// Input appends an argument that is a single input reference. The
// remote object is fetched before the run and the argument becomes its
// local path.
func (b *RequestBuilder) Input(remote string) *RequestBuilder {
	return b.Arg(In(remote))
}

// Output appends an argument that is a single output reference. The
// argument becomes a local path whose content is pushed under the
// remote name after the run.
func (b *RequestBuilder) Output(remote string) *RequestBuilder {
	return b.Arg(Out(remote))
}

// ArgSpan appends one argument built by concatenating parts, mixing
// literal text with In/Out references:
//
//	b.ArgSpan("--config=", client.In("settings.yaml"))
func (b *RequestBuilder) ArgSpan(parts ...string) *RequestBuilder {
	return b.Arg(strings.Join(parts, ""))
}

// Download adds an explicit stage-in: remote is fetched to the alias
// path without appearing in the argument list
func (b *RequestBuilder) Download(remote, alias string) *RequestBuilder {
	b.req.Downloads = append(b.req.Downloads, protocol.TransferPair{Remote: remote, Alias: alias})
	return b
}

// Upload adds an explicit stage-out: the alias path is pushed under the
// remote name without appearing in the argument list
func (b *RequestBuilder) Upload(alias, remote string) *RequestBuilder {
	b.req.Uploads = append(b.req.Uploads, protocol.TransferPair{Remote: remote, Alias: alias})
	return b
}

// CaptureStdout stores the command's standard output under remote
func (b *RequestBuilder) CaptureStdout(remote string) *RequestBuilder {
	b.req.Stdout = &remote
	return b
}

// CaptureStderr stores the command's standard error under remote
func (b *RequestBuilder) CaptureStderr(remote string) *RequestBuilder {
	b.req.Stderr = &remote
	return b
}

// Env sets one environment variable for the command process
func (b *RequestBuilder) Env(key, value string) *RequestBuilder {
	if b.req.Env == nil {
		b.req.Env = make(map[string]string)
	}
	b.req.Env[key] = value
	return b
}

// Cwd sets the command's working directory, a workspace-relative path
func (b *RequestBuilder) Cwd(dir string) *RequestBuilder {
	b.req.Cwd = &dir
	return b
}

// Build validates the assembled request and assigns its ID. Marker
// syntax is checked here so a malformed reference fails before the
// request ever reaches a queue.
func (b *RequestBuilder) Build() (*protocol.RunRequest, error) {
	if b.req.Command == "" {
		return nil, fmt.Errorf("run request has no command")
	}
	if _, _, err := marker.ParseAll(b.req.Command, b.req.Args); err != nil {
		return nil, err
	}
	for _, p := range b.req.Downloads {
		if p.Remote == "" || p.Alias == "" {
			return nil, fmt.Errorf("download pair %q -> %q has an empty side", p.Remote, p.Alias)
		}
	}
	for _, p := range b.req.Uploads {
		if p.Remote == "" || p.Alias == "" {
			return nil, fmt.Errorf("upload pair %q -> %q has an empty side", p.Alias, p.Remote)
		}
	}
	if b.req.Stdout != nil && *b.req.Stdout == "" {
		return nil, fmt.Errorf("stdout capture name is empty")
	}
	if b.req.Stderr != nil && *b.req.Stderr == "" {
		return nil, fmt.Errorf("stderr capture name is empty")
	}

	req := b.req
	req.ID = uuid.NewString()
	return &req, nil
}

// Client submits run requests and moves files in and out of the store
type Client struct {
	queue queue.Submitter
	store store.Store
}

// New returns a client over the given queue and store
func New(q queue.Submitter, st store.Store) *Client {
	return &Client{queue: q, store: st}
}

// Run submits the request to the named queue and waits for its result.
// The returned error covers transport problems only; run failures come
// back inside the result.
func (c *Client) Run(ctx context.Context, queueName string, req *protocol.RunRequest) (*protocol.RunResult, error) {
	return c.queue.Submit(ctx, queue.SubjectFor(queueName), req)
}

// PutFile uploads the local file's content under the remote name
func (c *Client) PutFile(ctx context.Context, remote, local string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", local, err)
	}
	return c.store.Put(ctx, remote, data)
}

// GetFile downloads the remote object to the local path, creating
// parent directories as needed
func (c *Client) GetFile(ctx context.Context, remote, local string) error {
	data, err := c.store.Get(ctx, remote)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(local); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", local, err)
	}
	return nil
}
