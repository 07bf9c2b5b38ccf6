// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Staging of planned transfers between the store and a workspace

package stage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sony-level/cmdproxy/internal/plan"
	"github.com/sony-level/cmdproxy/internal/store"
	"github.com/sony-level/cmdproxy/internal/workspace"
)

// DefaultTransferLimit bounds concurrent transfers within one request
const DefaultTransferLimit = 4

// InError reports the download failure that aborted a stage-in
type InError struct {
	Remote string
	Err    error
}

func (e *InError) Error() string {
	return fmt.Sprintf("failed to stage in %q: %v", e.Remote, e.Err)
}

func (e *InError) Unwrap() error { return e.Err }

// MissingOutputError reports an expected output the command never produced
type MissingOutputError struct {
	Remote string
	Local  string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("expected output %q was not produced at %q", e.Remote, e.Local)
}

// OutError reports an upload failure, listing what did land so the
// caller knows which results are recoverable
type OutError struct {
	Remote   string
	Uploaded []string
	Err      error
}

func (e *OutError) Error() string {
	return fmt.Sprintf("failed to stage out %q (%d others uploaded): %v", e.Remote, len(e.Uploaded), e.Err)
}

func (e *OutError) Unwrap() error { return e.Err }

// Stager moves planned files between the remote store and a workspace.
// Transfers for independent names run concurrently up to the limit; one
// Stager serves many runs.
type Stager struct {
	store store.Store
	limit int
}

// New creates a stager over the given store. A non-positive limit falls
// back to DefaultTransferLimit.
func New(st store.Store, limit int) *Stager {
	if limit <= 0 {
		limit = DefaultTransferLimit
	}
	return &Stager{store: st, limit: limit}
}

// StageIn fetches every planned download into the workspace. Any single
// failure aborts the whole stage-in: started transfers finish, pending
// ones never start, and the first failure in path order is reported.
func (s *Stager) StageIn(ctx context.Context, p *plan.Plan, ws *workspace.Workspace) error {
	locals := sortedKeys(p.StageIn)
	if len(locals) == 0 {
		return nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	sema := make(chan struct{}, s.limit)

	aborted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) > 0
	}

	for _, local := range locals {
		if aborted() || ctx.Err() != nil {
			break
		}
		remote := p.StageIn[local]

		wg.Add(1)
		sema <- struct{}{}
		go func(local, remote string) {
			defer wg.Done()
			defer func() { <-sema }()

			// re-check after the semaphore wait: a slot freed by a
			// failed transfer must not admit new work
			if aborted() || ctx.Err() != nil {
				return
			}
			if err := s.download(ctx, remote, local, ws); err != nil {
				mu.Lock()
				failed[local] = err
				mu.Unlock()
			}
		}(local, remote)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, local := range locals {
		if err, ok := failed[local]; ok {
			return &InError{Remote: p.StageIn[local], Err: err}
		}
	}
	return nil
}

// StageOut pushes every planned upload that exists on disk to the
// store. Existing files upload even when others are missing, so logs
// and partial artifacts of a failed command still reach the caller;
// afterwards a missing expected output wins over a transport failure
// when both occurred.
func (s *Stager) StageOut(ctx context.Context, p *plan.Plan, ws *workspace.Workspace) error {
	locals := sortedKeys(p.StageOut)
	if len(locals) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		missing  = make(map[string]bool)
		failed   = make(map[string]error)
		uploaded []string
	)
	sema := make(chan struct{}, s.limit)

	for _, local := range locals {
		if ctx.Err() != nil {
			break
		}
		remote := p.StageOut[local]

		path, err := ws.Resolve(local)
		if err != nil {
			mu.Lock()
			failed[local] = err
			mu.Unlock()
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			mu.Lock()
			missing[local] = true
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sema <- struct{}{}
		go func(local, remote, path string) {
			defer wg.Done()
			defer func() { <-sema }()

			data, err := os.ReadFile(path)
			if err == nil {
				err = s.store.Put(ctx, remote, data)
			}

			mu.Lock()
			if err != nil {
				failed[local] = err
			} else {
				uploaded = append(uploaded, remote)
			}
			mu.Unlock()
		}(local, remote, path)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, local := range locals {
		if missing[local] {
			path, _ := ws.Resolve(local)
			return &MissingOutputError{Remote: p.StageOut[local], Local: path}
		}
	}
	for _, local := range locals {
		if err, ok := failed[local]; ok {
			sort.Strings(uploaded)
			return &OutError{Remote: p.StageOut[local], Uploaded: uploaded, Err: err}
		}
	}
	return nil
}

// download fetches one remote object into its workspace location
func (s *Stager) download(ctx context.Context, remote, local string, ws *workspace.Workspace) error {
	path, err := ws.Prepare(local)
	if err != nil {
		return err
	}
	data, err := s.store.Get(ctx, remote)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", local, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
