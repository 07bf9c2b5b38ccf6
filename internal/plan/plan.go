// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Transfer plan construction and conflict validation

package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sony-level/cmdproxy/internal/marker"
)

// Plan is the validated, deduplicated transfer set for one request.
// Both maps are keyed by workspace-relative local path; a path present
// in both means download, mutate, upload.
type Plan struct {
	StageIn  map[string]string // local path -> remote name
	StageOut map[string]string // local path -> remote name

	locals map[string]string // remote name -> local path
}

// Resolve maps a remote name to its planned local path. Every name
// discovered during planning resolves; anything else is a bug in the
// caller.
func (p *Plan) Resolve(name string) (string, error) {
	local, ok := p.locals[name]
	if !ok {
		return "", fmt.Errorf("remote name %q is not in the plan", name)
	}
	return local, nil
}

// ConflictError reports irreconcilable entries in a transfer plan
type ConflictError struct {
	Remote string // remote name involved, if any
	Local  string // local path involved, if any
	Reason string
}

func (e *ConflictError) Error() string {
	switch {
	case e.Remote != "" && e.Local != "":
		return fmt.Sprintf("plan conflict on %q (local %q): %s", e.Remote, e.Local, e.Reason)
	case e.Remote != "":
		return fmt.Sprintf("plan conflict on %q: %s", e.Remote, e.Reason)
	case e.Local != "":
		return fmt.Sprintf("plan conflict on local %q: %s", e.Local, e.Reason)
	}
	return fmt.Sprintf("plan conflict: %s", e.Reason)
}

// Options controls planner behavior
type Options struct {
	// AllowInPlace permits a local path to be staged both in and out,
	// the download-mutate-upload pattern. When false such overlap is a
	// conflict.
	AllowInPlace bool
}

// binding is the single agreed local identity of one remote name
type binding struct {
	local string
	in    bool
	out   bool
}

// Builder accumulates reference segments and explicit transfer pairs
// into one Plan. Entries merge through a single conflict check: every
// remote name gets exactly one local identity, every local path exactly
// one remote name. Add order is significant only for derived path
// naming, which follows first-seen order.
type Builder struct {
	opts     Options
	order    []string
	bindings map[string]*binding
	byLocal  map[string]string // local path -> remote name
}

// NewBuilder creates a plan builder. A nil opts allows in-place update.
func NewBuilder(opts *Options) *Builder {
	if opts == nil {
		opts = &Options{AllowInPlace: true}
	}
	return &Builder{
		opts:     *opts,
		bindings: make(map[string]*binding),
		byLocal:  make(map[string]string),
	}
}

// AddFragment records every reference segment of a parsed fragment.
// Local paths for discovered references derive from the remote name.
func (b *Builder) AddFragment(frag marker.Fragment) error {
	for _, seg := range frag.Segments {
		if !seg.IsRef() {
			continue
		}
		if err := b.addRef(seg.Name, seg.Dir); err != nil {
			return err
		}
	}
	return nil
}

// AddDownload records an explicit remote-to-alias pair
func (b *Builder) AddDownload(remote, alias string) error {
	return b.addExplicit(remote, alias, marker.Input)
}

// AddUpload records an explicit alias-to-remote pair. Stream capture
// files ride this same path: a capture is an upload whose alias is the
// workspace-local capture file.
func (b *Builder) AddUpload(alias, remote string) error {
	return b.addExplicit(remote, alias, marker.Output)
}

// Build validates the accumulated entries and returns the final plan
func (b *Builder) Build() (*Plan, error) {
	p := &Plan{
		StageIn:  make(map[string]string),
		StageOut: make(map[string]string),
		locals:   make(map[string]string, len(b.bindings)),
	}
	for _, remote := range b.order {
		bind := b.bindings[remote]
		if bind.in && bind.out && !b.opts.AllowInPlace {
			return nil, &ConflictError{
				Remote: remote,
				Local:  bind.local,
				Reason: "staged both in and out, and in-place update is disabled",
			}
		}
		if bind.in {
			p.StageIn[bind.local] = remote
		}
		if bind.out {
			p.StageOut[bind.local] = remote
		}
		p.locals[remote] = bind.local
	}
	return p, nil
}

// addRef merges a discovered reference, deriving its local path
func (b *Builder) addRef(remote string, dir marker.Direction) error {
	if remote == "" {
		return &ConflictError{Reason: "empty remote name"}
	}
	if bind, ok := b.bindings[remote]; ok {
		b.mark(bind, dir)
		return nil
	}
	local := b.derive(remote)
	b.bind(remote, local, dir)
	return nil
}

// addExplicit merges an explicit pair whose alias is already the local
// identity
func (b *Builder) addExplicit(remote, alias string, dir marker.Direction) error {
	if remote == "" {
		return &ConflictError{Local: alias, Reason: "empty remote name"}
	}
	if err := checkAlias(alias); err != nil {
		return &ConflictError{Remote: remote, Local: alias, Reason: err.Error()}
	}
	alias = filepath.Clean(alias)

	if bind, ok := b.bindings[remote]; ok {
		if bind.local != alias {
			return &ConflictError{
				Remote: remote,
				Local:  alias,
				Reason: fmt.Sprintf("already planned under local %q", bind.local),
			}
		}
		b.mark(bind, dir)
		return nil
	}
	if owner, ok := b.byLocal[alias]; ok {
		return &ConflictError{
			Remote: remote,
			Local:  alias,
			Reason: fmt.Sprintf("local path already claimed by %q", owner),
		}
	}
	b.bind(remote, alias, dir)
	return nil
}

func (b *Builder) bind(remote, local string, dir marker.Direction) {
	bind := &binding{local: local}
	b.mark(bind, dir)
	b.bindings[remote] = bind
	b.byLocal[local] = remote
	b.order = append(b.order, remote)
}

func (b *Builder) mark(bind *binding, dir marker.Direction) {
	if dir == marker.Input {
		bind.in = true
	} else {
		bind.out = true
	}
}

// derive picks a collision-free local file name for a remote name
func (b *Builder) derive(remote string) string {
	base := sanitizeName(remote)
	if _, taken := b.byLocal[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s_%d", base, n)
		if _, taken := b.byLocal[cand]; !taken {
			return cand
		}
	}
}

// sanitizeName maps an opaque remote name onto a safe local file name
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	s := strings.TrimLeft(sb.String(), ".")
	if s == "" {
		s = "file"
	}
	return s
}

// checkAlias rejects aliases that would escape the workspace root
func checkAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("empty local alias")
	}
	if filepath.IsAbs(alias) {
		return fmt.Errorf("absolute local alias")
	}
	clean := filepath.Clean(alias)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("local alias escapes the workspace")
	}
	return nil
}
