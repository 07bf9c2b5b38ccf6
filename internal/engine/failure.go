// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Mapping of run errors onto wire failure kinds

package engine

import (
	"context"
	"errors"

	"github.com/sony-level/cmdproxy/internal/execute"
	"github.com/sony-level/cmdproxy/internal/marker"
	"github.com/sony-level/cmdproxy/internal/plan"
	"github.com/sony-level/cmdproxy/internal/protocol"
	"github.com/sony-level/cmdproxy/internal/stage"
)

// classify turns an error from any run phase into the structured
// failure reported to the caller. Errors without a recognized type
// take the phase's fallback kind so the caller still learns which
// stage of the run broke.
func classify(err error, fallback protocol.FailureKind) *protocol.Failure {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &protocol.Failure{Kind: protocol.KindCancelled, Message: err.Error()}
	}

	var synErr *marker.SyntaxError
	if errors.As(err, &synErr) {
		return &protocol.Failure{
			Kind:     protocol.KindMarkerSyntax,
			Message:  synErr.Reason,
			Fragment: synErr.Fragment,
			Offset:   synErr.Offset,
		}
	}

	var confErr *plan.ConflictError
	if errors.As(err, &confErr) {
		return &protocol.Failure{
			Kind:    protocol.KindPlanConflict,
			Message: confErr.Reason,
			Remote:  confErr.Remote,
		}
	}

	var inErr *stage.InError
	if errors.As(err, &inErr) {
		return &protocol.Failure{
			Kind:    protocol.KindStageIn,
			Message: inErr.Error(),
			Remote:  inErr.Remote,
			Cause:   inErr.Err.Error(),
		}
	}

	var spawnErr *execute.SpawnError
	if errors.As(err, &spawnErr) {
		return &protocol.Failure{
			Kind:    protocol.KindSpawn,
			Message: spawnErr.Error(),
			Cause:   spawnErr.Err.Error(),
		}
	}

	var missErr *stage.MissingOutputError
	if errors.As(err, &missErr) {
		return &protocol.Failure{
			Kind:    protocol.KindMissingOutput,
			Message: missErr.Error(),
			Remote:  missErr.Remote,
		}
	}

	var outErr *stage.OutError
	if errors.As(err, &outErr) {
		return &protocol.Failure{
			Kind:     protocol.KindStageOut,
			Message:  outErr.Error(),
			Remote:   outErr.Remote,
			Uploaded: outErr.Uploaded,
			Cause:    outErr.Err.Error(),
		}
	}

	return &protocol.Failure{Kind: fallback, Message: err.Error()}
}
