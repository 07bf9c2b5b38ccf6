// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Structured failure model reported to callers

package protocol

import "fmt"

// FailureKind classifies terminal request failures
type FailureKind string

const (
	KindMarkerSyntax  FailureKind = "marker-syntax"
	KindPlanConflict  FailureKind = "plan-conflict"
	KindStageIn       FailureKind = "stage-in"
	KindSpawn         FailureKind = "spawn"
	KindMissingOutput FailureKind = "missing-output"
	KindStageOut      FailureKind = "stage-out"
	KindCancelled     FailureKind = "cancelled"
)

// Failure is the structured error carried in a RunResult. Kind is always
// set; the remaining fields carry whatever context the kind has:
// Fragment/Offset for marker errors, Remote for transfer errors,
// Uploaded for partial stage-out, Cause for the underlying fault.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Fragment string      `json:"fragment,omitempty"`
	Offset   int         `json:"offset,omitempty"`
	Remote   string      `json:"remote,omitempty"`
	Uploaded []string    `json:"uploaded,omitempty"`
	Cause    string      `json:"cause,omitempty"`
}

func (f *Failure) Error() string {
	if f.Cause != "" {
		return fmt.Sprintf("%s: %s: %s", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NeverRan reports whether the failure occurred before the command
// process was started: inputs were not complete or the spawn itself
// failed, so no side effects of the command exist anywhere.
func (f *Failure) NeverRan() bool {
	switch f.Kind {
	case KindMarkerSyntax, KindPlanConflict, KindStageIn, KindSpawn:
		return true
	}
	return false
}

// DeliveryFailed reports whether the command ran and exited but its
// results were not fully delivered to the store. The paired RunResult
// still carries the real exit code, and for stage-out faults Uploaded
// lists the remote names that did make it.
func (f *Failure) DeliveryFailed() bool {
	return f.Kind == KindMissingOutput || f.Kind == KindStageOut
}
