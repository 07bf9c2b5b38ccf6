// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Wire types for run requests and results

package protocol

import (
	"encoding/json"
	"fmt"
)

// TransferPair binds a remote object name to a local alias. In a
// download the remote object lands at the alias path; in an upload the
// alias path is pushed under the remote name.
type TransferPair struct {
	Remote string `json:"remote"`
	Alias  string `json:"alias"`
}

// RunRequest describes one remote command invocation. Command and args
// may embed reference markers; downloads and uploads list explicit
// transfers by alias. Nil optionals mean "not set" and encode as JSON
// null, distinct from empty sequences.
type RunRequest struct {
	ID        string            `json:"id"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Downloads []TransferPair    `json:"downloads"`
	Uploads   []TransferPair    `json:"uploads"`
	Stdout    *string           `json:"stdout"`
	Stderr    *string           `json:"stderr"`
	Env       map[string]string `json:"env"`
	Cwd       *string           `json:"cwd"`
}

// RunResult is the terminal outcome of one request. ExitCode is present
// only if the process was spawned; Failure is present only if the
// request failed.
type RunResult struct {
	ExitCode *int     `json:"exit_code"`
	Failure  *Failure `json:"failure"`
}

// Exited reports whether the command process ran to completion
func (r *RunResult) Exited() bool {
	return r.ExitCode != nil
}

// EncodeRequest serializes a request for the queue
func EncodeRequest(req *RunRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}
	return data, nil
}

// DecodeRequest deserializes a request received from the queue
func DecodeRequest(data []byte) (*RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode run request: %w", err)
	}
	if req.Command == "" {
		return nil, fmt.Errorf("run request has no command")
	}
	return &req, nil
}

// EncodeResult serializes a result for the queue
func EncodeResult(res *RunResult) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run result: %w", err)
	}
	return data, nil
}

// DecodeResult deserializes a result received from the queue
func DecodeResult(data []byte) (*RunResult, error) {
	var res RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode run result: %w", err)
	}
	return &res, nil
}
