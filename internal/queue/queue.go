// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Message queue collaborator interfaces and subject naming

package queue

import (
	"context"
	"strings"

	"github.com/sony-level/cmdproxy/internal/protocol"
)

// SubjectPrefix roots every run subject. One subject exists per
// command, so distinct commands form distinct queues and workers
// subscribe only to commands they can serve.
const SubjectPrefix = "cmdproxy.run."

// QueueGroup is the shared consumer group: requests on one subject are
// load-balanced across all workers serving it
const QueueGroup = "cmdproxy-workers"

// SubjectFor maps a command name onto its queue subject
func SubjectFor(command string) string {
	var sb strings.Builder
	sb.WriteString(SubjectPrefix)
	for _, r := range command {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// Delivery is one request taken from a queue, with the token that
// routes its result back to the submitter
type Delivery struct {
	Subject string
	Token   string
	Request *protocol.RunRequest
}

// Consumer receives run requests on the worker side. Implementations
// must be safe for concurrent use; the channel closes when the consume
// context ends.
type Consumer interface {
	Consume(ctx context.Context, subjects []string) (<-chan Delivery, error)
	Respond(d Delivery, res *protocol.RunResult) error
}

// Submitter sends run requests from the client side and waits for the
// terminal result
type Submitter interface {
	Submit(ctx context.Context, subject string, req *protocol.RunRequest) (*protocol.RunResult, error)
}
