// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// NATS request-reply queue adapter

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/sony-level/cmdproxy/internal/protocol"
)

// Nats adapts a core NATS connection to the queue interfaces. Workers
// join one queue group per subject, so the broker load-balances
// requests across worker instances; the reply inbox is the routing
// token.
type Nats struct {
	nc     *nats.Conn
	group  string
	logger *slog.Logger
}

// NewNats wraps an established connection
func NewNats(nc *nats.Conn, logger *slog.Logger) *Nats {
	if logger == nil {
		logger = slog.Default()
	}
	return &Nats{nc: nc, group: QueueGroup, logger: logger}
}

// Consume subscribes the worker's queue group to every subject and
// merges deliveries into one channel. Malformed payloads are logged and
// dropped; redelivery policy belongs to the submitter.
func (q *Nats) Consume(ctx context.Context, subjects []string) (<-chan Delivery, error) {
	if len(subjects) == 0 {
		return nil, fmt.Errorf("no subjects to consume")
	}

	msgCh := make(chan *nats.Msg, inboxSize)
	subs := make([]*nats.Subscription, 0, len(subjects))
	for _, subject := range subjects {
		sub, err := q.nc.ChanQueueSubscribe(subject, q.group, msgCh)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				for _, s := range subs {
					_ = s.Unsubscribe()
				}
				return
			case msg := <-msgCh:
				req, err := protocol.DecodeRequest(msg.Data)
				if err != nil {
					q.logger.Warn("dropping malformed run request",
						"subject", msg.Subject, "error", err)
					continue
				}
				d := Delivery{Subject: msg.Subject, Token: msg.Reply, Request: req}
				select {
				case out <- d:
				case <-ctx.Done():
					for _, s := range subs {
						_ = s.Unsubscribe()
					}
					return
				}
			}
		}
	}()

	return out, nil
}

// Respond publishes a result to the delivery's reply inbox. Requests
// submitted without a reply subject get no response.
func (q *Nats) Respond(d Delivery, res *protocol.RunResult) error {
	if d.Token == "" {
		return nil
	}
	data, err := protocol.EncodeResult(res)
	if err != nil {
		return err
	}
	if err := q.nc.Publish(d.Token, data); err != nil {
		return fmt.Errorf("failed to publish result to %s: %w", d.Token, err)
	}
	return nil
}

// Submit sends a request to a subject and waits for the result
func (q *Nats) Submit(ctx context.Context, subject string, req *protocol.RunRequest) (*protocol.RunResult, error) {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	msg, err := q.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("no worker is serving %s: %w", subject, err)
		}
		return nil, fmt.Errorf("request on %s failed: %w", subject, err)
	}

	return protocol.DecodeResult(msg.Data)
}
