// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// In-process queue for tests and local runs

package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony-level/cmdproxy/internal/protocol"
)

// inboxSize bounds how many undelivered requests one subject buffers
const inboxSize = 64

// Memory is a process-local queue implementing both Consumer and
// Submitter. Requests and results pass through the wire codec so the
// null and absence semantics match the broker-backed path exactly.
type Memory struct {
	mu      sync.Mutex
	inboxes map[string]chan Delivery
	replies map[string]chan *protocol.RunResult
	seq     int
}

// NewMemory creates an empty in-process queue
func NewMemory() *Memory {
	return &Memory{
		inboxes: make(map[string]chan Delivery),
		replies: make(map[string]chan *protocol.RunResult),
	}
}

// Submit enqueues a request and blocks until a worker responds or the
// context ends
func (m *Memory) Submit(ctx context.Context, subject string, req *protocol.RunRequest) (*protocol.RunResult, error) {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	decoded, err := protocol.DecodeRequest(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.seq++
	token := fmt.Sprintf("reply.%d", m.seq)
	reply := make(chan *protocol.RunResult, 1)
	m.replies[token] = reply
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.replies, token)
		m.mu.Unlock()
	}()

	select {
	case m.inboxFor(subject) <- Delivery{Subject: subject, Token: token, Request: decoded}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Consume merges the named subjects into one delivery channel. The
// channel closes once ctx ends and the forwarders drain.
func (m *Memory) Consume(ctx context.Context, subjects []string) (<-chan Delivery, error) {
	if len(subjects) == 0 {
		return nil, fmt.Errorf("no subjects to consume")
	}

	out := make(chan Delivery)
	var wg sync.WaitGroup

	for _, subject := range subjects {
		inbox := m.inboxFor(subject)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-inbox:
					select {
					case out <- d:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// Respond routes a result back to the submitter waiting on the token
func (m *Memory) Respond(d Delivery, res *protocol.RunResult) error {
	data, err := protocol.EncodeResult(res)
	if err != nil {
		return err
	}
	decoded, err := protocol.DecodeResult(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	reply, ok := m.replies[d.Token]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending reply for token %q", d.Token)
	}
	reply <- decoded
	return nil
}

func (m *Memory) inboxFor(subject string) chan Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.inboxes[subject]
	if !ok {
		ch = make(chan Delivery, inboxSize)
		m.inboxes[subject] = ch
	}
	return ch
}
