// Package approval holds mutations that need a human or peer decision until
// that decision arrives or the request expires.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRejected is returned when a pending request is turned down
	ErrRejected = errors.New("approval rejected")

	// ErrTimeout is returned when nobody decided before the deadline
	ErrTimeout = errors.New("approval timeout")

	// ErrUnknownTicket is returned when resolving a ticket that is not pending
	ErrUnknownTicket = errors.New("unknown approval ticket")
)

// Action names the mutation waiting for approval
type Action string

const (
	ActionAddSong    Action = "song-addition"
	ActionRemoveSong Action = "song-removal"
)

// Request describes what needs approval
type Request struct {
	Action        Action `json:"action"`
	Title         string `json:"title"`
	ClientAddress string `json:"clientAddress"`
}

// Workflow decides whether a request may proceed. Approve blocks until
// the decision is made and returns nil only when the request is approved.
type Workflow interface {
	Approve(ctx context.Context, req Request) error
}

// Ticket is a pending request as shown to approvers
type Ticket struct {
	ID        string    `json:"id"`
	Request   Request   `json:"request"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type pending struct {
	ticket Ticket
	done   chan error // buffered, receives exactly one outcome
	timer  *time.Timer
}

// Board is an in-process Workflow: every request becomes a Ticket that an
// approver resolves through Resolve, or that expires after the timeout.
type Board struct {
	mu      sync.Mutex
	tickets map[string]*pending
	timeout time.Duration
	now     func() time.Time
}

// NewBoard creates a board whose tickets expire after timeout
func NewBoard(timeout time.Duration) *Board {
	return &Board{
		tickets: make(map[string]*pending),
		timeout: timeout,
		now:     time.Now,
	}
}

// Approve files a ticket and waits for its outcome. If ctx ends first the
// waiter detaches; the ticket stays listed until resolved or expired.
func (b *Board) Approve(ctx context.Context, req Request) error {
	p := b.open(req)

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for approval of ticket %s: %w", p.ticket.ID, ctx.Err())
	}
}

func (b *Board) open(req Request) *pending {
	now := b.now()
	p := &pending{
		ticket: Ticket{
			ID:        uuid.NewString(),
			Request:   req,
			CreatedAt: now,
			ExpiresAt: now.Add(b.timeout),
		},
		done: make(chan error, 1),
	}

	id := p.ticket.ID

	// The timer is armed under the lock so finish always sees it set
	b.mu.Lock()
	b.tickets[id] = p
	p.timer = time.AfterFunc(b.timeout, func() {
		b.finish(id, ErrTimeout)
	})
	b.mu.Unlock()
	return p
}

// Resolve approves or rejects a pending ticket
func (b *Board) Resolve(id string, approved bool) error {
	var outcome error
	if !approved {
		outcome = ErrRejected
	}
	if !b.finish(id, outcome) {
		return fmt.Errorf("%w: %s", ErrUnknownTicket, id)
	}
	return nil
}

func (b *Board) finish(id string, outcome error) bool {
	b.mu.Lock()
	p, ok := b.tickets[id]
	if ok {
		delete(b.tickets, id)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	p.timer.Stop()
	p.done <- outcome
	return true
}

// List returns pending tickets, oldest first
func (b *Board) List() []Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Ticket, 0, len(b.tickets))
	for _, p := range b.tickets {
		out = append(out, p.ticket)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
