package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var req = Request{Action: ActionRemoveSong, Title: "A - B", ClientAddress: "10.0.0.2:4000"}

// waitForTicket polls until the board lists a pending ticket
func waitForTicket(t *testing.T, b *Board) Ticket {
	t.Helper()
	var tickets []Ticket
	require.Eventually(t, func() bool {
		tickets = b.List()
		return len(tickets) == 1
	}, time.Second, time.Millisecond)
	return tickets[0]
}

func TestBoardApprove(t *testing.T) {
	b := NewBoard(time.Minute)

	result := make(chan error, 1)
	go func() { result <- b.Approve(context.Background(), req) }()

	ticket := waitForTicket(t, b)
	assert.Equal(t, req, ticket.Request)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, time.Minute, ticket.ExpiresAt.Sub(ticket.CreatedAt))

	require.NoError(t, b.Resolve(ticket.ID, true))
	assert.NoError(t, <-result)
	assert.Empty(t, b.List())
}

func TestBoardReject(t *testing.T) {
	b := NewBoard(time.Minute)

	result := make(chan error, 1)
	go func() { result <- b.Approve(context.Background(), req) }()

	ticket := waitForTicket(t, b)
	require.NoError(t, b.Resolve(ticket.ID, false))
	assert.ErrorIs(t, <-result, ErrRejected)

	// A ticket resolves once
	assert.ErrorIs(t, b.Resolve(ticket.ID, true), ErrUnknownTicket)
}

func TestBoardTimeout(t *testing.T) {
	b := NewBoard(20 * time.Millisecond)

	err := b.Approve(context.Background(), req)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, b.List())
}

func TestBoardCancelledWaiterLeavesTicket(t *testing.T) {
	b := NewBoard(200 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- b.Approve(ctx, req) }()

	ticket := waitForTicket(t, b)
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)

	// Still pending for approvers until it expires on its own
	assert.Len(t, b.List(), 1)
	assert.Equal(t, ticket.ID, b.List()[0].ID)
	require.Eventually(t, func() bool { return len(b.List()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestBoardUnknownTicket(t *testing.T) {
	b := NewBoard(time.Minute)
	assert.ErrorIs(t, b.Resolve("nope", true), ErrUnknownTicket)
}
