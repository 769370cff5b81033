package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accep779/clarence/engine"
	"github.com/accep779/clarence/inbox"
)

// seededEngine builds an engine whose store already holds the given
// snapshot, without running the reconciliation loop.
func seededEngine(t *testing.T, svc *fakeService, snap inbox.Snapshot) *engine.Engine {
	t.Helper()
	store := inbox.NewStore()
	store.Replace(snap)
	return newTestEngine(t, svc, func(cfg *engine.Config) {
		cfg.Store = store
	})
}

func TestApprove_OptimisticThenConfirmed(t *testing.T) {
	svc := &fakeService{}
	e := seededEngine(t, svc, pendingSnapshot())

	// The remote call must observe the optimistic status already applied
	var statusAtCall inbox.Status
	svc.onCall = func() {
		p, _ := e.Store().Get("p1")
		statusAtCall = p.Status
	}

	err := e.Approve(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, inbox.StatusApproved, statusAtCall)

	p, ok := e.Store().Get("p1")
	require.True(t, ok)
	assert.Equal(t, inbox.StatusApproved, p.Status)
	require.NotNil(t, p.DecidedAt)
	assert.WithinDuration(t, time.Now(), *p.DecidedAt, time.Minute)
	assert.Zero(t, e.Store().PendingCount())
}

func TestApprove_FailureRollsBack(t *testing.T) {
	svc := &fakeService{approveErr: &inbox.ServiceError{StatusCode: 500, Message: "boom"}}
	e := seededEngine(t, svc, pendingSnapshot())

	err := e.Approve(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, inbox.IsService(err))

	p, ok := e.Store().Get("p1")
	require.True(t, ok)
	assert.Equal(t, inbox.StatusPending, p.Status)
	assert.Nil(t, p.DecidedAt)
	assert.Equal(t, 1, e.Store().PendingCount())
}

func TestApprove_InvalidTransition(t *testing.T) {
	snap := pendingSnapshot()
	snap.Proposals[0].Status = inbox.StatusExecuted
	snap.PendingCount = 0

	svc := &fakeService{}
	e := seededEngine(t, svc, snap)

	err := e.Approve(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, inbox.IsInvalidTransition(err))
	assert.Zero(t, svc.approveCalls.Load(), "no remote call for a locally rejected transition")
}

func TestApprove_UnknownProposal(t *testing.T) {
	svc := &fakeService{}
	e := seededEngine(t, svc, pendingSnapshot())

	err := e.Approve(context.Background(), "nope")
	assert.ErrorIs(t, err, inbox.ErrNotFound)
}

func TestApprove_AuthFailureExpiresSession(t *testing.T) {
	svc := &fakeService{approveErr: inbox.NewAuthError(assert.AnError)}

	var expired bool
	store := inbox.NewStore()
	snap := pendingSnapshot()
	store.Replace(snap)
	e := newTestEngine(t, svc, func(cfg *engine.Config) {
		cfg.Store = store
		cfg.OnAuthExpired = func() { expired = true }
	})

	err := e.Approve(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, inbox.IsAuth(err))
	assert.True(t, expired)

	p, _ := e.Store().Get("p1")
	assert.Equal(t, inbox.StatusPending, p.Status, "rolled back on auth failure too")
}

func TestReject_PassesReason(t *testing.T) {
	svc := &fakeService{}
	e := seededEngine(t, svc, pendingSnapshot())

	require.NoError(t, e.Reject(context.Background(), "p1", "too aggressive"))

	svc.mu.Lock()
	reason := svc.lastReason
	svc.mu.Unlock()
	assert.Equal(t, "too aggressive", reason)

	p, _ := e.Store().Get("p1")
	assert.Equal(t, inbox.StatusRejected, p.Status)
	assert.NotNil(t, p.DecidedAt)
}

func TestRemoveItem_Success(t *testing.T) {
	svc := &fakeService{}
	e := seededEngine(t, svc, pendingSnapshot())

	require.NoError(t, e.RemoveItem(context.Background(), "p1", "sku-1"))

	svc.mu.Lock()
	key := svc.lastItemKey
	svc.mu.Unlock()
	assert.Equal(t, "sku-1", key)

	p, _ := e.Store().Get("p1")
	require.Len(t, p.Payload.Items, 1)
	assert.Equal(t, "sku-2", p.Payload.Items[0].Key)
}

func TestRemoveItem_FailureRestoresItems(t *testing.T) {
	svc := &fakeService{removeErr: &inbox.ServiceError{StatusCode: 502, Message: "bad gateway"}}
	e := seededEngine(t, svc, pendingSnapshot())

	err := e.RemoveItem(context.Background(), "p1", "sku-1")
	require.Error(t, err)

	p, _ := e.Store().Get("p1")
	require.Len(t, p.Payload.Items, 2)
	assert.Equal(t, "sku-1", p.Payload.Items[0].Key)
}

func TestRemoveItem_RequiresPendingProposal(t *testing.T) {
	snap := pendingSnapshot()
	snap.Proposals[0].Status = inbox.StatusApproved
	snap.PendingCount = 0

	svc := &fakeService{}
	e := seededEngine(t, svc, snap)

	err := e.RemoveItem(context.Background(), "p1", "sku-1")
	assert.True(t, inbox.IsInvalidTransition(err))
}

func TestRemoveItem_UnknownKey(t *testing.T) {
	svc := &fakeService{}
	e := seededEngine(t, svc, pendingSnapshot())

	err := e.RemoveItem(context.Background(), "p1", "sku-404")
	assert.ErrorIs(t, err, inbox.ErrNotFound)
	assert.Empty(t, svc.lastItemKey, "no remote call for an unknown item")
}

func TestSendChat_AppendsExchangeInOrder(t *testing.T) {
	svc := &fakeService{chatReply: &inbox.ChatMessage{
		ID:      "srv-msg-1",
		Role:    inbox.ChatRoleAgent,
		Content: "Here is my reasoning.",
	}}
	e := seededEngine(t, svc, pendingSnapshot())

	// While the call is in flight the placeholder must already be visible
	var historyAtCall []inbox.ChatMessage
	svc.onCall = func() {
		p, _ := e.Store().Get("p1")
		historyAtCall = p.ChatHistory
	}

	require.NoError(t, e.SendChat(context.Background(), "p1", "why this price?"))

	require.Len(t, historyAtCall, 2)
	assert.Equal(t, inbox.ChatRoleHuman, historyAtCall[0].Role)
	assert.True(t, historyAtCall[1].Pending, "agent placeholder shown while waiting")

	p, _ := e.Store().Get("p1")
	require.Len(t, p.ChatHistory, 2)
	assert.Equal(t, inbox.ChatRoleHuman, p.ChatHistory[0].Role)
	assert.Equal(t, "why this price?", p.ChatHistory[0].Content)
	assert.False(t, p.ChatHistory[0].Failed)
	assert.Equal(t, inbox.ChatRoleAgent, p.ChatHistory[1].Role)
	assert.Equal(t, "srv-msg-1", p.ChatHistory[1].ID)
	assert.False(t, p.ChatHistory[1].Pending)

	svc.mu.Lock()
	sent := svc.lastMessage
	svc.mu.Unlock()
	assert.Equal(t, "why this price?", sent)
}

func TestSendChat_FailureKeepsHumanMessageFlagged(t *testing.T) {
	svc := &fakeService{chatErr: inbox.NewNetworkError(assert.AnError)}
	e := seededEngine(t, svc, pendingSnapshot())

	err := e.SendChat(context.Background(), "p1", "hello?")
	require.Error(t, err)
	assert.True(t, inbox.IsNetwork(err))

	// The human message survives, marked failed; the placeholder is gone
	p, _ := e.Store().Get("p1")
	require.Len(t, p.ChatHistory, 1)
	assert.Equal(t, inbox.ChatRoleHuman, p.ChatHistory[0].Role)
	assert.True(t, p.ChatHistory[0].Failed)
}

func TestSendChat_NilReplyTreatedAsFailure(t *testing.T) {
	// chatReply and chatErr both unset: the service yields (nil, nil)
	svc := &fakeService{}
	e := seededEngine(t, svc, pendingSnapshot())

	err := e.SendChat(context.Background(), "p1", "anyone there?")
	require.Error(t, err)

	p, _ := e.Store().Get("p1")
	require.Len(t, p.ChatHistory, 1)
	assert.Equal(t, inbox.ChatRoleHuman, p.ChatHistory[0].Role)
	assert.True(t, p.ChatHistory[0].Failed)
}

func TestSendChat_UnknownProposal(t *testing.T) {
	svc := &fakeService{}
	e := seededEngine(t, svc, pendingSnapshot())

	err := e.SendChat(context.Background(), "ghost", "hi")
	assert.ErrorIs(t, err, inbox.ErrNotFound)
}
