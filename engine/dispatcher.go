package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/accep779/clarence/inbox"
)

// Mutation intents. Each follows the same shape: validate the local
// precondition, apply the optimistic patch synchronously, issue the
// remote call, then either schedule a reconciliation pull (success) or
// roll the patch back and surface the error (failure). The presentation
// layer therefore never observes a frame where an accepted intent is not
// yet reflected locally.

// Approve approves a pending proposal.
func (e *Engine) Approve(ctx context.Context, id string) error {
	return e.decide(ctx, id, inbox.StatusApproved, "approve", func(callCtx context.Context) error {
		return e.svc.Approve(callCtx, id)
	})
}

// Reject rejects a pending proposal with an optional reason.
func (e *Engine) Reject(ctx context.Context, id, reason string) error {
	return e.decide(ctx, id, inbox.StatusRejected, "reject", func(callCtx context.Context) error {
		return e.svc.Reject(callCtx, id, reason)
	})
}

// decide executes the shared approve/reject flow.
func (e *Engine) decide(ctx context.Context, id string, target inbox.Status, intent string, call func(context.Context) error) error {
	unlock := e.lockProposal(id)
	defer unlock()

	prev, ok := e.store.Get(id)
	if !ok {
		return fmt.Errorf("%s %s: %w", intent, id, inbox.ErrNotFound)
	}
	if !prev.Status.CanTransitionTo(target) {
		e.countMutation(intent, "invalid")
		return &inbox.InvalidTransitionError{ID: id, From: prev.Status, Intent: intent}
	}

	now := time.Now().UTC()
	epoch, _ := e.store.Patch(id, func(p *inbox.Proposal) {
		p.Status = target
		p.DecidedAt = &now
	})

	callCtx, cancel := context.WithTimeout(ctx, e.mutationTimeout)
	defer cancel()

	if err := call(callCtx); err != nil {
		if e.active() {
			e.store.Rollback(prev, epoch)
		}
		e.countMutation(intent, "failed")
		if inbox.IsAuth(err) {
			e.authExpired()
		}
		return fmt.Errorf("%s %s: %w", intent, id, err)
	}

	e.countMutation(intent, "ok")
	e.Notify()
	return nil
}

// RemoveItem removes a line item from a pending proposal's payload.
func (e *Engine) RemoveItem(ctx context.Context, id, itemKey string) error {
	unlock := e.lockProposal(id)
	defer unlock()

	prev, ok := e.store.Get(id)
	if !ok {
		return fmt.Errorf("remove item from %s: %w", id, inbox.ErrNotFound)
	}
	if prev.Status != inbox.StatusPending {
		e.countMutation("remove_item", "invalid")
		return &inbox.InvalidTransitionError{ID: id, From: prev.Status, Intent: "remove_item"}
	}

	found := false
	for _, item := range prev.Payload.Items {
		if item.Key == itemKey {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("remove item %s from %s: %w", itemKey, id, inbox.ErrNotFound)
	}

	epoch, _ := e.store.Patch(id, func(p *inbox.Proposal) {
		items := p.Payload.Items[:0]
		for _, item := range p.Payload.Items {
			if item.Key != itemKey {
				items = append(items, item)
			}
		}
		p.Payload.Items = items
	})

	callCtx, cancel := context.WithTimeout(ctx, e.mutationTimeout)
	defer cancel()

	if err := e.svc.RemoveItem(callCtx, id, itemKey); err != nil {
		if e.active() {
			e.store.Rollback(prev, epoch)
		}
		e.countMutation("remove_item", "failed")
		if inbox.IsAuth(err) {
			e.authExpired()
		}
		return fmt.Errorf("remove item %s from %s: %w", itemKey, id, err)
	}

	e.countMutation("remove_item", "ok")
	e.Notify()
	return nil
}

// SendChat appends a human message to a proposal's chat, awaits the
// agent's synchronous reply, and appends it. The human message itself is
// never rolled back: on failure it stays in place flagged failed, and
// only the predicted agent placeholder is removed.
func (e *Engine) SendChat(ctx context.Context, id, message string) error {
	if message == "" {
		return fmt.Errorf("chat message is required")
	}

	unlock := e.lockProposal(id)
	defer unlock()

	if _, ok := e.store.Get(id); !ok {
		return fmt.Errorf("chat on %s: %w", id, inbox.ErrNotFound)
	}

	now := time.Now().UTC()
	humanID := uuid.New().String()
	placeholderID := uuid.New().String()

	e.store.Patch(id, func(p *inbox.Proposal) {
		p.ChatHistory = append(p.ChatHistory,
			inbox.ChatMessage{
				ID:        humanID,
				Role:      inbox.ChatRoleHuman,
				Content:   message,
				Timestamp: now,
			},
			inbox.ChatMessage{
				ID:        placeholderID,
				Role:      inbox.ChatRoleAgent,
				Timestamp: now,
				Pending:   true,
			},
		)
	})

	callCtx, cancel := context.WithTimeout(ctx, e.mutationTimeout)
	defer cancel()

	reply, err := e.svc.SendChat(callCtx, id, message)
	if err == nil && reply == nil {
		err = fmt.Errorf("service returned no reply")
	}
	if err != nil {
		if e.active() {
			// Drop the placeholder, keep the human message flagged failed.
			// No-op if an authoritative snapshot already replaced both.
			e.store.Patch(id, func(p *inbox.Proposal) {
				kept := p.ChatHistory[:0]
				for _, msg := range p.ChatHistory {
					if msg.ID == placeholderID {
						continue
					}
					if msg.ID == humanID {
						msg.Failed = true
					}
					kept = append(kept, msg)
				}
				p.ChatHistory = kept
			})
		}
		e.countMutation("chat", "failed")
		if inbox.IsAuth(err) {
			e.authExpired()
		}
		return fmt.Errorf("chat on %s: %w", id, err)
	}

	agentMsg := *reply
	if agentMsg.ID == "" {
		agentMsg.ID = placeholderID
	}
	agentMsg.Role = inbox.ChatRoleAgent
	agentMsg.Pending = false

	if e.active() {
		e.store.Patch(id, func(p *inbox.Proposal) {
			for i, msg := range p.ChatHistory {
				if msg.ID == placeholderID {
					p.ChatHistory[i] = agentMsg
					return
				}
			}
			// Placeholder superseded by a snapshot; the snapshot owns the
			// exchange now.
		})
	}

	e.countMutation("chat", "ok")
	e.Notify()
	return nil
}

func (e *Engine) countMutation(intent, outcome string) {
	if e.metrics != nil {
		e.metrics.Mutations.WithLabelValues(intent, outcome).Inc()
	}
}
