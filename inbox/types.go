// Package inbox provides the domain model and in-memory store for the
// Clarence approval inbox: machine-generated proposals awaiting a human
// decision, kept convergent with the authoritative proposal service
// through snapshot reconciliation.
package inbox

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a proposal.
type Status string

const (
	// StatusPending indicates the proposal is awaiting a human decision.
	StatusPending Status = "pending"
	// StatusApproved indicates a human approved the proposal.
	StatusApproved Status = "approved"
	// StatusRejected indicates a human rejected the proposal.
	StatusRejected Status = "rejected"
	// StatusExecuted indicates the server carried out the approved action.
	StatusExecuted Status = "executed"
	// StatusFailed indicates execution of the approved action failed.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known proposal status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExecuted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition can occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if the status can transition to the target
// status. Approve and reject are the only human-triggered transitions;
// executed and failed are server-driven and only ever observed via snapshot.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusApproved || target == StatusRejected
	case StatusApproved:
		return target == StatusExecuted || target == StatusFailed
	case StatusRejected, StatusExecuted, StatusFailed:
		return false // Terminal states
	default:
		return false
	}
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	// ChatRoleHuman is a message written by the reviewing operator.
	ChatRoleHuman ChatRole = "human"
	// ChatRoleAgent is a message written by the producing agent.
	ChatRoleAgent ChatRole = "agent"
)

// ChatMessage is one entry in a proposal's chat history. Ordering is
// arrival order and the history is append-only.
type ChatMessage struct {
	// ID uniquely identifies the message within the proposal.
	ID string `json:"id,omitempty"`

	// Role is who authored the message.
	Role ChatRole `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`

	// Pending marks a transient local placeholder for an agent reply
	// that has not arrived yet. Never set on server-provided messages.
	Pending bool `json:"pending,omitempty"`

	// Failed marks a human message whose delivery failed. The message
	// itself is retained; only predicted agent state is rolled back.
	Failed bool `json:"failed,omitempty"`
}

// LineItem is one actionable line within a proposal payload.
type LineItem struct {
	// Key uniquely identifies the item within the proposal.
	Key string `json:"key"`

	// Name is the display name (SKU title, campaign segment, etc).
	Name string `json:"name"`

	// Quantity is the unit count the action applies to.
	Quantity int `json:"quantity,omitempty"`

	// UnitPrice is the proposed per-unit price.
	UnitPrice float64 `json:"unit_price,omitempty"`
}

// Payload is the structured content of a proposal. The core treats it as
// opaque except for line-item removal.
type Payload struct {
	// Title is the proposal headline.
	Title string `json:"title"`

	// Description explains the proposed action.
	Description string `json:"description,omitempty"`

	// Items are the actionable line items, addressable by key.
	Items []LineItem `json:"items,omitempty"`

	// Detail carries any additional agent-produced content verbatim.
	Detail json.RawMessage `json:"detail,omitempty"`
}

// Proposal is a machine-generated, human-reviewable unit of action.
type Proposal struct {
	// ID is the opaque unique identifier, immutable.
	ID string `json:"id"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Type classifies the proposed action (pricing, campaign, inventory).
	Type string `json:"type"`

	// AgentType identifies the producing agent, immutable after creation.
	AgentType string `json:"agent_type"`

	// Confidence is the producing agent's score in [0,1].
	Confidence float64 `json:"confidence"`

	// Payload is the proposal content.
	Payload Payload `json:"payload"`

	// ChatHistory is the ordered human/agent exchange for this proposal.
	ChatHistory []ChatMessage `json:"chat_history,omitempty"`

	// CreatedAt is when the proposal was created server-side.
	CreatedAt time.Time `json:"created_at"`

	// DecidedAt is when a human approved or rejected the proposal.
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// ExecutedAt is when the server finished executing the action.
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	// WaitingForMobileAuth indicates an out-of-band verification step is
	// pending. Presentation-only; does not gate the status machine.
	WaitingForMobileAuth bool `json:"waiting_for_mobile_auth,omitempty"`
}

// Clone returns a deep copy of the proposal. The store hands out and
// accepts copies so callers can never alias its internal state.
func (p Proposal) Clone() Proposal {
	c := p
	if p.ChatHistory != nil {
		c.ChatHistory = make([]ChatMessage, len(p.ChatHistory))
		copy(c.ChatHistory, p.ChatHistory)
	}
	if p.Payload.Items != nil {
		c.Payload.Items = make([]LineItem, len(p.Payload.Items))
		copy(c.Payload.Items, p.Payload.Items)
	}
	if p.Payload.Detail != nil {
		c.Payload.Detail = make(json.RawMessage, len(p.Payload.Detail))
		copy(c.Payload.Detail, p.Payload.Detail)
	}
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		c.DecidedAt = &t
	}
	if p.ExecutedAt != nil {
		t := *p.ExecutedAt
		c.ExecutedAt = &t
	}
	return c
}

// Snapshot is a complete, server-authoritative listing of proposals at one
// point in time. It is the unit of reconciliation: the store is replaced
// wholesale on every successful fetch, never patched from push payloads.
type Snapshot struct {
	// Proposals is the ordered proposal list.
	Proposals []Proposal `json:"proposals"`

	// PendingCount is the server-derived count of pending proposals.
	PendingCount int `json:"pending_count"`
}
