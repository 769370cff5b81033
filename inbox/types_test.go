package inbox

import "testing"

func TestStatus_IsValid(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"pending", true},
		{"approved", true},
		{"rejected", true},
		{"executed", true},
		{"failed", true},
		{"", false},
		{"archived", false},
		{"PENDING", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := Status(tt.status).IsValid(); got != tt.want {
				t.Errorf("Status(%q).IsValid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		// From pending: the two human-triggered transitions
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusExecuted, false},
		{StatusPending, StatusFailed, false},
		{StatusPending, StatusPending, false},

		// From approved: server-driven outcomes only
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusFailed, true},
		{StatusApproved, StatusPending, false},
		{StatusApproved, StatusRejected, false},

		// Terminal states never move, in particular never back to pending
		{StatusRejected, StatusPending, false},
		{StatusRejected, StatusApproved, false},
		{StatusExecuted, StatusPending, false},
		{StatusExecuted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("Status(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusApproved, false},
		{StatusRejected, true},
		{StatusExecuted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestProposal_Clone_Independent(t *testing.T) {
	orig := Proposal{
		ID:     "p1",
		Status: StatusPending,
		Payload: Payload{
			Title: "Reprice winter stock",
			Items: []LineItem{{Key: "sku-1", Name: "Parka", Quantity: 4, UnitPrice: 129.99}},
		},
		ChatHistory: []ChatMessage{{Role: ChatRoleHuman, Content: "why?"}},
	}

	clone := orig.Clone()
	clone.Status = StatusApproved
	clone.Payload.Items[0].UnitPrice = 1
	clone.ChatHistory[0].Content = "changed"

	if orig.Status != StatusPending {
		t.Errorf("clone mutation leaked into original status: %s", orig.Status)
	}
	if orig.Payload.Items[0].UnitPrice != 129.99 {
		t.Errorf("clone mutation leaked into original items: %v", orig.Payload.Items[0])
	}
	if orig.ChatHistory[0].Content != "why?" {
		t.Errorf("clone mutation leaked into original chat: %v", orig.ChatHistory[0])
	}
}
