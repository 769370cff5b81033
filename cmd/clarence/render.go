package main

import (
	"fmt"
	"strings"

	"github.com/accep779/clarence/inbox"
)

// renderInbox prints the current inbox state. Pending proposals come
// first with full payload detail; decided ones get a one-line trailer.
func renderInbox(store *inbox.Store) {
	proposals := store.List()

	fmt.Printf("\n=== Inbox: %d proposals, %d pending ===\n", len(proposals), store.PendingCount())

	var decided []inbox.Proposal
	for _, p := range proposals {
		if p.Status != inbox.StatusPending {
			decided = append(decided, p)
			continue
		}
		renderProposal(p)
	}

	for _, p := range decided {
		marker := strings.ToUpper(string(p.Status))
		if p.WaitingForMobileAuth {
			marker += " (awaiting mobile auth)"
		}
		fmt.Printf("  %-10s %s  %s\n", marker, p.ID, p.Payload.Title)
	}
}

func renderProposal(p inbox.Proposal) {
	fmt.Printf("\n[%s] %s\n", p.ID, p.Payload.Title)
	fmt.Printf("  agent: %s (%s), confidence %.0f%%\n", p.AgentType, p.Type, p.Confidence*100)
	if p.Payload.Description != "" {
		fmt.Printf("  %s\n", p.Payload.Description)
	}
	for _, item := range p.Payload.Items {
		fmt.Printf("    - %s  x%d  @ %.2f  [%s]\n", item.Name, item.Quantity, item.UnitPrice, item.Key)
	}
	if n := len(p.ChatHistory); n > 0 {
		fmt.Printf("  chat: %d messages\n", n)
	}
}

func renderChat(p inbox.Proposal) {
	fmt.Printf("\n[%s] %s\n", p.ID, p.Payload.Title)
	for _, msg := range p.ChatHistory {
		who := "agent"
		if msg.Role == inbox.ChatRoleHuman {
			who = "you"
		}
		switch {
		case msg.Pending:
			fmt.Printf("  %s: ...\n", who)
		case msg.Failed:
			fmt.Printf("  %s: %s  (send failed)\n", who, msg.Content)
		default:
			fmt.Printf("  %s: %s\n", who, msg.Content)
		}
	}
}
