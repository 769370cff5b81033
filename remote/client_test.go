package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accep779/clarence/inbox"
	"github.com/accep779/clarence/remote"
)

func TestClient_FetchInbox_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/inbox/merchant-1", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(inbox.Snapshot{
			Proposals: []inbox.Proposal{
				{ID: "p1", Status: inbox.StatusPending, Type: "pricing", Confidence: 0.82},
			},
			PendingCount: 1,
		})
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, remote.WithToken("tok-1"))

	snap, err := client.FetchInbox(context.Background(), "merchant-1")
	require.NoError(t, err)
	require.Len(t, snap.Proposals, 1)
	assert.Equal(t, "p1", snap.Proposals[0].ID)
	assert.Equal(t, inbox.StatusPending, snap.Proposals[0].Status)
	assert.Equal(t, 1, snap.PendingCount)
}

func TestClient_FetchInbox_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "inbox unavailable", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL)

	_, err := client.FetchInbox(context.Background(), "merchant-1")
	require.Error(t, err)
	assert.True(t, inbox.IsService(err), "5xx should classify as ServiceError, got %v", err)
}

func TestClient_FetchInbox_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Refuse connections

	client := remote.NewClient(server.URL)

	_, err := client.FetchInbox(context.Background(), "merchant-1")
	require.Error(t, err)
	assert.True(t, inbox.IsNetwork(err), "connection refused should classify as NetworkError, got %v", err)
}

func TestClient_Timeout_IsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, remote.WithTimeout(20*time.Millisecond))

	_, err := client.FetchInbox(context.Background(), "merchant-1")
	require.Error(t, err)
	assert.True(t, inbox.IsNetwork(err), "timeout should classify as NetworkError, got %v", err)
}

func TestClient_Unauthorized_IsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, remote.WithToken("stale"))

	err := client.Approve(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, inbox.IsAuth(err), "401 should classify as AuthError, got %v", err)
}

func TestClient_Approve_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/proposals/p1/approve", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL)
	require.NoError(t, client.Approve(context.Background(), "p1"))
}

func TestClient_Reject_SendsReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/proposals/p1/reject", r.URL.Path)

		var body struct {
			Reason string `json:"reason"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "margin too thin", body.Reason)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL)
	require.NoError(t, client.Reject(context.Background(), "p1", "margin too thin"))
}

func TestClient_RemoveItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/proposals/p1/items/sku-2", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL)
	require.NoError(t, client.RemoveItem(context.Background(), "p1", "sku-2"))
}

func TestClient_SendChat_ReturnsAgentReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/proposals/p1/chat", r.URL.Path)

		var body struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "lower the price", body.Message)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(inbox.ChatMessage{
			Role:      inbox.ChatRoleAgent,
			Content:   "Dropped to $119.99.",
			Timestamp: time.Now().UTC(),
		})
	}))
	defer server.Close()

	client := remote.NewClient(server.URL)

	reply, err := client.SendChat(context.Background(), "p1", "lower the price")
	require.NoError(t, err)
	assert.Equal(t, inbox.ChatRoleAgent, reply.Role)
	assert.Equal(t, "Dropped to $119.99.", reply.Content)
}
