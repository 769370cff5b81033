// Package remote provides the HTTP client for the Clarence proposal
// service: the authoritative snapshot pull and the approve, reject,
// item-removal, and chat mutation calls.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accep779/clarence/inbox"
)

// maxResponseSize limits response bodies to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// defaultTimeout bounds every call; expiry is treated as a network failure.
const defaultTimeout = 15 * time.Second

// Client talks to the proposal service. All failures are classified into
// the inbox error taxonomy: transport errors and timeouts become
// NetworkError, 401/403 become AuthError, other non-2xx responses become
// ServiceError.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(client *Client) {
		client.token = token
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// NewClient creates a proposal service client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchInbox pulls the complete authoritative inbox snapshot for a topic
// key (merchant identifier).
func (c *Client) FetchInbox(ctx context.Context, topicKey string) (*inbox.Snapshot, error) {
	if topicKey == "" {
		return nil, fmt.Errorf("topic key is required")
	}

	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/inbox/%s", url.PathEscape(topicKey)), nil)
	if err != nil {
		return nil, err
	}

	var snap inbox.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode inbox snapshot: %w", err)
	}
	return &snap, nil
}

// Approve approves a pending proposal.
func (c *Client) Approve(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/proposals/%s/approve", url.PathEscape(id)), nil)
	return err
}

// rejectRequest is the reject call body.
type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Reject rejects a pending proposal with an optional free-text reason.
func (c *Client) Reject(ctx context.Context, id, reason string) error {
	var payload any
	if reason != "" {
		payload = rejectRequest{Reason: reason}
	}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/proposals/%s/reject", url.PathEscape(id)), payload)
	return err
}

// RemoveItem removes a line item from a proposal's payload.
func (c *Client) RemoveItem(ctx context.Context, id, itemKey string) error {
	path := fmt.Sprintf("/api/proposals/%s/items/%s", url.PathEscape(id), url.PathEscape(itemKey))
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// chatRequest is the chat call body.
type chatRequest struct {
	Message string `json:"message"`
}

// SendChat appends a human message to a proposal's chat and returns the
// agent's reply. The exchange is a synchronous request/response; replies
// are not streamed.
func (c *Client) SendChat(ctx context.Context, id, message string) (*inbox.ChatMessage, error) {
	if message == "" {
		return nil, fmt.Errorf("chat message is required")
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/proposals/%s/chat", url.PathEscape(id)), chatRequest{Message: message})
	if err != nil {
		return nil, err
	}

	var reply inbox.ChatMessage
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode chat reply: %w", err)
	}
	return &reply, nil
}

// do executes a single request and classifies the outcome.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("Proposal service request",
		"method", method,
		"path", path,
		"request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures and timeouts are transient
		return nil, inbox.NewNetworkError(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, inbox.NewNetworkError(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}

	return body, nil
}

// classifyHTTPError maps a non-2xx response onto the error taxonomy.
func classifyHTTPError(statusCode int, body []byte) error {
	message := string(body)
	if len(message) > 200 {
		message = message[:200] + "..."
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		// Terminal for the session: caller clears state and re-authenticates
		return inbox.NewAuthError(fmt.Errorf("authentication failed (status %d)", statusCode))
	default:
		return &inbox.ServiceError{StatusCode: statusCode, Message: message}
	}
}
