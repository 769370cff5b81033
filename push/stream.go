// Package push maintains the server-initiated notification channels for
// the Clarence inbox: a notification-only SSE stream per topic key, and a
// broader bidirectional NATS channel carrying typed events.
package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/accep779/clarence/inbox"
)

// State is the connection state of a push channel.
type State string

const (
	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting State = "connecting"
	// StateOpen indicates the channel is connected and delivering events.
	StateOpen State = "open"
	// StateReconnecting indicates the channel is waiting out a backoff
	// delay after an unexpected disconnect.
	StateReconnecting State = "reconnecting"
	// StateClosed indicates the channel was closed explicitly or
	// terminally and will not reconnect.
	StateClosed State = "closed"
)

// streamEventChange is the SSE event name carrying proposal change
// notifications. Other event names (heartbeat, connected) are ignored.
const streamEventChange = "proposal_change"

// Change event actions. The payload is advisory only: the client never
// trusts its completeness and always re-fetches a full snapshot.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// ChangeEvent is a proposal change notification from the stream.
type ChangeEvent struct {
	// Action discriminates the change (created, updated, ...).
	Action string `json:"action"`

	// Payload is the optional structured event body, passed through
	// opaque and untrusted.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// maxEventSize bounds a single SSE line.
const maxEventSize = 1 * 1024 * 1024 // 1MB

// Stream is the notification-only push channel: one long-lived SSE
// connection per topic key. On unexpected disconnect it retries forever
// with exponential backoff, re-issuing the subscription request each time
// since server-side subscription state is not durable across connections.
// Transport errors never escape; they drive reconnection and surface only
// through the disconnect callback as a connectivity-degraded signal.
type Stream struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	backoff    Backoff

	onChange   func(ChangeEvent)
	onConnect  func()
	onDisc     func(error)
	onTerminal func(error)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamHTTPClient sets a custom HTTP client. The client must not set
// an overall timeout; the stream connection is long-lived.
func WithStreamHTTPClient(c *http.Client) StreamOption {
	return func(s *Stream) {
		s.httpClient = c
	}
}

// WithStreamLogger sets the logger.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) {
		s.logger = logger
	}
}

// WithStreamBackoff sets the reconnect schedule.
func WithStreamBackoff(b Backoff) StreamOption {
	return func(s *Stream) {
		s.backoff = b
	}
}

// OnChange sets the change notification handler.
func OnChange(fn func(ChangeEvent)) StreamOption {
	return func(s *Stream) {
		s.onChange = fn
	}
}

// OnConnect sets the handler invoked each time the stream (re)connects.
func OnConnect(fn func()) StreamOption {
	return func(s *Stream) {
		s.onConnect = fn
	}
}

// OnDisconnect sets the handler invoked when an open stream drops.
func OnDisconnect(fn func(error)) StreamOption {
	return func(s *Stream) {
		s.onDisc = fn
	}
}

// OnTerminalError sets the handler for unrecoverable failures
// (authentication rejection). The stream stops reconnecting after it.
func OnTerminalError(fn func(error)) StreamOption {
	return func(s *Stream) {
		s.onTerminal = fn
	}
}

// NewStream creates a notification stream for one topic key. The stream
// does not connect until Start is called.
func NewStream(baseURL, topicKey, token string, opts ...StreamOption) *Stream {
	s := &Stream{
		url:        fmt.Sprintf("%s/api/inbox/%s/stream", strings.TrimRight(baseURL, "/"), url.PathEscape(topicKey)),
		httpClient: &http.Client{},
		logger:     slog.Default(),
		backoff:    DefaultBackoff(),
		state:      StateClosed,
		token:      token,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start opens the stream and keeps it alive until Close is called or the
// parent context is cancelled.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return // Already running
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateConnecting
	s.mu.Unlock()

	go s.run(runCtx)
}

// Close stops the stream and waits for the run loop to exit.
func (s *Stream) Close() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// State returns the current connection state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateClosed)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		err := s.connectAndConsume(ctx)
		if err == nil {
			// Explicit close
			return
		}

		if inbox.IsAuth(err) {
			s.logger.Warn("Notification stream rejected, not retrying", "error", err)
			if s.onTerminal != nil {
				s.onTerminal(err)
			}
			return
		}

		attempt++
		delay := s.backoff.Delay(attempt)
		s.logger.Debug("Notification stream disconnected, reconnecting",
			"attempt", attempt,
			"backoff", delay,
			"error", err)

		s.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndConsume performs one subscription request and consumes events
// until the stream breaks. Returns nil only on context cancellation.
func (s *Stream) connectAndConsume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return inbox.NewNetworkError(fmt.Errorf("connect stream: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return inbox.NewAuthError(fmt.Errorf("stream subscription rejected (status %d)", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return inbox.NewNetworkError(fmt.Errorf("stream subscription failed (status %d)", resp.StatusCode))
	}

	s.setState(StateOpen)
	if s.onConnect != nil {
		s.onConnect()
	}

	err = s.consume(ctx, resp.Body)
	if ctx.Err() != nil {
		return nil
	}
	if s.onDisc != nil {
		s.onDisc(err)
	}
	return err
}

// consume parses the SSE wire format: "event:" and "data:" lines, with a
// blank line terminating each event.
func (s *Stream) consume(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var eventName string
	var data strings.Builder

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		// CRLF framing is legal for SSE
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			s.dispatch(eventName, data.String())
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// id: and comment lines are irrelevant here
		}
	}

	if err := scanner.Err(); err != nil {
		return inbox.NewNetworkError(fmt.Errorf("read stream: %w", err))
	}
	return inbox.NewNetworkError(fmt.Errorf("stream closed by server"))
}

func (s *Stream) dispatch(eventName, data string) {
	if eventName != streamEventChange || s.onChange == nil {
		return
	}

	var event ChangeEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		s.logger.Warn("Failed to parse change event", "error", err)
		return
	}
	s.onChange(event)
}
