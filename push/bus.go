package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types carried on the bus. The fixed interest set is declared to
// the server on every connect; InboxChange events feed the same
// reconciliation path as the dedicated notification stream.
const (
	EventInboxChange    = "inbox_change"
	EventAgentActivity  = "agent_activity"
	EventCampaignUpdate = "campaign_update"
	EventStatsUpdate    = "stats_update"
)

// busMaxReconnects caps reconnection attempts before the bus surfaces a
// persistent-error state. The notification-only stream retries forever;
// the bus is auxiliary and gives up instead.
const busMaxReconnects = 5

// Envelope is a typed message on the event bus.
type Envelope struct {
	// Type discriminates the message (agent_activity, inbox_change, ...).
	Type string `json:"type"`

	// Data is the type-specific body.
	Data json.RawMessage `json:"data"`

	// Timestamp is when the message was produced.
	Timestamp time.Time `json:"timestamp"`
}

// interestDeclaration is sent to the server on every (re)connect, since
// server-side subscription state is not durable across connections.
type interestDeclaration struct {
	TopicKey string    `json:"topic_key"`
	Topics   []string  `json:"topics"`
	SentAt   time.Time `json:"sent_at"`
}

// Bus is the broader bidirectional push channel, carrying typed messages
// for agent activity, campaign updates, and stats alongside inbox change
// notifications. Unlike the notification stream it caps reconnection at
// busMaxReconnects attempts and then reports a persistent error.
type Bus struct {
	topicKey string
	logger   *slog.Logger
	backoff  Backoff

	onDegraded  func(error)
	onReconnect func()
	onFailed    func(error)

	mu       sync.Mutex
	handlers map[string][]func(Envelope)
	nc       *nats.Conn
	sub      *nats.Subscription
	closed   bool

	// publish is indirected so the declaration/outbound paths are
	// testable without a server.
	publish func(subject string, data []byte) error
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithBusBackoff sets the reconnect delay schedule.
func WithBusBackoff(backoff Backoff) BusOption {
	return func(b *Bus) {
		b.backoff = backoff
	}
}

// OnBusDegraded sets the handler invoked on unexpected disconnect while
// reconnection is still being attempted.
func OnBusDegraded(fn func(error)) BusOption {
	return func(b *Bus) {
		b.onDegraded = fn
	}
}

// OnBusReconnect sets the handler invoked after a successful reconnect.
func OnBusReconnect(fn func()) BusOption {
	return func(b *Bus) {
		b.onReconnect = fn
	}
}

// OnBusFailed sets the handler invoked once reconnection attempts are
// exhausted and the bus enters its persistent-error state.
func OnBusFailed(fn func(error)) BusOption {
	return func(b *Bus) {
		b.onFailed = fn
	}
}

// NewBus creates an event bus for one topic key. The bus does not connect
// until Connect is called.
func NewBus(topicKey string, opts ...BusOption) *Bus {
	b := &Bus{
		topicKey: topicKey,
		logger:   slog.Default(),
		backoff:  DefaultBackoff(),
		handlers: make(map[string][]func(Envelope)),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Handle registers a handler for one event type. Must be called before
// Connect; handlers run on the connection's delivery goroutine.
func (b *Bus) Handle(eventType string, fn func(Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], fn)
}

// Connect establishes the NATS connection, declares interest, and starts
// delivering events.
func (b *Bus) Connect(ctx context.Context, natsURL string) error {
	opts := []nats.Option{
		nats.Name(fmt.Sprintf("clarence-inbox-%s", b.topicKey)),
		nats.MaxReconnects(busMaxReconnects),
		nats.CustomReconnectDelay(func(attempt int) time.Duration {
			return b.backoff.Delay(attempt)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("Event bus disconnected", "error", err)
			if b.onDegraded != nil {
				b.onDegraded(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("Event bus reconnected", "url", nc.ConnectedUrl())
			if err := b.declareInterest(); err != nil {
				b.logger.Warn("Failed to re-declare interest", "error", err)
			}
			if b.onReconnect != nil {
				b.onReconnect()
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			b.mu.Lock()
			explicit := b.closed
			b.mu.Unlock()
			if explicit {
				return
			}
			err := nc.LastError()
			if err == nil {
				err = fmt.Errorf("event bus connection lost after %d reconnect attempts", busMaxReconnects)
			}
			b.logger.Error("Event bus gave up reconnecting", "error", err)
			if b.onFailed != nil {
				b.onFailed(err)
			}
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}

	b.mu.Lock()
	b.nc = nc
	b.publish = nc.Publish
	b.mu.Unlock()

	sub, err := nc.Subscribe(b.eventsSubject(), func(msg *nats.Msg) {
		b.dispatch(msg.Data)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", b.eventsSubject(), err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	if err := b.declareInterest(); err != nil {
		b.Close()
		return fmt.Errorf("declare interest: %w", err)
	}

	// Connect is synchronous; honor a cancelled context from the caller
	if err := ctx.Err(); err != nil {
		b.Close()
		return err
	}

	b.logger.Debug("Event bus connected",
		"topic_key", b.topicKey,
		"subject", b.eventsSubject())
	return nil
}

// Publish sends a typed message to the server.
func (b *Bus) Publish(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s data: %w", eventType, err)
	}

	env := Envelope{
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	b.mu.Lock()
	publish := b.publish
	b.mu.Unlock()
	if publish == nil {
		return fmt.Errorf("event bus not connected")
	}
	return publish(b.outboundSubject(), payload)
}

// Close shuts the bus down. Idempotent; suppresses the persistent-error
// callback for an explicit close.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sub := b.sub
	nc := b.nc
	b.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if nc != nil {
		nc.Close()
	}
}

// declareInterest announces the fixed topic set for this connection.
func (b *Bus) declareInterest() error {
	decl := interestDeclaration{
		TopicKey: b.topicKey,
		Topics: []string{
			EventInboxChange,
			EventAgentActivity,
			EventCampaignUpdate,
			EventStatsUpdate,
		},
		SentAt: time.Now().UTC(),
	}
	data, err := json.Marshal(decl)
	if err != nil {
		return fmt.Errorf("marshal interest declaration: %w", err)
	}

	b.mu.Lock()
	publish := b.publish
	b.mu.Unlock()
	if publish == nil {
		return fmt.Errorf("event bus not connected")
	}
	return publish(b.interestSubject(), data)
}

// dispatch decodes an inbound envelope and fans it out to handlers.
func (b *Bus) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn("Failed to parse bus envelope", "error", err)
		return
	}

	b.mu.Lock()
	fns := append([]func(Envelope){}, b.handlers[env.Type]...)
	b.mu.Unlock()

	if len(fns) == 0 {
		b.logger.Debug("No handler for bus event", "type", env.Type)
		return
	}
	for _, fn := range fns {
		fn(env)
	}
}

func (b *Bus) eventsSubject() string {
	return fmt.Sprintf("clarence.%s.events", b.topicKey)
}

func (b *Bus) interestSubject() string {
	return fmt.Sprintf("clarence.%s.subscribe", b.topicKey)
}

func (b *Bus) outboundSubject() string {
	return fmt.Sprintf("clarence.%s.outbound", b.topicKey)
}
