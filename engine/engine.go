// Package engine glues the push channels to the snapshot fetcher and the
// proposal store: it coalesces change notifications into authoritative
// snapshot pulls, and executes mutation intents optimistically with
// rollback on failure.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/accep779/clarence/inbox"
)

// Service is the proposal service surface the engine depends on. The
// remote package provides the production implementation.
type Service interface {
	FetchInbox(ctx context.Context, topicKey string) (*inbox.Snapshot, error)
	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id, reason string) error
	RemoveItem(ctx context.Context, id, itemKey string) error
	SendChat(ctx context.Context, id, message string) (*inbox.ChatMessage, error)
}

const (
	defaultDebounce        = 50 * time.Millisecond
	defaultFetchTimeout    = 10 * time.Second
	defaultMutationTimeout = 15 * time.Second
)

// Config parameterizes an Engine. Service and TopicKey are required;
// everything else has working defaults.
type Config struct {
	// Service is the proposal service client.
	Service Service

	// TopicKey is the merchant/tenant identifier this engine syncs.
	TopicKey string

	// Store is the proposal store to reconcile into. Created if nil.
	Store *inbox.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics enables prometheus instrumentation when set.
	Metrics *Metrics

	// Debounce is the window in which rapid notifications collapse into
	// a single fetch.
	Debounce time.Duration

	// FetchTimeout bounds each snapshot pull.
	FetchTimeout time.Duration

	// MutationTimeout bounds each mutation call.
	MutationTimeout time.Duration

	// OnAuthExpired is invoked once when any call fails authentication.
	// The session is terminal at that point; the callback clears local
	// session state and routes to re-authentication.
	OnAuthExpired func()

	// OnConnectivity is invoked with the degraded-connectivity signal
	// from the push channels.
	OnConnectivity func(connected bool)

	// OnSyncError is invoked when a reconciliation fetch fails. The
	// store keeps its last-known-good snapshot in that case.
	OnSyncError func(error)
}

// Engine owns the reconciliation loop for one topic key. All snapshot
// application is serialized through a single goroutine, so an older
// snapshot can never overwrite a newer one.
type Engine struct {
	svc      Service
	topicKey string
	store    *inbox.Store
	logger   *slog.Logger
	metrics  *Metrics

	debounce        time.Duration
	fetchTimeout    time.Duration
	mutationTimeout time.Duration

	onAuthExpired  func()
	onConnectivity func(bool)
	onSyncError    func(error)

	notifyCh chan struct{}

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	authOnce sync.Once

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an engine from the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if cfg.TopicKey == "" {
		return nil, fmt.Errorf("topic key is required")
	}

	e := &Engine{
		svc:             cfg.Service,
		topicKey:        cfg.TopicKey,
		store:           cfg.Store,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		debounce:        cfg.Debounce,
		fetchTimeout:    cfg.FetchTimeout,
		mutationTimeout: cfg.MutationTimeout,
		onAuthExpired:   cfg.OnAuthExpired,
		onConnectivity:  cfg.OnConnectivity,
		onSyncError:     cfg.OnSyncError,
		notifyCh:        make(chan struct{}, 1),
		locks:           make(map[string]*sync.Mutex),
	}
	if e.store == nil {
		e.store = inbox.NewStore()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.debounce == 0 {
		e.debounce = defaultDebounce
	}
	if e.fetchTimeout == 0 {
		e.fetchTimeout = defaultFetchTimeout
	}
	if e.mutationTimeout == 0 {
		e.mutationTimeout = defaultMutationTimeout
	}

	return e, nil
}

// Store returns the proposal store. The presentation layer reads and
// subscribes through it; all mutation goes through the engine.
func (e *Engine) Store() *inbox.Store {
	return e.store
}

// Start launches the reconciliation loop and schedules an initial
// snapshot pull. Safe to call once; mutations work without Start for
// one-shot use.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run()
	e.Notify()
}

// Close tears the engine down: the loop exits, in-flight fetches are
// cancelled, and their results are never applied.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Notify signals that authoritative state changed and a snapshot pull is
// needed. Non-blocking: any number of signals while a fetch is in flight
// collapse into exactly one follow-up fetch.
func (e *Engine) Notify() {
	select {
	case e.notifyCh <- struct{}{}:
	default:
		if e.metrics != nil {
			e.metrics.CoalescedSignals.Inc()
		}
	}
}

// MarkConnected records push-channel connectivity restored.
func (e *Engine) MarkConnected() {
	if e.metrics != nil {
		e.metrics.Connected.Set(1)
	}
	if e.onConnectivity != nil {
		e.onConnectivity(true)
	}
	// A reconnect may have missed notifications; resync
	e.Notify()
}

// MarkDisconnected records push-channel connectivity lost. Already-loaded
// data stays interactive; this is a degraded signal, not an error.
func (e *Engine) MarkDisconnected(err error) {
	e.logger.Warn("Push channel degraded", "topic_key", e.topicKey, "error", err)
	if e.metrics != nil {
		e.metrics.Connected.Set(0)
		e.metrics.StreamReconnects.Inc()
	}
	if e.onConnectivity != nil {
		e.onConnectivity(false)
	}
}

func (e *Engine) run() {
	defer close(e.done)

	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-e.notifyCh:
		}

		if e.debounce > 0 && !e.drainUntilQuiet() {
			return
		}

		e.reconcile()
	}
}

// drainUntilQuiet absorbs further notifications for one debounce window
// so notification bursts produce a single fetch. Returns false when the
// engine is shutting down.
func (e *Engine) drainUntilQuiet() bool {
	timer := time.NewTimer(e.debounce)
	defer timer.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return false
		case <-e.notifyCh:
			if e.metrics != nil {
				e.metrics.CoalescedSignals.Inc()
			}
		case <-timer.C:
			return true
		}
	}
}

// reconcile pulls an authoritative snapshot and replaces the store. On
// failure the store keeps its last-known-good snapshot rather than being
// corrupted by a partial update.
func (e *Engine) reconcile() {
	ctx, cancel := context.WithTimeout(e.runCtx, e.fetchTimeout)
	defer cancel()

	snap, err := e.svc.FetchInbox(ctx, e.topicKey)
	if err != nil {
		if e.runCtx.Err() != nil {
			return // Scope closed; result abandoned
		}
		if e.metrics != nil {
			e.metrics.FetchFailures.Inc()
		}
		e.logger.Warn("Reconciliation fetch failed, keeping last snapshot",
			"topic_key", e.topicKey,
			"error", err)
		if inbox.IsAuth(err) {
			e.authExpired()
		}
		if e.onSyncError != nil {
			e.onSyncError(err)
		}
		return
	}

	if e.runCtx.Err() != nil {
		return // Scope closed while the fetch was in flight
	}

	e.store.Replace(*snap)
	if e.metrics != nil {
		e.metrics.Reconciliations.Inc()
	}
	e.logger.Debug("Reconciled inbox",
		"topic_key", e.topicKey,
		"proposals", len(snap.Proposals),
		"pending", snap.PendingCount)
}

// active reports whether store writes from async continuations are still
// permitted. True when the engine was never started (one-shot use).
func (e *Engine) active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return true
	}
	return e.runCtx.Err() == nil
}

func (e *Engine) authExpired() {
	e.authOnce.Do(func() {
		e.logger.Warn("Session authentication expired", "topic_key", e.topicKey)
		if e.onAuthExpired != nil {
			e.onAuthExpired()
		}
	})
}

// lockProposal serializes mutation intents per proposal id, preserving
// per-proposal chat submission order while leaving other proposals free.
func (e *Engine) lockProposal(id string) func() {
	e.lockMu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}
