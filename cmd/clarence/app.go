package main

import (
	"fmt"
	"log/slog"

	"github.com/accep779/clarence/config"
	"github.com/accep779/clarence/engine"
	"github.com/accep779/clarence/remote"
	"github.com/accep779/clarence/session"
)

// app bundles the pieces every subcommand needs: resolved config, the
// session store, and a logger.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.Store
}

func newApp(logger *slog.Logger, topicKey string) (*app, error) {
	cfg, err := loadConfig(logger, topicKey)
	if err != nil {
		return nil, err
	}

	sessions, err := session.Open(cfg.Session.Path)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
	}, nil
}

func (a *app) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
}

func (a *app) topicKey() string {
	return a.cfg.Service.TopicKey
}

// client builds a service client from the saved session.
func (a *app) client() (*remote.Client, *session.Session, error) {
	sess, err := a.sessions.Load(a.topicKey())
	if err != nil {
		if err == session.ErrNoSession {
			return nil, nil, fmt.Errorf("not authenticated for topic %q: run `clarence auth --token <token>`", a.topicKey())
		}
		return nil, nil, err
	}

	client := remote.NewClient(a.cfg.Service.URL,
		remote.WithToken(sess.Token),
		remote.WithTimeout(a.cfg.Service.Timeout),
		remote.WithLogger(a.logger),
	)
	return client, sess, nil
}

// oneShotEngine builds an engine for a single mutation command. The
// reconciliation loop is not started; the caller seeds the store with
// one fetch and issues the mutation.
func (a *app) oneShotEngine(client *remote.Client) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Service:         client,
		TopicKey:        a.topicKey(),
		Logger:          a.logger,
		FetchTimeout:    a.cfg.Sync.FetchTimeout,
		MutationTimeout: a.cfg.Sync.MutationTimeout,
		OnAuthExpired:   a.expireSession,
	})
}

// expireSession clears saved credentials. An authentication rejection on
// any call is terminal for the session, regardless of which command or
// channel observed it.
func (a *app) expireSession() {
	a.logger.Error("Session expired, clearing saved credentials")
	if err := a.sessions.Clear(a.topicKey()); err != nil {
		a.logger.Warn("Failed to clear session", "error", err)
	}
}
