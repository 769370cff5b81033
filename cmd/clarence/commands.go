package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/accep779/clarence/engine"
	"github.com/accep779/clarence/inbox"
	"github.com/accep779/clarence/push"
	"github.com/accep779/clarence/session"
)

func watchCmd(mkApp func() (*app, error)) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the approval inbox live",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr != "" {
				a.cfg.Metrics.Addr = metricsAddr
			}
			return runWatch(a)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose prometheus metrics on this address (overrides config)")
	return cmd
}

func runWatch(a *app) error {
	printBanner()

	client, sess, err := a.client()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := engine.NewMetrics(registry)

	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		a.logger.Info("Metrics endpoint listening", "addr", a.cfg.Metrics.Addr)
	}

	eng, err := engine.New(engine.Config{
		Service:         client,
		TopicKey:        a.topicKey(),
		Logger:          a.logger,
		Metrics:         metrics,
		Debounce:        a.cfg.Sync.Debounce,
		FetchTimeout:    a.cfg.Sync.FetchTimeout,
		MutationTimeout: a.cfg.Sync.MutationTimeout,
		OnAuthExpired: func() {
			a.expireSession()
			cancel()
		},
		OnConnectivity: func(connected bool) {
			if connected {
				fmt.Println("-- live --")
			} else {
				fmt.Println("-- connection lost, retrying (showing last known state) --")
			}
		},
		OnSyncError: func(err error) {
			a.logger.Warn("Sync failed, keeping last known inbox", "error", err)
		},
	})
	if err != nil {
		return err
	}

	unsubscribe := eng.Store().Subscribe(func() {
		renderInbox(eng.Store())
		if err := a.sessions.TouchSync(a.topicKey(), time.Now()); err != nil {
			a.logger.Debug("Failed to record sync time", "error", err)
		}
	})
	defer unsubscribe()

	eng.Start(ctx)
	defer eng.Close()

	backoff := push.Backoff{Base: a.cfg.Push.BackoffBase, Cap: a.cfg.Push.BackoffCap}

	stream := push.NewStream(a.cfg.Service.URL, a.topicKey(), sess.Token,
		push.WithStreamLogger(a.logger),
		push.WithStreamBackoff(backoff),
		push.OnChange(func(ev push.ChangeEvent) {
			eng.Notify()
		}),
		push.OnConnect(eng.MarkConnected),
		push.OnDisconnect(eng.MarkDisconnected),
		push.OnTerminalError(func(err error) {
			a.logger.Error("Push stream rejected credentials", "error", err)
			a.expireSession()
			cancel()
		}),
	)
	stream.Start(ctx)
	defer stream.Close()

	if a.cfg.Push.NATSURL != "" {
		bus := push.NewBus(a.topicKey(),
			push.WithBusLogger(a.logger),
			push.WithBusBackoff(backoff),
			push.OnBusDegraded(func(err error) {
				a.logger.Warn("Event bus degraded", "error", err)
			}),
			push.OnBusFailed(func(err error) {
				a.logger.Error("Event bus gave up reconnecting", "error", err)
			}),
		)
		bus.Handle(push.EventInboxChange, func(env push.Envelope) {
			eng.Notify()
		})
		if err := bus.Connect(ctx, a.cfg.Push.NATSURL); err != nil {
			a.logger.Warn("Event bus unavailable, relying on stream only", "error", err)
		} else {
			defer bus.Close()
		}
	}

	a.logger.Info("Clarence ready",
		"version", Version,
		"topic_key", a.topicKey())

	// Block until shutdown signal
	<-ctx.Done()
	a.logger.Info("Shutting down")
	return nil
}

func listCmd(mkApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Fetch and print the current inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			client, _, err := a.client()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Sync.FetchTimeout)
			defer cancel()

			snap, err := client.FetchInbox(ctx, a.topicKey())
			if err != nil {
				if inbox.IsAuth(err) {
					a.expireSession()
				}
				return err
			}

			eng, err := a.oneShotEngine(client)
			if err != nil {
				return err
			}
			eng.Store().Replace(*snap)
			renderInbox(eng.Store())
			return nil
		},
	}
}

// mutate runs the shared one-shot mutation flow: fetch a snapshot so
// the local precondition checks see current state, apply the mutation,
// report.
func mutate(a *app, ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	client, _, err := a.client()
	if err != nil {
		return err
	}

	eng, err := a.oneShotEngine(client)
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.Sync.FetchTimeout)
	defer cancel()
	snap, err := client.FetchInbox(fetchCtx, a.topicKey())
	if err != nil {
		if inbox.IsAuth(err) {
			a.expireSession()
		}
		return err
	}
	eng.Store().Replace(*snap)

	return fn(ctx, eng)
}

func approveCmd(mkApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <proposal-id>",
		Short: "Approve a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return mutate(a, cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.Approve(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("approved %s\n", args[0])
				return nil
			})
		},
	}
}

func rejectCmd(mkApp func() (*app, error)) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: "Reject a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return mutate(a, cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.Reject(ctx, args[0], reason); err != nil {
					return err
				}
				fmt.Printf("rejected %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason for the rejection")
	return cmd
}

func removeItemCmd(mkApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-item <proposal-id> <item-key>",
		Short: "Remove a line item from a pending proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return mutate(a, cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.RemoveItem(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("removed item %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
}

func chatCmd(mkApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <proposal-id> <message...>",
		Short: "Ask the producing agent about a proposal",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			message := strings.Join(args[1:], " ")
			return mutate(a, cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.SendChat(ctx, args[0], message); err != nil {
					return err
				}
				p, ok := eng.Store().Get(args[0])
				if !ok {
					return nil
				}
				renderChat(p)
				return nil
			})
		},
	}
}

func authCmd(mkApp func() (*app, error)) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Save credentials for a topic key",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sessions.Save(session.Session{
				Token:    token,
				TopicKey: a.topicKey(),
			}); err != nil {
				return err
			}
			fmt.Printf("saved session for topic %s\n", a.topicKey())
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Bearer token for the proposal service")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func logoutCmd(mkApp func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear saved credentials for a topic key",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := mkApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sessions.Clear(a.topicKey()); err != nil {
				return err
			}
			fmt.Printf("cleared session for topic %s\n", a.topicKey())
			return nil
		},
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║            Clarence v" + Version + "                    ║")
	fmt.Println("║      Approval Inbox for Agent Proposals       ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}
