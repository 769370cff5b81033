// Package main provides the clarence binary entry point.
// Clarence is a terminal client for human-in-the-loop review of
// agent-generated proposals: it keeps a local inbox synchronized with
// the proposal service and dispatches approve/reject decisions.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/accep779/clarence/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "clarence"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		topicKey string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "clarence",
		Short: "Approval inbox for agent proposals",
		Long: `Clarence keeps a local approval inbox synchronized with the
proposal service and lets an operator review agent work.

It provides:
- A live inbox view driven by push notifications
- Approve/reject/remove-item decisions with optimistic feedback
- A per-proposal chat channel to the producing agent

Snapshots from the service are always authoritative; local state is a
cache that converges to the server's view.`,
	}

	cmd.PersistentFlags().StringVar(&topicKey, "topic", "", "Topic key to operate on (overrides config)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	mkApp := func() (*app, error) {
		return newApp(buildLogger(logLevel), topicKey)
	}

	cmd.AddCommand(watchCmd(mkApp))
	cmd.AddCommand(listCmd(mkApp))
	cmd.AddCommand(approveCmd(mkApp))
	cmd.AddCommand(rejectCmd(mkApp))
	cmd.AddCommand(removeItemCmd(mkApp))
	cmd.AddCommand(chatCmd(mkApp))
	cmd.AddCommand(authCmd(mkApp))
	cmd.AddCommand(logoutCmd(mkApp))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func buildLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(logger *slog.Logger, topicKey string) (*config.Config, error) {
	loader := config.NewLoader(logger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if topicKey != "" {
		cfg.Service.TopicKey = topicKey
	}
	if cfg.Service.TopicKey == "" {
		return nil, fmt.Errorf("topic key is required (set --topic, CLARENCE_TOPIC_KEY, or service.topic_key)")
	}
	return cfg, nil
}
