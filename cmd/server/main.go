package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"browsernerd-actions/internal/config"
	"browsernerd-actions/internal/policy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath   string
	workspaceDir string
	noWorkspace  bool
	ssePort      int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "browsernerd-actions",
		Short: "Resilient click, type and select actions for browser agents",
		Long: `browsernerd-actions runs browser actions with a policy gate, readiness
prechecks, a single self-heal attempt and post-action evidence, and serves
them as MCP tools.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file layered over the workspace config")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "Use this directory as the workspace root")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Skip .browsernerd workspace discovery")

	rootCmd.AddCommand(newServeCmd(), newPolicyCmd(), newInitCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the action tools over MCP (stdio, or SSE with --sse-port)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.LoadWithWorkspace(configPath, config.WorkspaceOptions{
				Disable:     noWorkspace,
				ExplicitDir: workspaceDir,
			})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if ssePort != 0 {
				cfg.MCP.SSEPort = ssePort
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "Optional SSE port override (falls back to config)")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect action policies",
	}
	policyCmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a policy file parses and passes validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (click enabled=%t, type enabled=%t, select enabled=%t)\n",
				args[0], set.Click.Enabled, set.Type.Enabled, set.Select.Enabled)
			return nil
		},
	})
	return policyCmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .browsernerd workspace with template config and policy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if err := config.InitWorkspace(root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workspace created in %s\n", root)
			return nil
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stderr interferes with the MCP stdio protocol, so stdio mode logs to a file.
	logger, err := newLogger(cfg, cfg.MCP.SSEPort == 0)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()

	err = a.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	return nil
}

func newLogger(cfg config.Config, stdio bool) (*zap.Logger, error) {
	if stdio && cfg.Server.LogFile == "" {
		return zap.NewNop(), nil
	}

	zc := zap.NewProductionConfig()
	if cfg.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	if stdio {
		zc.OutputPaths = []string{cfg.Server.LogFile}
		zc.ErrorOutputPaths = []string{cfg.Server.LogFile}
	}
	return zc.Build()
}
