package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deskbot/internal/bus"
	"deskbot/internal/config"
	"deskbot/internal/connector"
	"deskbot/internal/domain"
	"deskbot/internal/ingress"
	"deskbot/internal/orchestrator"
	"deskbot/internal/playbook"
	"deskbot/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "deskbot",
		Short: "Deskbot: help desk conversation orchestrator",
		Long:  "Deskbot routes help desk conversations through a dialog state machine, with circuit-broken connectors and automatic handoff to human agents.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.deskbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and playbook directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			pbDir := config.ExpandPath(cfg.General.PlaybookDir)
			if err := os.MkdirAll(pbDir, 0o755); err != nil {
				return err
			}
			samplePath := pbDir + string(os.PathSeparator) + "playbook.yaml"
			if _, err := os.Stat(samplePath); os.IsNotExist(err) {
				if err := os.WriteFile(samplePath, []byte(playbook.SampleYAML), 0o644); err != nil {
					return err
				}
			}

			logger.Info("initialized", "config", cfgPath, "playbook", samplePath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and HTTP ingress",
		Long:  "Runs the conversation engine, TTL sweeper, and HTTP channel intake. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	logger = newLogger(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pb, err := playbook.LoadFromDirectory(config.ExpandPath(cfg.General.PlaybookDir), logger)
	if err != nil {
		return fmt.Errorf("load playbook: %w", err)
	}

	st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer st.Close()

	conns, err := connector.Build(cfg.Connectors, logger)
	if err != nil {
		return fmt.Errorf("build connectors: %w", err)
	}

	envBus := bus.New(cfg.General.BusBufferSize, logger)
	events := bus.NewEventBus(logger)

	// Delivery back to the originating channel is a collaborator concern;
	// async responses are picked up by callers through their own transport.
	for _, ch := range domain.KnownChannels {
		envBus.OnOutbound(ch, func(env domain.Envelope) {
			logger.Debug("outbound response ready",
				"channel", env.Channel, "session", env.SessionKey,
				"correlationId", env.CorrelationID)
		})
	}

	engine, err := orchestrator.New(cfg, pb, st, orchestrator.Connectors{
		Classifier: conns.Classifier,
		Sentiment:  conns.Sentiment,
		Knowledge:  conns.Knowledge,
		Ticket:     conns.Ticket,
		HumanQueue: conns.HumanQueue,
	}, envBus, events, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	server := ingress.NewServer(ingress.ServerConfig{
		Host:            cfg.Gateway.Host,
		Port:            cfg.Gateway.Port,
		Secret:          cfg.Gateway.HMACSecret,
		Dispatch:        engine.Dispatch,
		Sync:            engine.ProcessSync,
		Health:          engine.BreakerStates,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		Logger:          logger,
	})

	engineErr := make(chan error, 1)
	go func() { engineErr <- engine.Run(ctx) }()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	logger.Info("deskbot serving", "version", version,
		"addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			<-engineErr
			return fmt.Errorf("ingress server: %w", err)
		}
	}

	logger.Info("shutting down...")
	envBus.Close()
	if err := <-engineErr; err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation (CLI)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pb, err := playbook.LoadFromDirectory(config.ExpandPath(cfg.General.PlaybookDir), logger)
	if err != nil {
		return fmt.Errorf("load playbook: %w", err)
	}

	// The interactive session is ephemeral: in-memory store, built-in
	// connectors, no HTTP surface.
	st := store.NewMemoryStore()
	conns := connector.Local(logger)
	envBus := bus.New(cfg.General.BusBufferSize, logger)
	defer envBus.Close()
	events := bus.NewEventBus(logger)

	engine, err := orchestrator.New(cfg, pb, st, orchestrator.Connectors{
		Classifier: conns.Classifier,
		Sentiment:  conns.Sentiment,
		Knowledge:  conns.Knowledge,
		Ticket:     conns.Ticket,
		HumanQueue: conns.HumanQueue,
	}, envBus, events, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	go engine.Run(ctx)

	sessionKey := "api:cli-" + uuid.NewString()[:8]
	fmt.Println("deskbot interactive chat. Type 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		env := domain.Envelope{
			Channel:       domain.ChannelAPI,
			SessionKey:    sessionKey,
			Direction:     domain.Inbound,
			Body:          line,
			Timestamp:     time.Now().UTC(),
			CorrelationID: uuid.NewString(),
		}

		turnCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		out, err := engine.ProcessSync(turnCtx, env)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(out.Body)
	}
	return scanner.Err()
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
			if err != nil {
				logger.Info("session store", "path", cfg.Store.DBPath, "reachable", false, "err", err)
			} else {
				logger.Info("session store", "path", cfg.Store.DBPath, "reachable", true)
				st.Close()
			}

			pb, err := playbook.LoadFromDirectory(config.ExpandPath(cfg.General.PlaybookDir), logger)
			if err != nil {
				logger.Info("playbook", "dir", cfg.General.PlaybookDir, "loaded", false, "err", err)
			} else {
				logger.Info("playbook", "dir", cfg.General.PlaybookDir, "intents", pb.Intents())
			}

			for name, cc := range cfg.Connectors {
				logger.Info("connector", "name", name, "mode", cc.Mode, "url", cc.URL)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. orchestrator.confidenceFloor)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. orchestrator.maxQueuedTurns 16)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
