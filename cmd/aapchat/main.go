package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aapchat/aapchat/pkg/aap"
	"github.com/aapchat/aapchat/pkg/agent"
	"github.com/aapchat/aapchat/pkg/bus"
	"github.com/aapchat/aapchat/pkg/channels"
	"github.com/aapchat/aapchat/pkg/config"
	"github.com/aapchat/aapchat/pkg/logger"
	"github.com/aapchat/aapchat/pkg/mcp"
	"github.com/aapchat/aapchat/pkg/providers"
	"github.com/aapchat/aapchat/pkg/session"
	"github.com/aapchat/aapchat/pkg/tools"
	"github.com/aapchat/aapchat/pkg/tools/aaptools"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "aapchat",
		Short:        "Conversational agent for Ansible Automation Platform",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the config file")
	root.AddCommand(newAgentCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".config", "aapchat", "config.json")
}

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aapchat %s\n", formatVersion())
			if buildTime != "" {
				fmt.Printf("  Build: %s\n", buildTime)
			}
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	}
}

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the agent loop and the WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent()
		},
	}
}

func runAgent() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.File != "" {
		if err := logger.EnableFileLogging(cfg.Logging.File); err != nil {
			return fmt.Errorf("enable file logging: %w", err)
		}
		defer logger.DisableFileLogging()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := providers.CreateProvider(
		cfg.LLM.Provider,
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		time.Duration(cfg.AAP.RequestTimeout)*time.Second,
	)
	if err != nil {
		return err
	}

	clientOpts := []aap.ClientOption{
		aap.WithTimeout(time.Duration(cfg.AAP.RequestTimeout) * time.Second),
	}
	if cfg.AAP.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, aap.WithRateLimit(cfg.AAP.RequestsPerSecond))
	}
	if cfg.AAP.SkipTLSVerify {
		logger.WarnC("main", "TLS certificate verification disabled for controller requests")
		clientOpts = append(clientOpts, aap.WithInsecureTLS())
	}
	aapClient := aap.NewClient(clientOpts...)
	poller := aap.NewPoller(aapClient, cfg.PollInterval(), cfg.Poller.MaxAttempts)

	registry := tools.NewToolRegistry()
	aaptools.RegisterAll(registry, aapClient, poller, cfg.Templates)

	mcpManager := mcp.NewManager(cfg.MCP)
	mcpManager.RegisterTools(ctx, registry)
	defer mcpManager.Stop()

	logger.InfoCF("main", "Tool registry ready", map[string]any{"tools": registry.Count()})

	store := session.NewStore(cfg.SessionTTL())
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	oracle := agent.NewLLMOracle(provider, cfg.DecisionModelOrDefault(), registry.DescribeCatalog)
	machine := agent.NewMachine(agent.MachineOptions{
		Provider:       provider,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Classifier:     oracle,
		Structurer:     oracle,
		Registry:       registry,
		MaxIterations:  cfg.Agent.MaxIterations,
		RecursionLimit: cfg.Agent.RecursionLimit,
	})
	loop := agent.NewLoop(msgBus, machine, store)

	login := func(ctx context.Context, username, password string) (string, error) {
		creds, err := aapClient.Authenticate(ctx, cfg.AAP.BaseURL, username, password)
		if err != nil {
			return "", err
		}
		sess := store.Create(username, session.CredentialContext{
			Token:      creds.Token,
			AuthScheme: creds.AuthScheme,
			BaseURL:    creds.BaseURL,
			Username:   username,
		})
		return sess.Token, nil
	}

	channelManager := channels.NewManager(cfg.Channels, msgBus, store, login)
	if channelManager.Count() == 0 {
		return fmt.Errorf("no channels enabled; enable channels.websocket in %s", configPath)
	}
	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("main", "Agent loop exited", map[string]any{"error": err.Error()})
		}
	}()

	logger.InfoCF("main", "aapchat started", map[string]any{"version": formatVersion()})

	<-ctx.Done()

	logger.InfoC("main", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	channelManager.StopAll(shutdownCtx)

	return nil
}
