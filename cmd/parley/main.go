// Package main provides the parley CLI entry point: a terminal front end
// for the streaming chat turn orchestrator.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"parley/internal/config"
	"parley/internal/knowledge"
	"parley/internal/provider"
	"parley/internal/specialized"
	"parley/internal/store"
	"parley/internal/turn"
	"parley/internal/usage"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "parley - streaming chat client for LLM providers",
	Long: `parley is a desktop-class chat client core driving streaming turns
against a model provider, with retrieval-augmented prompting, inline
citations, and one-shot specialized model modes.

Run without arguments to start the interactive chat loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

// statsCmd prints aggregated token usage.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated token usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		tracker, err := usage.NewTracker(filepath.Join(workspace, cfg.Storage.UsagePath))
		if err != nil {
			return err
		}
		stats := tracker.Stats()
		fmt.Printf("total: %d tokens (in %d / out %d)\n", stats.Total.Total, stats.Total.Input, stats.Total.Output)
		for model, counts := range stats.ByModel {
			fmt.Printf("  %-30s %d tokens\n", model, counts.Total)
		}
		return nil
	},
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(workspace, "parley.yaml")
}

func newClient(ctx context.Context, cfg *config.Config) (provider.Client, error) {
	switch cfg.Provider.Kind {
	case "gemini":
		return provider.NewGeminiClient(ctx, cfg.Provider.APIKey, logger)
	default:
		return provider.NewOpenAIClient(provider.OpenAIConfig{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: cfg.Provider.BaseURL,
			Timeout: cfg.ProviderTimeout(),
			Logger:  logger,
		}), nil
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := store.New(filepath.Join(workspace, cfg.Storage.DatabasePath))
	if err != nil {
		return err
	}
	defer db.Close()

	kstore, err := knowledge.NewStore(filepath.Join(workspace, cfg.Knowledge.DatabasePath), cfg.Knowledge.MaxChunks)
	if err != nil {
		return err
	}
	defer kstore.Close()

	tracker, err := usage.NewTracker(filepath.Join(workspace, cfg.Storage.UsagePath))
	if err != nil {
		return err
	}
	defer tracker.Save()

	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	registry := specialized.RegistryFromConfig(cfg.Models)
	agent, ok := registry.DefaultAgent()
	if !ok {
		return fmt.Errorf("no agent-capable model configured")
	}

	session := turn.NewSession(turn.SessionConfig{
		Model:          agent.Name,
		SystemMessage:  cfg.Chat.SystemMessage,
		Temperature:    cfg.Chat.Temperature,
		MaxTokens:      cfg.Chat.MaxTokens,
		MaxCtxMessages: cfg.Chat.MaxCtxMessages,
	})
	switchboard := specialized.NewSwitchboard(registry, session, logger)

	orch := turn.NewOrchestrator(turn.Options{
		Session:      session,
		Client:       client,
		ProviderName: cfg.Provider.Kind,
		Augmenter:    knowledge.NewAugmenter(kstore, logger),
		Store:        db,
		Usage:        tracker,
		Modes:        switchboard,
		Logger:       logger,
	})

	// Live config reload keeps long-running sessions usable after key or
	// model changes, without restart.
	watcher, err := config.NewWatcher(resolveConfigPath(), logger, func(fresh *config.Config) {
		logger.Info("provider settings refreshed", zap.String("kind", fresh.Provider.Kind))
	})
	if err == nil {
		if werr := watcher.Start(ctx); werr == nil {
			defer watcher.Stop()
		}
	}

	fmt.Println("parley ready. /mode <deep-search|deep-reasoning|fast-response|none>, /quit to exit, Ctrl+C to abort a running turn.")
	return repl(ctx, orch, switchboard)
}

func repl(ctx context.Context, orch *turn.Orchestrator, switchboard *specialized.Switchboard) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := handleCommand(line, switchboard); done {
				return nil
			}
			continue
		}

		if err := submitAndWait(ctx, orch, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func handleCommand(line string, switchboard *specialized.Switchboard) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/mode":
		if len(fields) < 2 {
			fmt.Printf("mode: %s\n", switchboard.Mode())
			return false
		}
		var mode specialized.Mode
		switch fields[1] {
		case "deep-search":
			mode = specialized.ModeDeepSearch
		case "deep-reasoning":
			mode = specialized.ModeDeepReasoning
		case "fast-response":
			mode = specialized.ModeFastResponse
		case "none":
			mode = specialized.ModeNone
		default:
			fmt.Println("unknown mode")
			return false
		}
		if err := switchboard.Toggle(mode); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	default:
		fmt.Println("unknown command")
	}
	return false
}

// submitAndWait streams the reply to stdout as the state store flushes, and
// returns when the turn reaches a terminal state. Ctrl+C aborts the turn but
// keeps the partial output.
func submitAndWait(ctx context.Context, orch *turn.Orchestrator, prompt string) error {
	if err := orch.Submit(ctx, prompt); err != nil {
		return err
	}

	done := make(chan struct{})
	var once sync.Once
	var printed int
	var lastTool string

	unsub := orch.State().Subscribe(func(s turn.State) {
		if s.RunningTool != "" && s.RunningTool != lastTool {
			lastTool = s.RunningTool
			fmt.Printf("\n[tool: %s]\n", s.RunningTool)
		}
		if len(s.Reply) > printed {
			fmt.Print(s.Reply[printed:])
			printed = len(s.Reply)
		}
		if !s.Loading {
			once.Do(func() { close(done) })
		}
	})
	defer unsub()

	select {
	case <-ctx.Done():
		orch.Abort()
		<-done
	case <-done:
	}
	fmt.Println()
	return nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default <workspace>/parley.yaml)")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
