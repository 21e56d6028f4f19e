package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/duet/internal/config"
	"github.com/harun/duet/internal/logger"
	"github.com/harun/duet/internal/observability"
	"github.com/harun/duet/internal/tracing"
	"github.com/harun/duet/pkg/character"
	"github.com/harun/duet/pkg/chatfile"
	"github.com/harun/duet/pkg/completion"
	"github.com/harun/duet/pkg/follower"
	"github.com/harun/duet/pkg/playback"
	"github.com/harun/duet/pkg/protocol"
	"github.com/harun/duet/pkg/transcript"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a conversation as one agent",
	Long: `Join a conversation as one agent. The agent writes to
<chat-directory>/<name>.txt and listens to <chat-directory>/<other>.txt.
Exactly one of the two agents must be started with --start.`,
	Example: `  duet chat --name alice --other bob --voice Samantha --chat-directory /tmp/chat --start
  duet chat --name bob --other alice --voice Daniel --chat-directory /tmp/chat`,
	RunE: runChat,
}

type chatFlags struct {
	name         string
	other        string
	voice        string
	chatDir      string
	characterDir string
	start        bool

	provider    string
	model       string
	baseURL     string
	apiKey      string
	temperature float64

	startupDelay time.Duration
	fromStart    bool
	noSpeak      bool
	maxTurns     int
	metricsAddr  string
}

var chatOpts chatFlags

func init() {
	defaults := config.DefaultConfig()
	flags := chatCmd.Flags()

	flags.StringVar(&chatOpts.name, "name", "", "this agent's name")
	flags.StringVar(&chatOpts.other, "other", "", "the other agent's name")
	flags.StringVar(&chatOpts.voice, "voice", "", "voice name passed to the playback command")
	flags.StringVar(&chatOpts.chatDir, "chat-directory", "", "directory holding both chat files")
	flags.StringVar(&chatOpts.characterDir, "character-directory", defaults.Agent.CharacterDir, "directory containing <name>.character.txt")
	flags.BoolVar(&chatOpts.start, "start", false, "open the conversation")

	flags.StringVar(&chatOpts.provider, "provider", defaults.Completion.Provider, "completion provider (openai, anthropic)")
	flags.StringVar(&chatOpts.model, "model", defaults.Completion.Model, "completion model")
	flags.StringVar(&chatOpts.baseURL, "base-url", defaults.Completion.BaseURL, "completion API base URL")
	flags.StringVar(&chatOpts.apiKey, "api-key", "", "completion API key")
	flags.Float64Var(&chatOpts.temperature, "temperature", defaults.Completion.Temperature, "sampling temperature")

	flags.DurationVar(&chatOpts.startupDelay, "startup-delay", defaults.StartupDelay, "wait before creating the chat file")
	flags.BoolVar(&chatOpts.fromStart, "from-start", false, "replay lines already in the other agent's file")
	flags.BoolVar(&chatOpts.noSpeak, "no-speak", false, "disable speech playback")
	flags.IntVar(&chatOpts.maxTurns, "max-turns", 0, "stop after this many own utterances (0 = never)")
	flags.StringVar(&chatOpts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	for _, name := range []string{"name", "other", "voice", "chat-directory"} {
		_ = chatCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyChatFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	traceOpts := tracing.Options{
		ServiceName: "duet",
		Version:     version,
		Agent:       cfg.Agent.Name,
		Peer:        cfg.Agent.Peer,
	}
	if cfg.Tracing.Enabled {
		w, closeSpans, err := spanWriter(cfg)
		if err != nil {
			return fmt.Errorf("failed to open span output: %w", err)
		}
		defer closeSpans()
		traceOpts.Writer = w
	}
	if err := tracing.InitOpenTelemetry(context.Background(), traceOpts); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, log.Component("metrics"))
		defer shutdown()
	}

	err = RunConversation(ctx, cfg, log.GetZerolog())
	var compErr *protocol.ComponentError
	if errors.As(err, &compErr) {
		log.Error().Str("component", compErr.Component).Err(compErr.Err).Msg("Conversation failed")
	}
	return err
}

// applyChatFlags copies explicitly set flags over the loaded config. The
// identity flags are required and always win.
func applyChatFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	cfg.Agent.Name = chatOpts.name
	cfg.Agent.Peer = chatOpts.other
	cfg.Agent.Voice = chatOpts.voice
	cfg.Agent.ChatDir = chatOpts.chatDir

	overrides := map[string]func(){
		"character-directory": func() { cfg.Agent.CharacterDir = chatOpts.characterDir },
		"start":               func() { cfg.Agent.Starter = chatOpts.start },
		"provider":            func() { cfg.Completion.Provider = chatOpts.provider },
		"model":               func() { cfg.Completion.Model = chatOpts.model },
		"base-url":            func() { cfg.Completion.BaseURL = chatOpts.baseURL },
		"api-key":             func() { cfg.Completion.APIKey = chatOpts.apiKey },
		"temperature":         func() { cfg.Completion.Temperature = chatOpts.temperature },
		"startup-delay":       func() { cfg.StartupDelay = chatOpts.startupDelay },
		"from-start":          func() { cfg.Follow.FromStart = chatOpts.fromStart },
		"no-speak":            func() { cfg.Playback.Enabled = !chatOpts.noSpeak },
		"max-turns":           func() { cfg.MaxTurns = chatOpts.maxTurns },
		"metrics-addr":        func() { cfg.Metrics.Addr = chatOpts.metricsAddr },
	}
	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if root := cmd.Root().PersistentFlags().Lookup("log-level"); root != nil && root.Changed {
		cfg.Logging.Level = logLevel
	}
}

// RunConversation wires every component for one agent and runs the turn
// protocol until ctx is cancelled, the turn limit is hit or a component
// fails. Cancellation returns nil.
func RunConversation(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	agent := cfg.Agent
	ctx = tracing.NewConversationContext(ctx, agent.Name, agent.Peer)
	log = tracing.LoggerFromContext(ctx, log)

	systemPrompt, err := character.SystemPrompt(agent.CharacterDir, agent.Name, agent.Peer)
	if err != nil {
		return err
	}

	factory := &completion.ProviderFactory{}
	provider, err := factory.NewProvider(completion.Profile{
		Provider: cfg.Completion.Provider,
		APIKey:   cfg.Completion.APIKey,
		BaseURL:  cfg.Completion.BaseURL,
	})
	if err != nil {
		return err
	}
	generator, err := completion.NewClient(completion.ClientConfig{
		Provider:    provider,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		MaxTokens:   cfg.Completion.MaxTokens,
		MaxRetries:  cfg.Completion.MaxRetries,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	// follow the peer before our own file exists so its first line is not missed
	followerLog := log.With().Str("component", "follower").Logger()
	peerFile := follower.New(chatfile.Path(agent.ChatDir, agent.Peer), follower.Options{
		Backoff:      cfg.Follow.Backoff,
		PollInterval: cfg.Follow.PollInterval,
		FromStart:    cfg.Follow.FromStart,
		Logger:       &followerLog,
	})
	peerFile.Start(ctx)
	defer peerFile.Stop()

	log.Info().
		Str("chat_dir", agent.ChatDir).
		Bool("starter", agent.Starter).
		Dur("startup_delay", cfg.StartupDelay).
		Msgf("Running as %s talking to %s", agent.Name, agent.Peer)

	if cfg.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.StartupDelay):
		}
	}

	own, err := chatfile.Create(chatfile.Path(agent.ChatDir, agent.Name))
	if err != nil {
		return &protocol.ComponentError{Component: protocol.ComponentChatfile, Err: err}
	}
	defer own.Close()

	var journal protocol.Recorder
	if cfg.Journal.Enabled {
		j, err := transcript.OpenJournal(transcript.JournalPath(agent.ChatDir, agent.Name))
		if err != nil {
			return &protocol.ComponentError{Component: protocol.ComponentJournal, Err: err}
		}
		defer j.Close()
		journal = j
	}

	var speaker protocol.Speaker = playback.Nop{}
	if cfg.Playback.Enabled {
		s := playback.NewCommandSpeaker(playback.Config{
			Command: cfg.Playback.Command,
			Logger:  log,
		})
		defer func() {
			// let the last utterance finish unless we are shutting down
			if ctx.Err() == nil {
				waitCtx, cancel := context.WithTimeout(ctx, playback.DefaultTimeout)
				_ = s.Wait(waitCtx)
				cancel()
			}
			_ = s.Close()
		}()
		speaker = s
	}

	proto, err := protocol.New(protocol.Config{
		Name:         agent.Name,
		Peer:         agent.Peer,
		Voice:        agent.Voice,
		Starter:      agent.Starter,
		SystemPrompt: systemPrompt,
		Conversation: transcript.New(cfg.Transcript.HistoryLimit),
		Generator:    generator,
		Committer:    own,
		LineSource:   peerFile,
		Speaker:      speaker,
		Journal:      journal,
		Logger:       log,
		MaxTurns:     cfg.MaxTurns,
	})
	if err != nil {
		return err
	}

	return proto.Run(ctx)
}

// spanWriter picks where exported spans go. The span file rotates like the
// log file.
func spanWriter(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.Tracing.File == "" {
		return os.Stderr, func() {}, nil
	}
	w, err := logger.NewRotatingWriter(cfg.Tracing.File, cfg.Logging.MaxSize, cfg.Logging.MaxAge, cfg.Logging.Compress)
	if err != nil {
		return nil, nil, err
	}
	return w, func() { _ = w.Close() }, nil
}

// serveMetrics exposes /metrics until the returned shutdown func is called
func serveMetrics(addr string, log zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
