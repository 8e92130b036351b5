// Command aurarelay relays spoken voice commands from a live transcription
// source to coding-assistant terminals and speaks the assistant's replies
// back into the audio room.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/aurarelay/internal/app"
	"github.com/MrWong99/aurarelay/internal/config"
	"github.com/MrWong99/aurarelay/internal/observe"
	"github.com/MrWong99/aurarelay/internal/roomtoken"
	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/audio/discord"
	"github.com/MrWong99/aurarelay/pkg/audio/livekit"
	"github.com/MrWong99/aurarelay/pkg/provider/llm"
	"github.com/MrWong99/aurarelay/pkg/provider/llm/anyllm"
	"github.com/MrWong99/aurarelay/pkg/provider/tts"
	"github.com/MrWong99/aurarelay/pkg/provider/tts/elevenlabs"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; the environment alone is enough)")
	envPath := flag.String("env", ".env", "path to a dotenv file loaded before the configuration")
	watch := flag.Bool("watch", false, "reload the log level when the configuration file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "aurarelay: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aurarelay: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("aurarelay starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	tokens, err := newMinter(cfg.Room.LiveKit)
	if err != nil {
		slog.Error("failed to create token minter", "err", err)
		return 1
	}
	registerBuiltinProviders(reg, tokens)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	providers.Tokens = tokens

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			d := config.Diff(old, next)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("configuration changes require a restart", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("relay ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// llmProviders are the any-llm backends that share the same construction:
// optional APIKey + optional BaseURL.
var llmProviders = []string{"gemini", "openai", "anthropic", "deepseek", "mistral", "groq"}

// registerBuiltinProviders wires all built-in factories into reg.
func registerBuiltinProviders(reg *config.Registry, tokens *roomtoken.Minter) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, providerName := range llmProviders {
		reg.RegisterLLM(providerName, func(c config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if c.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(c.APIKey))
			}
			if c.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
			}
			p, err := anyllm.New(providerName, c.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if c.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
		}
		p, err := anyllm.New("ollama", c.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(c config.SpeechConfig) (tts.Provider, error) {
		opts := []elevenlabs.Option{elevenlabs.WithModel(c.ModelID)}
		if c.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(c.BaseURL))
		}
		p, err := elevenlabs.New(c.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Rooms ─────────────────────────────────────────────────────────────────
	reg.RegisterRoom(config.RoomLiveKit, func(c config.RoomConfig) (audio.Room, error) {
		lk := c.LiveKit
		var src audio.TokenSource
		switch {
		case lk.Token != "":
			src = audio.StaticToken(lk.Token)
		case tokens != nil:
			src = tokens.TokenSource(lk.Room, lk.Identity)
		default:
			return nil, errors.New("livekit: no token and no api credentials")
		}
		return livekit.New(lk.URL, src), nil
	})

	reg.RegisterRoom(config.RoomDiscord, func(c config.RoomConfig) (audio.Room, error) {
		return discord.New(c.Discord.Token, c.Discord.GuildID, c.Discord.ChannelID), nil
	})
}

// buildProviders instantiates every provider the configuration needs. The LLM
// is only required for spoken replies and the remote classifier tier.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	needLLM := cfg.SpeechEnabled() || cfg.Classifier.AmbiguityDetection

	if needLLM {
		p, err := reg.CreateLLM(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	if cfg.SpeechEnabled() {
		t, err := reg.CreateTTS("elevenlabs", cfg.Speech)
		if err != nil {
			return nil, fmt.Errorf("create tts provider: %w", err)
		}
		ps.TTS = t
		slog.Info("provider created", "kind", "tts", "name", "elevenlabs", "voice", cfg.Speech.VoiceID)

		r, err := reg.CreateRoom(cfg.Room)
		if err != nil {
			return nil, fmt.Errorf("create room %q: %w", cfg.Room.Provider, err)
		}
		ps.Room = r
		slog.Info("provider created", "kind", "room", "name", cfg.Room.Provider)
	}
	return ps, nil
}

// newMinter returns a token minter when LiveKit API credentials are present.
func newMinter(lk config.LiveKitConfig) (*roomtoken.Minter, error) {
	if !lk.CanMint() {
		return nil, nil
	}
	return roomtoken.New(lk.APIKey, lk.APISecret, roomtoken.WithTTL(lk.TokenTTL))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        aurarelay: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Upstream", hostOf(cfg.Ingest.URL))
	printRow("Relay port", fmt.Sprintf("%d", cfg.Relay.Port))
	printRow("Wake phrase", cfg.Classifier.WakePhrase)
	printRow("Sleep phrase", cfg.Classifier.SleepPhrase)
	if cfg.Classifier.AmbiguityDetection {
		printRow("Remote classify", cfg.LLM.Provider)
	} else {
		printRow("Remote classify", "(disabled)")
	}
	if cfg.SpeechEnabled() {
		printRow("Room", string(cfg.Room.Provider))
		printRow("Voice", cfg.Speech.VoiceID)
	} else {
		printRow("Room", "(disabled)")
	}
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// hostOf strips the scheme and path so credentials in query strings are not
// printed.
func hostOf(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?"); i >= 0 {
		u = u[:i]
	}
	return u
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
