package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] when a field is left empty.
const (
	DefaultReconnectDelay    = 1500 * time.Millisecond
	DefaultHandlerTimeout    = 60 * time.Second
	DefaultRelayPort         = 8765
	DefaultAssistantName     = "aura"
	DefaultWakePhrase        = "hey aura"
	DefaultSleepPhrase       = "bye aura"
	DefaultRemoteInterval    = 2 * time.Second
	DefaultClassifierTimeout = 10 * time.Second
	DefaultLLMProvider       = "gemini"
	DefaultLLMModel          = "gemini-2.0-flash"
	DefaultTTSModel          = "eleven_multilingual_v2"
	DefaultSampleRate        = 16000
	DefaultChannels          = 1
	DefaultFrameDuration     = 20 * time.Millisecond
	DefaultTrackName         = "aura-tts"
	DefaultFormatterTimeout  = 15 * time.Second
	DefaultSynthesisTimeout  = 30 * time.Second
	DefaultLiveKitIdentity   = "aura-relay"
	DefaultTokenTTL          = 6 * time.Hour
)

// ValidLLMProviders lists the any-llm backends the relay knows how to build.
// Used by [Validate] to warn about unrecognised provider names.
var ValidLLMProviders = []string{"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq"}

// LookupFunc resolves an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration file at path, overlays the process
// environment, fills defaults and returns a validated [Config]. An empty path
// skips the file and configures from the environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return build(&Config{}, os.LookupEnv)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays variables resolved by
// env (which may be nil) and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader, env LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return build(cfg, env)
}

func build(cfg *Config, env LookupFunc) (*Config, error) {
	if env != nil {
		if err := ApplyEnv(cfg, env); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the recognised environment variables. Malformed
// numeric values are reported together.
func ApplyEnv(cfg *Config, env LookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := env(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("env %s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str("LOG_LEVEL", (*string)(&cfg.Server.LogLevel))
	str("METRICS_ADDR", &cfg.Server.MetricsAddr)

	str("NGROK_WSS_URL", &cfg.Ingest.URL)

	num("BRIDGE_WS_PORT", &cfg.Relay.Port)

	str("WAKE_PHRASE", &cfg.Classifier.WakePhrase)
	str("SLEEP_PHRASE", &cfg.Classifier.SleepPhrase)

	if v, ok := env("GEMINI_API_KEY"); ok && v != "" {
		cfg.LLM.APIKey = v
		if cfg.LLM.Provider == "" {
			cfg.LLM.Provider = "gemini"
		}
	}
	str("GEMINI_MODEL", &cfg.LLM.Model)

	str("ELEVENLABS_API_KEY", &cfg.Speech.APIKey)
	str("ELEVENLABS_VOICE_ID", &cfg.Speech.VoiceID)
	str("ELEVENLABS_TTS_MODEL_ID", &cfg.Speech.ModelID)
	num("TTS_AUDIO_SAMPLE_RATE", &cfg.Speech.SampleRate)
	num("TTS_AUDIO_CHANNELS", &cfg.Speech.Channels)
	var frameMS int
	num("TTS_AUDIO_FRAME_MS", &frameMS)
	if frameMS > 0 {
		cfg.Speech.FrameDuration = time.Duration(frameMS) * time.Millisecond
	}
	str("TTS_AUDIO_TRACK_NAME", &cfg.Speech.TrackName)

	if v, ok := env("LIVEKIT_URL"); ok && v != "" {
		cfg.Room.LiveKit.URL = v
		if cfg.Room.Provider == RoomNone {
			cfg.Room.Provider = RoomLiveKit
		}
	}
	str("LIVEKIT_TOKEN", &cfg.Room.LiveKit.Token)
	str("LIVEKIT_API_KEY", &cfg.Room.LiveKit.APIKey)
	str("LIVEKIT_API_SECRET", &cfg.Room.LiveKit.APISecret)
	str("LIVEKIT_ROOM", &cfg.Room.LiveKit.Room)
	str("LIVEKIT_IDENTITY", &cfg.Room.LiveKit.Identity)

	str("DISCORD_BOT_TOKEN", &cfg.Room.Discord.Token)
	str("DISCORD_GUILD_ID", &cfg.Room.Discord.GuildID)
	str("DISCORD_CHANNEL_ID", &cfg.Room.Discord.ChannelID)

	return errors.Join(errs...)
}

// ApplyDefaults fills every unset field with its documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Ingest.ReconnectDelay <= 0 {
		cfg.Ingest.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Ingest.HandlerTimeout <= 0 {
		cfg.Ingest.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = DefaultRelayPort
	}
	if cfg.Classifier.AssistantName == "" {
		cfg.Classifier.AssistantName = DefaultAssistantName
	}
	if cfg.Classifier.WakePhrase == "" {
		cfg.Classifier.WakePhrase = DefaultWakePhrase
	}
	if cfg.Classifier.SleepPhrase == "" {
		cfg.Classifier.SleepPhrase = DefaultSleepPhrase
	}
	if cfg.Classifier.RemoteInterval <= 0 {
		cfg.Classifier.RemoteInterval = DefaultRemoteInterval
	}
	if cfg.Classifier.Timeout <= 0 {
		cfg.Classifier.Timeout = DefaultClassifierTimeout
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = DefaultLLMProvider
	}
	if cfg.LLM.Model == "" && cfg.LLM.Provider == DefaultLLMProvider {
		cfg.LLM.Model = DefaultLLMModel
	}
	if cfg.Speech.ModelID == "" {
		cfg.Speech.ModelID = DefaultTTSModel
	}
	if cfg.Speech.SampleRate <= 0 {
		cfg.Speech.SampleRate = DefaultSampleRate
	}
	if cfg.Speech.Channels <= 0 {
		cfg.Speech.Channels = DefaultChannels
	}
	if cfg.Speech.FrameDuration <= 0 {
		cfg.Speech.FrameDuration = DefaultFrameDuration
	}
	if cfg.Speech.TrackName == "" {
		cfg.Speech.TrackName = DefaultTrackName
	}
	if cfg.Speech.OutputFormat == "" {
		cfg.Speech.OutputFormat = "pcm_" + strconv.Itoa(cfg.Speech.SampleRate)
	}
	if cfg.Speech.FormatterTimeout <= 0 {
		cfg.Speech.FormatterTimeout = DefaultFormatterTimeout
	}
	if cfg.Speech.SynthesisTimeout <= 0 {
		cfg.Speech.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if cfg.Room.LiveKit.Identity == "" {
		cfg.Room.LiveKit.Identity = DefaultLiveKitIdentity
	}
	if cfg.Room.LiveKit.TokenTTL <= 0 {
		cfg.Room.LiveKit.TokenTTL = DefaultTokenTTL
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Ingest.URL == "" {
		errs = append(errs, errors.New("ingest.url is required (env NGROK_WSS_URL)"))
	}

	if cfg.Relay.Port < 0 || cfg.Relay.Port > 65535 {
		errs = append(errs, fmt.Errorf("relay.port %d is out of range [0, 65535]", cfg.Relay.Port))
	}

	if cfg.Classifier.AmbiguityDetection && cfg.LLM.APIKey == "" && cfg.LLM.Provider != "ollama" {
		errs = append(errs, errors.New("classifier.ambiguity_detection requires llm.api_key (env GEMINI_API_KEY)"))
	}
	validateLLMProvider(cfg.LLM.Provider)

	if cfg.Speech.Channels > 2 {
		errs = append(errs, fmt.Errorf("speech.channels %d is invalid; valid values: 1, 2", cfg.Speech.Channels))
	}
	if cfg.Speech.FrameDuration > time.Second {
		errs = append(errs, fmt.Errorf("speech.frame_duration %s exceeds 1s", cfg.Speech.FrameDuration))
	}

	if !cfg.Room.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("room.provider %q is invalid; valid values: livekit, discord", cfg.Room.Provider))
	}

	if cfg.SpeechEnabled() {
		if cfg.Speech.APIKey == "" {
			errs = append(errs, errors.New("speech.api_key is required when a room is configured (env ELEVENLABS_API_KEY)"))
		}
		if cfg.Speech.VoiceID == "" {
			errs = append(errs, errors.New("speech.voice_id is required when a room is configured (env ELEVENLABS_VOICE_ID)"))
		}
		if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "ollama" {
			errs = append(errs, errors.New("llm.api_key is required for formatting spoken replies (env GEMINI_API_KEY)"))
		}
	}

	switch cfg.Room.Provider {
	case RoomLiveKit:
		lk := cfg.Room.LiveKit
		if lk.URL == "" {
			errs = append(errs, errors.New("room.livekit.url is required (env LIVEKIT_URL)"))
		}
		if lk.Token == "" && !lk.CanMint() {
			errs = append(errs, errors.New("room.livekit requires a token or api_key, api_secret and room"))
		}
	case RoomDiscord:
		dc := cfg.Room.Discord
		if dc.Token == "" {
			errs = append(errs, errors.New("room.discord.token is required (env DISCORD_BOT_TOKEN)"))
		}
		if dc.GuildID == "" || dc.ChannelID == "" {
			errs = append(errs, errors.New("room.discord.guild_id and channel_id are required"))
		}
	}

	if cfg.Relay.TokenEndpoint && !cfg.Room.LiveKit.CanMint() {
		errs = append(errs, errors.New("relay.token_endpoint requires room.livekit api_key, api_secret and room"))
	}

	return errors.Join(errs...)
}

// validateLLMProvider logs a warning if name is non-empty and not found in
// [ValidLLMProviders].
func validateLLMProvider(name string) {
	if name == "" || slices.Contains(ValidLLMProviders, name) {
		return
	}
	slog.Warn("unknown llm provider name, may be a typo",
		"name", name,
		"known", ValidLLMProviders,
	)
}
