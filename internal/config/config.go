// Package config provides the configuration schema and loader for the aurarelay
// voice-command relay.
package config

import "time"

// LogLevel controls log verbosity for the relay process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// RoomProvider selects the room transport the spoken replies are published to.
type RoomProvider string

const (
	// RoomNone disables the spoken-reply path entirely.
	RoomNone RoomProvider = ""

	// RoomLiveKit publishes into a LiveKit room.
	RoomLiveKit RoomProvider = "livekit"

	// RoomDiscord publishes into a Discord voice channel.
	RoomDiscord RoomProvider = "discord"
)

// IsValid reports whether p is a recognised room provider.
func (p RoomProvider) IsValid() bool {
	switch p {
	case RoomNone, RoomLiveKit, RoomDiscord:
		return true
	}
	return false
}

// Config is the root configuration structure for aurarelay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Relay      RelayConfig      `yaml:"relay"`
	Classifier ClassifierConfig `yaml:"classifier"`
	LLM        LLMConfig        `yaml:"llm"`
	Speech     SpeechConfig     `yaml:"speech"`
	Room       RoomConfig       `yaml:"room"`
}

// ServerConfig holds logging and operational endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and /readyz.
	// Empty disables the operational listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// IngestConfig configures the upstream event source connection.
type IngestConfig struct {
	// URL is the websocket URL of the upstream event source (env NGROK_WSS_URL).
	URL string `yaml:"url"`

	// ReconnectDelay is the fixed delay between reconnection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// HandlerTimeout bounds the processing of a single inbound event so a stuck
	// upstream call cannot stall the serialized queue.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// RelayConfig configures the downstream consumer relay server.
type RelayConfig struct {
	// Port is the TCP port the relay listens on (env BRIDGE_WS_PORT).
	Port int `yaml:"port"`

	// Host is the bind address. Empty binds all interfaces.
	Host string `yaml:"host"`

	// TokenEndpoint serves GET /token for minting room credentials.
	TokenEndpoint bool `yaml:"token_endpoint"`

	// SpeakResponses routes assistant "response" messages received from
	// consumers into the spoken-reply path.
	SpeakResponses bool `yaml:"speak_responses"`
}

// ClassifierConfig configures wake/stop detection.
type ClassifierConfig struct {
	// AssistantName is the bare name that addresses the assistant.
	AssistantName string `yaml:"assistant_name"`

	// WakePhrase is an additional literal phrase that starts a session (env WAKE_PHRASE).
	WakePhrase string `yaml:"wake_phrase"`

	// SleepPhrase is an additional literal phrase that ends a session (env SLEEP_PHRASE).
	SleepPhrase string `yaml:"sleep_phrase"`

	// AmbiguityDetection lets the fast path defer transcripts that contain a
	// near-miss of the assistant name to the remote classifier.
	AmbiguityDetection bool `yaml:"ambiguity_detection"`

	// RemoteInterval is the minimum spacing between remote classifier calls.
	RemoteInterval time.Duration `yaml:"remote_interval"`

	// Timeout bounds a single remote classifier call.
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig selects the language model used by the formatter and the remote
// classifier tier.
type LLMConfig struct {
	// Provider names the any-llm backend (e.g., "gemini", "openai").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key (env GEMINI_API_KEY).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model within the provider (env GEMINI_MODEL).
	Model string `yaml:"model"`
}

// SpeechConfig configures the spoken-reply path: formatting, synthesis and
// re-framing into the room.
type SpeechConfig struct {
	// APIKey is the ElevenLabs key (env ELEVENLABS_API_KEY).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the ElevenLabs API endpoint.
	BaseURL string `yaml:"base_url"`

	// VoiceID is the ElevenLabs voice (env ELEVENLABS_VOICE_ID).
	VoiceID string `yaml:"voice_id"`

	// ModelID is the synthesis model (env ELEVENLABS_TTS_MODEL_ID).
	ModelID string `yaml:"model_id"`

	// OutputFormat overrides the requested encoding. Defaults to pcm_<SampleRate>.
	OutputFormat string `yaml:"output_format"`

	// SampleRate is the requested and published PCM rate (env TTS_AUDIO_SAMPLE_RATE).
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count of raw PCM responses (env TTS_AUDIO_CHANNELS).
	Channels int `yaml:"channels"`

	// FrameDuration is the published frame cadence (env TTS_AUDIO_FRAME_MS).
	FrameDuration time.Duration `yaml:"frame_duration"`

	// TrackName is the published track's name (env TTS_AUDIO_TRACK_NAME).
	TrackName string `yaml:"track_name"`

	// FormatterTimeout bounds a single formatter call.
	FormatterTimeout time.Duration `yaml:"formatter_timeout"`

	// SynthesisTimeout bounds a single synthesis call.
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`
}

// RoomConfig selects and configures the room transport.
type RoomConfig struct {
	Provider RoomProvider  `yaml:"provider"`
	LiveKit  LiveKitConfig `yaml:"livekit"`
	Discord  DiscordConfig `yaml:"discord"`
}

// LiveKitConfig holds LiveKit connection settings.
type LiveKitConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Room      string `yaml:"room"`
	Identity  string `yaml:"identity"`

	// TokenTTL is the lifetime of minted tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// CanMint reports whether credentials for minting tokens are present.
func (c LiveKitConfig) CanMint() bool {
	return c.APIKey != "" && c.APISecret != "" && c.Room != ""
}

// DiscordConfig holds Discord voice settings.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// SpeechEnabled reports whether the spoken-reply path can run.
func (c *Config) SpeechEnabled() bool {
	return c.Room.Provider != RoomNone
}
