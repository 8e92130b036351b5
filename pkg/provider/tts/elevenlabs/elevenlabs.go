// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs text-to-speech REST API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/provider/tts"
)

const (
	defaultBaseURL    = "https://api.elevenlabs.io"
	defaultModel      = "eleven_multilingual_v2"
	defaultSampleRate = 16000

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

var pcmRateRe = regexp.MustCompile(`pcm_(\d+)`)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the default ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API origin. Used by tests and proxies.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the client used for synthesis requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the JSON body of POST /v1/text-to-speech/{voice_id}.
type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize requests PCM audio for text. A RIFF/WAVE response is decoded with
// its own rate and channel count; anything else is taken as raw little-endian
// 16-bit samples at the requested rate.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (audio.PCM, error) {
	if strings.TrimSpace(text) == "" {
		return audio.PCM{}, tts.ErrEmptyText
	}
	if opts.VoiceID == "" {
		return audio.PCM{}, errors.New("elevenlabs: voice ID must not be empty")
	}

	rate := resolveSampleRate(opts)
	format := opts.OutputFormat
	if format == "" {
		format = "pcm_" + strconv.Itoa(rate)
	}
	model := opts.ModelID
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: model})
	if err != nil {
		return audio.PCM{}, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	endpoint := p.baseURL + "/v1/text-to-speech/" + url.PathEscape(opts.VoiceID) +
		"?" + url.Values{"output_format": {format}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return audio.PCM{}, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("elevenlabs: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return audio.PCM{}, fmt.Errorf("elevenlabs: synthesize: unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return decodeAudio(payload, rate, opts.Channels), nil
}

// decodeAudio prefers the WAVE container and falls back to raw PCM.
func decodeAudio(payload []byte, rate, channels int) audio.PCM {
	if pcm, err := audio.DecodeWAV(payload); err == nil {
		return pcm
	}
	if channels <= 0 {
		channels = 1
	}
	return audio.PCM{
		Samples:    audio.BytesToInt16s(payload),
		SampleRate: rate,
		Channels:   channels,
	}
}

// resolveSampleRate picks the explicit rate, then the rate embedded in the
// output format name, then the service default.
func resolveSampleRate(opts tts.SynthesizeOptions) int {
	if opts.SampleRate > 0 {
		return opts.SampleRate
	}
	if m := pcmRateRe.FindStringSubmatch(opts.OutputFormat); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return defaultSampleRate
}
