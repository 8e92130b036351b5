// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and turns
// one piece of text into a complete PCM buffer that the audio publisher can
// frame and play into a room.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/aurarelay/pkg/audio"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// SynthesizeOptions selects the voice and the requested output encoding.
// Zero values fall back to provider defaults.
type SynthesizeOptions struct {
	// VoiceID is the provider-specific voice identifier. Required.
	VoiceID string

	// ModelID selects the synthesis model.
	ModelID string

	// OutputFormat is the provider's encoding name (e.g. "pcm_16000").
	OutputFormat string

	// SampleRate and Channels describe raw PCM responses that carry no
	// container header.
	SampleRate int
	Channels   int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech and returns the decoded samples.
	//
	// Errors from the remote service are returned as-is for the caller to
	// handle; implementations do not retry.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (audio.PCM, error)
}
