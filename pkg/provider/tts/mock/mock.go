// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled PCM buffers to the speaker pipeline and to
// verify the text and options passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: audio.PCM{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1},
//	}
//	pcm, _ := p.Synthesize(ctx, "hello", tts.SynthesizeOptions{VoiceID: "v1"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Opts are the options passed to Synthesize.
	Opts tts.SynthesizeOptions
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize.
	Result audio.PCM

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Result, Err.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (audio.PCM, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Opts: opts})
	return p.Result, p.Err
}

// Texts returns the text of every recorded call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
