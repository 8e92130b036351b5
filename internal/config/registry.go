package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/aurarelay/pkg/audio"
	"github.com/MrWong99/aurarelay/pkg/provider/llm"
	"github.com/MrWong99/aurarelay/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.RWMutex
	llm  map[string]func(LLMConfig) (llm.Provider, error)
	tts  map[string]func(SpeechConfig) (tts.Provider, error)
	room map[RoomProvider]func(RoomConfig) (audio.Room, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:  make(map[string]func(LLMConfig) (llm.Provider, error)),
		tts:  make(map[string]func(SpeechConfig) (tts.Provider, error)),
		room: make(map[RoomProvider]func(RoomConfig) (audio.Room, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a speech synthesis factory under name.
func (r *Registry) RegisterTTS(name string, factory func(SpeechConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterRoom registers a room transport factory.
func (r *Registry) RegisterRoom(p RoomProvider, factory func(RoomConfig) (audio.Room, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room[p] = factory
}

// CreateLLM instantiates the LLM provider named by cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateTTS instantiates the speech synthesis provider registered under name.
func (r *Registry) CreateTTS(name string, cfg SpeechConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateRoom instantiates the room transport selected by cfg.Provider.
func (r *Registry) CreateRoom(cfg RoomConfig) (audio.Room, error) {
	r.mu.RLock()
	factory, ok := r.room[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: room/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
