package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/mockview/pkg/audio"
	"github.com/MrWong99/mockview/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps backend names to constructors for the transcription provider,
// the capture device and the playback sink. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stt    map[string]func(ProviderEntry) (stt.Provider, error)
	device map[string]func(AudioConfig) (audio.Device, error)
	output map[string]func(PlaybackConfig) (audio.Sink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:    make(map[string]func(ProviderEntry) (stt.Provider, error)),
		device: make(map[string]func(AudioConfig) (audio.Device, error)),
		output: make(map[string]func(PlaybackConfig) (audio.Sink, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterDevice registers a capture device factory under name.
func (r *Registry) RegisterDevice(name string, factory func(AudioConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device[name] = factory
}

// RegisterOutput registers a playback sink factory under name.
func (r *Registry) RegisterOutput(name string, factory func(PlaybackConfig) (audio.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDevice instantiates the capture device named by cfg.Device.
func (r *Registry) CreateDevice(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.device[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device/%q", ErrProviderNotRegistered, cfg.Device)
	}
	return factory(cfg)
}

// CreateOutput instantiates the playback sink named by cfg.Output.
func (r *Registry) CreateOutput(cfg PlaybackConfig) (audio.Sink, error) {
	r.mu.RLock()
	factory, ok := r.output[cfg.Output]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrProviderNotRegistered, cfg.Output)
	}
	return factory(cfg)
}
