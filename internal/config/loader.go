package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known backend names per kind. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt":    {"deepgram"},
	"device": {"portaudio"},
	"output": {"speaker"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Backend
	if cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if err := checkURL(cfg.Backend.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	}
	if cfg.Backend.WSURL == "" {
		errs = append(errs, errors.New("backend.ws_url is required"))
	} else if err := checkURL(cfg.Backend.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("backend.ws_url: %w", err))
	}
	if cfg.Backend.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend.request_timeout %s must not be negative", cfg.Backend.RequestTimeout))
	}
	if cfg.Backend.Token == "" {
		slog.Warn("backend.token is empty; authenticated endpoints will be rejected")
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	} else if a.SampleRate != 0 && a.SampleRate != DefaultSampleRate {
		slog.Warn("audio.sample_rate differs from the transcription default", "sample_rate", a.SampleRate, "default", DefaultSampleRate)
	}
	if a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", a.Channels))
	}
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", a.BlockSize))
	}
	if a.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("audio.flush_interval %s must not be negative", a.FlushInterval))
	} else if a.FlushInterval >= maxFlushInterval {
		errs = append(errs, fmt.Errorf("audio.flush_interval %s must stay below %s or the transcription session times out", a.FlushInterval, maxFlushInterval))
	}
	if a.SilenceThreshold < 0 || a.SilenceThreshold > 100 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %d is out of range [0, 100]", a.SilenceThreshold))
	}
	if a.SilenceThreshold > 0 && a.SilenceDuration <= 0 {
		errs = append(errs, errors.New("audio.silence_duration is required when audio.silence_threshold is set"))
	}
	validateProviderName("device", a.Device)

	// Socket
	s := cfg.Socket
	if s.ReconnectBase < 0 {
		errs = append(errs, fmt.Errorf("socket.reconnect_base %s must not be negative", s.ReconnectBase))
	}
	if s.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("socket.max_reconnect_attempts %d must not be negative", s.MaxReconnectAttempts))
	}
	if s.BackpressureThreshold < 0 {
		errs = append(errs, fmt.Errorf("socket.backpressure_threshold %d must not be negative", s.BackpressureThreshold))
	}
	if s.PingInterval < 0 {
		errs = append(errs, fmt.Errorf("socket.ping_interval %s must not be negative", s.PingInterval))
	}

	// Playback
	if v := cfg.Playback.Volume; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0, 1]", *v))
	}
	if cfg.Playback.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.start_timeout %s must not be negative", cfg.Playback.StartTimeout))
	}
	validateProviderName("output", cfg.Playback.Output)

	// STT
	validateProviderName("stt", cfg.STT.Name)
	if cfg.STT.BaseURL != "" {
		if err := checkURL(cfg.STT.BaseURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("stt.base_url: %w", err))
		}
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// maxFlushInterval is the audio gap at which streaming transcription
// sessions are closed by the provider.
const maxFlushInterval = 50 * time.Millisecond

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("scheme %q is invalid; valid values: %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return errors.New("host is missing")
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
