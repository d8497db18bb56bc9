package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mockview/internal/config"
	"github.com/MrWong99/mockview/pkg/audio"
	"github.com/MrWong99/mockview/pkg/provider/stt"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: debug
  log_format: json
  admin_addr: "127.0.0.1:9090"

backend:
  base_url: https://api.example.com/api/v1
  ws_url: wss://api.example.com/ws/interview
  token: secret
  request_timeout: 10s

audio:
  sample_rate: 16000
  channels: 1
  block_size: 1024
  flush_interval: 40ms
  noise_suppression: false
  silence_threshold: 8
  silence_duration: 3s
  relay_to_backend: true

socket:
  reconnect_base: 500ms
  max_reconnect_attempts: 3
  backpressure_threshold: 1048576

playback:
  volume: 0.8

stt:
  name: deepgram
  model: nova-3
  language: en-US
`

// minimalYAML carries only the required keys.
const minimalYAML = `
backend:
  base_url: http://localhost:8000/api/v1
  ws_url: ws://localhost:8000/ws/interview
  token: t
`

func load(t *testing.T, y string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(y))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg := load(t, sampleYAML)

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.LogFormat != config.LogFormatJSON {
		t.Errorf("server.log_format: got %q", cfg.Server.LogFormat)
	}
	if cfg.Backend.RequestTimeout != 10*time.Second {
		t.Errorf("backend.request_timeout: got %s", cfg.Backend.RequestTimeout)
	}
	if cfg.Audio.FlushInterval != 40*time.Millisecond {
		t.Errorf("audio.flush_interval: got %s", cfg.Audio.FlushInterval)
	}
	if *cfg.Audio.NoiseSuppression {
		t.Error("audio.noise_suppression: explicit false was overridden")
	}
	if !*cfg.Audio.EchoCancellation {
		t.Error("audio.echo_cancellation: should default to true")
	}
	if !cfg.Audio.RelayToBackend {
		t.Error("audio.relay_to_backend: got false")
	}
	if cfg.Socket.MaxReconnectAttempts != 3 {
		t.Errorf("socket.max_reconnect_attempts: got %d, want 3", cfg.Socket.MaxReconnectAttempts)
	}
	if cfg.Socket.BackpressureThreshold != 1<<20 {
		t.Errorf("socket.backpressure_threshold: got %d", cfg.Socket.BackpressureThreshold)
	}
	if cfg.PlaybackVolume() != 0.8 {
		t.Errorf("playback.volume: got %.2f, want 0.8", cfg.PlaybackVolume())
	}
	if cfg.STT.Language != "en-US" {
		t.Errorf("stt.language: got %q", cfg.STT.Language)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg := load(t, minimalYAML)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"log_format", cfg.Server.LogFormat, config.LogFormatText},
		{"device", cfg.Audio.Device, "portaudio"},
		{"sample_rate", cfg.Audio.SampleRate, 16000},
		{"channels", cfg.Audio.Channels, 1},
		{"block_size", cfg.Audio.BlockSize, 1024},
		{"flush_interval", cfg.Audio.FlushInterval, 40 * time.Millisecond},
		{"level_interval", cfg.Audio.LevelInterval, 16 * time.Millisecond},
		{"reconnect_base", cfg.Socket.ReconnectBase, time.Second},
		{"max_reconnect_attempts", cfg.Socket.MaxReconnectAttempts, 5},
		{"backpressure_threshold", cfg.Socket.BackpressureThreshold, 3 * 1024 * 1024},
		{"ping_interval", cfg.Socket.PingInterval, 10 * time.Second},
		{"output", cfg.Playback.Output, "speaker"},
		{"start_timeout", cfg.Playback.StartTimeout, 5 * time.Second},
		{"volume", cfg.PlaybackVolume(), 1.0},
		{"stt", cfg.STT.Name, "deepgram"},
		{"service_name", cfg.Telemetry.ServiceName, "mockview"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nextras: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		mention string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"log format", "server:\n  log_format: xml\n", "log_format"},
		{"channels", "audio:\n  channels: 6\n", "audio.channels"},
		{"flush interval too long", "audio:\n  flush_interval: 60ms\n", "audio.flush_interval"},
		{"silence threshold", "audio:\n  silence_threshold: 120\n  silence_duration: 1s\n", "audio.silence_threshold"},
		{"silence duration missing", "audio:\n  silence_threshold: 10\n", "audio.silence_duration"},
		{"volume", "playback:\n  volume: 1.5\n", "playback.volume"},
		{"negative attempts", "socket:\n  max_reconnect_attempts: -1\n", "socket.max_reconnect_attempts"},
		{"stt url", "stt:\n  base_url: https://api.deepgram.com\n", "stt.base_url"},
		{"sample ratio", "telemetry:\n  trace_sample_ratio: 2\n", "telemetry.trace_sample_ratio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(minimalYAML + tc.extra))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.mention) {
				t.Errorf("error should mention %q, got: %v", tc.mention, err)
			}
		})
	}
}

func TestValidate_BackendRequired(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for missing backend")
	}
	for _, want := range []string{"backend.base_url", "backend.ws_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_BackendSchemes(t *testing.T) {
	y := `
backend:
  base_url: ws://localhost/api
  ws_url: https://localhost/ws
`
	_, err := config.LoadFromReader(strings.NewReader(y))
	if err == nil {
		t.Fatal("expected scheme errors")
	}
	// Both errors are reported together.
	if !strings.Contains(err.Error(), "backend.base_url") || !strings.Contains(err.Error(), "backend.ws_url") {
		t.Errorf("expected both URL errors, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	for _, kind := range []string{"stt", "device", "output"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known names for %q", kind)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

type stubSTT struct{}

func (*stubSTT) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, nil
}

type stubDevice struct{}

func (*stubDevice) Open(context.Context, audio.DeviceOptions) (audio.Stream, error) { return nil, nil }

type stubSink struct{}

func (*stubSink) Start(context.Context, []byte, string, float64) (audio.Playback, error) {
	return nil, nil
}

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateDevice(config.AudioConfig{Device: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateDevice: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateOutput(config.PlaybackConfig{Output: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateOutput: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	wantSTT, wantDev, wantSink := &stubSTT{}, &stubDevice{}, &stubSink{}

	var gotEntry config.ProviderEntry
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return wantSTT, nil
	})
	reg.RegisterDevice("stub", func(config.AudioConfig) (audio.Device, error) { return wantDev, nil })
	reg.RegisterOutput("stub", func(config.PlaybackConfig) (audio.Sink, error) { return wantSink, nil })

	p, err := reg.CreateSTT(config.ProviderEntry{Name: "stub", Model: "m"})
	if err != nil || p != wantSTT {
		t.Errorf("CreateSTT = %v, %v", p, err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory received model %q, want m", gotEntry.Model)
	}
	if d, err := reg.CreateDevice(config.AudioConfig{Device: "stub"}); err != nil || d != wantDev {
		t.Errorf("CreateDevice = %v, %v", d, err)
	}
	if s, err := reg.CreateOutput(config.PlaybackConfig{Output: "stub"}); err != nil || s != wantSink {
		t.Errorf("CreateOutput = %v, %v", s, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	boom := errors.New("no microphone")
	reg.RegisterDevice("broken", func(config.AudioConfig) (audio.Device, error) { return nil, boom })

	if _, err := reg.CreateDevice(config.AudioConfig{Device: "broken"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want factory error", err)
	}
}
