// Package config provides the configuration schema, loader, and provider registry
// for the mockview interview client.
package config

import "time"

// LogLevel controls log verbosity.
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

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultSampleRate            = 16000
	DefaultChannels              = 1
	DefaultBlockSize             = 1024
	DefaultFlushInterval         = 40 * time.Millisecond
	DefaultLevelInterval         = 16 * time.Millisecond
	DefaultReconnectBase         = time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultBackpressureThreshold = 3 * 1024 * 1024
	DefaultPingInterval          = 10 * time.Second
	DefaultStartTimeout          = 5 * time.Second
	DefaultRequestTimeout        = 15 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Audio     AudioConfig     `yaml:"audio"`
	Socket    SocketConfig    `yaml:"socket"`
	Playback  PlaybackConfig  `yaml:"playback"`
	STT       ProviderEntry   `yaml:"stt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds logging and the optional admin listener.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output. Default: text.
	LogFormat LogFormat `yaml:"log_format"`

	// AdminAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., "127.0.0.1:9090"). Empty disables the listener.
	AdminAddr string `yaml:"admin_addr"`
}

// BackendConfig locates the interview backend.
type BackendConfig struct {
	// BaseURL is the REST API root (e.g., "https://api.example.com").
	BaseURL string `yaml:"base_url"`

	// WSURL is the interview socket root. The interview id is appended as a
	// path segment (e.g., "wss://api.example.com/ws/interview").
	WSURL string `yaml:"ws_url"`

	// Token is the bearer token sent with every REST call and the socket
	// handshake.
	Token string `yaml:"token"`

	// RequestTimeout bounds a single REST call. Default: 15s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AudioConfig configures microphone capture.
type AudioConfig struct {
	// Device selects the registered capture backend. Default: "portaudio".
	Device string `yaml:"device"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// BlockSize is the encoder frame size in samples. Default: 1024.
	BlockSize int `yaml:"block_size"`

	// FlushInterval is the aggregation window. Must stay below the
	// transcription provider's gap tolerance. Default: 40ms.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Voice processing requests. Nil means enabled.
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGain         *bool `yaml:"auto_gain"`

	// LevelInterval is the level-meter tick. Default: 16ms.
	LevelInterval time.Duration `yaml:"level_interval"`

	// SilenceThreshold is the 0–100 level below which input counts as quiet.
	// Zero disables silence detection.
	SilenceThreshold int `yaml:"silence_threshold"`

	// SilenceDuration is how long input must stay quiet before the silence
	// callback fires.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// RelayToBackend additionally sends every chunk to the interview socket
	// as an audio_chunk message.
	RelayToBackend bool `yaml:"relay_to_backend"`
}

// SocketConfig tunes the interview socket client.
type SocketConfig struct {
	// ReconnectBase is the first reconnect delay; attempt n waits
	// ReconnectBase × 2^n. Default: 1s.
	ReconnectBase time.Duration `yaml:"reconnect_base"`

	// MaxReconnectAttempts bounds automatic reconnection. Default: 5.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// BackpressureThreshold is the outbound byte count above which audio
	// chunks are dropped. Default: 3 MiB.
	BackpressureThreshold int `yaml:"backpressure_threshold"`

	// PingInterval is the keepalive period while recording. Default: 10s.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// PlaybackConfig configures speech output.
type PlaybackConfig struct {
	// Output selects the registered playback backend. Default: "speaker".
	Output string `yaml:"output"`

	// StartTimeout bounds how long Play waits for output to begin. Default: 5s.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// Volume in [0, 1]. Nil means 1.
	Volume *float64 `yaml:"volume"`
}

// ProviderEntry is the configuration block for the transcription provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey enables bring-your-own-key mode. When empty, a short-lived
	// credential is fetched from the backend before each recording.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default streaming endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Language is the BCP-47 recognition language.
	Language string `yaml:"language"`
}

// TelemetryConfig configures OpenTelemetry resource attributes.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of root traces kept, in [0, 1].
	// Zero keeps every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ApplyDefaults fills every unset tunable with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = LogFormatText
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}

	a := &c.Audio
	if a.Device == "" {
		a.Device = "portaudio"
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.BlockSize == 0 {
		a.BlockSize = DefaultBlockSize
	}
	if a.FlushInterval == 0 {
		a.FlushInterval = DefaultFlushInterval
	}
	if a.LevelInterval == 0 {
		a.LevelInterval = DefaultLevelInterval
	}
	a.EchoCancellation = orTrue(a.EchoCancellation)
	a.NoiseSuppression = orTrue(a.NoiseSuppression)
	a.AutoGain = orTrue(a.AutoGain)

	s := &c.Socket
	if s.ReconnectBase == 0 {
		s.ReconnectBase = DefaultReconnectBase
	}
	if s.MaxReconnectAttempts == 0 {
		s.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if s.BackpressureThreshold == 0 {
		s.BackpressureThreshold = DefaultBackpressureThreshold
	}
	if s.PingInterval == 0 {
		s.PingInterval = DefaultPingInterval
	}

	if c.Playback.Output == "" {
		c.Playback.Output = "speaker"
	}
	if c.Playback.StartTimeout == 0 {
		c.Playback.StartTimeout = DefaultStartTimeout
	}
	if c.Playback.Volume == nil {
		v := 1.0
		c.Playback.Volume = &v
	}

	if c.STT.Name == "" {
		c.STT.Name = "deepgram"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "mockview"
	}
}

// PlaybackVolume returns the configured volume, or 1 when unset.
func (c *Config) PlaybackVolume() float64 {
	if c.Playback.Volume == nil {
		return 1
	}
	return *c.Playback.Volume
}

func orTrue(b *bool) *bool {
	if b != nil {
		return b
	}
	t := true
	return &t
}
