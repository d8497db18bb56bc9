package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely applied to a running session are tracked
// individually; everything else is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     float64

	SilenceChanged      bool
	NewSilenceThreshold int
	NewSilenceDuration  time.Duration

	// RestartRequired lists the sections whose changes only take effect on
	// the next start (e.g. "backend", "audio", "socket").
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VolumeChanged || d.SilenceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.PlaybackVolume() != new.PlaybackVolume() {
		d.VolumeChanged = true
		d.NewVolume = new.PlaybackVolume()
	}

	if old.Audio.SilenceThreshold != new.Audio.SilenceThreshold ||
		old.Audio.SilenceDuration != new.Audio.SilenceDuration {
		d.SilenceChanged = true
		d.NewSilenceThreshold = new.Audio.SilenceThreshold
		d.NewSilenceDuration = new.Audio.SilenceDuration
	}

	if old.Server.LogFormat != new.Server.LogFormat || old.Server.AdminAddr != new.Server.AdminAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if audioRestart(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Socket != new.Socket {
		d.RestartRequired = append(d.RestartRequired, "socket")
	}
	if old.Playback.Output != new.Playback.Output || old.Playback.StartTimeout != new.Playback.StartTimeout {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.STT != new.STT {
		d.RestartRequired = append(d.RestartRequired, "stt")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// audioRestart compares the audio fields that shape the capture graph.
func audioRestart(old, new AudioConfig) bool {
	return old.Device != new.Device ||
		old.SampleRate != new.SampleRate ||
		old.Channels != new.Channels ||
		old.BlockSize != new.BlockSize ||
		old.FlushInterval != new.FlushInterval ||
		old.LevelInterval != new.LevelInterval ||
		old.RelayToBackend != new.RelayToBackend ||
		boolVal(old.EchoCancellation) != boolVal(new.EchoCancellation) ||
		boolVal(old.NoiseSuppression) != boolVal(new.NoiseSuppression) ||
		boolVal(old.AutoGain) != boolVal(new.AutoGain)
}

func boolVal(b *bool) bool { return b == nil || *b }
