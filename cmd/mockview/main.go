// Command mockview runs a voice mock interview from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mockview/internal/api"
	"github.com/MrWong99/mockview/internal/capture"
	"github.com/MrWong99/mockview/internal/config"
	"github.com/MrWong99/mockview/internal/health"
	"github.com/MrWong99/mockview/internal/interview"
	"github.com/MrWong99/mockview/internal/observe"
	"github.com/MrWong99/mockview/internal/playback"
	"github.com/MrWong99/mockview/internal/session"
	"github.com/MrWong99/mockview/internal/speech"
	"github.com/MrWong99/mockview/pkg/audio"
	"github.com/MrWong99/mockview/pkg/audio/portaudio"
	"github.com/MrWong99/mockview/pkg/audio/speaker"
	"github.com/MrWong99/mockview/pkg/provider/stt"
	"github.com/MrWong99/mockview/pkg/provider/stt/deepgram"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	resumeID := flag.String("interview", "", "resume the interview with this id instead of starting a new one")
	role := flag.String("role", "", "role to interview for when starting a new interview")
	level := flag.String("level", "", "experience level sent with a new interview")
	list := flag.Bool("list", false, "print past interviews and exit")
	flag.Parse()

	if !*list && *resumeID == "" && *role == "" {
		fmt.Fprintln(os.Stderr, "mockview: one of -role, -interview or -list is required")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mockview: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mockview: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, logLevel))

	slog.Info("mockview starting",
		"config", *configPath,
		"backend", cfg.Backend.BaseURL,
		"stt", cfg.STT.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		slog.Error("failed to create transcription provider", "err", err)
		return 1
	}
	device, err := reg.CreateDevice(cfg.Audio)
	if err != nil {
		slog.Error("failed to create capture device", "err", err)
		return 1
	}
	sink, err := reg.CreateOutput(cfg.Playback)
	if err != nil {
		slog.Error("failed to create playback output", "err", err)
		return 1
	}

	// ── Backend ───────────────────────────────────────────────────────────────
	httpClient := &http.Client{Timeout: cfg.Backend.RequestTimeout}
	backend, err := api.New(cfg.Backend.BaseURL, cfg.Backend.Token,
		api.WithHTTPClient(httpClient),
		api.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create backend client", "err", err)
		return 1
	}

	if *list {
		history, err := backend.ListInterviews(ctx)
		if err != nil {
			slog.Error("failed to list interviews", "err", err)
			return 1
		}
		fmt.Print(formatHistory(history))
		return 0
	}

	interviewID, socketOverride, err := openInterview(ctx, backend, *resumeID, api.StartRequest{
		Role:            *role,
		ExperienceLevel: *level,
	})
	if err != nil {
		slog.Error("failed to open interview", "err", err)
		return 1
	}
	wsURL, err := socketURL(cfg.Backend.WSURL, socketOverride, interviewID)
	if err != nil {
		slog.Error("invalid socket URL", "err", err)
		return 1
	}
	slog.Info("interview ready", "interview_id", interviewID, "socket", wsURL)

	// ── Session wiring ────────────────────────────────────────────────────────
	// The session is created first so the component callbacks can close over
	// it; Run is started below.
	var sess *session.Session

	player := playback.New(sink, playback.Options{
		StartTimeout: cfg.Playback.StartTimeout,
		Volume:       cfg.PlaybackVolume(),
		OnPlay:       func() { sess.PlaybackStarted() },
		OnEnd:        func() { sess.PlaybackEnded() },
		OnError: func(err error) {
			slog.Warn("question audio failed", "err", err)
		},
		Metrics: metrics,
	})

	var creds speech.CredentialSource
	if cfg.STT.APIKey != "" {
		creds = speech.APIKey(cfg.STT.APIKey)
	} else {
		creds = speech.NewTokenCache(func(ctx context.Context) (stt.Credential, error) {
			tok, err := backend.TranscriptionToken(ctx)
			if err != nil {
				return stt.Credential{}, err
			}
			return tok.Credential(backend.Now()), nil
		})
	}

	recognizer := speech.New(speech.Config{
		Provider:    provider,
		Credentials: creds,
		Device:      device,
		Capture:     captureOptions(cfg.Audio),
		Language:    cfg.STT.Language,
		Relay: func(c audio.Chunk) {
			sess.RelayChunk(c)
		},
		OnTranscript: func(text string, final bool) { sess.HandleTranscript(text, final) },
		OnError:      func(err error) { sess.HandleSpeechError(err) },
		Metrics:      metrics,
	})
	defer recognizer.Close()

	socket := interview.New(interview.Options{
		URL:                   wsURL,
		Token:                 cfg.Backend.Token,
		ReconnectBase:         cfg.Socket.ReconnectBase,
		MaxReconnectAttempts:  cfg.Socket.MaxReconnectAttempts,
		BackpressureThreshold: cfg.Socket.BackpressureThreshold,
		PingInterval:          cfg.Socket.PingInterval,
		OnMessage:             func(m interview.Message) { sess.HandleMessage(m) },
		OnStateChange:         func(st interview.State) { sess.HandleSocketState(st) },
		OnReconnecting: func(attempt int, delay time.Duration) {
			fmt.Printf("connection lost, reconnecting (attempt %d in %s)\n", attempt, delay)
		},
		OnError: func(err error) { sess.HandleSocketError(err) },
		Metrics: metrics,
	})

	sess = session.New(session.Config{
		InterviewID:    interviewID,
		Socket:         socket,
		Speech:         recognizer,
		Player:         player,
		Mic:            recognizer.Capture(),
		RelayToBackend: cfg.Audio.RelayToBackend,
	})

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return sess.Run(gctx) })

	if cfg.Server.AdminAddr != "" {
		srv := adminServer(cfg, httpClient, socket, recognizer.Capture(), metrics)
		g.Go(func() error {
			slog.Info("admin listener", "addr", cfg.Server.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
		applyLive(d, logLevel, player, recognizer.Capture())
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	updates := sess.Subscribe()
	completed := make(chan struct{})
	g.Go(func() error {
		printProjections(updates, completed)
		return nil
	})

	if err := sess.Connect(gctx); err != nil {
		slog.Error("failed to connect interview socket", "err", err)
		cancelRun()
		_ = g.Wait()
		return 1
	}

	quit := func() {
		endEarly(sess, backend, interviewID)
		cancelRun()
	}
	g.Go(func() error {
		return drive(gctx, sess, stdinLines(), quit)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-completed:
		}
		printReport(gctx, backend, interviewID)
		cancelRun()
		return nil
	})

	fmt.Println("Press Enter to start answering, Enter again to submit, q to quit.")

	// ── Shutdown ──────────────────────────────────────────────────────────────
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mockview stopped with error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires every compiled-in backend into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, deepgram.WithLanguage(e.Language))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		return deepgram.New(opts...), nil
	})
	reg.RegisterDevice("portaudio", func(config.AudioConfig) (audio.Device, error) {
		return portaudio.New(), nil
	})
	reg.RegisterOutput("speaker", func(config.PlaybackConfig) (audio.Sink, error) {
		return speaker.New(), nil
	})
}

// openInterview resumes id when set, otherwise starts a new interview. It
// returns the interview id and the socket URL the backend handed out, if any.
func openInterview(ctx context.Context, backend *api.Client, id string, req api.StartRequest) (string, string, error) {
	if id != "" {
		st, err := backend.InterviewStatus(ctx, id)
		if err != nil {
			return "", "", fmt.Errorf("resume %s: %w", id, err)
		}
		if st.Completed {
			return "", "", fmt.Errorf("interview %s is already completed", id)
		}
		return st.InterviewID, "", nil
	}
	resp, err := backend.StartInterview(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("start interview: %w", err)
	}
	return resp.InterviewID, resp.SocketURL, nil
}

// socketURL returns override when the backend supplied one, otherwise base
// with the interview id appended as a path segment.
func socketURL(base, override, id string) (string, error) {
	if override != "" {
		return override, nil
	}
	if base == "" {
		return "", errors.New("backend.ws_url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return u.JoinPath(url.PathEscape(id)).String(), nil
}

func captureOptions(a config.AudioConfig) capture.Options {
	return capture.Options{
		SampleRate:       a.SampleRate,
		Channels:         a.Channels,
		BlockSize:        a.BlockSize,
		FlushInterval:    a.FlushInterval,
		LevelInterval:    a.LevelInterval,
		EchoCancellation: a.EchoCancellation == nil || *a.EchoCancellation,
		NoiseSuppression: a.NoiseSuppression == nil || *a.NoiseSuppression,
		AutoGainControl:  a.AutoGain == nil || *a.AutoGain,
		SilenceThreshold: a.SilenceThreshold,
		SilenceDuration:  a.SilenceDuration,
		OnSilence: func() {
			fmt.Println("(silence detected, press Enter to submit)")
		},
	}
}

func adminServer(cfg *config.Config, hc *http.Client, socket *interview.Client, mic *capture.Controller, m *observe.Metrics) *http.Server {
	checks := health.New(
		health.Backend(hc, strings.TrimRight(cfg.Backend.BaseURL, "/")+"/health"),
		health.Socket(func() bool { return socket.State() == interview.StateOpen }),
		health.Microphone(func() bool { return errors.Is(mic.Err(), capture.ErrPermissionDenied) }),
	)
	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("/metrics", observe.MetricsHandler())
	return &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// applyLive applies the tunables that take effect without a restart.
func applyLive(d config.ConfigDiff, logLevel *slog.LevelVar, player *playback.Controller, mic *capture.Controller) {
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VolumeChanged {
		player.SetVolume(d.NewVolume)
		slog.Info("playback volume changed", "volume", d.NewVolume)
	}
	if d.SilenceChanged {
		mic.SetSilence(d.NewSilenceThreshold, d.NewSilenceDuration)
		slog.Info("silence detection changed",
			"threshold", d.NewSilenceThreshold,
			"duration", d.NewSilenceDuration,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
