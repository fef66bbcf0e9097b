package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/gostt-replay/internal/audio"
	"github.com/chaz8081/gostt-replay/internal/config"
	"github.com/chaz8081/gostt-replay/internal/hotkey"
	"github.com/chaz8081/gostt-replay/internal/orchestrator"
	"github.com/chaz8081/gostt-replay/internal/playback"
	"github.com/chaz8081/gostt-replay/internal/recognition"
	"github.com/chaz8081/gostt-replay/internal/recording"
	"github.com/chaz8081/gostt-replay/internal/server"
	"github.com/chaz8081/gostt-replay/internal/vosk"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-replay/config.yaml)")
	envPath := flag.String("env", ".env", "path to a dotenv file with GOSTT_* overrides")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote", path)
		}
		return
	}

	if err := config.LoadDotenv(*envPath); err != nil {
		log.Fatalf("env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("config env: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	printBanner(cfg)

	// The audio backend is the one startup dependency we cannot run without.
	actx, err := audio.NewContext()
	if err != nil {
		log.Fatalf("Failed to initialize audio: %v\n\nEnsure an audio backend is available and microphone access is granted.", err)
	}

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	recorder := audio.NewRecorder(actx, format, logger)
	input := audio.NewInputNode(recorder)

	recMgr := recording.NewManager(recorder, recording.Config{
		Dir:         cfg.RecordingsDir,
		SettleDelay: cfg.Audio.SettleDelay,
		Logger:      logger.With("component", "recording"),
	})

	recognizer := vosk.New(vosk.Config{
		URL:         cfg.Recognition.URL,
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		DialTimeout: cfg.Recognition.DialTimeout,
		Logger:      logger.With("component", "vosk"),
	})
	asrMgr := recognition.NewManager(input, recognizer, recognition.Config{
		OnDevice: cfg.Recognition.OnDevice,
		Logger:   logger.With("component", "recognition"),
	})

	openPlayer := func(path string) (playback.Player, error) {
		p, err := audio.OpenPlayer(actx, path)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	playMgr := playback.NewManager(openPlayer, playback.Config{
		TickInterval: cfg.Playback.TickInterval,
		Logger:       logger.With("component", "playback"),
	})

	orch := orchestrator.New(recMgr, asrMgr, playMgr, orchestrator.Options{
		Logger: logger.With("component", "orchestrator"),
	})

	listener := hotkey.NewListener([]hotkey.Binding{
		{Action: hotkey.ActionRecord, Keys: cfg.Hotkey.Record},
		{Action: hotkey.ActionPlay, Keys: cfg.Hotkey.Play},
		{Action: hotkey.ActionReset, Keys: cfg.Hotkey.Reset},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	g.Go(func() error {
		watchState(ctx, orch)
		return nil
	})
	if cfg.Server.Addr != "" {
		srv := server.New(orch, logger.With("component", "server"))
		g.Go(func() error {
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		})
	}

	// Start hotkey listener in background
	go listener.Start()
	g.Go(func() error {
		events := listener.Events()
		for {
			select {
			case <-ctx.Done():
				return nil
			case action, ok := <-events:
				if !ok {
					logger.Info("hotkey listener stopped")
					return nil
				}
				logger.Debug("hotkey", "action", action)
				hotkey.Apply(action, orch)
			}
		}
	})

	logger.Info("ready", "record", strings.Join(cfg.Hotkey.Record, "+"), "play", strings.Join(cfg.Hotkey.Play, "+"))

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Error("shutting down", "error", err)
	}

	listener.Stop()
	asrMgr.Stop()
	recMgr.Stop()
	playMgr.Stop()
	if err := actx.Close(); err != nil {
		logger.Error("closing audio", "error", err)
	}
	logger.Info("goodbye")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

// watchState logs every composite state transition. It stands in for a
// rendering layer when running headless.
func watchState(ctx context.Context, orch *orchestrator.Orchestrator) {
	sub := orch.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sub.C():
			if !ok {
				return
			}
			attrs := []any{"phase", s.Phase}
			switch s.Phase {
			case orchestrator.PhaseRecording, orchestrator.PhaseReadyToPlay:
				if s.Result != nil {
					attrs = append(attrs, "text", s.Result.FullText)
				}
			case orchestrator.PhasePlaying:
				if s.Highlight >= 0 && s.Highlight < s.Result.Len() {
					attrs = append(attrs, "word", s.Result.Words[s.Highlight].Text)
				}
			case orchestrator.PhaseError:
				attrs = append(attrs, "message", s.Message)
			}
			slog.Info("state", attrs...)
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	addr := cfg.Server.Addr
	if addr == "" {
		addr = "disabled"
	}
	fmt.Println("=== gostt-replay ===")
	fmt.Printf("  Record:      %s\n", strings.Join(cfg.Hotkey.Record, "+"))
	fmt.Printf("  Play:        %s\n", strings.Join(cfg.Hotkey.Play, "+"))
	fmt.Printf("  Reset:       %s\n", strings.Join(cfg.Hotkey.Reset, "+"))
	fmt.Printf("  Audio:       %dHz, %dch\n", cfg.Audio.SampleRate, cfg.Audio.Channels)
	fmt.Printf("  Recognition: %s (on-device: %t)\n", cfg.Recognition.URL, cfg.Recognition.OnDevice)
	fmt.Printf("  Recordings:  %s\n", cfg.RecordingsDir)
	fmt.Printf("  Server:      %s\n", addr)
	fmt.Printf("  Log:         %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
