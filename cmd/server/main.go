// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Command server is the Tonbox appliance daemon: playback coordinator,
// NFC association service, broadcast hub, and the HTTP/WebSocket API,
// supervised as one tree.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tonbox/tonbox/internal/api"
	"github.com/tonbox/tonbox/internal/audio"
	"github.com/tonbox/tonbox/internal/broadcast"
	"github.com/tonbox/tonbox/internal/config"
	"github.com/tonbox/tonbox/internal/logging"
	"github.com/tonbox/tonbox/internal/models"
	"github.com/tonbox/tonbox/internal/nfc"
	"github.com/tonbox/tonbox/internal/player"
	"github.com/tonbox/tonbox/internal/repository"
	"github.com/tonbox/tonbox/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	var logOut *os.File
	switch cfg.Logging.Output {
	case "", "stderr":
		logOut = os.Stderr
	default:
		logOut = os.Stdout
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOut,
	})
	logging.Info().
		Str("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Str("database", cfg.Database.Path).
		Msg("starting tonbox")

	// Storage, wrapped in a circuit breaker so a failing disk degrades
	// commands fast instead of stalling the coordinator.
	store, err := repository.NewSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer func() { _ = store.Close() }()
	repo := repository.NewWithBreaker(store, repository.BreakerConfig{})

	backend := newBackend(cfg.Audio)
	reader := newReader(cfg.NFC)

	hub := broadcast.NewHub(broadcast.Config{
		IntakeSize:          cfg.Broadcast.IntakeSize,
		SendBuffer:          cfg.Broadcast.SendBuffer,
		HistorySize:         cfg.Broadcast.HistorySize,
		RetryAttempts:       cfg.Broadcast.RetryAttempts,
		RetryBackoff:        cfg.Broadcast.RetryBackoff,
		IdempotencyTTL:      cfg.Broadcast.IdempotencyTTL,
		IdempotencyCapacity: cfg.Broadcast.IdempotencyCapacity,
	})

	coord := player.New(repo, backend, hub, player.Config{
		QueueSize:     cfg.Player.QueueSize,
		InitialVolume: cfg.Audio.InitialVolume,
	})
	ticker := player.NewPositionTicker(coord, cfg.Audio.PositionInterval)

	nfcSvc := nfc.NewService(repo, coord, reader, hub, nfc.Config{
		DefaultTimeout: cfg.NFC.SessionTimeout,
		SweepInterval:  cfg.NFC.SweepInterval,
	})

	svc := api.NewService(coord, nfcSvc, repo, hub)
	hub.SetSnapshotProvider(svc.Snapshot)

	buttons := nfc.NewMockButtons()
	wireButtons(buttons, coord)

	if err := coord.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	if err := reader.Start(); err != nil {
		// The appliance stays useful without NFC: HTTP control still works.
		logging.Warn().Err(err).Msg("nfc reader unavailable")
	}
	defer func() { _ = reader.Close() }()

	httpServer := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Router(svc, api.RouterConfig{
			CORSOrigins:    cfg.Server.CORSOrigins,
			RateLimitRPM:   cfg.Server.RateLimitRPM,
			MetricsEnabled: cfg.Server.MetricsEnabled,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(slog.New(slog.NewJSONHandler(logOut, nil)), supervisor.TreeConfig{})
	tree.AddPlaybackService(supervisor.NewRunnerService(coord, "playback-coordinator"))
	tree.AddPlaybackService(ticker)
	tree.AddMessagingService(supervisor.NewRunnerService(hub, "broadcast-hub"))
	tree.AddMessagingService(nfcSvc)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, 5*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	logging.Info().Msg("tonbox stopped")
	return nil
}

// newBackend selects the audio driver. Only the mock driver is built on all
// platforms; the ALSA driver lands with the hardware bring-up.
func newBackend(cfg config.AudioConfig) audio.Backend {
	switch cfg.Backend {
	case "alsa":
		logging.Warn().Msg("alsa backend not built in, using mock")
		return audio.NewMockBackend()
	default:
		return audio.NewMockBackend()
	}
}

func newReader(cfg config.NFCConfig) nfc.TagReader {
	switch cfg.Reader {
	case "pn532":
		logging.Warn().Msg("pn532 reader not built in, using mock")
		return nfc.NewMockReader()
	default:
		return nfc.NewMockReader()
	}
}

// wireButtons maps the physical controls 1:1 onto coordinator commands.
// Button callbacks fire from the driver goroutine; each command is submitted
// with its own short deadline.
func wireButtons(buttons nfc.ButtonInput, coord *player.Coordinator) {
	const volumeStep = 5

	buttons.OnButton(func(b nfc.Button) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var err error
		switch b {
		case nfc.ButtonPlayPause:
			if coord.Status().State == models.StatePlaying {
				_, err = coord.Control(ctx, player.ActionPause)
			} else {
				_, err = coord.Control(ctx, player.ActionResume)
			}
		case nfc.ButtonNext:
			_, err = coord.Control(ctx, player.ActionNext)
		case nfc.ButtonPrevious:
			_, err = coord.Control(ctx, player.ActionPrevious)
		case nfc.ButtonVolumeUp:
			_, err = coord.SetVolume(ctx, coord.Status().Volume+volumeStep)
		case nfc.ButtonVolumeDown:
			_, err = coord.SetVolume(ctx, coord.Status().Volume-volumeStep)
		}
		if err != nil {
			logging.Warn().Str("button", string(b)).Err(err).Msg("button command failed")
		}
	})
}
