// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package supervisor builds the suture supervision tree for the appliance.
//
// The tree has three layers for failure isolation: a playback crash restarts
// the coordinator without tearing down client connections, and vice versa.
//
//	tonbox
//	├── playback-layer   coordinator worker, position ticker
//	├── messaging-layer  broadcast hub, NFC session sweeper
//	└── api-layer        HTTP server
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervision parameters, matching suture's defaults.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is how long to wait once the threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful shutdown per service. Default: 10s
	ShutdownTimeout time.Duration
}

// Tree is the supervision hierarchy.
type Tree struct {
	root      *suture.Supervisor
	playback  *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
}

// NewTree creates the tree. Suture events are logged through slog via
// sutureslog.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	// Restarting only covers services that fail by returning an error. A
	// panic means corrupted in-process state (coordinator status, playlist
	// cursor, backend handle), so it must crash the process rather than
	// restart into that state.
	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:         handler.MustHook(),
		FailureThreshold:  cfg.FailureThreshold,
		FailureDecay:      cfg.FailureDecay,
		FailureBackoff:    cfg.FailureBackoff,
		Timeout:           cfg.ShutdownTimeout,
		PassThroughPanics: true,
	}
	childSpec := suture.Spec{
		FailureThreshold:  cfg.FailureThreshold,
		FailureDecay:      cfg.FailureDecay,
		FailureBackoff:    cfg.FailureBackoff,
		Timeout:           cfg.ShutdownTimeout,
		PassThroughPanics: true,
	}

	t := &Tree{
		root:      suture.New("tonbox", rootSpec),
		playback:  suture.New("playback-layer", childSpec),
		messaging: suture.New("messaging-layer", childSpec),
		api:       suture.New("api-layer", childSpec),
	}
	t.root.Add(t.playback)
	t.root.Add(t.messaging)
	t.root.Add(t.api)
	return t
}

// AddPlaybackService supervises a service in the playback layer.
func (t *Tree) AddPlaybackService(svc suture.Service) suture.ServiceToken {
	return t.playback.Add(svc)
}

// AddMessagingService supervises a service in the messaging layer.
func (t *Tree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

// AddAPIService supervises a service in the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a background goroutine; the returned
// channel yields the terminal error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
