// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package repository

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tonbox/tonbox/internal/logging"
	"github.com/tonbox/tonbox/internal/models"
)

// BreakerConfig tunes the circuit breaker wrapped around a Repository.
type BreakerConfig struct {
	// Name labels the breaker in logs. Default: "repository"
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 5
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	// Default: 10s
	OpenTimeout time.Duration
}

// WithBreaker decorates a Repository with a circuit breaker so a failing
// storage layer sheds load fast instead of stalling the coordinator worker
// on every command. Domain errors (ErrNotFound, *ConflictError) are not
// counted as failures.
type WithBreaker struct {
	inner Repository
	cb    *gobreaker.CircuitBreaker[any]
}

// NewWithBreaker wraps inner with a circuit breaker.
func NewWithBreaker(inner Repository, cfg BreakerConfig) *WithBreaker {
	if cfg.Name == "" {
		cfg.Name = "repository"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("component", "repository").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isDomainError(err)
		},
	}

	return &WithBreaker{inner: inner, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func isDomainError(err error) bool {
	var conflict *ConflictError
	return errors.Is(err, ErrNotFound) || errors.As(err, &conflict)
}

// FindPlaylistByID implements Repository.
func (w *WithBreaker) FindPlaylistByID(ctx context.Context, id string) (*models.Playlist, error) {
	res, err := w.cb.Execute(func() (any, error) {
		return w.inner.FindPlaylistByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.Playlist), nil
}

// FindPlaylistByNFC implements Repository.
func (w *WithBreaker) FindPlaylistByNFC(ctx context.Context, uid string) (*models.Playlist, error) {
	res, err := w.cb.Execute(func() (any, error) {
		return w.inner.FindPlaylistByNFC(ctx, uid)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.Playlist), nil
}

// ListPlaylists implements Repository.
func (w *WithBreaker) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	res, err := w.cb.Execute(func() (any, error) {
		return w.inner.ListPlaylists(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.Playlist), nil
}

// UpdatePlaylistNFC implements Repository.
func (w *WithBreaker) UpdatePlaylistNFC(ctx context.Context, playlistID, uid string) error {
	_, err := w.cb.Execute(func() (any, error) {
		return nil, w.inner.UpdatePlaylistNFC(ctx, playlistID, uid)
	})
	return err
}

// State returns the breaker state string for health reporting.
func (w *WithBreaker) State() string {
	return w.cb.State().String()
}
