// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package api exposes the playback core to the HTTP/WebSocket routing
// layer: a command facade with idempotent replay, room snapshots for new
// subscribers, and the chi router wiring both.
package api

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tonbox/tonbox/internal/broadcast"
	"github.com/tonbox/tonbox/internal/logging"
	"github.com/tonbox/tonbox/internal/metrics"
	"github.com/tonbox/tonbox/internal/models"
	"github.com/tonbox/tonbox/internal/nfc"
	"github.com/tonbox/tonbox/internal/player"
	"github.com/tonbox/tonbox/internal/repository"
)

// Service is the command facade. Every state-changing operation accepts an
// optional idempotency key: a key seen within the cache TTL replays the
// recorded outcome without re-executing the command or emitting new events.
type Service struct {
	coord *player.Coordinator
	nfc   *nfc.Service
	repo  repository.Repository
	hub   *broadcast.Hub
	log   zerolog.Logger
}

// NewService wires the facade.
func NewService(coord *player.Coordinator, nfcSvc *nfc.Service, repo repository.Repository, hub *broadcast.Hub) *Service {
	return &Service{
		coord: coord,
		nfc:   nfcSvc,
		repo:  repo,
		hub:   hub,
		log:   logging.With().Str("component", "api").Logger(),
	}
}

// statusResult is the cached outcome of a player command.
type statusResult struct {
	status models.PlayerStatus
	err    error
}

// sessionResult is the cached outcome of an association command.
type sessionResult struct {
	session models.AssociationSession
	err     error
}

// replayStatus consults the idempotency cache; exec runs on a miss and its
// outcome, error included, is what a retry with the same key will see.
func (s *Service) replayStatus(key string, exec func() (models.PlayerStatus, error)) (models.PlayerStatus, error) {
	if key != "" {
		if cached, ok := s.hub.Idempotency().Get(key); ok {
			metrics.IdempotencyHits.Inc()
			res := cached.(statusResult)
			return res.status, res.err
		}
	}
	status, err := exec()
	if key != "" {
		s.hub.Idempotency().Put(key, statusResult{status: status, err: err})
	}
	return status, err
}

func (s *Service) replaySession(key string, exec func() (models.AssociationSession, error)) (models.AssociationSession, error) {
	if key != "" {
		if cached, ok := s.hub.Idempotency().Get(key); ok {
			metrics.IdempotencyHits.Inc()
			res := cached.(sessionResult)
			return res.session, res.err
		}
	}
	session, err := exec()
	if key != "" {
		s.hub.Idempotency().Put(key, sessionResult{session: session, err: err})
	}
	return session, err
}

// PlayPlaylist starts a playlist, optionally at a 1-based track number.
func (s *Service) PlayPlaylist(ctx context.Context, playlistID string, trackNumber int, idemKey string) (models.PlayerStatus, error) {
	return s.replayStatus(idemKey, func() (models.PlayerStatus, error) {
		return s.coord.Play(ctx, playlistID, trackNumber)
	})
}

// Control executes pause, resume, stop, next, or previous.
func (s *Service) Control(ctx context.Context, action player.ControlAction, idemKey string) (models.PlayerStatus, error) {
	return s.replayStatus(idemKey, func() (models.PlayerStatus, error) {
		return s.coord.Control(ctx, action)
	})
}

// Seek repositions within the current track.
func (s *Service) Seek(ctx context.Context, positionMS int64, idemKey string) (models.PlayerStatus, error) {
	return s.replayStatus(idemKey, func() (models.PlayerStatus, error) {
		return s.coord.Seek(ctx, positionMS)
	})
}

// SetVolume sets the output volume (0..100).
func (s *Service) SetVolume(ctx context.Context, volume int, idemKey string) (models.PlayerStatus, error) {
	return s.replayStatus(idemKey, func() (models.PlayerStatus, error) {
		return s.coord.SetVolume(ctx, volume)
	})
}

// GetStatus returns the current playback snapshot.
func (s *Service) GetStatus() models.PlayerStatus {
	return s.coord.Status()
}

// ListPlaylists returns all playlists without their tracks.
func (s *Service) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	return s.repo.ListPlaylists(ctx)
}

// GetPlaylist returns one playlist with its tracks.
func (s *Service) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	return s.repo.FindPlaylistByID(ctx, id)
}

// StartNFCAssociation opens a listening session for the playlist.
func (s *Service) StartNFCAssociation(ctx context.Context, playlistID string, timeoutSeconds int, idemKey string) (models.AssociationSession, error) {
	return s.replaySession(idemKey, func() (models.AssociationSession, error) {
		return s.nfc.StartSession(ctx, playlistID, timeoutSeconds)
	})
}

// CancelNFCAssociation cancels a listening session.
func (s *Service) CancelNFCAssociation(sessionID, idemKey string) (models.AssociationSession, error) {
	return s.replaySession(idemKey, func() (models.AssociationSession, error) {
		return s.nfc.CancelSession(sessionID)
	})
}

// NFCStatus reports the known sessions and hardware availability.
type NFCStatus struct {
	Sessions          []models.AssociationSession `json:"sessions"`
	HardwareAvailable bool                        `json:"hardware_available"`
}

// GetNFCStatus returns the association service status.
func (s *Service) GetNFCStatus() NFCStatus {
	return NFCStatus{
		Sessions:          s.nfc.Sessions(),
		HardwareAvailable: s.nfc.HardwareAvailable(),
	}
}
