// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package nfc

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/logging"
	"github.com/tonbox/tonbox/internal/metrics"
	"github.com/tonbox/tonbox/internal/models"
	"github.com/tonbox/tonbox/internal/player"
	"github.com/tonbox/tonbox/internal/repository"
)

// minUIDLength is the shortest UID the service accepts from the reader.
// Real NTAG UIDs are 7 bytes (14 hex chars); 8 guards against driver noise.
const minUIDLength = 8

// PlaybackStarter is the coordinator surface the service needs for the
// no-session scan path.
type PlaybackStarter interface {
	PlayByNFC(ctx context.Context, uid string) (models.PlayerStatus, error)
}

// EventSink receives nfc_* events for fan-out.
type EventSink interface {
	Publish(ev events.Event)
}

// Config tunes the association service.
type Config struct {
	// DefaultTimeout applies when a session is started with timeout 0.
	// Default: 60s
	DefaultTimeout time.Duration

	// SweepInterval is the cadence of the timeout sweeper. Default: 1s
	SweepInterval time.Duration

	// TerminalRetention is how long finished sessions stay queryable
	// before the sweeper prunes them. Default: 10m
	TerminalRetention time.Duration

	// ScanTimeout bounds the repository call on the detection path.
	// Default: 5s
	ScanTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = 10 * time.Minute
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 5 * time.Second
	}
}

// Service owns the association sessions. Sessions are in-memory only and do
// not survive a restart; the tag binding itself is the repository's.
//
// The service registers on the reader at construction, not per session: a
// scan with no listening session is forwarded to the coordinator as a
// play-by-tag command.
type Service struct {
	cfg    Config
	repo   repository.Repository
	coord  PlaybackStarter
	reader TagReader
	sink   EventSink
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*models.AssociationSession

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates the service and hooks it onto the reader.
func NewService(repo repository.Repository, coord PlaybackStarter, reader TagReader, sink EventSink, cfg Config) *Service {
	cfg.applyDefaults()
	s := &Service{
		cfg:      cfg,
		repo:     repo,
		coord:    coord,
		reader:   reader,
		sink:     sink,
		log:      logging.With().Str("component", "nfc").Logger(),
		sessions: make(map[string]*models.AssociationSession),
		now:      time.Now,
	}
	reader.OnTagDetected(s.HandleTag)
	reader.OnTagRemoved(func() {})
	return s
}

// StartSession begins listening for a tag to bind to playlistID. At most one
// listening session may exist per playlist; a second start fails with
// already_active. timeoutSeconds 0 selects the default.
func (s *Service) StartSession(ctx context.Context, playlistID string, timeoutSeconds int) (models.AssociationSession, error) {
	if _, err := s.repo.FindPlaylistByID(ctx, playlistID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.AssociationSession{}, player.E(player.KindNotFound, "playlist "+playlistID+" not found")
		}
		return models.AssociationSession{}, player.Wrap(player.KindRepositoryError, "load playlist "+playlistID, err)
	}

	timeout := s.cfg.DefaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.PlaylistID == playlistID && sess.State == models.SessionListening {
			return models.AssociationSession{}, player.E(player.KindAlreadyActive,
				"association session "+sess.ID+" already listening for playlist "+playlistID)
		}
	}

	now := s.now()
	sess := &models.AssociationSession{
		ID:             uuid.NewString(),
		PlaylistID:     playlistID,
		State:          models.SessionListening,
		TimeoutSeconds: int(timeout / time.Second),
		CreatedAt:      now,
		ExpiresAt:      now.Add(timeout),
	}
	s.sessions[sess.ID] = sess
	metrics.NFCSessions.Inc()

	s.log.Info().
		Str("session_id", sess.ID).
		Str("playlist_id", playlistID).
		Dur("timeout", timeout).
		Msg("association session started")
	return *sess, nil
}

// CancelSession moves a listening session to cancelled. Cancelling a session
// that already reached a terminal state is a no-op; an unknown session id is
// not_found.
func (s *Service) CancelSession(sessionID string) (models.AssociationSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return models.AssociationSession{}, player.E(player.KindNotFound, "association session "+sessionID+" not found")
	}
	if sess.State != models.SessionListening {
		cp := *sess
		s.mu.Unlock()
		return cp, nil
	}
	sess.State = models.SessionCancelled
	cp := *sess
	s.mu.Unlock()

	metrics.NFCSessions.Dec()
	s.emitSession(events.TypeNFCCancelled, cp)
	s.log.Info().Str("session_id", sessionID).Msg("association session cancelled")
	return cp, nil
}

// Sessions returns all known sessions, oldest first. Used by the status API.
func (s *Service) Sessions() []models.AssociationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AssociationSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// HardwareAvailable reports whether the NFC reader is usable.
func (s *Service) HardwareAvailable() bool {
	return s.reader.Available()
}

// HandleTag is the reader callback. With a listening session present, the
// scan completes the oldest one by binding the tag; without one, the scan is
// a play request for whatever playlist the tag is bound to.
func (s *Service) HandleTag(uid string) {
	if len(uid) < minUIDLength {
		s.log.Warn().Str("tag_uid", uid).Msg("ignoring tag with invalid uid")
		return
	}

	sess := s.oldestListening()
	if sess == nil {
		s.playByTag(uid)
		return
	}
	s.completeSession(sess.ID, uid)
}

// oldestListening returns a copy of the oldest listening session, or nil.
func (s *Service) oldestListening() *models.AssociationSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.AssociationSession
	for _, sess := range s.sessions {
		if sess.State != models.SessionListening {
			continue
		}
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		return nil
	}
	cp := *oldest
	return &cp
}

// completeSession attempts the binding and moves the session to its terminal
// state. The repository update is the only persistent mutation and is atomic
// at that layer. The session must still be listening both before and after
// the update; a cancel or timeout racing the in-flight call leaves a window
// where the binding lands anyway, which is logged rather than reverted.
func (s *Service) completeSession(sessionID, uid string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.State != models.SessionListening {
		s.mu.Unlock()
		return
	}
	playlistID := sess.PlaylistID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ScanTimeout)
	defer cancel()

	var sessCopy models.AssociationSession
	err := s.repo.UpdatePlaylistNFC(ctx, playlistID, uid)

	s.mu.Lock()
	sess, ok = s.sessions[sessionID]
	if !ok || sess.State != models.SessionListening {
		s.mu.Unlock()
		if err == nil {
			s.log.Warn().
				Str("session_id", sessionID).
				Str("playlist_id", playlistID).
				Str("tag_uid", uid).
				Msg("session ended during binding, tag binding kept")
		}
		return
	}
	sess.TagUID = uid
	var conflict *repository.ConflictError
	switch {
	case err == nil:
		sess.State = models.SessionSuccess
	case errors.As(err, &conflict):
		sess.State = models.SessionDuplicate
		sess.ConflictPlaylistID = conflict.PlaylistID
	default:
		sess.State = models.SessionError
		sess.ErrorMessage = err.Error()
	}
	sessCopy = *sess
	s.mu.Unlock()

	metrics.NFCSessions.Dec()

	switch sessCopy.State {
	case models.SessionSuccess:
		s.emitSession(events.TypeNFCAssociated, sessCopy)
		s.log.Info().
			Str("session_id", sessCopy.ID).
			Str("playlist_id", sessCopy.PlaylistID).
			Str("tag_uid", uid).
			Msg("tag associated")
	case models.SessionDuplicate:
		s.emitSession(events.TypeNFCDuplicate, sessCopy)
		s.log.Warn().
			Str("session_id", sessCopy.ID).
			Str("tag_uid", uid).
			Str("conflict_playlist_id", sessCopy.ConflictPlaylistID).
			Msg("tag already bound to another playlist")
	default:
		s.emitSession(events.TypeNFCError, sessCopy)
		s.log.Error().
			Str("session_id", sessCopy.ID).
			Str("tag_uid", uid).
			Err(err).
			Msg("association failed")
	}
}

// playByTag forwards a scan with no active session to the coordinator.
// No association event is emitted on this path; playback failures surface
// as player_error through the coordinator's own emission.
func (s *Service) playByTag(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ScanTimeout)
	defer cancel()

	if _, err := s.coord.PlayByNFC(ctx, uid); err != nil {
		s.log.Warn().Str("tag_uid", uid).Err(err).Msg("tag scan did not start playback")
		s.sink.Publish(events.Event{
			Type: events.TypePlayerError,
			Data: events.PlayerErrorData{
				Kind:    string(player.KindOf(err)),
				Message: "tag scan: " + err.Error(),
			},
			Rooms: []string{events.RoomPlayer},
		})
	}
}

// Serve implements suture.Service: the timeout sweeper. Expired listening
// sessions transition to timeout; long-finished sessions are pruned.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(s.now())
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (s *Service) String() string {
	return "nfc-association"
}

func (s *Service) sweep(now time.Time) {
	var timedOut []models.AssociationSession

	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			sess.State = models.SessionTimeout
			timedOut = append(timedOut, *sess)
			continue
		}
		if sess.State != models.SessionListening && now.Sub(sess.CreatedAt) > s.cfg.TerminalRetention {
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range timedOut {
		metrics.NFCSessions.Dec()
		s.emitSession(events.TypeNFCTimeout, sess)
		s.log.Info().
			Str("session_id", sess.ID).
			Str("playlist_id", sess.PlaylistID).
			Msg("association session timed out")
	}
}

func (s *Service) emitSession(t events.Type, sess models.AssociationSession) {
	s.sink.Publish(events.Event{
		Type:       t,
		PlaylistID: sess.PlaylistID,
		Data: events.NFCSessionData{
			SessionID:          sess.ID,
			PlaylistID:         sess.PlaylistID,
			TagUID:             sess.TagUID,
			ConflictPlaylistID: sess.ConflictPlaylistID,
			Message:            sess.ErrorMessage,
		},
		Rooms: []string{events.RoomNFC},
	})
}
