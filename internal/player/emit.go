// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package player

import (
	"errors"
	"strconv"
	"time"

	"github.com/tonbox/tonbox/internal/audio"
	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/models"
	"github.com/tonbox/tonbox/internal/repository"
)

// positionEmitMinInterval caps position_changed emission; combined with the
// changed-second check this keeps the rate at or below 2 events per second.
const positionEmitMinInterval = 500 * time.Millisecond

// emit publishes a domain event. Player events target the player room;
// playlist-scoped events additionally target the playlist's detail room.
func (c *Coordinator) emit(t events.Type, playlistID string, data any, ephemeral bool) {
	rooms := []string{events.RoomPlayer}
	if playlistID != "" && !ephemeral {
		rooms = append(rooms, events.PlaylistRoom(playlistID))
	}
	c.sink.Publish(events.Event{
		Type:       t,
		PlaylistID: playlistID,
		Data:       data,
		Rooms:      rooms,
		Ephemeral:  ephemeral,
	})
}

// emitState publishes player_state_changed from the current status.
func (c *Coordinator) emitState() {
	st := c.Status()
	c.emit(events.TypePlayerStateChanged, st.PlaylistID, events.PlayerStateData{
		State:      st.State,
		PlaylistID: st.PlaylistID,
		TrackIndex: st.TrackIndex,
		PositionMS: st.PositionMS,
		Volume:     st.Volume,
	}, false)
}

// emitPosition publishes position_changed, throttled unless forced (seek and
// state transitions reset the throttle).
func (c *Coordinator) emitPosition(st models.PlayerStatus, force bool) {
	sec := st.PositionMS / 1000
	if !force {
		if sec == c.lastSecond || !c.posLimiter.Allow() {
			return
		}
	}
	c.lastSecond = sec
	c.emit(events.TypePositionChanged, st.PlaylistID, events.PositionData{
		PlaylistID: st.PlaylistID,
		TrackIndex: st.TrackIndex,
		PositionMS: st.PositionMS,
	}, true)
}

func (c *Coordinator) resetPositionThrottle() {
	c.lastSecond = -1
}

// emitError publishes player_error. Errors are additionally returned to the
// command's caller; nothing is discarded silently.
func (c *Coordinator) emitError(err *Error) {
	c.emit(events.TypePlayerError, "", events.PlayerErrorData{
		Kind:    string(err.Kind),
		Message: err.Message,
	}, false)
}

// mapBackendError translates typed audio backend failures into the command
// error taxonomy.
func mapBackendError(err error, op string) *Error {
	switch {
	case errors.Is(err, audio.ErrNotStarted):
		return Wrap(KindBackendNotStarted, op, err)
	case errors.Is(err, audio.ErrFileNotFound):
		return Wrap(KindNotFound, op, err)
	case errors.Is(err, audio.ErrDecodeError), errors.Is(err, audio.ErrHardwareUnavailable):
		return Wrap(KindHardwareUnavailable, op, err)
	default:
		return Wrap(KindHardwareUnavailable, op, err)
	}
}

// mapRepositoryError translates repository failures. Lookup misses are
// not_found; everything else is a repository_error the caller may retry.
func mapRepositoryError(err error, op string) *Error {
	if errors.Is(err, repository.ErrNotFound) {
		return Wrap(KindNotFound, op, err)
	}
	return Wrap(KindRepositoryError, op, err)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
