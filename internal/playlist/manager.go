// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package playlist holds the in-memory playlist cursor: the current playlist,
// the current track index, and the next/previous computation.
//
// The manager is pure in-memory state with no I/O. It is deliberately NOT
// safe for concurrent use: every call must come from the playback
// coordinator worker, which is the single serialization point of the core.
package playlist

import (
	"errors"

	"github.com/tonbox/tonbox/internal/models"
)

// ErrOutOfRange is returned when a requested track number or cursor move
// falls outside the loaded playlist. The cursor is never mutated on failure.
var ErrOutOfRange = errors.New("track out of range")

// ErrNoPlaylist is returned when no playlist is loaded.
var ErrNoPlaylist = errors.New("no playlist loaded")

// Manager owns the current playlist and a zero-based track index.
type Manager struct {
	current *models.Playlist
	index   int
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Load replaces the current playlist and resets the cursor to the first
// track.
func (m *Manager) Load(p *models.Playlist) {
	m.current = p
	m.index = 0
}

// GotoTrack moves the cursor to the 1-based track number. Out-of-range
// requests fail without mutation.
func (m *Manager) GotoTrack(number int) error {
	if m.current == nil {
		return ErrNoPlaylist
	}
	if number < 1 || number > len(m.current.Tracks) {
		return ErrOutOfRange
	}
	m.index = number - 1
	return nil
}

// Next advances the cursor and returns the new track. It does not wrap: at
// the last track it fails with ErrOutOfRange and leaves the cursor in place.
func (m *Manager) Next() (models.Track, error) {
	if m.current == nil {
		return models.Track{}, ErrNoPlaylist
	}
	if m.index+1 >= len(m.current.Tracks) {
		return models.Track{}, ErrOutOfRange
	}
	m.index++
	return m.current.Tracks[m.index], nil
}

// Previous moves the cursor back and returns the new track. It does not
// wrap: at the first track it fails with ErrOutOfRange and leaves the cursor
// in place.
func (m *Manager) Previous() (models.Track, error) {
	if m.current == nil {
		return models.Track{}, ErrNoPlaylist
	}
	if m.index-1 < 0 {
		return models.Track{}, ErrOutOfRange
	}
	m.index--
	return m.current.Tracks[m.index], nil
}

// Current returns the loaded playlist, the track under the cursor, and the
// zero-based index.
func (m *Manager) Current() (*models.Playlist, models.Track, int, error) {
	if m.current == nil || len(m.current.Tracks) == 0 {
		return nil, models.Track{}, 0, ErrNoPlaylist
	}
	return m.current, m.current.Tracks[m.index], m.index, nil
}

// Clear drops the loaded playlist and resets the cursor.
func (m *Manager) Clear() {
	m.current = nil
	m.index = 0
}
