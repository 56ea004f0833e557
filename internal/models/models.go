// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package models defines the domain types shared across the playback core:
// playlists and tracks, the playback status snapshot, and NFC association
// sessions.
package models

import (
	"sort"
	"time"
)

// PlaybackState is the player state machine value.
type PlaybackState string

// Playback states. The machine is Stopped -> Playing <-> Paused -> Stopped;
// every transition is driven by exactly one coordinator command.
const (
	StateStopped PlaybackState = "stopped"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// Track is one playable item inside a playlist. TrackNumber is the 1-based
// position shown to users and used in play commands.
type Track struct {
	ID          string `json:"id"`
	TrackNumber int    `json:"track_number"`
	Title       string `json:"title"`
	FilePath    string `json:"file_path"`
	DurationMS  int64  `json:"duration_ms"`
}

// Playlist is an ordered set of tracks, optionally bound to one NFC tag UID.
// A UID is bound to at most one playlist at a time.
type Playlist struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	NFCTagUID string  `json:"nfc_tag_uid,omitempty"`
	Tracks    []Track `json:"tracks,omitempty"`
}

// TrackByNumber returns the track with the given 1-based number.
func (p *Playlist) TrackByNumber(number int) (Track, bool) {
	for _, t := range p.Tracks {
		if t.TrackNumber == number {
			return t, true
		}
	}
	return Track{}, false
}

// NormalizeTrackNumbers sorts tracks by number and renumbers them 1..n,
// closing any gaps left by imports or deletions.
func (p *Playlist) NormalizeTrackNumbers() {
	sort.SliceStable(p.Tracks, func(i, j int) bool {
		return p.Tracks[i].TrackNumber < p.Tracks[j].TrackNumber
	})
	for i := range p.Tracks {
		p.Tracks[i].TrackNumber = i + 1
	}
}

// PlayerStatus is a self-consistent snapshot of current playback. TrackIndex
// is zero-based; Track is nil when stopped.
type PlayerStatus struct {
	State      PlaybackState `json:"state"`
	PlaylistID string        `json:"playlist_id,omitempty"`
	TrackIndex int           `json:"track_index"`
	Track      *Track        `json:"track,omitempty"`
	PositionMS int64         `json:"position_ms"`
	Volume     int           `json:"volume"`
}

// SessionState is the lifecycle state of an NFC association session.
type SessionState string

// Association session states. listening is the only non-terminal state.
const (
	SessionListening SessionState = "listening"
	SessionSuccess   SessionState = "success"
	SessionDuplicate SessionState = "duplicate"
	SessionTimeout   SessionState = "timeout"
	SessionCancelled SessionState = "cancelled"
	SessionError     SessionState = "error"
)

// AssociationSession tracks one attempt to bind an NFC tag to a playlist.
// The session waits in listening until a tag is scanned, the deadline
// passes, or the user cancels.
type AssociationSession struct {
	ID         string       `json:"id"`
	PlaylistID string       `json:"playlist_id"`
	State      SessionState `json:"state"`

	// TagUID is set once a tag has been scanned for this session.
	TagUID string `json:"tag_uid,omitempty"`

	// ConflictPlaylistID identifies the current owner when the scanned tag
	// is already bound elsewhere.
	ConflictPlaylistID string `json:"conflict_playlist_id,omitempty"`

	// ErrorMessage explains a session that ended in SessionError.
	ErrorMessage string `json:"error_message,omitempty"`

	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether a listening session has passed its deadline.
// Terminal sessions never expire.
func (s *AssociationSession) Expired(now time.Time) bool {
	return s.State == SessionListening && now.After(s.ExpiresAt)
}
