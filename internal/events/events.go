// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package events defines the event envelope and the typed event stream
// shared between the playback coordinator, the NFC association service,
// and the broadcast hub.
package events

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tonbox/tonbox/internal/models"
)

// Type identifies an event on the subscription stream.
type Type string

// Snapshot events, sent once per subscription.
const (
	TypeStatePlaylists Type = "state:playlists"
	TypeStatePlaylist  Type = "state:playlist"
	TypeStatePlayer    Type = "state:player"
	TypeStateNFC       Type = "state:nfc"
)

// Incremental events emitted by the playback coordinator.
const (
	TypePlayerStateChanged Type = "player_state_changed"
	TypeTrackChanged       Type = "track_changed"
	TypeVolumeChanged      Type = "volume_changed"
	TypePositionChanged    Type = "position_changed"
	TypePlaylistStarted    Type = "playlist_started"
	TypePlaylistEnded      Type = "playlist_ended"
	TypePlayerError        Type = "player_error"
)

// Events emitted by the NFC association service.
const (
	TypeNFCAssociated Type = "nfc_associated"
	TypeNFCDuplicate  Type = "nfc_duplicate"
	TypeNFCTimeout    Type = "nfc_timeout"
	TypeNFCCancelled  Type = "nfc_cancelled"
	TypeNFCError      Type = "nfc_error"
)

// Room names clients subscribe to. PlaylistRoom derives the per-playlist
// detail room.
const (
	RoomPlaylists = "playlists"
	RoomPlayer    = "player"
	RoomNFC       = "nfc"
)

// PlaylistRoom returns the room carrying one playlist's detail events.
func PlaylistRoom(playlistID string) string {
	return "playlist:" + playlistID
}

// Envelope is the wire form of every event on the subscription stream.
// ServerSeq is strictly increasing in publication order within one process
// lifetime; PlaylistSeq is per-playlist monotonic and present only on
// playlist-scoped events. Counters reset on restart.
type Envelope struct {
	EventID     string `json:"event_id"`
	EventType   Type   `json:"event_type"`
	ServerSeq   uint64 `json:"server_seq"`
	PlaylistSeq uint64 `json:"playlist_seq,omitempty"`
	TimestampMS int64  `json:"timestamp_ms"`
	PlaylistID  string `json:"playlist_id,omitempty"`
	Data        any    `json:"data"`
}

// Marshal encodes the envelope for transport.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Event is a domain event before the hub assigns sequence numbers.
// Rooms is the target set for fan-out. Ephemeral events (position updates)
// bypass the outbox retry: loss is acceptable because the next one
// supersedes it.
type Event struct {
	Type       Type
	PlaylistID string
	Data       any
	Rooms      []string
	Ephemeral  bool
}

// NewEnvelope stamps an event with identity and time. Sequence numbers are
// assigned by the hub at publication.
func NewEnvelope(ev Event) Envelope {
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   ev.Type,
		TimestampMS: time.Now().UnixMilli(),
		PlaylistID:  ev.PlaylistID,
		Data:        ev.Data,
	}
}

// PlayerStateData is the payload of player_state_changed and the state:player
// snapshot.
type PlayerStateData struct {
	State      models.PlaybackState `json:"state"`
	PlaylistID string               `json:"playlist_id,omitempty"`
	TrackIndex int                  `json:"track_index"`
	PositionMS int64                `json:"position_ms"`
	Volume     int                  `json:"volume"`
}

// TrackChangedData is the payload of track_changed.
type TrackChangedData struct {
	PlaylistID string       `json:"playlist_id"`
	TrackIndex int          `json:"track_index"`
	Track      models.Track `json:"track"`
}

// PositionData is the payload of position_changed.
type PositionData struct {
	PlaylistID string `json:"playlist_id"`
	TrackIndex int    `json:"track_index"`
	PositionMS int64  `json:"position_ms"`
}

// VolumeData is the payload of volume_changed.
type VolumeData struct {
	Volume int `json:"volume"`
}

// PlaylistLifecycleData is the payload of playlist_started and playlist_ended.
type PlaylistLifecycleData struct {
	PlaylistID string `json:"playlist_id"`
	Title      string `json:"title,omitempty"`
}

// PlayerErrorData is the payload of player_error. Kind is one of the error
// taxonomy kinds (not_found, hardware_unavailable, ...).
type PlayerErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NFCSessionData is the payload of all nfc_* events.
type NFCSessionData struct {
	SessionID          string `json:"session_id"`
	PlaylistID         string `json:"playlist_id"`
	TagUID             string `json:"tag_uid,omitempty"`
	ConflictPlaylistID string `json:"conflict_playlist_id,omitempty"`
	Message            string `json:"message,omitempty"`
}
