// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package repository defines the persistence contract for playlists and NFC
// tag bindings, with an embedded SQLite implementation for the appliance and
// an in-memory implementation for tests.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonbox/tonbox/internal/models"
)

// ErrNotFound is returned when a playlist does not exist.
var ErrNotFound = errors.New("playlist not found")

// ConflictError is returned by UpdatePlaylistNFC when the UID is already
// bound to a different playlist. PlaylistID names the current owner.
type ConflictError struct {
	TagUID     string
	PlaylistID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("nfc tag %s already bound to playlist %s", e.TagUID, e.PlaylistID)
}

// Repository is the persistence surface the core consumes. Implementations
// must make UpdatePlaylistNFC atomic: no observer may see the same UID bound
// to two playlists.
type Repository interface {
	// FindPlaylistByID fetches a playlist with its tracks. Returns
	// ErrNotFound when the id does not exist.
	FindPlaylistByID(ctx context.Context, id string) (*models.Playlist, error)

	// FindPlaylistByNFC fetches the playlist bound to the given tag UID.
	// Returns ErrNotFound when no playlist is bound to it.
	FindPlaylistByNFC(ctx context.Context, uid string) (*models.Playlist, error)

	// ListPlaylists returns all playlists without their tracks, ordered by
	// title. Serves the playlists-index snapshot.
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)

	// UpdatePlaylistNFC binds uid to the playlist, or clears the binding when
	// uid is empty. Returns ErrNotFound for an unknown playlist and a
	// *ConflictError when uid is bound to a different playlist.
	UpdatePlaylistNFC(ctx context.Context, playlistID, uid string) error
}
