// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package api

import (
	"context"
	"strings"

	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/models"
)

// PlaylistsSnapshot is the state:playlists payload.
type PlaylistsSnapshot struct {
	Playlists []models.Playlist `json:"playlists"`
}

// Snapshot implements broadcast.SnapshotFunc: the full current state for a
// room, pushed to each client right after it subscribes.
func (s *Service) Snapshot(ctx context.Context, room string) (events.Type, any, error) {
	switch {
	case room == events.RoomPlayer:
		return events.TypeStatePlayer, s.coord.Status(), nil

	case room == events.RoomPlaylists:
		playlists, err := s.repo.ListPlaylists(ctx)
		if err != nil {
			return events.TypeStatePlaylists, nil, err
		}
		return events.TypeStatePlaylists, PlaylistsSnapshot{Playlists: playlists}, nil

	case room == events.RoomNFC:
		return events.TypeStateNFC, s.GetNFCStatus(), nil

	case strings.HasPrefix(room, "playlist:"):
		pl, err := s.repo.FindPlaylistByID(ctx, strings.TrimPrefix(room, "playlist:"))
		if err != nil {
			return events.TypeStatePlaylist, nil, err
		}
		return events.TypeStatePlaylist, pl, nil

	default:
		return events.TypeStatePlaylists, nil, nil
	}
}
