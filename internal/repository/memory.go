// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/tonbox/tonbox/internal/models"
)

// Memory is an in-memory Repository used in tests and as a seedable fixture
// store. Mutations are guarded by a single mutex, which also makes
// UpdatePlaylistNFC atomic.
type Memory struct {
	mu        sync.RWMutex
	playlists map[string]*models.Playlist

	// FailWith, when set, makes every call return that error. Used to test
	// repository-failure paths.
	FailWith error
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{playlists: make(map[string]*models.Playlist)}
}

// Put inserts or replaces a playlist.
func (m *Memory) Put(p *models.Playlist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Tracks = append([]models.Track(nil), p.Tracks...)
	m.playlists[p.ID] = &cp
}

// FindPlaylistByID implements Repository.
func (m *Memory) FindPlaylistByID(_ context.Context, id string) (*models.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	p, ok := m.playlists[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

// FindPlaylistByNFC implements Repository.
func (m *Memory) FindPlaylistByNFC(_ context.Context, uid string) (*models.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	for _, p := range m.playlists {
		if p.NFCTagUID != "" && p.NFCTagUID == uid {
			return clone(p), nil
		}
	}
	return nil, ErrNotFound
}

// ListPlaylists implements Repository.
func (m *Memory) ListPlaylists(_ context.Context) ([]models.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	out := make([]models.Playlist, 0, len(m.playlists))
	for _, p := range m.playlists {
		cp := *p
		cp.Tracks = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// UpdatePlaylistNFC implements Repository.
func (m *Memory) UpdatePlaylistNFC(_ context.Context, playlistID, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	target, ok := m.playlists[playlistID]
	if !ok {
		return ErrNotFound
	}
	if uid != "" {
		for _, p := range m.playlists {
			if p.ID != playlistID && p.NFCTagUID == uid {
				return &ConflictError{TagUID: uid, PlaylistID: p.ID}
			}
		}
	}
	target.NFCTagUID = uid
	return nil
}

func clone(p *models.Playlist) *models.Playlist {
	cp := *p
	cp.Tracks = append([]models.Track(nil), p.Tracks...)
	return &cp
}
