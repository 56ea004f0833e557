// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/tonbox/tonbox/internal/models"
)

func seed(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.Put(&models.Playlist{
		ID:        "p1",
		Title:     "B Side",
		NFCTagUID: "04a1b2c3",
		Tracks:    []models.Track{{ID: "t1", TrackNumber: 1, FilePath: "/music/one.mp3"}},
	})
	m.Put(&models.Playlist{ID: "p2", Title: "A Side"})
	return m
}

func TestMemoryFindByID(t *testing.T) {
	m := seed(t)
	ctx := context.Background()

	pl, err := m.FindPlaylistByID(ctx, "p1")
	if err != nil {
		t.Fatalf("FindPlaylistByID: %v", err)
	}
	if pl.Title != "B Side" || len(pl.Tracks) != 1 {
		t.Errorf("playlist = %+v", pl)
	}

	if _, err := m.FindPlaylistByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}
}

func TestMemoryFindByNFC(t *testing.T) {
	m := seed(t)
	ctx := context.Background()

	pl, err := m.FindPlaylistByNFC(ctx, "04a1b2c3")
	if err != nil {
		t.Fatalf("FindPlaylistByNFC: %v", err)
	}
	if pl.ID != "p1" {
		t.Errorf("playlist = %s, want p1", pl.ID)
	}

	if _, err := m.FindPlaylistByNFC(ctx, "ffffffff"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unbound uid error = %v, want ErrNotFound", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := seed(t)
	ctx := context.Background()

	pl, _ := m.FindPlaylistByID(ctx, "p1")
	pl.Title = "mutated"
	pl.Tracks[0].FilePath = "/elsewhere"

	again, _ := m.FindPlaylistByID(ctx, "p1")
	if again.Title != "B Side" || again.Tracks[0].FilePath != "/music/one.mp3" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestMemoryListSortedByTitle(t *testing.T) {
	m := seed(t)
	out, err := m.ListPlaylists(context.Background())
	if err != nil {
		t.Fatalf("ListPlaylists: %v", err)
	}
	if len(out) != 2 || out[0].ID != "p2" || out[1].ID != "p1" {
		t.Errorf("order = %v, want [p2 p1]", out)
	}
	if out[1].Tracks != nil {
		t.Error("list includes tracks, want index only")
	}
}

func TestMemoryUpdateNFC(t *testing.T) {
	ctx := context.Background()

	t.Run("bind", func(t *testing.T) {
		m := seed(t)
		if err := m.UpdatePlaylistNFC(ctx, "p2", "deadbeef12"); err != nil {
			t.Fatalf("bind: %v", err)
		}
		pl, _ := m.FindPlaylistByNFC(ctx, "deadbeef12")
		if pl.ID != "p2" {
			t.Errorf("bound to %s, want p2", pl.ID)
		}
	})

	t.Run("conflict", func(t *testing.T) {
		m := seed(t)
		err := m.UpdatePlaylistNFC(ctx, "p2", "04a1b2c3")
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("error = %v, want ConflictError", err)
		}
		if conflict.PlaylistID != "p1" {
			t.Errorf("conflict owner = %s, want p1", conflict.PlaylistID)
		}
	})

	t.Run("rebind same playlist", func(t *testing.T) {
		m := seed(t)
		if err := m.UpdatePlaylistNFC(ctx, "p1", "04a1b2c3"); err != nil {
			t.Errorf("rebinding own uid: %v", err)
		}
	})

	t.Run("clear", func(t *testing.T) {
		m := seed(t)
		if err := m.UpdatePlaylistNFC(ctx, "p1", ""); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if _, err := m.FindPlaylistByNFC(ctx, "04a1b2c3"); !errors.Is(err, ErrNotFound) {
			t.Error("uid still bound after clear")
		}
	})

	t.Run("unknown playlist", func(t *testing.T) {
		m := seed(t)
		if err := m.UpdatePlaylistNFC(ctx, "nope", "deadbeef12"); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}
