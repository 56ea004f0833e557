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

func TestBreakerPassesThrough(t *testing.T) {
	inner := NewMemory()
	inner.Put(&models.Playlist{ID: "p1", Title: "One", Tracks: []models.Track{{ID: "t1", TrackNumber: 1}}})
	w := NewWithBreaker(inner, BreakerConfig{})

	pl, err := w.FindPlaylistByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FindPlaylistByID: %v", err)
	}
	if pl.ID != "p1" {
		t.Errorf("playlist = %s, want p1", pl.ID)
	}
	if got := w.State(); got != "closed" {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestBreakerIgnoresDomainErrors(t *testing.T) {
	inner := NewMemory()
	inner.Put(&models.Playlist{ID: "p1", NFCTagUID: "04a1b2c3"})
	w := NewWithBreaker(inner, BreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	// Lookup misses and binding conflicts are answers, not failures.
	for i := 0; i < 10; i++ {
		if _, err := w.FindPlaylistByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	}
	inner.Put(&models.Playlist{ID: "p2"})
	var conflict *ConflictError
	if err := w.UpdatePlaylistNFC(ctx, "p2", "04a1b2c3"); !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want ConflictError", err)
	}

	if got := w.State(); got != "closed" {
		t.Errorf("state = %s after domain errors, want closed", got)
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	inner := NewMemory()
	inner.FailWith = errors.New("io error")
	w := NewWithBreaker(inner, BreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := w.FindPlaylistByID(ctx, "p1"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if got := w.State(); got != "open" {
		t.Fatalf("state = %s after threshold, want open", got)
	}

	// Open breaker sheds load without touching the store.
	inner.FailWith = nil
	if _, err := w.FindPlaylistByID(ctx, "p1"); err == nil {
		t.Fatal("open breaker let a call through")
	}
}
