// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tonbox/tonbox/internal/audio"
	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/models"
	"github.com/tonbox/tonbox/internal/repository"
)

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Publish(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *captureSink) count(t events.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (s *captureSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func seedRepo() *repository.Memory {
	repo := repository.NewMemory()
	repo.Put(&models.Playlist{
		ID:        "p1",
		Title:     "Morning Songs",
		NFCTagUID: "04a1b2c3",
		Tracks: []models.Track{
			{ID: "t1", TrackNumber: 1, Title: "One", FilePath: "/music/one.mp3", DurationMS: 180_000},
			{ID: "t2", TrackNumber: 2, Title: "Two", FilePath: "/music/two.mp3", DurationMS: 200_000},
		},
	})
	repo.Put(&models.Playlist{
		ID:    "p2",
		Title: "Empty",
	})
	return repo
}

func newTestCoordinator(t *testing.T, repo repository.Repository) (*Coordinator, *audio.MockBackend, *captureSink) {
	t.Helper()
	backend := audio.NewMockBackend()
	sink := &captureSink{}
	c := New(repo, backend, sink, Config{QueueSize: 16})
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, backend, sink
}

// waitStatus polls until cond holds or the deadline passes. Internal commands
// (track-ended) land asynchronously, so assertions on them need to wait.
func waitStatus(t *testing.T, c *Coordinator, cond func(models.PlayerStatus) bool) models.PlayerStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := c.Status()
		if cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached, last status: %+v", c.Status())
	return models.PlayerStatus{}
}

func TestPlayStartsPlaylist(t *testing.T) {
	c, backend, sink := newTestCoordinator(t, seedRepo())

	st, err := c.Play(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if st.State != models.StatePlaying || st.PlaylistID != "p1" || st.TrackIndex != 0 {
		t.Errorf("status = %+v, want Playing(p1, 0)", st)
	}
	if st.Track == nil || st.Track.ID != "t1" {
		t.Errorf("track = %+v, want t1", st.Track)
	}
	if backend.Loaded() != "/music/one.mp3" {
		t.Errorf("backend loaded %q, want /music/one.mp3", backend.Loaded())
	}

	want := []events.Type{events.TypePlayerStateChanged, events.TypePlaylistStarted, events.TypeTrackChanged}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestPlayUnknownPlaylist(t *testing.T) {
	c, _, sink := newTestCoordinator(t, seedRepo())

	_, err := c.Play(context.Background(), "missing", 0)
	if KindOf(err) != KindNotFound {
		t.Fatalf("error kind = %v, want not_found", KindOf(err))
	}
	if st := c.Status(); st.State != models.StateStopped {
		t.Errorf("state = %v after failed play, want stopped", st.State)
	}
	if n := len(sink.types()); n != 0 {
		t.Errorf("%d events after rejected play, want 0", n)
	}
}

func TestPlayEmptyPlaylist(t *testing.T) {
	c, _, _ := newTestCoordinator(t, seedRepo())
	_, err := c.Play(context.Background(), "p2", 0)
	if KindOf(err) != KindNotFound {
		t.Fatalf("error kind = %v, want not_found", KindOf(err))
	}
}

func TestPlayOutOfRangeTrack(t *testing.T) {
	c, backend, _ := newTestCoordinator(t, seedRepo())
	_, err := c.Play(context.Background(), "p1", 7)
	if KindOf(err) != KindOutOfRange {
		t.Fatalf("error kind = %v, want out_of_range", KindOf(err))
	}
	// Validation precedes side effects.
	if backend.Loaded() != "" {
		t.Errorf("backend loaded %q after rejected play", backend.Loaded())
	}
}

func TestPlayByNFC(t *testing.T) {
	c, _, _ := newTestCoordinator(t, seedRepo())

	st, err := c.PlayByNFC(context.Background(), "04a1b2c3")
	if err != nil {
		t.Fatalf("PlayByNFC: %v", err)
	}
	if st.State != models.StatePlaying || st.PlaylistID != "p1" || st.TrackIndex != 0 {
		t.Errorf("status = %+v, want Playing(p1, 0)", st)
	}
}

func TestPlayByNFCUnboundTag(t *testing.T) {
	c, _, _ := newTestCoordinator(t, seedRepo())
	_, err := c.PlayByNFC(context.Background(), "ffffffff")
	if KindOf(err) != KindNotAssociated {
		t.Fatalf("error kind = %v, want not_associated", KindOf(err))
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	c, _, sink := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	if _, err := c.Play(ctx, "p1", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.reset()

	st, err := c.Control(ctx, ActionPause)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if st.State != models.StatePaused {
		t.Errorf("state = %v, want paused", st.State)
	}

	st, err = c.Control(ctx, ActionResume)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st.State != models.StatePlaying || st.PlaylistID != "p1" {
		t.Errorf("status = %+v, want Playing(p1)", st)
	}
	if n := sink.count(events.TypePlayerStateChanged); n != 2 {
		t.Errorf("player_state_changed count = %d, want 2", n)
	}
}

func TestPauseWhenStoppedIsNoop(t *testing.T) {
	c, _, sink := newTestCoordinator(t, seedRepo())
	st, err := c.Control(context.Background(), ActionPause)
	if err != nil {
		t.Fatalf("pause on stopped: %v", err)
	}
	if st.State != models.StateStopped {
		t.Errorf("state = %v, want stopped", st.State)
	}
	if n := len(sink.types()); n != 0 {
		t.Errorf("%d events for no-op pause, want 0", n)
	}
}

func TestStopEmitsEndedThenState(t *testing.T) {
	c, _, sink := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	if _, err := c.Play(ctx, "p1", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.reset()

	st, err := c.Control(ctx, ActionStop)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st.State != models.StateStopped || st.PlaylistID != "" {
		t.Errorf("status = %+v, want Stopped", st)
	}

	got := sink.types()
	want := []events.Type{events.TypePlaylistEnded, events.TypePlayerStateChanged}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestTrackEndAdvances(t *testing.T) {
	c, backend, sink := newTestCoordinator(t, seedRepo())

	if _, err := c.Play(context.Background(), "p1", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.reset()

	backend.CompleteTrack()

	st := waitStatus(t, c, func(st models.PlayerStatus) bool {
		return st.State == models.StatePlaying && st.TrackIndex == 1
	})
	if st.Track == nil || st.Track.ID != "t2" {
		t.Errorf("track = %+v, want t2", st.Track)
	}
	if backend.Loaded() != "/music/two.mp3" {
		t.Errorf("backend loaded %q, want /music/two.mp3", backend.Loaded())
	}
	if n := sink.count(events.TypeTrackChanged); n != 1 {
		t.Errorf("track_changed count = %d, want 1", n)
	}
}

func TestTrackEndAtLastTrackStops(t *testing.T) {
	c, backend, sink := newTestCoordinator(t, seedRepo())

	if _, err := c.Play(context.Background(), "p1", 2); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.reset()

	backend.CompleteTrack()

	waitStatus(t, c, func(st models.PlayerStatus) bool {
		return st.State == models.StateStopped
	})
	if n := sink.count(events.TypePlaylistEnded); n != 1 {
		t.Errorf("playlist_ended count = %d, want 1", n)
	}
	if n := sink.count(events.TypeTrackChanged); n != 0 {
		t.Errorf("track_changed count = %d, want 0 (no wrap)", n)
	}
}

func TestNextPastEndStops(t *testing.T) {
	c, _, _ := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	if _, err := c.Play(ctx, "p1", 2); err != nil {
		t.Fatalf("Play: %v", err)
	}
	st, err := c.Control(ctx, ActionNext)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if st.State != models.StateStopped {
		t.Errorf("state = %v, want stopped", st.State)
	}
}

func TestNextWhenStoppedFails(t *testing.T) {
	c, _, _ := newTestCoordinator(t, seedRepo())
	_, err := c.Control(context.Background(), ActionNext)
	if KindOf(err) != KindNotFound {
		t.Fatalf("error kind = %v, want not_found", KindOf(err))
	}
}

// Two advance commands enqueued back-to-back on a two-track playlist: both
// execute in order; the second hits the end and stops.
func TestRaceNextAndTrackEnd(t *testing.T) {
	c, backend, _ := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	if _, err := c.Play(ctx, "p1", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	backend.CompleteTrack()
	if _, err := c.Control(ctx, ActionNext); err != nil {
		t.Fatalf("next: %v", err)
	}

	waitStatus(t, c, func(st models.PlayerStatus) bool {
		return st.State == models.StateStopped
	})
}

func TestSeekEmitsPosition(t *testing.T) {
	c, _, sink := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	if _, err := c.Play(ctx, "p1", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.reset()

	st, err := c.Seek(ctx, 42_000)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if st.PositionMS != 42_000 {
		t.Errorf("position = %d, want 42000", st.PositionMS)
	}
	if n := sink.count(events.TypePositionChanged); n != 1 {
		t.Errorf("position_changed count = %d, want 1", n)
	}
}

func TestSeekWhenStoppedFails(t *testing.T) {
	c, _, _ := newTestCoordinator(t, seedRepo())
	_, err := c.Seek(context.Background(), 1000)
	if KindOf(err) != KindNotFound {
		t.Fatalf("error kind = %v, want not_found", KindOf(err))
	}
}

func TestSetVolumeClamps(t *testing.T) {
	c, backend, sink := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	st, err := c.SetVolume(ctx, 150)
	if err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if st.Volume != 100 || backend.Volume() != 100 {
		t.Errorf("volume = %d/%d, want 100", st.Volume, backend.Volume())
	}

	st, err = c.SetVolume(ctx, -10)
	if err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if st.Volume != 0 {
		t.Errorf("volume = %d, want 0", st.Volume)
	}
	if n := sink.count(events.TypeVolumeChanged); n != 2 {
		t.Errorf("volume_changed count = %d, want 2", n)
	}
}

// A backend failure while switching playlists leaves the player stopped and
// reports both the end of the old playlist and the error.
func TestBackendFailureDuringSwitch(t *testing.T) {
	c, backend, sink := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	if _, err := c.Play(ctx, "p1", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	sink.reset()

	backend.FailPlay = audio.ErrDecodeError
	_, err := c.Play(ctx, "p1", 2)
	if KindOf(err) != KindHardwareUnavailable {
		t.Fatalf("error kind = %v, want hardware_unavailable", KindOf(err))
	}
	if st := c.Status(); st.State != models.StateStopped {
		t.Errorf("state = %v, want stopped", st.State)
	}
	if n := sink.count(events.TypePlaylistEnded); n != 1 {
		t.Errorf("playlist_ended count = %d, want 1", n)
	}
	if n := sink.count(events.TypePlayerError); n != 1 {
		t.Errorf("player_error count = %d, want 1", n)
	}
}

func TestRepositoryFailureSurfaces(t *testing.T) {
	repo := seedRepo()
	c, _, _ := newTestCoordinator(t, repo)

	repo.FailWith = errors.New("disk on fire")
	_, err := c.Play(context.Background(), "p1", 0)
	if KindOf(err) != KindRepositoryError {
		t.Fatalf("error kind = %v, want repository_error", KindOf(err))
	}
}

func TestCommandsBeforeStart(t *testing.T) {
	backend := audio.NewMockBackend()
	c := New(seedRepo(), backend, &captureSink{}, Config{})

	_, err := c.Play(context.Background(), "p1", 0)
	if KindOf(err) != KindBackendNotStarted {
		t.Fatalf("error kind = %v, want backend_not_started", KindOf(err))
	}
}

func TestCommandDeadline(t *testing.T) {
	c, _, _ := newTestCoordinator(t, seedRepo())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Play(ctx, "p1", 0)
	if KindOf(err) != KindTimeout {
		t.Fatalf("error kind = %v, want timeout", KindOf(err))
	}
}

func TestPositionTickEmitsThrottled(t *testing.T) {
	c, _, sink := newTestCoordinator(t, seedRepo())
	ctx := context.Background()

	if _, err := c.Play(ctx, "p1", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if _, err := c.Seek(ctx, 5_000); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	sink.reset()

	// A burst of ticks within the same second must not flood the stream.
	for i := 0; i < 20; i++ {
		c.Tick()
	}
	waitStatus(t, c, func(models.PlayerStatus) bool { return true })
	time.Sleep(50 * time.Millisecond)

	if n := sink.count(events.TypePositionChanged); n > 2 {
		t.Errorf("position_changed count = %d for one burst, want <= 2", n)
	}
}
