// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package audio

import (
	"sync"
	"time"
)

// MockBackend is an in-memory Backend for tests and for running the server
// without audio hardware. Playback position advances with wall-clock time
// while playing; tests can also trigger natural completion explicitly with
// CompleteTrack.
type MockBackend struct {
	mu sync.Mutex

	started  bool
	loaded   string
	playing  bool
	paused   bool
	volume   int
	duration int64

	// position bookkeeping: basePos is the position when playback last
	// (re)started, playingSince the wall-clock instant it did.
	basePos      int64
	playingSince time.Time

	onTrackEnded TrackEndedFunc

	// Fail* force the next matching call to return the given error.
	FailPlay   error
	FailResume error
	FailSeek   error
	FailVolume error

	// Calls records backend invocations in order, for test assertions.
	Calls []string
}

// NewMockBackend creates a mock backend with a default track duration of
// three minutes.
func NewMockBackend() *MockBackend {
	return &MockBackend{volume: 50, duration: 180_000}
}

// SetDuration overrides the duration reported for subsequently loaded files.
func (m *MockBackend) SetDuration(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = ms
}

// Start implements Backend.
func (m *MockBackend) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.Calls = append(m.Calls, "start")
	return nil
}

// Close implements Backend.
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.playing = false
	m.paused = false
	m.loaded = ""
	m.Calls = append(m.Calls, "close")
	return nil
}

// Play implements Backend.
func (m *MockBackend) Play(filePath string, startPositionMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrNotStarted
	}
	m.Calls = append(m.Calls, "play:"+filePath)
	if m.FailPlay != nil {
		err := m.FailPlay
		m.FailPlay = nil
		return err
	}
	m.loaded = filePath
	m.playing = true
	m.paused = false
	m.basePos = startPositionMS
	m.playingSince = time.Now()
	return nil
}

// Pause implements Backend.
func (m *MockBackend) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrNotStarted
	}
	m.Calls = append(m.Calls, "pause")
	if m.playing {
		m.basePos = m.positionLocked()
		m.playing = false
		m.paused = true
	}
	return nil
}

// Resume implements Backend.
func (m *MockBackend) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrNotStarted
	}
	m.Calls = append(m.Calls, "resume")
	if m.FailResume != nil {
		err := m.FailResume
		m.FailResume = nil
		return err
	}
	if m.paused {
		m.paused = false
		m.playing = true
		m.playingSince = time.Now()
	}
	return nil
}

// Stop implements Backend.
func (m *MockBackend) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "stop")
	m.playing = false
	m.paused = false
	m.loaded = ""
	m.basePos = 0
}

// Seek implements Backend.
func (m *MockBackend) Seek(positionMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrNotStarted
	}
	m.Calls = append(m.Calls, "seek")
	if m.FailSeek != nil {
		err := m.FailSeek
		m.FailSeek = nil
		return err
	}
	if m.loaded == "" {
		return ErrFileNotFound
	}
	m.basePos = positionMS
	m.playingSince = time.Now()
	return nil
}

// Position implements Backend.
func (m *MockBackend) Position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded == "" {
		return PositionUnknown
	}
	return m.positionLocked()
}

func (m *MockBackend) positionLocked() int64 {
	if !m.playing {
		return m.basePos
	}
	return m.basePos + time.Since(m.playingSince).Milliseconds()
}

// Duration implements Backend.
func (m *MockBackend) Duration() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded == "" {
		return PositionUnknown
	}
	return m.duration
}

// SetVolume implements Backend.
func (m *MockBackend) SetVolume(volume int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "volume")
	if m.FailVolume != nil {
		err := m.FailVolume
		m.FailVolume = nil
		return err
	}
	m.volume = volume
	return nil
}

// Volume returns the last volume set, for test assertions.
func (m *MockBackend) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Loaded returns the currently loaded file path, for test assertions.
func (m *MockBackend) Loaded() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// OnTrackEnded implements Backend.
func (m *MockBackend) OnTrackEnded(fn TrackEndedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrackEnded = fn
}

// CompleteTrack simulates the loaded file finishing naturally, invoking the
// registered callback from the caller's goroutine.
func (m *MockBackend) CompleteTrack() {
	m.mu.Lock()
	fn := m.onTrackEnded
	m.playing = false
	m.loaded = ""
	m.basePos = 0
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}
