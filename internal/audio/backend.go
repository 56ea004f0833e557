// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package audio defines the audio backend contract the playback coordinator
// drives, and a mock implementation for tests and hardware-less operation.
//
// The core accepts exactly one backend implementation per process lifetime.
// Backends surface failures as typed errors, never as silent success.
package audio

import "errors"

// PositionUnknown is returned by Position and Duration when the backend
// cannot report a value for the currently loaded file.
const PositionUnknown int64 = -1

// Typed backend errors. The coordinator maps these onto its error taxonomy.
var (
	// ErrHardwareUnavailable indicates the audio device or output path failed.
	ErrHardwareUnavailable = errors.New("audio hardware unavailable")

	// ErrFileNotFound indicates the requested file path cannot be loaded.
	ErrFileNotFound = errors.New("audio file not found")

	// ErrDecodeError indicates the file was found but cannot be decoded.
	ErrDecodeError = errors.New("audio decode error")

	// ErrNotStarted indicates a playback call before Start or after Close.
	ErrNotStarted = errors.New("audio backend not started")
)

// TrackEndedFunc is invoked exactly once when the currently loaded file
// completes naturally (not due to Stop).
type TrackEndedFunc func()

// Backend is the playback capability the coordinator consumes. All calls are
// expected to be short-latency; implementations that may block must enforce
// their own internal timeouts.
//
// Backend methods are invoked only from the coordinator worker, so
// implementations need not be safe for concurrent mutation. The track-ended
// callback, however, fires from the backend's own completion path and must
// be registered before Start.
type Backend interface {
	// Start prepares the output device. One-shot; called once at process start.
	Start() error

	// Close releases the output device. Idempotent.
	Close() error

	// Play loads filePath and starts playback at startPositionMS.
	Play(filePath string, startPositionMS int64) error

	// Pause halts playback, keeping the current position.
	Pause() error

	// Resume continues playback from the paused position.
	Resume() error

	// Stop halts playback and unloads the file. Never fails; a stop of an
	// idle backend is a no-op.
	Stop()

	// Seek repositions within the currently loaded file.
	Seek(positionMS int64) error

	// Position reports the playback position in milliseconds, or
	// PositionUnknown.
	Position() int64

	// Duration reports the loaded file's duration in milliseconds, or
	// PositionUnknown.
	Duration() int64

	// SetVolume sets the output volume, 0..100.
	SetVolume(volume int) error

	// OnTrackEnded registers the natural-completion callback. Must be called
	// before Start; at most one callback is supported.
	OnTrackEnded(fn TrackEndedFunc)
}
