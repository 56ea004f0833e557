// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package nfc implements the tag association service and the hardware
// input interfaces (NFC reader, GPIO buttons) the core consumes.
package nfc

import "sync"

// TagDetectedFunc is invoked by the reader driver with the scanned tag UID,
// a lowercase hex string of at least 8 characters.
type TagDetectedFunc func(uid string)

// TagReader abstracts the NFC reader hardware. Drivers invoke the
// registered callbacks from their own goroutine; callbacks must not block.
type TagReader interface {
	// Start powers up the reader and begins scanning.
	Start() error

	// Close releases the hardware.
	Close() error

	// OnTagDetected registers the scan callback. Register before Start.
	OnTagDetected(fn TagDetectedFunc)

	// OnTagRemoved registers the removal callback. The core ignores
	// removals; the hook exists for drivers that report them.
	OnTagRemoved(fn func())

	// Available reports whether the hardware is usable.
	Available() bool
}

// Button identifies a physical control on the appliance.
type Button string

// Physical buttons. Each maps to exactly one coordinator command.
const (
	ButtonPlayPause  Button = "play_pause"
	ButtonNext       Button = "next"
	ButtonPrevious   Button = "previous"
	ButtonVolumeUp   Button = "volume_up"
	ButtonVolumeDown Button = "volume_down"
)

// ButtonInput abstracts the GPIO button driver.
type ButtonInput interface {
	OnButton(fn func(Button))
}

// MockReader is an in-process TagReader for tests and hardware-less runs.
// Detect and Remove simulate physical scans.
type MockReader struct {
	mu          sync.Mutex
	started     bool
	unavailable bool
	onDetected  TagDetectedFunc
	onRemoved   func()

	// FailStart, when set, makes Start return that error.
	FailStart error
}

// NewMockReader creates a reader that reports itself available.
func NewMockReader() *MockReader {
	return &MockReader{}
}

// Start implements TagReader.
func (m *MockReader) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailStart != nil {
		m.unavailable = true
		return m.FailStart
	}
	m.started = true
	return nil
}

// Close implements TagReader.
func (m *MockReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

// OnTagDetected implements TagReader.
func (m *MockReader) OnTagDetected(fn TagDetectedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetected = fn
}

// OnTagRemoved implements TagReader.
func (m *MockReader) OnTagRemoved(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRemoved = fn
}

// Available implements TagReader.
func (m *MockReader) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable
}

// Detect simulates a physical tag scan.
func (m *MockReader) Detect(uid string) {
	m.mu.Lock()
	fn := m.onDetected
	m.mu.Unlock()
	if fn != nil {
		fn(uid)
	}
}

// Remove simulates the tag leaving the reader field.
func (m *MockReader) Remove() {
	m.mu.Lock()
	fn := m.onRemoved
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MockButtons is an in-process ButtonInput for tests.
type MockButtons struct {
	mu       sync.Mutex
	onButton func(Button)
}

// NewMockButtons creates an idle button input.
func NewMockButtons() *MockButtons {
	return &MockButtons{}
}

// OnButton implements ButtonInput.
func (m *MockButtons) OnButton(fn func(Button)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onButton = fn
}

// Press simulates a physical button press.
func (m *MockButtons) Press(b Button) {
	m.mu.Lock()
	fn := m.onButton
	m.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}
