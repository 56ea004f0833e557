// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package player

import (
	"context"
	"time"
)

// PositionTicker periodically asks the coordinator to sample the backend
// position. The sample itself runs on the coordinator worker (as a queued
// tick command), so the ticker never touches the backend directly.
type PositionTicker struct {
	coordinator *Coordinator
	interval    time.Duration
}

// NewPositionTicker creates a ticker. Interval defaults to 200ms (5 Hz)
// and is clamped into the 50ms..200ms band (20 Hz..5 Hz).
func NewPositionTicker(c *Coordinator, interval time.Duration) *PositionTicker {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	if interval > 200*time.Millisecond {
		interval = 200 * time.Millisecond
	}
	return &PositionTicker{coordinator: c, interval: interval}
}

// Serve implements suture.Service.
func (t *PositionTicker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.coordinator.Tick()
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (t *PositionTicker) String() string {
	return "position-ticker"
}
