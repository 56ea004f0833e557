// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package broadcast

import (
	"time"

	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/metrics"
)

// outboxEntry is one envelope awaiting transmission to its target rooms.
// pending tracks the clients that have not yet accepted the envelope; an
// entry is done when pending is empty. Entries are owned by the delivery
// worker and never shared.
type outboxEntry struct {
	env         events.Envelope
	rooms       []string
	ephemeral   bool
	attempts    int
	nextAttempt time.Time

	// pending is nil until the first delivery attempt resolves the target
	// subscriber set. Resolution excludes clients whose room snapshot was
	// tagged at or after this envelope's server_seq.
	pending map[string]struct{}
}

func (h *Hub) enqueueOutbox(item intakeItem) {
	h.outbox = append(h.outbox, &outboxEntry{
		env:       item.env,
		rooms:     item.rooms,
		ephemeral: item.ephemeral,
	})
}

// deliverDue attempts transmission for every due entry, oldest first.
// Delivery per client is a non-blocking channel send; a full client buffer
// counts as a transport failure and the entry is retried with exponential
// backoff up to the configured budget. Ephemeral (position) envelopes get
// exactly one attempt: the next position event supersedes a lost one.
//
// A client with an undelivered earlier entry is head-of-line blocked for
// later entries, which preserves the strictly-increasing server_seq order
// on its connection.
func (h *Hub) deliverDue(now time.Time) {
	if len(h.outbox) == 0 {
		return
	}

	blocked := make(map[string]struct{})
	remaining := h.outbox[:0]
	for _, entry := range h.outbox {
		if entry.nextAttempt.After(now) {
			for clientID := range entry.pending {
				blocked[clientID] = struct{}{}
			}
			remaining = append(remaining, entry)
			continue
		}

		done := h.attemptDelivery(entry, blocked)
		if done || entry.ephemeral {
			continue
		}

		entry.attempts++
		if entry.attempts >= h.cfg.RetryAttempts {
			metrics.OutboxDropped.Inc()
			h.log.Warn().
				Str("event_type", string(entry.env.EventType)).
				Uint64("server_seq", entry.env.ServerSeq).
				Int("attempts", entry.attempts).
				Msg("dropping event after exhausting delivery retries")
			continue
		}
		metrics.OutboxRetries.Inc()
		backoff := h.cfg.RetryBackoff << (entry.attempts - 1)
		entry.nextAttempt = now.Add(backoff)
		for clientID := range entry.pending {
			blocked[clientID] = struct{}{}
		}
		remaining = append(remaining, entry)
	}
	h.outbox = remaining
}

// attemptDelivery sends the envelope to every pending target subscriber not
// blocked by an earlier undelivered entry. Returns true when nobody is left
// pending.
func (h *Hub) attemptDelivery(entry *outboxEntry, blocked map[string]struct{}) bool {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if entry.pending == nil {
		entry.pending = make(map[string]struct{})
		for _, room := range entry.rooms {
			for clientID, sub := range h.rooms[room] {
				// The client's snapshot for this room already covers the
				// envelope; delivering it would repeat the snapshot's seq.
				if entry.env.ServerSeq <= sub.rooms[room] {
					continue
				}
				entry.pending[clientID] = struct{}{}
			}
		}
	}

	for clientID := range entry.pending {
		sub, ok := h.subscribers[clientID]
		if !ok {
			// Client went away; nothing left to deliver to it.
			delete(entry.pending, clientID)
			continue
		}
		if _, isBlocked := blocked[clientID]; isBlocked {
			continue
		}
		select {
		case sub.send <- entry.env:
			delete(entry.pending, clientID)
		default:
			// Buffer full; keep pending for the next attempt.
		}
	}
	return len(entry.pending) == 0
}
