// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package metrics provides Prometheus instrumentation for the playback
// core: command throughput, event fan-out, outbox behavior, subscriptions,
// and NFC association sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts coordinator commands by kind and outcome
	// ("ok" or an error kind).
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tonbox_commands_total",
			Help: "Total coordinator commands processed",
		},
		[]string{"command", "outcome"},
	)

	// EventsPublished counts events accepted by the broadcast hub.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tonbox_events_published_total",
			Help: "Total events published to the broadcast hub",
		},
		[]string{"event_type"},
	)

	// EventsDropped counts events evicted from the hub intake queue on
	// overflow. Clients observe these as server_seq gaps.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tonbox_events_dropped_total",
			Help: "Total events dropped due to hub intake overflow",
		},
	)

	// OutboxRetries counts delivery retries across all outbox entries.
	OutboxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tonbox_outbox_retries_total",
			Help: "Total outbox delivery retries",
		},
	)

	// OutboxDropped counts envelopes dropped after the retry budget.
	OutboxDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tonbox_outbox_dropped_total",
			Help: "Total envelopes dropped after exhausting delivery retries",
		},
	)

	// Subscribers tracks current (client, room) subscriptions.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tonbox_subscriptions",
			Help: "Current number of room subscriptions",
		},
	)

	// NFCSessions tracks association sessions currently in Listening state.
	NFCSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tonbox_nfc_listening_sessions",
			Help: "Association sessions currently listening for a tag",
		},
	)

	// IdempotencyHits counts commands answered from the idempotency cache.
	IdempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tonbox_idempotency_hits_total",
			Help: "Commands short-circuited by the idempotency cache",
		},
	)
)
