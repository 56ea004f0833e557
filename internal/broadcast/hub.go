// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package broadcast implements the hub that turns domain events into a
// sequence-numbered, room-scoped stream for connected clients.
//
// The hub owns the sequence counters, the subscription map, the idempotency
// cache, and the outbox. server_seq is strictly increasing in publication
// order within one process lifetime; per-playlist playlist_seq likewise.
// Neither is persisted: a restart resets the stream and clients resubscribe
// for fresh snapshots.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/logging"
	"github.com/tonbox/tonbox/internal/metrics"
)

// SnapshotFunc produces the full current state for a room, sent to a client
// immediately after it subscribes. Returning an error yields a snapshot with
// an empty payload; the subscription stands either way.
type SnapshotFunc func(ctx context.Context, room string) (events.Type, any, error)

// Config tunes the hub.
type Config struct {
	// IntakeSize bounds the publish queue. On overflow the oldest queued
	// envelope is evicted so the publisher never blocks. Default: 256
	IntakeSize int

	// SendBuffer is the per-client channel depth. Default: 256
	SendBuffer int

	// HistorySize is the number of recent envelopes retained for gap
	// reconciliation. Default: 256
	HistorySize int

	// RetryAttempts bounds outbox delivery retries per entry. Default: 5
	RetryAttempts int

	// RetryBackoff is the initial retry delay, doubled per attempt.
	// Default: 100ms
	RetryBackoff time.Duration

	// IdempotencyTTL bounds how long cached command results are replayed.
	// Default: 10m
	IdempotencyTTL time.Duration

	// IdempotencyCapacity bounds the idempotency cache. Default: 4096
	IdempotencyCapacity int
}

func (c *Config) applyDefaults() {
	if c.IntakeSize <= 0 {
		c.IntakeSize = 256
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 256
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 10 * time.Minute
	}
	if c.IdempotencyCapacity <= 0 {
		c.IdempotencyCapacity = 4096
	}
}

type intakeItem struct {
	env       events.Envelope
	rooms     []string
	ephemeral bool
}

// subscriber is one connected client: a single delivery channel shared by
// all of its room subscriptions.
type subscriber struct {
	clientID string
	send     chan events.Envelope

	// rooms maps each subscribed room to the server_seq its snapshot was
	// tagged with. Only envelopes sequenced after the snapshot are delivered
	// for that room; everything at or below it is already in the snapshot.
	rooms map[string]uint64
}

// Hub fans domain events out to subscribed clients. Construct with NewHub,
// run the delivery worker via RunWithContext under supervision.
type Hub struct {
	cfg Config
	log zerolog.Logger

	// pubMu serializes sequence assignment with intake enqueue so per-client
	// delivery order equals server_seq order.
	pubMu       sync.Mutex
	serverSeq   uint64
	playlistSeq map[string]uint64
	history     []events.Envelope
	intake      chan intakeItem

	// subMu guards subscribers and rooms. Sends to subscriber channels
	// happen under this lock, so Disconnect can close channels safely.
	subMu       sync.Mutex
	subscribers map[string]*subscriber
	rooms       map[string]map[string]*subscriber

	snapshot SnapshotFunc
	idem     *IdempotencyCache

	// outbox is touched only by the delivery worker.
	outbox []*outboxEntry
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	cfg.applyDefaults()
	return &Hub{
		cfg:         cfg,
		log:         logging.With().Str("component", "broadcast").Logger(),
		playlistSeq: make(map[string]uint64),
		intake:      make(chan intakeItem, cfg.IntakeSize),
		subscribers: make(map[string]*subscriber),
		rooms:       make(map[string]map[string]*subscriber),
		idem:        NewIdempotencyCache(cfg.IdempotencyCapacity, cfg.IdempotencyTTL),
	}
}

// SetSnapshotProvider installs the room snapshot source. Must be called
// before the first Subscribe.
func (h *Hub) SetSnapshotProvider(fn SnapshotFunc) {
	h.snapshot = fn
}

// Idempotency returns the hub-owned idempotency cache.
func (h *Hub) Idempotency() *IdempotencyCache {
	return h.idem
}

// Publish accepts a domain event, assigns its sequence numbers, and queues
// it for delivery. Publish never blocks: on intake overflow the oldest
// queued envelope is evicted and the gap becomes visible to clients as a
// server_seq jump.
func (h *Hub) Publish(ev events.Event) {
	env := events.NewEnvelope(ev)

	h.pubMu.Lock()
	h.serverSeq++
	env.ServerSeq = h.serverSeq
	if ev.PlaylistID != "" {
		h.playlistSeq[ev.PlaylistID]++
		env.PlaylistSeq = h.playlistSeq[ev.PlaylistID]
	}
	h.appendHistory(env)

	item := intakeItem{env: env, rooms: ev.Rooms, ephemeral: ev.Ephemeral}
	for {
		select {
		case h.intake <- item:
			h.pubMu.Unlock()
			metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
			return
		default:
		}
		// Intake full: evict the oldest queued item to make room.
		select {
		case dropped := <-h.intake:
			metrics.EventsDropped.Inc()
			if !dropped.ephemeral {
				h.log.Warn().
					Str("event_type", string(dropped.env.EventType)).
					Uint64("server_seq", dropped.env.ServerSeq).
					Msg("intake overflow, dropping oldest event")
			}
		default:
		}
	}
}

// CurrentSeq returns the last assigned server_seq.
func (h *Hub) CurrentSeq() uint64 {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	return h.serverSeq
}

func (h *Hub) appendHistory(env events.Envelope) {
	h.history = append(h.history, env)
	if len(h.history) > h.cfg.HistorySize {
		h.history = h.history[len(h.history)-h.cfg.HistorySize:]
	}
}

// History returns retained envelopes with server_seq greater than sinceSeq,
// oldest first. Clients use it to reconcile small gaps without a fresh
// snapshot.
func (h *Hub) History(sinceSeq uint64) []events.Envelope {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	var out []events.Envelope
	for _, env := range h.history {
		if env.ServerSeq > sinceSeq {
			out = append(out, env)
		}
	}
	return out
}

// Subscribe registers (clientID, room) and returns the client's delivery
// channel. The first event on the channel for this room is its snapshot,
// tagged with the current server_seq; every subsequent event carries a
// higher one. Subscribing the same client to more rooms reuses the channel.
func (h *Hub) Subscribe(ctx context.Context, clientID, room string) <-chan events.Envelope {
	// Fetch the snapshot before recording the subscription so no
	// incremental event can precede it on the channel.
	snapType, payload := h.fetchSnapshot(ctx, room)

	env := events.NewEnvelope(events.Event{Type: snapType, Data: payload})
	env.ServerSeq = h.CurrentSeq()

	h.subMu.Lock()
	defer h.subMu.Unlock()

	sub, ok := h.subscribers[clientID]
	if !ok {
		sub = &subscriber{
			clientID: clientID,
			send:     make(chan events.Envelope, h.cfg.SendBuffer),
			rooms:    make(map[string]uint64),
		}
		h.subscribers[clientID] = sub
	}
	if _, already := sub.rooms[room]; !already {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[string]*subscriber)
		}
		h.rooms[room][clientID] = sub
		metrics.Subscribers.Inc()
	}
	// A resubscribe refreshes the snapshot, so the watermark moves with it.
	sub.rooms[room] = env.ServerSeq

	select {
	case sub.send <- env:
	default:
		h.log.Warn().Str("client_id", clientID).Str("room", room).Msg("send buffer full, snapshot dropped")
	}

	h.log.Debug().Str("client_id", clientID).Str("room", room).Msg("client subscribed")
	return sub.send
}

func (h *Hub) fetchSnapshot(ctx context.Context, room string) (events.Type, any) {
	snapType := snapshotType(room)
	if h.snapshot == nil {
		return snapType, nil
	}
	t, payload, err := h.snapshot(ctx, room)
	if err != nil {
		// The subscription stands; the client starts from an empty state and
		// catches up from incremental events.
		h.log.Warn().Err(err).Str("room", room).Msg("snapshot fetch failed, sending empty payload")
		return snapType, nil
	}
	return t, payload
}

func snapshotType(room string) events.Type {
	switch {
	case room == events.RoomPlayer:
		return events.TypeStatePlayer
	case room == events.RoomPlaylists:
		return events.TypeStatePlaylists
	case room == events.RoomNFC:
		return events.TypeStateNFC
	case len(room) > len("playlist:") && room[:len("playlist:")] == "playlist:":
		return events.TypeStatePlaylist
	default:
		return events.TypeStatePlaylists
	}
}

// Unsubscribe removes one (clientID, room) pairing.
func (h *Hub) Unsubscribe(clientID, room string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	sub, ok := h.subscribers[clientID]
	if !ok {
		return
	}
	if _, subscribed := sub.rooms[room]; subscribed {
		delete(sub.rooms, room)
		delete(h.rooms[room], clientID)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
		metrics.Subscribers.Dec()
	}
}

// Disconnect removes all pairings for the client and closes its channel.
func (h *Hub) Disconnect(clientID string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	sub, ok := h.subscribers[clientID]
	if !ok {
		return
	}
	for room := range sub.rooms {
		delete(h.rooms[room], clientID)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
		metrics.Subscribers.Dec()
	}
	delete(h.subscribers, clientID)
	close(sub.send)
	h.log.Debug().Str("client_id", clientID).Msg("client disconnected")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	return len(h.subscribers)
}

// RunWithContext runs the delivery worker until the context is canceled.
// Designed for suture supervision. On cancellation the outbox is drained
// with a bounded wait before clients are closed.
func (h *Hub) RunWithContext(ctx context.Context) error {
	// The sweep ticker paces outbox retries between intake bursts.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.drainOnShutdown()
			h.closeAll()
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.drainOnShutdown()
			h.closeAll()
			return ctx.Err()
		case item := <-h.intake:
			h.enqueueOutbox(item)
			h.deliverDue(time.Now())
		case now := <-ticker.C:
			h.deliverDue(now)
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (h *Hub) String() string {
	return "broadcast-hub"
}

// drainOnShutdown gives queued events one final delivery pass, bounded so
// shutdown cannot hang on a slow client.
func (h *Hub) drainOnShutdown() {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case item := <-h.intake:
			h.enqueueOutbox(item)
		default:
			h.deliverDue(time.Now().Add(time.Hour)) // force all entries due
			if len(h.outbox) == 0 {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	if n := len(h.outbox); n > 0 {
		h.log.Warn().Int("undelivered", n).Msg("shutdown with undelivered events")
	}
}

func (h *Hub) closeAll() {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for id, sub := range h.subscribers {
		for room := range sub.rooms {
			delete(h.rooms[room], id)
			metrics.Subscribers.Dec()
		}
		close(sub.send)
		delete(h.subscribers, id)
	}
	h.log.Info().Msg("broadcast hub stopped")
}
