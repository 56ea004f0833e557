// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

// Package player implements the playback coordinator: the single writer to
// the playback state and the audio backend.
//
// All external inputs (HTTP commands, NFC scans, GPIO buttons, backend
// completion callbacks, the position ticker) are funneled through one
// bounded command queue and processed sequentially by one worker goroutine.
// This single-worker discipline is the central serialization point of the
// core: the playlist manager and the audio backend are touched from the
// worker only, so neither needs internal locking.
package player

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tonbox/tonbox/internal/audio"
	"github.com/tonbox/tonbox/internal/events"
	"github.com/tonbox/tonbox/internal/logging"
	"github.com/tonbox/tonbox/internal/metrics"
	"github.com/tonbox/tonbox/internal/models"
	"github.com/tonbox/tonbox/internal/playlist"
	"github.com/tonbox/tonbox/internal/repository"
)

// EventSink receives domain events for fan-out. Publish must not block; the
// broadcast hub satisfies this with a bounded intake queue.
type EventSink interface {
	Publish(ev events.Event)
}

// Config tunes the coordinator.
type Config struct {
	// QueueSize bounds the command queue. A full queue fails commands with
	// queue_overflow. Default: 64
	QueueSize int

	// InitialVolume is the volume pushed to the backend at Start. Default: 50
	InitialVolume int
}

// Coordinator owns the playback state machine. Construct with New, call
// Start once, then run the worker under supervision via RunWithContext.
type Coordinator struct {
	cfg     Config
	repo    repository.Repository
	backend audio.Backend
	manager *playlist.Manager
	sink    EventSink
	queue   chan *command
	log     zerolog.Logger

	// started flips once on Start; stopped flips once at shutdown. Commands
	// are refused unless started && !stopped, which catches wiring bugs where
	// commands would silently run against an unstarted engine.
	started atomic.Bool
	stopped atomic.Bool

	// status is written by the worker only; the mutex makes Status() a cheap
	// consistent read from any goroutine.
	statusMu sync.RWMutex
	status   models.PlayerStatus

	// position_changed throttle: at most one per 500ms, and only when the
	// integer second changed.
	posLimiter *rate.Limiter
	lastSecond int64
}

// New creates a coordinator. The backend's track-ended callback is
// registered here, before Start.
func New(repo repository.Repository, backend audio.Backend, sink EventSink, cfg Config) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.InitialVolume <= 0 {
		cfg.InitialVolume = 50
	}

	c := &Coordinator{
		cfg:        cfg,
		repo:       repo,
		backend:    backend,
		manager:    playlist.NewManager(),
		sink:       sink,
		queue:      make(chan *command, cfg.QueueSize),
		log:        logging.With().Str("component", "player").Logger(),
		status:     models.PlayerStatus{State: models.StateStopped, Volume: cfg.InitialVolume},
		posLimiter: rate.NewLimiter(rate.Every(positionEmitMinInterval), 1),
		lastSecond: -1,
	}
	backend.OnTrackEnded(c.handleTrackEnded)
	return c
}

// Start prepares the audio backend. One-shot: a second call fails.
func (c *Coordinator) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return E(KindInternal, "coordinator already started")
	}
	if err := c.backend.Start(); err != nil {
		c.started.Store(false)
		return Wrap(KindHardwareUnavailable, "start audio backend", err)
	}
	if err := c.backend.SetVolume(c.cfg.InitialVolume); err != nil {
		c.log.Warn().Err(err).Msg("could not set initial volume")
	}
	c.log.Info().Int("queue_size", c.cfg.QueueSize).Msg("coordinator started")
	return nil
}

// Ready reports whether state-changing commands are accepted.
func (c *Coordinator) Ready() bool {
	return c.started.Load() && !c.stopped.Load()
}

// RunWithContext runs the command worker until the context is canceled.
// Designed for suture supervision. On cancellation the coordinator stops
// accepting commands, fails the ones still queued, and closes the backend.
func (c *Coordinator) RunWithContext(ctx context.Context) error {
	for {
		// Check for shutdown first so a saturated queue cannot starve it.
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case cmd := <-c.queue:
			c.dispatch(cmd)
		}
	}
}

// shutdown is phase two of the cooperative stop: refuse new commands, fail
// queued ones, silence the backend.
func (c *Coordinator) shutdown() {
	c.stopped.Store(true)
	for {
		select {
		case cmd := <-c.queue:
			if cmd.reply != nil {
				cmd.reply <- result{status: c.Status(), err: E(KindTimeout, "coordinator shutting down")}
			}
		default:
			c.backend.Stop()
			if err := c.backend.Close(); err != nil {
				c.log.Warn().Err(err).Msg("closing audio backend")
			}
			c.log.Info().Msg("coordinator stopped")
			return
		}
	}
}

// String implements fmt.Stringer for supervision logs.
func (c *Coordinator) String() string {
	return "playback-coordinator"
}

// Status returns a snapshot of current playback.
func (c *Coordinator) Status() models.PlayerStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Coordinator) setStatus(s models.PlayerStatus) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Play loads a playlist and starts playback. trackNumber is 1-based; zero
// means the first track.
func (c *Coordinator) Play(ctx context.Context, playlistID string, trackNumber int) (models.PlayerStatus, error) {
	return c.submit(ctx, &command{kind: cmdPlay, playlistID: playlistID, trackNumber: trackNumber})
}

// PlayByNFC resolves the playlist bound to the tag UID and plays it from the
// first track.
func (c *Coordinator) PlayByNFC(ctx context.Context, uid string) (models.PlayerStatus, error) {
	return c.submit(ctx, &command{kind: cmdPlayByNFC, tagUID: uid})
}

// Control executes a transport-control action.
func (c *Coordinator) Control(ctx context.Context, action ControlAction) (models.PlayerStatus, error) {
	var kind commandKind
	switch action {
	case ActionPause:
		kind = cmdPause
	case ActionResume:
		kind = cmdResume
	case ActionStop:
		kind = cmdStop
	case ActionNext:
		kind = cmdNext
	case ActionPrevious:
		kind = cmdPrevious
	default:
		return c.Status(), E(KindOutOfRange, "unknown control action "+string(action))
	}
	return c.submit(ctx, &command{kind: kind})
}

// Seek repositions within the current track.
func (c *Coordinator) Seek(ctx context.Context, positionMS int64) (models.PlayerStatus, error) {
	return c.submit(ctx, &command{kind: cmdSeek, positionMS: positionMS})
}

// SetVolume sets the output volume (0..100).
func (c *Coordinator) SetVolume(ctx context.Context, volume int) (models.PlayerStatus, error) {
	return c.submit(ctx, &command{kind: cmdSetVolume, volume: volume})
}

// Tick is called by the position ticker. Fire-and-forget.
func (c *Coordinator) Tick() {
	c.enqueueInternal(&command{kind: cmdTick})
}

// handleTrackEnded adapts the backend completion callback into a queue send.
// It must not block the backend's goroutine.
func (c *Coordinator) handleTrackEnded() {
	c.enqueueInternal(&command{kind: cmdTrackEnded})
}

func (c *Coordinator) enqueueInternal(cmd *command) {
	if !c.Ready() {
		return
	}
	cmd.ctx = context.Background()
	select {
	case c.queue <- cmd:
	default:
		if cmd.kind != cmdTick {
			c.log.Warn().Str("command", cmd.kind.String()).Msg("command queue full, dropping internal command")
		}
	}
}

// submit enqueues a command and waits for its result or the caller deadline.
// A full queue fails immediately with queue_overflow; expiry returns timeout
// without attempting to undo partial effects.
func (c *Coordinator) submit(ctx context.Context, cmd *command) (models.PlayerStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.Ready() {
		return c.Status(), E(KindBackendNotStarted, "coordinator not started")
	}
	cmd.ctx = ctx
	cmd.reply = make(chan result, 1)

	select {
	case c.queue <- cmd:
	default:
		metrics.CommandsTotal.WithLabelValues(cmd.kind.String(), "queue_overflow").Inc()
		return c.Status(), E(KindQueueOverflow, "command queue full")
	}

	select {
	case res := <-cmd.reply:
		return res.status, res.err
	case <-ctx.Done():
		return c.Status(), Wrap(KindTimeout, "command "+cmd.kind.String(), ctx.Err())
	}
}

func (c *Coordinator) dispatch(cmd *command) {
	// A command whose caller already gave up is not executed; partial
	// effects on the backend are never rolled back, so not starting is the
	// only safe expiry behavior.
	if cmd.ctx != nil && cmd.ctx.Err() != nil {
		if cmd.reply != nil {
			cmd.reply <- result{status: c.Status(), err: Wrap(KindTimeout, "command "+cmd.kind.String(), cmd.ctx.Err())}
		}
		return
	}

	res := c.handle(cmd)

	outcome := "ok"
	if res.err != nil {
		outcome = string(KindOf(res.err))
	}
	if cmd.kind != cmdTick {
		metrics.CommandsTotal.WithLabelValues(cmd.kind.String(), outcome).Inc()
	}

	if cmd.reply != nil {
		cmd.reply <- res
	}
}

func (c *Coordinator) handle(cmd *command) result {
	switch cmd.kind {
	case cmdPlay:
		return c.handlePlay(cmd.ctx, cmd.playlistID, cmd.trackNumber)
	case cmdPlayByNFC:
		return c.handlePlayByNFC(cmd.ctx, cmd.tagUID)
	case cmdPause:
		return c.handlePause()
	case cmdResume:
		return c.handleResume()
	case cmdStop:
		return c.handleStop()
	case cmdNext:
		return c.step(+1, false)
	case cmdPrevious:
		return c.step(-1, false)
	case cmdTrackEnded:
		return c.step(+1, true)
	case cmdSeek:
		return c.handleSeek(cmd.positionMS)
	case cmdSetVolume:
		return c.handleSetVolume(cmd.volume)
	case cmdTick:
		return c.handleTick()
	default:
		return result{status: c.Status(), err: E(KindInternal, "unknown command")}
	}
}

func (c *Coordinator) handlePlay(ctx context.Context, playlistID string, trackNumber int) result {
	pl, err := c.repo.FindPlaylistByID(ctx, playlistID)
	if err != nil {
		return result{status: c.Status(), err: mapRepositoryError(err, "playlist "+playlistID)}
	}
	return c.startPlaylist(pl, trackNumber)
}

func (c *Coordinator) handlePlayByNFC(ctx context.Context, uid string) result {
	pl, err := c.repo.FindPlaylistByNFC(ctx, uid)
	if errors.Is(err, repository.ErrNotFound) {
		return result{status: c.Status(), err: E(KindNotAssociated, "no playlist bound to tag "+uid)}
	}
	if err != nil {
		return result{status: c.Status(), err: Wrap(KindRepositoryError, "resolve tag "+uid, err)}
	}
	c.log.Info().Str("tag_uid", uid).Str("playlist_id", pl.ID).Msg("tag resolved to playlist")
	return c.startPlaylist(pl, 1)
}

// startPlaylist is the shared tail of play and play_by_nfc. The new playlist
// is validated before any side effect, so a rejected command leaves both the
// backend and the cursor untouched.
func (c *Coordinator) startPlaylist(pl *models.Playlist, trackNumber int) result {
	if len(pl.Tracks) == 0 {
		return result{status: c.Status(), err: E(KindNotFound, "playlist "+pl.ID+" has no tracks")}
	}
	if trackNumber == 0 {
		trackNumber = 1
	}
	track, ok := pl.TrackByNumber(trackNumber)
	if !ok {
		return result{status: c.Status(), err: E(KindOutOfRange, "playlist "+pl.ID+" has no track "+itoa(trackNumber))}
	}

	prev := c.Status()
	if prev.State != models.StateStopped {
		c.backend.Stop()
	}

	if err := c.backend.Play(track.FilePath, 0); err != nil {
		terr := mapBackendError(err, "play "+track.FilePath)
		if prev.State != models.StateStopped {
			// The previous playback is factually gone; reflect that instead
			// of advertising a playing state with silent speakers.
			c.manager.Clear()
			c.setStatus(models.PlayerStatus{State: models.StateStopped, Volume: prev.Volume})
			c.emit(events.TypePlaylistEnded, prev.PlaylistID,
				events.PlaylistLifecycleData{PlaylistID: prev.PlaylistID}, false)
			c.emitState()
		}
		c.emitError(terr)
		return result{status: c.Status(), err: terr}
	}

	c.manager.Load(pl)
	_ = c.manager.GotoTrack(trackNumber)

	if prev.State != models.StateStopped {
		c.emit(events.TypePlaylistEnded, prev.PlaylistID,
			events.PlaylistLifecycleData{PlaylistID: prev.PlaylistID}, false)
	}

	t := track
	c.setStatus(models.PlayerStatus{
		State:      models.StatePlaying,
		PlaylistID: pl.ID,
		TrackIndex: trackNumber - 1,
		Track:      &t,
		PositionMS: 0,
		Volume:     prev.Volume,
	})
	c.resetPositionThrottle()

	c.emitState()
	c.emit(events.TypePlaylistStarted, pl.ID,
		events.PlaylistLifecycleData{PlaylistID: pl.ID, Title: pl.Title}, false)
	c.emit(events.TypeTrackChanged, pl.ID,
		events.TrackChangedData{PlaylistID: pl.ID, TrackIndex: trackNumber - 1, Track: track}, false)

	c.log.Info().Str("playlist_id", pl.ID).Int("track", trackNumber).Msg("playback started")
	return result{status: c.Status()}
}

func (c *Coordinator) handlePause() result {
	st := c.Status()
	if st.State != models.StatePlaying {
		return result{status: st}
	}
	if err := c.backend.Pause(); err != nil {
		terr := mapBackendError(err, "pause")
		c.emitError(terr)
		return result{status: st, err: terr}
	}
	if pos := c.backend.Position(); pos != audio.PositionUnknown {
		st.PositionMS = pos
	}
	st.State = models.StatePaused
	c.setStatus(st)
	c.emitState()
	return result{status: st}
}

func (c *Coordinator) handleResume() result {
	st := c.Status()
	if st.State != models.StatePaused {
		return result{status: st}
	}
	if err := c.backend.Resume(); err != nil {
		terr := mapBackendError(err, "resume")
		c.emitError(terr)
		return result{status: st, err: terr}
	}
	st.State = models.StatePlaying
	c.setStatus(st)
	c.emitState()
	return result{status: st}
}

func (c *Coordinator) handleStop() result {
	st := c.Status()
	if st.State == models.StateStopped {
		return result{status: st}
	}
	c.backend.Stop()
	c.manager.Clear()
	c.setStatus(models.PlayerStatus{State: models.StateStopped, Volume: st.Volume})
	c.emit(events.TypePlaylistEnded, st.PlaylistID,
		events.PlaylistLifecycleData{PlaylistID: st.PlaylistID}, false)
	c.emitState()
	c.log.Info().Str("playlist_id", st.PlaylistID).Msg("playback stopped")
	return result{status: c.Status()}
}

// step advances (dir=+1) or rewinds (dir=-1) the cursor. fromTrackEnd marks
// the internal command from the backend completion callback: it is ignored
// when nothing is active (a stop may have raced the callback), while a user
// next/previous on an idle player is an error.
func (c *Coordinator) step(dir int, fromTrackEnd bool) result {
	st := c.Status()
	if st.State == models.StateStopped {
		if fromTrackEnd {
			return result{status: st}
		}
		return result{status: st, err: E(KindNotFound, "no active playlist")}
	}

	pl, _, oldIdx, err := c.manager.Current()
	if err != nil {
		return result{status: st, err: E(KindInternal, "cursor out of sync with state")}
	}

	var track models.Track
	if dir > 0 {
		track, err = c.manager.Next()
	} else {
		track, err = c.manager.Previous()
	}
	if errors.Is(err, playlist.ErrOutOfRange) {
		// Bounds reached: stop. No wrap-around, and no track_changed.
		c.backend.Stop()
		c.manager.Clear()
		c.setStatus(models.PlayerStatus{State: models.StateStopped, Volume: st.Volume})
		c.emit(events.TypePlaylistEnded, pl.ID,
			events.PlaylistLifecycleData{PlaylistID: pl.ID, Title: pl.Title}, false)
		c.emitState()
		c.log.Info().Str("playlist_id", pl.ID).Bool("track_end", fromTrackEnd).Msg("playlist ended")
		return result{status: c.Status()}
	}
	if err != nil {
		return result{status: st, err: E(KindInternal, err.Error())}
	}

	if err := c.backend.Play(track.FilePath, 0); err != nil {
		_ = c.manager.GotoTrack(oldIdx + 1) // restore cursor
		terr := mapBackendError(err, "play "+track.FilePath)
		c.emitError(terr)
		return result{status: st, err: terr}
	}

	wasPaused := st.State == models.StatePaused
	t := track
	c.setStatus(models.PlayerStatus{
		State:      models.StatePlaying,
		PlaylistID: pl.ID,
		TrackIndex: oldIdx + dir,
		Track:      &t,
		PositionMS: 0,
		Volume:     st.Volume,
	})
	c.resetPositionThrottle()

	c.emit(events.TypeTrackChanged, pl.ID,
		events.TrackChangedData{PlaylistID: pl.ID, TrackIndex: oldIdx + dir, Track: track}, false)
	if wasPaused {
		c.emitState()
	}
	return result{status: c.Status()}
}

func (c *Coordinator) handleSeek(positionMS int64) result {
	st := c.Status()
	if st.State == models.StateStopped {
		return result{status: st, err: E(KindNotFound, "no active playlist")}
	}
	if positionMS < 0 {
		positionMS = 0
	}
	if err := c.backend.Seek(positionMS); err != nil {
		terr := mapBackendError(err, "seek")
		c.emitError(terr)
		return result{status: st, err: terr}
	}
	st.PositionMS = positionMS
	c.setStatus(st)
	c.emitPosition(st, true)
	return result{status: st}
}

func (c *Coordinator) handleSetVolume(volume int) result {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	st := c.Status()
	if err := c.backend.SetVolume(volume); err != nil {
		terr := mapBackendError(err, "set volume")
		c.emitError(terr)
		return result{status: st, err: terr}
	}
	st.Volume = volume
	c.setStatus(st)
	c.emit(events.TypeVolumeChanged, "", events.VolumeData{Volume: volume}, false)
	return result{status: st}
}

func (c *Coordinator) handleTick() result {
	st := c.Status()
	if st.State != models.StatePlaying {
		return result{status: st}
	}
	pos := c.backend.Position()
	if pos == audio.PositionUnknown {
		return result{status: st}
	}
	st.PositionMS = pos
	c.setStatus(st)
	c.emitPosition(st, false)
	return result{status: st}
}
