// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package player

import (
	"context"

	"github.com/tonbox/tonbox/internal/models"
)

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdPlayByNFC
	cmdPause
	cmdResume
	cmdStop
	cmdNext
	cmdPrevious
	cmdSeek
	cmdSetVolume
	cmdTrackEnded // internal, from the backend completion callback
	cmdTick       // internal, from the position ticker
)

func (k commandKind) String() string {
	switch k {
	case cmdPlay:
		return "play"
	case cmdPlayByNFC:
		return "play_by_nfc"
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	case cmdStop:
		return "stop"
	case cmdNext:
		return "next"
	case cmdPrevious:
		return "previous"
	case cmdSeek:
		return "seek"
	case cmdSetVolume:
		return "set_volume"
	case cmdTrackEnded:
		return "track_ended"
	case cmdTick:
		return "tick"
	default:
		return "unknown"
	}
}

type result struct {
	status models.PlayerStatus
	err    error
}

// command is one unit of work on the coordinator queue. reply is nil for
// fire-and-forget internal commands (track-ended, tick).
type command struct {
	kind        commandKind
	playlistID  string
	trackNumber int
	tagUID      string
	positionMS  int64
	volume      int
	ctx         context.Context
	reply       chan result
}

// ControlAction is a client transport-control verb, mapped 1:1 onto
// coordinator commands by Control.
type ControlAction string

const (
	ActionPause    ControlAction = "pause"
	ActionResume   ControlAction = "resume"
	ActionStop     ControlAction = "stop"
	ActionNext     ControlAction = "next"
	ActionPrevious ControlAction = "previous"
)
