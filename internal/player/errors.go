// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package player

import (
	"errors"
	"fmt"
)

// ErrorKind classifies command failures. Kinds surface to clients both in
// command results and in player_error / nfc_error event payloads.
type ErrorKind string

const (
	// KindNotFound: playlist or track does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindOutOfRange: requested track index invalid.
	KindOutOfRange ErrorKind = "out_of_range"

	// KindAlreadyActive: duplicate association session for a playlist.
	KindAlreadyActive ErrorKind = "already_active"

	// KindConflict: NFC uid already bound to another playlist.
	KindConflict ErrorKind = "conflict"

	// KindNotAssociated: no playlist is bound to the scanned tag.
	KindNotAssociated ErrorKind = "not_associated"

	// KindHardwareUnavailable: audio or NFC hardware failed.
	KindHardwareUnavailable ErrorKind = "hardware_unavailable"

	// KindBackendNotStarted: state-changing command before Start or after
	// Shutdown. Indicates a wiring bug, not a runtime condition.
	KindBackendNotStarted ErrorKind = "backend_not_started"

	// KindRepositoryError: persistent-layer failure.
	KindRepositoryError ErrorKind = "repository_error"

	// KindTimeout: command deadline or session expired.
	KindTimeout ErrorKind = "timeout"

	// KindQueueOverflow: command or event queue saturated.
	KindQueueOverflow ErrorKind = "queue_overflow"

	// KindInternal: unspecified failure.
	KindInternal ErrorKind = "internal_error"
)

// Error is a typed command failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a typed error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed error around a cause.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindInternal when err carries
// no kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
