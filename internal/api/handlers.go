// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package api

import (
	"errors"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tonbox/tonbox/internal/logging"
	"github.com/tonbox/tonbox/internal/player"
	"github.com/tonbox/tonbox/internal/repository"
)

// idempotencyHeader carries the client's command idempotency key.
const idempotencyHeader = "Idempotency-Key"

var validate = validator.New(validator.WithRequiredStructEnabled())

type handlers struct {
	svc *Service
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("encoding response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	kind := player.KindOf(err)
	if errors.Is(err, repository.ErrNotFound) {
		kind = player.KindNotFound
	}

	status := http.StatusInternalServerError
	switch kind {
	case player.KindNotFound, player.KindNotAssociated:
		status = http.StatusNotFound
	case player.KindOutOfRange:
		status = http.StatusBadRequest
	case player.KindAlreadyActive, player.KindConflict:
		status = http.StatusConflict
	case player.KindTimeout:
		status = http.StatusGatewayTimeout
	case player.KindQueueOverflow:
		status = http.StatusTooManyRequests
	case player.KindHardwareUnavailable, player.KindBackendNotStarted, player.KindRepositoryError:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Kind: string(kind), Message: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: "invalid JSON body: " + err.Error()})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: err.Error()})
		return false
	}
	return true
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.svc.ListPlaylists(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PlaylistsSnapshot{Playlists: playlists})
}

func (h *handlers) getPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, err := h.svc.GetPlaylist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (h *handlers) playerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetStatus())
}

type playRequest struct {
	PlaylistID  string `json:"playlist_id" validate:"required"`
	TrackNumber int    `json:"track_number" validate:"min=0"`
}

func (h *handlers) play(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := h.svc.PlayPlaylist(r.Context(), req.PlaylistID, req.TrackNumber, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// control serves pause/resume/stop/next/previous; the action is the final
// path segment.
func (h *handlers) control(w http.ResponseWriter, r *http.Request) {
	action := player.ControlAction(path.Base(r.URL.Path))
	status, err := h.svc.Control(r.Context(), action, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type seekRequest struct {
	PositionMS int64 `json:"position_ms" validate:"min=0"`
}

func (h *handlers) seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := h.svc.Seek(r.Context(), req.PositionMS, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type volumeRequest struct {
	Volume int `json:"volume" validate:"min=0,max=100"`
}

func (h *handlers) volume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := h.svc.SetVolume(r.Context(), req.Volume, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type associateRequest struct {
	PlaylistID     string `json:"playlist_id" validate:"required"`
	TimeoutSeconds int    `json:"timeout_seconds" validate:"min=0,max=600"`
}

func (h *handlers) startAssociation(w http.ResponseWriter, r *http.Request) {
	var req associateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	session, err := h.svc.StartNFCAssociation(r.Context(), req.PlaylistID, req.TimeoutSeconds, r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *handlers) cancelAssociation(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.CancelNFCAssociation(chi.URLParam(r, "session_id"), r.Header.Get(idempotencyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handlers) nfcStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetNFCStatus())
}
