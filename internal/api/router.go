// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	CORSOrigins []string

	// RateLimitRPM caps requests per client IP per minute. 0 disables.
	RateLimitRPM int

	MetricsEnabled bool
}

// Router builds the HTTP handler over the command facade.
func Router(svc *Service, cfg RouterConfig) http.Handler {
	h := &handlers{svc: svc}
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.health)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRPM > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitRPM, time.Minute))
		}

		r.Get("/playlists", h.listPlaylists)
		r.Get("/playlists/{id}", h.getPlaylist)

		r.Route("/player", func(r chi.Router) {
			r.Get("/status", h.playerStatus)
			r.Post("/play", h.play)
			r.Post("/pause", h.control)
			r.Post("/resume", h.control)
			r.Post("/stop", h.control)
			r.Post("/next", h.control)
			r.Post("/previous", h.control)
			r.Post("/seek", h.seek)
			r.Post("/volume", h.volume)
		})

		r.Route("/nfc", func(r chi.Router) {
			r.Get("/status", h.nfcStatus)
			r.Post("/associate", h.startAssociation)
			r.Delete("/associate/{session_id}", h.cancelAssociation)
		})

		r.Get("/ws", h.websocket)
	})

	return r
}
