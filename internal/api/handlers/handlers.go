// Package handlers implements the diagnostics REST API endpoints:
// health, statistics and the telegram directory.
package handlers

import (
	"log/slog"
	"time"

	"github.com/saelay/trdpstack/internal/store"
	"github.com/saelay/trdpstack/internal/trdp"
)

// Handler carries the dependencies of all endpoints.
type Handler struct {
	logger    *slog.Logger
	session   *trdp.Session
	store     *store.DB
	startTime time.Time
}

// New creates a handler set. session and db may be nil; the dependent
// endpoints then report empty bodies or 503.
func New(logger *slog.Logger, session *trdp.Session, db *store.DB) *Handler {
	return &Handler{
		logger:    logger,
		session:   session,
		store:     db,
		startTime: time.Now(),
	}
}
