package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/vigilis/sentinel/pkg/apierror"
	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

// ErrViewUnavailable marks a view source that has nothing to serve yet.
var ErrViewUnavailable = errors.New("public view unavailable")

// ViewSource returns the latest published status view.
type ViewSource interface {
	View(ctx context.Context) (client.PublicView, error)
}

// StatusHandler serves the public status view.
type StatusHandler struct {
	source ViewSource
	notYet func(error) bool
	logger *logger.Logger
}

// NewStatusHandler creates a StatusHandler. notPublished reports whether a
// source error means that no cycle has published yet; it may be nil.
func NewStatusHandler(source ViewSource, notPublished func(error) bool, log *logger.Logger) *StatusHandler {
	if notPublished == nil {
		notPublished = func(err error) bool { return errors.Is(err, ErrViewUnavailable) }
	}
	return &StatusHandler{
		source: source,
		notYet: notPublished,
		logger: log.With("handler", "status"),
	}
}

// Status handles GET /api/v1/status. The response is the JSON array of
// public entries: id, name, status, detail, last_check.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.source.View(r.Context())
	if err != nil {
		if h.notYet(err) {
			writeError(w, r, apierror.ServiceUnavailable("Status not published yet"))
			return
		}
		h.logger.WithContext(r.Context()).Error("failed to read public view", "error", err)
		writeError(w, r, apierror.InternalError(err))
		return
	}
	if view == nil {
		view = client.PublicView{}
	}
	writeJSON(w, http.StatusOK, view)
}

// StatusSummary is the per-status count of the public view.
type StatusSummary struct {
	Total    int                   `json:"total"`
	ByStatus map[client.Status]int `json:"by_status"`
}

// Summary handles GET /api/v1/status/summary.
func (h *StatusHandler) Summary(w http.ResponseWriter, r *http.Request) {
	view, err := h.source.View(r.Context())
	if err != nil {
		if h.notYet(err) {
			writeError(w, r, apierror.ServiceUnavailable("Status not published yet"))
			return
		}
		h.logger.WithContext(r.Context()).Error("failed to read public view", "error", err)
		writeError(w, r, apierror.InternalError(err))
		return
	}

	summary := StatusSummary{Total: len(view), ByStatus: make(map[client.Status]int)}
	for _, e := range view {
		summary.ByStatus[e.Status]++
	}
	writeJSON(w, http.StatusOK, summary)
}
