// stats.go — HTTP handlers статистики.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/service"
)

// StatsHandler — обработчик endpoints статистики.
type StatsHandler struct {
	stats  *service.StatsService
	logger *slog.Logger
}

// NewStatsHandler создаёт обработчик статистики.
func NewStatsHandler(stats *service.StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logger.With(slog.String("component", "stats_handler")),
	}
}

func statsFilter(r *http.Request) model.StatsFilter {
	q := r.URL.Query()
	return model.StatsFilter{DateFrom: q.Get("date_from"), DateTo: q.Get("date_to")}
}

// Summary обрабатывает GET /api/stats/summary.
func (h *StatsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	result, err := h.stats.Summary(r.Context(), statsFilter(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Timeline обрабатывает GET /api/stats/timeline?group_by=day|week|month.
func (h *StatsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	group := model.TimelineGroup(r.URL.Query().Get("group_by"))
	result, err := h.stats.Timeline(r.Context(), statsFilter(r), group)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Top обрабатывает GET /api/stats/top.
func (h *StatsHandler) Top(w http.ResponseWriter, r *http.Request) {
	result, err := h.stats.Top(r.Context(), statsFilter(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Activity обрабатывает GET /api/stats/activity.
func (h *StatsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	result, err := h.stats.Activity(r.Context(), statsFilter(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
