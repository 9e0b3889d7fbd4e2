// maintenance.go — HTTP handlers обслуживания: сброс хранилища и демо-данные.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/arturkryukov/fabtrack/internal/api/errors"
	"github.com/arturkryukov/fabtrack/internal/service"
)

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	demo   *service.DemoService
	logger *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик обслуживания.
func NewMaintenanceHandler(demo *service.DemoService, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		demo:   demo,
		logger: logger.With(slog.String("component", "maintenance_handler")),
	}
}

// resetRequest — тело POST /api/maintenance/reset.
// Фраза проверяется сервисом, чтобы неверная фраза давала CONFIRMATION_MISMATCH.
type resetRequest struct {
	Confirmation string `json:"confirmation"`
}

// demoRequest — тело POST /api/maintenance/demo. count = 0 — значение по умолчанию.
type demoRequest struct {
	Count int `json:"count" validate:"gte=0,lte=10000"`
}

// Reset обрабатывает POST /api/maintenance/reset.
// Перед сбросом создаётся копия pre_reset.
func (h *MaintenanceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if err := h.demo.Reset(r.Context(), req.Confirmation); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// GenerateDemo обрабатывает POST /api/maintenance/demo.
func (h *MaintenanceHandler) GenerateDemo(w http.ResponseWriter, r *http.Request) {
	var req demoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	n, err := h.demo.GenerateDemo(r.Context(), req.Count)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"created": n})
}
