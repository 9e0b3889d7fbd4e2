// backup.go — HTTP handlers менеджера резервных копий.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/fabtrack/internal/api/errors"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/service"
)

// BackupHandler — обработчик endpoints резервных копий.
type BackupHandler struct {
	backups *service.BackupService
	logger  *slog.Logger
}

// NewBackupHandler создаёт обработчик резервных копий.
func NewBackupHandler(backups *service.BackupService, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{
		backups: backups,
		logger:  logger.With(slog.String("component", "backup_handler")),
	}
}

// backupSettingsRequest — тело PUT /api/backups/settings.
type backupSettingsRequest struct {
	Frequency  string `json:"frequency" validate:"required,oneof=off daily weekly"`
	Retention  int    `json:"retention" validate:"required,min=1,max=365"`
	CustomPath string `json:"custom_path"`
}

// GetSettings обрабатывает GET /api/backups/settings.
func (h *BackupHandler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	st, err := h.backups.Settings()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateSettings обрабатывает PUT /api/backups/settings.
func (h *BackupHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req backupSettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	st, err := h.backups.UpdateSettings(model.BackupSettings{
		Frequency:  model.BackupFrequency(req.Frequency),
		Retention:  req.Retention,
		CustomPath: req.CustomPath,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Create обрабатывает POST /api/backups — ручная копия.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	info, err := h.backups.Create(r.Context(), model.BackupLabelManual)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// List обрабатывает GET /api/backups. Новые копии первыми.
func (h *BackupHandler) List(w http.ResponseWriter, _ *http.Request) {
	list, err := h.backups.List()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []model.BackupInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Download обрабатывает GET /api/backups/{name}.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.backups.Open(name)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, stat.ModTime(), f)
}

// Delete обрабатывает DELETE /api/backups/{name}.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.backups.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// Restore обрабатывает POST /api/backups/restore. Multipart form: file (обязательно).
// Ответ содержит копию pre_restore, снятую перед заменой данных.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	snapshot, err := h.backups.Restore(r.Context(), file)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pre_restore": snapshot})
}
