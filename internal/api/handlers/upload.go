// upload.go — HTTP handlers загрузки и раздачи изображений.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/arturkryukov/fabtrack/internal/api/errors"
	"github.com/arturkryukov/fabtrack/internal/service"
)

// UploadHandler — обработчик загрузки изображений.
type UploadHandler struct {
	uploads  *service.UploadService
	maxBytes int64
	logger   *slog.Logger
}

// NewUploadHandler создаёт обработчик загрузки изображений.
func NewUploadHandler(uploads *service.UploadService, maxBytes int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		uploads:  uploads,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "upload_handler")),
	}
}

// UploadImage обрабатывает POST /api/uploads/images.
// Multipart form: file (обязательно), entity и entity_id (опционально).
func (h *UploadHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	// Запас на заголовки multipart сверх лимита файла
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	var entityID int64
	if raw := strings.TrimSpace(r.FormValue("entity_id")); raw != "" {
		entityID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || entityID < 0 {
			apierrors.ValidationError(w, "Поле 'entity_id' должно быть неотрицательным целым числом")
			return
		}
	}

	result, err := h.uploads.Upload(r.Context(), file, header.Filename, r.FormValue("entity"), entityID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// StaticFiles возвращает обработчик GET /static/uploads/* поверх директории загрузок.
func (h *UploadHandler) StaticFiles() http.Handler {
	fs := http.FileServer(http.Dir(h.uploads.Store().Dir()))
	return http.StripPrefix(service.UploadURLPrefix, noDirListing(fs))
}

// noDirListing запрещает просмотр содержимого директории.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			apierrors.NotFound(w, "файл не найден")
			return
		}
		next.ServeHTTP(w, r)
	})
}
