// transfer.go — HTTP handlers CSV-экспорта, шаблонов и импорта справочников.
package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/fabtrack/internal/api/errors"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/service"
)

const (
	// multipartMemory — буфер разбора multipart-форм в памяти.
	multipartMemory = 32 << 20
	// consumptionsFile — имя файла экспорта журнала.
	consumptionsFile = "consumptions"
)

// TransferHandler — обработчик CSV endpoints.
type TransferHandler struct {
	transfer *service.TransferService
	logger   *slog.Logger
}

// NewTransferHandler создаёт обработчик CSV endpoints.
func NewTransferHandler(transfer *service.TransferService, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{
		transfer: transfer,
		logger:   logger.With(slog.String("component", "transfer_handler")),
	}
}

// csvFileParam разбирает параметр {file} вида "<имя>.csv".
func csvFileParam(r *http.Request) (string, bool) {
	return strings.CutSuffix(chi.URLParam(r, "file"), ".csv")
}

// writeCSV отправляет готовый CSV как вложение.
func writeCSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Export обрабатывает GET /api/export/{file}: consumptions.csv или <kind>.csv.
// Журнал фильтруется по date_from, date_to и activity_type_id.
func (h *TransferHandler) Export(w http.ResponseWriter, r *http.Request) {
	name, ok := csvFileParam(r)
	if !ok {
		apierrors.NotFound(w, "ожидается файл с расширением .csv")
		return
	}

	var buf bytes.Buffer
	if name == consumptionsFile {
		filter, err := parseConsumptionFilter(r)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		if err := h.transfer.ExportConsumptions(r.Context(), &buf, filter); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeCSV(w, fmt.Sprintf("fabtrack_consumptions_%s.csv", time.Now().Format("20060102")), buf.Bytes())
		return
	}

	kind, err := model.ParseKind(name)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return
	}
	if err := h.transfer.ExportReference(r.Context(), &buf, kind); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeCSV(w, fmt.Sprintf("fabtrack_%s.csv", kind), buf.Bytes())
}

// Template обрабатывает GET /api/templates/{file}.
func (h *TransferHandler) Template(w http.ResponseWriter, r *http.Request) {
	name, ok := csvFileParam(r)
	if !ok {
		apierrors.NotFound(w, "ожидается файл с расширением .csv")
		return
	}
	kind, err := model.ParseKind(name)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := h.transfer.Template(&buf, kind); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeCSV(w, fmt.Sprintf("modele_%s.csv", kind), buf.Bytes())
}

// Import обрабатывает POST /api/import/{kind}. Multipart form: file (обязательно).
// Ошибки отдельных строк возвращаются в errors, корректные строки сохраняются.
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return
	}

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

	result, err := h.transfer.Import(r.Context(), kind, file)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}
