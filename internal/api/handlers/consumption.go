// consumption.go — HTTP handlers журнала расхода.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/arturkryukov/fabtrack/internal/api/errors"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/service"
)

// ConsumptionHandler — обработчик endpoints журнала.
type ConsumptionHandler struct {
	ledger *service.LedgerService
	logger *slog.Logger
}

// NewConsumptionHandler создаёт обработчик журнала.
func NewConsumptionHandler(ledger *service.LedgerService, logger *slog.Logger) *ConsumptionHandler {
	return &ConsumptionHandler{
		ledger: ledger,
		logger: logger.With(slog.String("component", "consumption_handler")),
	}
}

// filterParams — внешние ключи, по которым фильтруется журнал.
var filterParams = []struct {
	name string
	dst  func(f *model.ConsumptionFilter) **int64
}{
	{"activity_type_id", func(f *model.ConsumptionFilter) **int64 { return &f.ActivityTypeID }},
	{"preparer_id", func(f *model.ConsumptionFilter) **int64 { return &f.PreparerID }},
	{"class_id", func(f *model.ConsumptionFilter) **int64 { return &f.ClassID }},
	{"referent_id", func(f *model.ConsumptionFilter) **int64 { return &f.ReferentID }},
	{"machine_id", func(f *model.ConsumptionFilter) **int64 { return &f.MachineID }},
	{"material_id", func(f *model.ConsumptionFilter) **int64 { return &f.MaterialID }},
}

// parseConsumptionFilter разбирает параметры фильтра журнала из query string.
func parseConsumptionFilter(r *http.Request) (model.ConsumptionFilter, error) {
	q := r.URL.Query()
	f := model.ConsumptionFilter{
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
	}
	for _, p := range filterParams {
		id, err := optionalID(r, p.name)
		if err != nil {
			return f, err
		}
		*p.dst(&f) = id
	}
	return f, nil
}

// Query обрабатывает GET /api/consumptions.
func (h *ConsumptionHandler) Query(w http.ResponseWriter, r *http.Request) {
	filter, err := parseConsumptionFilter(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	page, err := optionalInt(r, "page")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	pageSize, err := optionalInt(r, "page_size")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.ledger.Query(r.Context(), filter, page, pageSize)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if result.Rows == nil {
		result.Rows = []model.ConsumptionView{}
	}
	writeJSON(w, http.StatusOK, result)
}

// Create обрабатывает POST /api/consumptions.
func (h *ConsumptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in model.ConsumptionInput
	if err := decodeJSON(w, r, &in); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	id, err := h.ledger.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// CreateBatch обрабатывает POST /api/consumptions/batch.
// Партия создаётся целиком или не создаётся вовсе.
func (h *ConsumptionHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var batch model.ConsumptionBatch
	if err := decodeJSON(w, r, &batch); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	ids, err := h.ledger.CreateBatch(r.Context(), batch)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids, "count": len(ids)})
}

// Get обрабатывает GET /api/consumptions/{id}.
func (h *ConsumptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	c, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Update обрабатывает PUT /api/consumptions/{id}.
// Отсутствующие ключи не меняются, явный null очищает поле.
func (h *ConsumptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	var patch model.ConsumptionInput
	if err := decodeJSON(w, r, &patch); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	c, err := h.ledger.Update(r.Context(), id, patch)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Delete обрабатывает DELETE /api/consumptions/{id}. Повторное удаление не ошибка.
func (h *ConsumptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := h.ledger.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
