// reference.go — HTTP handlers справочников: CRUD, зависимости,
// связи материал-станок и состояние станков.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/arturkryukov/fabtrack/internal/api/errors"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/service"
)

// ReferenceHandler — обработчик endpoints справочников.
type ReferenceHandler struct {
	refs   *service.ReferenceService
	deps   *service.DependencyService
	logger *slog.Logger
}

// NewReferenceHandler создаёт обработчик справочников.
func NewReferenceHandler(refs *service.ReferenceService, deps *service.DependencyService, logger *slog.Logger) *ReferenceHandler {
	return &ReferenceHandler{
		refs:   refs,
		deps:   deps,
		logger: logger.With(slog.String("component", "reference_handler")),
	}
}

// bulkDeactivateRequest — тело POST /api/reference/{kind}/bulk-deactivate.
type bulkDeactivateRequest struct {
	IDs []int64 `json:"ids" validate:"dive,gt=0"`
}

// replaceRequest — тело POST /api/reference/{kind}/{id}/replace-and-deactivate.
// Без replacement_id ссылки отвязываются.
type replaceRequest struct {
	ReplacementID *int64 `json:"replacement_id" validate:"omitempty,gt=0"`
}

// materialMachinesRequest — тело PUT /api/reference/materials/{id}/machines.
type materialMachinesRequest struct {
	MachineIDs []int64 `json:"machine_ids" validate:"dive,gt=0"`
}

// machineStatusRequest — тело PUT /api/reference/machines/{id}/status.
type machineStatusRequest struct {
	Status       string `json:"status" validate:"required,oneof=available under_repair out_of_service"`
	RepairReason string `json:"repair_reason" validate:"max=500"`
	RepairDate   string `json:"repair_date"`
}

// Snapshot обрабатывает GET /api/reference.
func (h *ReferenceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	data, err := h.refs.Snapshot(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// List обрабатывает GET /api/reference/{kind}?include_inactive=true.
func (h *ReferenceHandler) List(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return
	}
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	list, err := h.refs.List(r.Context(), kind, includeInactive)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []model.Reference{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Get обрабатывает GET /api/reference/{kind}/{id}.
func (h *ReferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return
	}
	ref, err := h.refs.Get(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// Add обрабатывает POST /api/reference/{kind}.
// Повторное добавление существующего имени возвращает прежний id.
func (h *ReferenceHandler) Add(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return
	}
	ref := model.NewReference(kind)
	if err := decodeJSON(w, r, ref); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	id, err := h.refs.Add(r.Context(), ref)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// Update обрабатывает PUT /api/reference/{kind}/{id}.
func (h *ReferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return
	}
	ref := model.NewReference(kind)
	if err := decodeJSON(w, r, ref); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	setReferenceID(ref, id)

	if err := h.refs.Update(r.Context(), ref); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	updated, err := h.refs.Get(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Deactivate обрабатывает DELETE /api/reference/{kind}/{id}.
func (h *ReferenceHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return
	}
	if err := h.refs.Deactivate(r.Context(), kind, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// BulkDeactivate обрабатывает POST /api/reference/{kind}/bulk-deactivate.
func (h *ReferenceHandler) BulkDeactivate(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return
	}
	var req bulkDeactivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	n, err := h.deps.BulkDeactivate(r.Context(), kind, req.IDs)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deactivated": n})
}

// Usage обрабатывает GET /api/reference/{kind}/{id}/usage.
func (h *ReferenceHandler) Usage(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return
	}
	n, err := h.deps.UsageCount(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// ReplaceAndDeactivate обрабатывает POST /api/reference/{kind}/{id}/replace-and-deactivate.
func (h *ReferenceHandler) ReplaceAndDeactivate(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return
	}
	var req replaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	n, err := h.deps.ReplaceAndDeactivate(r.Context(), kind, id, req.ReplacementID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"affected": n})
}

// SetMaterialMachines обрабатывает PUT /api/reference/materials/{id}/machines.
func (h *ReferenceHandler) SetMaterialMachines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idOfKind(w, r, model.KindMaterial)
	if !ok {
		return
	}
	var req materialMachinesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if err := h.refs.SetMaterialMachines(r.Context(), id, req.MachineIDs); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// SetMachineStatus обрабатывает PUT /api/reference/machines/{id}/status.
func (h *ReferenceHandler) SetMachineStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idOfKind(w, r, model.KindMachine)
	if !ok {
		return
	}
	var req machineStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if err := h.refs.SetMachineStatus(r.Context(), id, model.MachineStatus(req.Status), req.RepairReason, req.RepairDate); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// kindAndID разбирает {kind} и {id}; при ошибке ответ уже записан.
func (h *ReferenceHandler) kindAndID(w http.ResponseWriter, r *http.Request) (model.Kind, int64, bool) {
	kind, err := kindParam(r)
	if err != nil {
		apierrors.NotFound(w, err.Error())
		return "", 0, false
	}
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return "", 0, false
	}
	return kind, id, true
}

// idOfKind разбирает {id} для маршрута, существующего только у одного вида справочника.
func (h *ReferenceHandler) idOfKind(w http.ResponseWriter, r *http.Request, want model.Kind) (int64, bool) {
	kind, id, ok := h.kindAndID(w, r)
	if !ok {
		return 0, false
	}
	if kind != want {
		apierrors.NotFound(w, fmt.Sprintf("маршрут доступен только для %s", want))
		return 0, false
	}
	return id, true
}

// setReferenceID задаёт id строки, разобранной из тела запроса.
func setReferenceID(ref model.Reference, id int64) {
	switch v := ref.(type) {
	case *model.Preparer:
		v.ID = id
	case *model.ActivityType:
		v.ID = id
	case *model.Machine:
		v.ID = id
	case *model.Material:
		v.ID = id
	case *model.Class:
		v.ID = id
	case *model.Referent:
		v.ID = id
	default:
		panic(fmt.Sprintf("handlers: неизвестный тип справочника %T", ref))
	}
}
