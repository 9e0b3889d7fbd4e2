// respond.go — общие функции обработчиков: JSON-ответы, разбор тела
// запроса с валидацией и перевод ошибок сервисного слоя в HTTP.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/arturkryukov/fabtrack/internal/api/errors"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/service"
)

// maxJSONBody — ограничение размера JSON-тела запроса.
const maxJSONBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// successBody — тело успешного ответа.
type successBody struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// writeJSON записывает успешный ответ {"success": true, "data": ...}.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successBody{Success: true, Data: data})
}

// decodeJSON читает тело запроса в dst и проверяет теги validate.
// Сообщение об ошибке готово для ответа клиенту.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("некорректный JSON: %s", err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage переводит ошибки validator в одно сообщение.
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("поле %s обязательно", field))
		case "oneof":
			parts = append(parts, fmt.Sprintf("поле %s должно быть одним из: %s", field, fe.Param()))
		case "min", "gte":
			parts = append(parts, fmt.Sprintf("поле %s должно быть не меньше %s", field, fe.Param()))
		case "max", "lte":
			parts = append(parts, fmt.Sprintf("поле %s должно быть не больше %s", field, fe.Param()))
		case "gt":
			parts = append(parts, fmt.Sprintf("поле %s должно быть больше %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("поле %s не прошло проверку %s", field, fe.Tag()))
		}
	}
	return stderrors.New(strings.Join(parts, "; "))
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Внутренние ошибки логируются, клиент получает общее сообщение.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case stderrors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case stderrors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case stderrors.Is(err, service.ErrConflictOnImport):
		apierrors.Conflict(w, err.Error())
	case stderrors.Is(err, service.ErrConfirmationMismatch):
		apierrors.ConfirmationMismatch(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка обработки запроса", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// kindParam разбирает параметр пути {kind}.
func kindParam(r *http.Request) (model.Kind, error) {
	return model.ParseKind(chi.URLParam(r, "kind"))
}

// idParam разбирает положительный параметр пути {id}.
func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("некорректный идентификатор %q", raw)
	}
	return id, nil
}

// optionalID разбирает необязательный положительный параметр запроса.
func optionalID(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("параметр %s должен быть положительным целым числом", name)
	}
	return &id, nil
}

// optionalInt разбирает необязательный целый параметр запроса (0, если отсутствует).
func optionalInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("параметр %s должен быть целым числом", name)
	}
	return n, nil
}
