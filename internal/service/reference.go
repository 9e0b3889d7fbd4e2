// reference.go — сервис справочников: добавление (insert-if-absent),
// обновление, деактивация, связи материал-станок и состояние станков.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
)

// maxNameLength — максимальная длина имени строки справочника (в символах).
const maxNameLength = 200

// Invalidator получает уведомления об изменении данных (сброс кэша статистики).
type Invalidator interface {
	Invalidate()
}

// notifyChange уведомляет получателя, если он задан.
func notifyChange(inv Invalidator) {
	if inv != nil {
		inv.Invalidate()
	}
}

// ReferenceService — сервис справочников.
type ReferenceService struct {
	tx      *repository.TxRunner
	refs    repository.ReferenceRepository
	changes Invalidator
	logger  *slog.Logger
}

// NewReferenceService создаёт сервис справочников.
// changes может быть nil.
func NewReferenceService(tx *repository.TxRunner, changes Invalidator, logger *slog.Logger) *ReferenceService {
	return &ReferenceService{
		tx:      tx,
		refs:    repository.NewReferenceRepository(tx.DB()),
		changes: changes,
		logger:  logger.With(slog.String("component", "reference_service")),
	}
}

// Add добавляет строку справочника. Если имя уже существует, строка
// реактивируется и возвращается её id; дубликаты не создаются.
// Для нового материала с заданным MachineIDs создаются связи со станками.
func (s *ReferenceService) Add(ctx context.Context, ref model.Reference) (int64, error) {
	if err := normalizeReference(ref, true); err != nil {
		return 0, err
	}

	var id int64
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		refs := repository.NewReferenceRepository(tx)
		if err := checkReferenceLinks(ctx, refs, ref); err != nil {
			return err
		}

		_, err := refs.IDByName(ctx, ref.Kind(), ref.DisplayName())
		existed := err == nil
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		id, err = refs.Add(ctx, ref)
		if err != nil {
			return err
		}

		// Связи существующего материала не меняются
		if m, ok := ref.(*model.Material); ok && m.MachineIDs != nil && !existed {
			return replaceMaterialMachines(ctx, refs, id, m.MachineIDs)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	notifyChange(s.changes)
	s.logger.Info("Строка справочника добавлена",
		slog.String("kind", string(ref.Kind())),
		slog.Int64("id", id),
		slog.String("name", ref.DisplayName()),
	)
	return id, nil
}

// Update обновляет атрибуты строки справочника. Флаг active не меняется.
func (s *ReferenceService) Update(ctx context.Context, ref model.Reference) error {
	if err := normalizeReference(ref, false); err != nil {
		return err
	}

	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		refs := repository.NewReferenceRepository(tx)
		if err := checkReferenceLinks(ctx, refs, ref); err != nil {
			return err
		}
		if err := refs.Update(ctx, ref); err != nil {
			return mapRepoError(err, fmt.Sprintf("%s %d", ref.Kind(), ref.EntityID()))
		}
		if m, ok := ref.(*model.Material); ok && m.MachineIDs != nil {
			return replaceMaterialMachines(ctx, refs, m.ID, m.MachineIDs)
		}
		return nil
	})
	if err != nil {
		return err
	}

	notifyChange(s.changes)
	s.logger.Info("Строка справочника обновлена",
		slog.String("kind", string(ref.Kind())),
		slog.Int64("id", ref.EntityID()),
	)
	return nil
}

// Get возвращает строку справочника по id (в том числе неактивную).
func (s *ReferenceService) Get(ctx context.Context, kind model.Kind, id int64) (model.Reference, error) {
	ref, err := s.refs.Get(ctx, kind, id)
	if err != nil {
		return nil, mapRepoError(err, fmt.Sprintf("%s %d", kind, id))
	}
	return ref, nil
}

// List возвращает строки справочника; по умолчанию только активные.
func (s *ReferenceService) List(ctx context.Context, kind model.Kind, includeInactive bool) ([]model.Reference, error) {
	return s.refs.List(ctx, kind, !includeInactive)
}

// Snapshot возвращает все активные справочники и таблицу связей материал-станок.
func (s *ReferenceService) Snapshot(ctx context.Context) (*model.ReferenceData, error) {
	data := &model.ReferenceData{}
	for _, kind := range model.Kinds {
		list, err := s.refs.List(ctx, kind, true)
		if err != nil {
			return nil, err
		}
		data.Set(kind, list)
	}

	links, err := s.refs.ListMaterialMachines(ctx)
	if err != nil {
		return nil, err
	}
	data.MaterialMachines = links
	return data, nil
}

// Deactivate деактивирует строку справочника. Повторный вызов не ошибка.
func (s *ReferenceService) Deactivate(ctx context.Context, kind model.Kind, id int64) error {
	if err := s.refs.Deactivate(ctx, kind, id); err != nil {
		return mapRepoError(err, fmt.Sprintf("%s %d", kind, id))
	}

	notifyChange(s.changes)
	s.logger.Info("Строка справочника деактивирована",
		slog.String("kind", string(kind)),
		slog.Int64("id", id),
	)
	return nil
}

// SetMaterialMachines заменяет набор станков материала целиком.
func (s *ReferenceService) SetMaterialMachines(ctx context.Context, materialID int64, machineIDs []int64) error {
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		refs := repository.NewReferenceRepository(tx)
		if _, err := refs.NameByID(ctx, model.KindMaterial, materialID); err != nil {
			return mapRepoError(err, fmt.Sprintf("материал %d", materialID))
		}
		return replaceMaterialMachines(ctx, refs, materialID, machineIDs)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Связи материала обновлены",
		slog.Int64("material_id", materialID),
		slog.Int("machines", len(machineIDs)),
	)
	return nil
}

// SetMachineStatus меняет состояние станка. Для available причина и дата ремонта очищаются.
func (s *ReferenceService) SetMachineStatus(ctx context.Context, id int64, status model.MachineStatus, reason, date string) error {
	if !status.Valid() {
		return validationf("недопустимое состояние %q, допустимые: available, under_repair, out_of_service", status)
	}
	if status == model.MachineAvailable {
		reason, date = "", ""
	}
	if date != "" {
		if _, err := normalizeEntryAt(date); err != nil {
			return err
		}
	}

	if err := s.refs.SetMachineStatus(ctx, id, status, strings.TrimSpace(reason), date); err != nil {
		return mapRepoError(err, fmt.Sprintf("станок %d", id))
	}

	s.logger.Info("Состояние станка изменено",
		slog.Int64("id", id),
		slog.String("status", string(status)),
	)
	return nil
}

// SetImage сохраняет путь изображения строки справочника.
func (s *ReferenceService) SetImage(ctx context.Context, kind model.Kind, id int64, path string) error {
	if err := s.refs.SetImagePath(ctx, kind, id, path); err != nil {
		return mapRepoError(err, fmt.Sprintf("%s %d", kind, id))
	}
	return nil
}

// replaceMaterialMachines выполняет unlink_all + link внутри транзакции вызывающего.
func replaceMaterialMachines(ctx context.Context, refs repository.ReferenceRepository, materialID int64, machineIDs []int64) error {
	if err := refs.UnlinkAllMaterialMachines(ctx, materialID); err != nil {
		return err
	}
	for _, machineID := range machineIDs {
		if _, err := refs.NameByID(ctx, model.KindMachine, machineID); err != nil {
			return mapRepoError(err, fmt.Sprintf("станок %d", machineID))
		}
		if err := refs.LinkMaterialMachine(ctx, materialID, machineID); err != nil {
			return err
		}
	}
	return nil
}

// checkReferenceLinks проверяет ссылки строки справочника на тип активности.
func checkReferenceLinks(ctx context.Context, refs repository.ReferenceRepository, ref model.Reference) error {
	var typeID *int64
	switch r := ref.(type) {
	case *model.Machine:
		typeID = r.ActivityTypeID
	case *model.Material:
		typeID = r.ActivityTypeID
	}
	if typeID == nil {
		return nil
	}
	if _, err := refs.NameByID(ctx, model.KindActivityType, *typeID); err != nil {
		return mapRepoError(err, fmt.Sprintf("тип активности %d", *typeID))
	}
	return nil
}

// normalizeReference обрезает пробелы и проверяет обязательные поля.
// creating — проверка для добавления (значения по умолчанию для новых строк).
func normalizeReference(ref model.Reference, creating bool) error {
	if ref == nil {
		return validationf("пустая строка справочника")
	}

	var name *string
	switch r := ref.(type) {
	case *model.Preparer:
		name = &r.Name
	case *model.ActivityType:
		name = &r.Name
		r.Color = strings.TrimSpace(r.Color)
		r.DefaultUnit = strings.TrimSpace(r.DefaultUnit)
	case *model.Machine:
		name = &r.Name
		if r.Quantity < 0 {
			return validationf("количество станков не может быть отрицательным")
		}
		if creating && r.Quantity == 0 {
			r.Quantity = 1
		}
		if r.Status != "" && !r.Status.Valid() {
			return validationf("недопустимое состояние %q", r.Status)
		}
	case *model.Material:
		name = &r.Name
		r.Unit = strings.TrimSpace(r.Unit)
	case *model.Class:
		name = &r.Name
	case *model.Referent:
		name = &r.Name
		r.Category = strings.TrimSpace(r.Category)
	default:
		return validationf("неизвестный вид справочника")
	}

	*name = strings.TrimSpace(*name)
	if *name == "" {
		return validationf("имя обязательно")
	}
	if utf8.RuneCountInString(*name) > maxNameLength {
		return validationf("имя длиннее %d символов", maxNameLength)
	}
	if !creating && ref.EntityID() <= 0 {
		return validationf("некорректный id %d", ref.EntityID())
	}
	return nil
}
