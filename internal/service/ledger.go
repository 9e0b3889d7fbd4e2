// ledger.go — журнал расхода: создание со снимками имён, пакетное создание,
// частичное обновление, удаление и постраничная выборка.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
)

const (
	// DefaultPageSize — размер страницы журнала по умолчанию.
	DefaultPageSize = 50
	// MaxPageSize — максимальный размер страницы журнала.
	MaxPageSize = 10000
)

// Форматы отметки времени записи журнала.
const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

// LedgerService — сервис журнала расхода.
type LedgerService struct {
	tx           *repository.TxRunner
	consumptions repository.ConsumptionRepository
	changes      Invalidator
	logger       *slog.Logger
	now          func() time.Time
}

// NewLedgerService создаёт сервис журнала расхода.
// changes может быть nil.
func NewLedgerService(tx *repository.TxRunner, changes Invalidator, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		tx:           tx,
		consumptions: repository.NewConsumptionRepository(tx.DB()),
		changes:      changes,
		logger:       logger.With(slog.String("component", "ledger_service")),
		now:          time.Now,
	}
}

// Create создаёт запись журнала. Для каждого заданного внешнего ключа
// сохраняется снимок текущего имени строки справочника.
func (s *LedgerService) Create(ctx context.Context, in model.ConsumptionInput) (int64, error) {
	var id int64
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.createInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return 0, err
	}

	consumptionsWritten.WithLabelValues("create").Inc()
	notifyChange(s.changes)
	s.logger.Debug("Запись журнала создана", slog.Int64("id", id))
	return id, nil
}

// CreateBatch создаёт варианты с общими полями в одной транзакции.
// Ошибка любого варианта откатывает всю партию.
func (s *LedgerService) CreateBatch(ctx context.Context, batch model.ConsumptionBatch) ([]int64, error) {
	if len(batch.Items) == 0 {
		return nil, validationf("пустой список вариантов")
	}

	ids := make([]int64, 0, len(batch.Items))
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		for i, item := range batch.Items {
			id, err := s.createInTx(ctx, tx, model.MergeInput(batch.Common, item))
			if err != nil {
				return fmt.Errorf("вариант %d: %w", i+1, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	consumptionsWritten.WithLabelValues("batch").Add(float64(len(ids)))
	notifyChange(s.changes)
	s.logger.Info("Партия записей журнала создана", slog.Int("count", len(ids)))
	return ids, nil
}

// createInTx создаёт запись внутри транзакции вызывающего.
// Используется также генератором демо-данных.
func (s *LedgerService) createInTx(ctx context.Context, tx *sql.Tx, in model.ConsumptionInput) (int64, error) {
	c := &model.Consumption{}
	if !in.EntryAt.Valid {
		in.EntryAt = model.Some(s.now().Format(dateTimeLayout))
	}
	if err := applyInput(c, in); err != nil {
		return 0, err
	}
	if err := resolveSnapshots(ctx, repository.NewReferenceRepository(tx), c, &in); err != nil {
		return 0, err
	}
	deriveSurface(c)

	if err := repository.NewConsumptionRepository(tx).Create(ctx, c); err != nil {
		return 0, err
	}
	return c.ID, nil
}

// Update применяет частичное обновление: меняются только заданные поля.
// Каждый заданный внешний ключ заново разрешается и получает свежий снимок.
func (s *LedgerService) Update(ctx context.Context, id int64, patch model.ConsumptionInput) (*model.Consumption, error) {
	if patch.EntryAt.Set && !patch.EntryAt.Valid {
		return nil, validationf("entry_at не может быть null")
	}

	var updated *model.Consumption
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		consumptions := repository.NewConsumptionRepository(tx)
		c, err := consumptions.GetByID(ctx, id)
		if err != nil {
			return mapRepoError(err, fmt.Sprintf("запись %d", id))
		}

		wasDerived := surfaceDerivable(c)
		if err := applyInput(c, patch); err != nil {
			return err
		}
		if err := resolveSnapshots(ctx, repository.NewReferenceRepository(tx), c, &patch); err != nil {
			return err
		}
		deriveSurface(c)
		// Вычисленная ранее площадь сбрасывается вместе с размерами
		if wasDerived && !surfaceDerivable(c) && !patch.SurfaceM2.Set {
			c.SurfaceM2 = nil
		}

		if err := consumptions.Update(ctx, c); err != nil {
			return mapRepoError(err, fmt.Sprintf("запись %d", id))
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	consumptionsWritten.WithLabelValues("update").Inc()
	notifyChange(s.changes)
	s.logger.Debug("Запись журнала обновлена", slog.Int64("id", id))
	return updated, nil
}

// Delete удаляет запись. Отсутствие записи не ошибка.
func (s *LedgerService) Delete(ctx context.Context, id int64) error {
	deleted, err := s.consumptions.Delete(ctx, id)
	if err != nil {
		return err
	}
	if deleted {
		consumptionsWritten.WithLabelValues("delete").Inc()
		notifyChange(s.changes)
		s.logger.Debug("Запись журнала удалена", slog.Int64("id", id))
	}
	return nil
}

// Get возвращает запись в хранимом виде.
func (s *LedgerService) Get(ctx context.Context, id int64) (*model.Consumption, error) {
	c, err := s.consumptions.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, fmt.Sprintf("запись %d", id))
	}
	return c, nil
}

// Query возвращает страницу выборки журнала.
// page < 1 приводится к 1, pageSize ограничивается диапазоном [1, MaxPageSize].
func (s *LedgerService) Query(ctx context.Context, filter model.ConsumptionFilter, page, pageSize int) (*model.ConsumptionPage, error) {
	if err := normalizeFilterDates(&filter.DateFrom, &filter.DateTo); err != nil {
		return nil, err
	}
	page, pageSize = clampPage(page, pageSize)

	total, err := s.consumptions.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.consumptions.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	return &model.ConsumptionPage{
		Rows:      rows,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
		PageCount: pageCount(total, pageSize),
	}, nil
}

// clampPage приводит номер и размер страницы к допустимым значениям.
func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = DefaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// pageCount возвращает число страниц, не меньше 1.
func pageCount(total, pageSize int) int {
	n := (total + pageSize - 1) / pageSize
	if n < 1 {
		return 1
	}
	return n
}

// applyInput переносит заданные поля ввода в запись.
// Внешние ключи переносятся, снимки заполняет resolveSnapshots.
func applyInput(c *model.Consumption, in model.ConsumptionInput) error {
	if in.EntryAt.Set {
		entryAt, err := normalizeEntryAt(in.EntryAt.V)
		if err != nil {
			return err
		}
		c.EntryAt = entryAt
	}

	for _, kind := range model.Kinds {
		if fk := in.FK(kind); fk.Set {
			*c.FK(kind) = fk.Ptr()
		}
	}

	if in.Quantity.Set {
		c.Quantity = in.Quantity.V
		if c.Quantity < 0 {
			return validationf("количество не может быть отрицательным")
		}
	}
	setFloat(&c.WeightG, in.WeightG)
	setFloat(&c.LengthMM, in.LengthMM)
	setFloat(&c.WidthMM, in.WidthMM)
	setFloat(&c.SurfaceM2, in.SurfaceM2)
	setInt(&c.SheetCount, in.SheetCount)
	setInt(&c.PlasticSheetCount, in.PlasticSheetCount)

	for _, f := range []struct {
		dst *string
		src model.Optional[string]
	}{
		{&c.Unit, in.Unit},
		{&c.PaperFormat, in.PaperFormat},
		{&c.Thickness, in.Thickness},
		{&c.SheetType, in.SheetType},
		{&c.ColorMode, in.ColorMode},
		{&c.ProjectName, in.ProjectName},
		{&c.Comment, in.Comment},
	} {
		if f.src.Set {
			*f.dst = strings.TrimSpace(f.src.V)
		}
	}

	for name, v := range map[string]*float64{"weight_g": c.WeightG, "length_mm": c.LengthMM, "width_mm": c.WidthMM, "surface_m2": c.SurfaceM2} {
		if v != nil && (*v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return validationf("%s должно быть неотрицательным числом", name)
		}
	}
	for name, v := range map[string]*int{"sheet_count": c.SheetCount, "plastic_sheet_count": c.PlasticSheetCount} {
		if v != nil && *v < 0 {
			return validationf("%s не может быть отрицательным", name)
		}
	}
	return nil
}

func setFloat(dst **float64, src model.Optional[float64]) {
	if src.Set {
		*dst = src.Ptr()
	}
}

func setInt(dst **int, src model.Optional[int]) {
	if src.Set {
		*dst = src.Ptr()
	}
}

// resolveSnapshots обновляет снимки имён для внешних ключей, заданных во вводе.
// Ключ, явно заданный как null, очищает снимок.
func resolveSnapshots(ctx context.Context, refs repository.ReferenceRepository, c *model.Consumption, in *model.ConsumptionInput) error {
	for _, kind := range model.Kinds {
		fk := in.FK(kind)
		if !fk.Set {
			continue
		}
		if !fk.Valid {
			*c.Snapshot(kind) = ""
			continue
		}
		name, err := refs.NameByID(ctx, kind, fk.V)
		if err != nil {
			return mapRepoError(err, fmt.Sprintf("%s %d", kind, fk.V))
		}
		*c.Snapshot(kind) = name
	}
	return nil
}

// surfaceDerivable сообщает, заданы ли длина и ширина для вычисления площади.
func surfaceDerivable(c *model.Consumption) bool {
	return c.LengthMM != nil && c.WidthMM != nil && *c.LengthMM > 0 && *c.WidthMM > 0
}

// deriveSurface вычисляет площадь (м²) из длины и ширины (мм), если обе заданы и положительны.
// Иначе сохраняется площадь, переданная вызывающим.
func deriveSurface(c *model.Consumption) {
	if !surfaceDerivable(c) {
		return
	}
	surface := *c.LengthMM * *c.WidthMM / 1e6
	c.SurfaceM2 = &surface
}

// normalizeEntryAt проверяет отметку времени записи и приводит её к виду
// YYYY-MM-DD или YYYY-MM-DD HH:MM (разделитель T допускается, секунды отбрасываются).
func normalizeEntryAt(s string) (string, error) {
	s = strings.TrimSpace(strings.Replace(s, "T", " ", 1))
	if s == "" {
		return "", validationf("пустая дата записи")
	}

	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout), nil
	}
	for _, layout := range []string{dateTimeLayout, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateTimeLayout), nil
		}
	}
	return "", validationf("некорректная дата %q, ожидается YYYY-MM-DD или YYYY-MM-DD HH:MM", s)
}

// normalizeFilterDates проверяет и нормализует границы периода фильтра.
func normalizeFilterDates(from, to *string) error {
	for _, d := range []*string{from, to} {
		if *d == "" {
			continue
		}
		v, err := normalizeEntryAt(*d)
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}
