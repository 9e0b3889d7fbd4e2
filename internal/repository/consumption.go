package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
)

// ConsumptionRepository — интерфейс CRUD для журнала расхода.
type ConsumptionRepository interface {
	// Create вставляет запись и заполняет ID, CreatedAt, UpdatedAt.
	Create(ctx context.Context, c *model.Consumption) error
	// GetByID возвращает запись в хранимом виде (снимки имён).
	GetByID(ctx context.Context, id int64) (*model.Consumption, error)
	// Update перезаписывает все поля записи и обновляет UpdatedAt.
	Update(ctx context.Context, c *model.Consumption) error
	// Delete удаляет запись. Возвращает false, если записи не было.
	Delete(ctx context.Context, id int64) (bool, error)
	// List возвращает страницу выборки с fallback-join имён.
	List(ctx context.Context, filter model.ConsumptionFilter, limit, offset int) ([]model.ConsumptionView, error)
	// Count возвращает количество записей, удовлетворяющих фильтру.
	Count(ctx context.Context, filter model.ConsumptionFilter) (int, error)
	// Each обходит всю выборку в порядке List (для экспорта).
	Each(ctx context.Context, filter model.ConsumptionFilter, fn func(v *model.ConsumptionView) error) error
}

// consumptionRepo — реализация ConsumptionRepository.
type consumptionRepo struct {
	db DBTX
}

// NewConsumptionRepository создаёт репозиторий журнала расхода.
func NewConsumptionRepository(db DBTX) ConsumptionRepository {
	return &consumptionRepo{db: db}
}

// consumptionColumns — записываемые колонки в порядке consumptionArgs.
var consumptionColumns = []string{
	"entry_at",
	"preparer_id", "preparer_name",
	"activity_type_id", "activity_type_name",
	"machine_id", "machine_name",
	"material_id", "material_name",
	"class_id", "class_name",
	"referent_id", "referent_name",
	"quantity", "unit", "weight_g", "length_mm", "width_mm", "surface_m2",
	"sheet_count", "paper_format", "thickness", "plastic_sheet_count", "sheet_type",
	"color_mode", "project_name", "comment",
}

func consumptionArgs(c *model.Consumption) []any {
	return []any{
		c.EntryAt,
		c.PreparerID, c.PreparerName,
		c.ActivityTypeID, c.ActivityTypeName,
		c.MachineID, c.MachineName,
		c.MaterialID, c.MaterialName,
		c.ClassID, c.ClassName,
		c.ReferentID, c.ReferentName,
		c.Quantity, c.Unit, c.WeightG, c.LengthMM, c.WidthMM, c.SurfaceM2,
		c.SheetCount, c.PaperFormat, c.Thickness, c.PlasticSheetCount, c.SheetType,
		c.ColorMode, c.ProjectName, c.Comment,
	}
}

// consumptionDest — приёмники для id, consumptionColumns..., created_at, updated_at.
func consumptionDest(c *model.Consumption) []any {
	return []any{
		&c.ID,
		&c.EntryAt,
		&c.PreparerID, &c.PreparerName,
		&c.ActivityTypeID, &c.ActivityTypeName,
		&c.MachineID, &c.MachineName,
		&c.MaterialID, &c.MaterialName,
		&c.ClassID, &c.ClassName,
		&c.ReferentID, &c.ReferentName,
		&c.Quantity, &c.Unit, &c.WeightG, &c.LengthMM, &c.WidthMM, &c.SurfaceM2,
		&c.SheetCount, &c.PaperFormat, &c.Thickness, &c.PlasticSheetCount, &c.SheetType,
		&c.ColorMode, &c.ProjectName, &c.Comment,
		&c.CreatedAt, &c.UpdatedAt,
	}
}

func (r *consumptionRepo) Create(ctx context.Context, c *model.Consumption) error {
	ts := now()
	cols := append(append([]string{}, consumptionColumns...), "created_at", "updated_at")
	args := append(consumptionArgs(c), ts, ts)

	query := fmt.Sprintf(`INSERT INTO consumptions (%s) VALUES (%s) RETURNING id`,
		strings.Join(cols, ", "), placeholders(len(cols)))

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID); err != nil {
		return fmt.Errorf("ошибка создания записи расхода: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = ts, ts
	return nil
}

func (r *consumptionRepo) GetByID(ctx context.Context, id int64) (*model.Consumption, error) {
	query := fmt.Sprintf(`SELECT id, %s, created_at, updated_at FROM consumptions WHERE id = ?`,
		strings.Join(consumptionColumns, ", "))

	c := &model.Consumption{}
	if err := r.db.QueryRowContext(ctx, query, id).Scan(consumptionDest(c)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи расхода: %w", err)
	}
	return c, nil
}

func (r *consumptionRepo) Update(ctx context.Context, c *model.Consumption) error {
	sets := make([]string, 0, len(consumptionColumns)+1)
	for _, col := range consumptionColumns {
		sets = append(sets, col+" = ?")
	}
	sets = append(sets, "updated_at = ?")

	ts := now()
	args := append(consumptionArgs(c), ts, c.ID)

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE consumptions SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи расхода: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	c.UpdatedAt = ts
	return nil
}

func (r *consumptionRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM consumptions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления записи расхода: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка получения числа строк: %w", err)
	}
	return n > 0, nil
}

// viewSelect — выборка журнала с fallback-join: текущее имя справочника,
// если строка справочника существует, иначе снимок из записи.
const viewSelect = `
	SELECT c.id, c.entry_at,
		c.preparer_id, COALESCE(p.name, c.preparer_name),
		c.activity_type_id, COALESCE(t.name, c.activity_type_name),
		c.machine_id, COALESCE(mc.name, c.machine_name),
		c.material_id, COALESCE(mt.name, c.material_name),
		c.class_id, COALESCE(cl.name, c.class_name),
		c.referent_id, COALESCE(rf.name, c.referent_name),
		c.quantity, c.unit, c.weight_g, c.length_mm, c.width_mm, c.surface_m2,
		c.sheet_count, c.paper_format, c.thickness, c.plastic_sheet_count, c.sheet_type,
		c.color_mode, c.project_name, c.comment,
		c.created_at, c.updated_at,
		COALESCE(t.icon, ''), COALESCE(t.color, ''), COALESCE(t.badge_class, ''),
		COALESCE(rf.category, ''), COALESCE(mt.unit, '')
	FROM consumptions c
	LEFT JOIN preparers p ON p.id = c.preparer_id
	LEFT JOIN activity_types t ON t.id = c.activity_type_id
	LEFT JOIN machines mc ON mc.id = c.machine_id
	LEFT JOIN materials mt ON mt.id = c.material_id
	LEFT JOIN classes cl ON cl.id = c.class_id
	LEFT JOIN referents rf ON rf.id = c.referent_id`

// viewOrder — порядок выборки; id завершает порядок до полного.
const viewOrder = ` ORDER BY c.entry_at DESC, c.created_at DESC, c.id DESC`

func scanView(rows *sql.Rows) (*model.ConsumptionView, error) {
	v := &model.ConsumptionView{}
	dest := append(consumptionDest(&v.Consumption),
		&v.ActivityIcon, &v.ActivityColor, &v.BadgeClass, &v.ReferentCategory, &v.MaterialUnit)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("ошибка сканирования записи расхода: %w", err)
	}
	return v, nil
}

func (r *consumptionRepo) List(ctx context.Context, filter model.ConsumptionFilter, limit, offset int) ([]model.ConsumptionView, error) {
	where, args := buildConsumptionWhere(filter)
	query := viewSelect + where + viewOrder + ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки журнала: %w", err)
	}
	defer rows.Close()

	result := []model.ConsumptionView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

func (r *consumptionRepo) Count(ctx context.Context, filter model.ConsumptionFilter) (int, error) {
	where, args := buildConsumptionWhere(filter)

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consumptions c`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей журнала: %w", err)
	}
	return count, nil
}

func (r *consumptionRepo) Each(ctx context.Context, filter model.ConsumptionFilter, fn func(v *model.ConsumptionView) error) error {
	where, args := buildConsumptionWhere(filter)

	rows, err := r.db.QueryContext(ctx, viewSelect+where+viewOrder, args...)
	if err != nil {
		return fmt.Errorf("ошибка выборки журнала: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// buildConsumptionWhere строит WHERE по фильтру журнала.
// Верхняя граница периода, заданная только датой, расширяется до конца дня.
func buildConsumptionWhere(f model.ConsumptionFilter) (whereClause string, args []any) {
	var conditions []string

	if f.DateFrom != "" {
		conditions = append(conditions, "c.entry_at >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conditions = append(conditions, "c.entry_at <= ?")
		args = append(args, EndOfDay(f.DateTo))
	}

	fks := []struct {
		col string
		id  *int64
	}{
		{"c.activity_type_id", f.ActivityTypeID},
		{"c.preparer_id", f.PreparerID},
		{"c.class_id", f.ClassID},
		{"c.referent_id", f.ReferentID},
		{"c.machine_id", f.MachineID},
		{"c.material_id", f.MaterialID},
	}
	for _, fk := range fks {
		if fk.id != nil {
			conditions = append(conditions, fk.col+" = ?")
			args = append(args, *fk.id)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// EndOfDay дополняет дату без времени до последней секунды дня.
func EndOfDay(date string) string {
	if len(date) == len("2006-01-02") {
		return date + " 23:59:59"
	}
	return date
}
