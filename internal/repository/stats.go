package repository

import (
	"context"
	"fmt"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
)

// StatsRepository — агрегирующие запросы по журналу расхода.
// Имена групп разрешаются тем же fallback-join, что и выборка журнала.
type StatsRepository interface {
	Total(ctx context.Context, f model.StatsFilter) (int, error)
	ByActivityType(ctx context.Context, f model.StatsFilter) ([]model.ActivityCount, error)
	ByPreparer(ctx context.Context, f model.StatsFilter) ([]model.NamedCount, error)
	// Totals возвращает суммарный вес (г), площадь (м²) и число листов.
	Totals(ctx context.Context, f model.StatsFilter) (weight, surface float64, sheets int, err error)
	CountByActivity(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error)
	WeightByMaterial(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error)
	SurfaceByMaterial(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error)
	SheetsByColorMode(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error)
	TopMachines(ctx context.Context, f model.StatsFilter, limit int) ([]model.NamedCount, error)
	TopClasses(ctx context.Context, f model.StatsFilter, limit int) ([]model.NamedCount, error)
	Histogram(ctx context.Context, f model.StatsFilter) (*model.ActivityHistogram, error)
}

// statsRepo — реализация StatsRepository.
type statsRepo struct {
	db DBTX
}

// NewStatsRepository создаёт репозиторий статистики.
func NewStatsRepository(db DBTX) StatsRepository {
	return &statsRepo{db: db}
}

// statsWhere строит WHERE по периоду и дополнительным условиям.
func statsWhere(f model.StatsFilter, extra ...string) (string, []any) {
	where, args := buildConsumptionWhere(model.ConsumptionFilter{DateFrom: f.DateFrom, DateTo: f.DateTo})
	for _, cond := range extra {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	return where, args
}

func (r *statsRepo) Total(ctx context.Context, f model.StatsFilter) (int, error) {
	where, args := statsWhere(f)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consumptions c`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return n, nil
}

func (r *statsRepo) ByActivityType(ctx context.Context, f model.StatsFilter) ([]model.ActivityCount, error) {
	where, args := statsWhere(f)
	query := `
		SELECT COALESCE(t.name, c.activity_type_name) AS label,
			COALESCE(t.icon, ''), COALESCE(t.color, ''), COALESCE(t.badge_class, ''),
			COUNT(*) AS cnt
		FROM consumptions c
		LEFT JOIN activity_types t ON t.id = c.activity_type_id` + where + `
		GROUP BY 1, 2, 3, 4
		HAVING label <> ''
		ORDER BY cnt DESC, label`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка статистики по видам деятельности: %w", err)
	}
	defer rows.Close()

	result := []model.ActivityCount{}
	for rows.Next() {
		var ac model.ActivityCount
		if err := rows.Scan(&ac.Name, &ac.Icon, &ac.Color, &ac.BadgeClass, &ac.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		result = append(result, ac)
	}
	return result, rows.Err()
}

func (r *statsRepo) ByPreparer(ctx context.Context, f model.StatsFilter) ([]model.NamedCount, error) {
	return r.namedCounts(ctx, f, model.KindPreparer, -1)
}

func (r *statsRepo) TopMachines(ctx context.Context, f model.StatsFilter, limit int) ([]model.NamedCount, error) {
	return r.namedCounts(ctx, f, model.KindMachine, limit)
}

func (r *statsRepo) TopClasses(ctx context.Context, f model.StatsFilter, limit int) ([]model.NamedCount, error) {
	return r.namedCounts(ctx, f, model.KindClass, limit)
}

// namedCounts группирует записи по имени строки справочника (limit < 0 — без ограничения).
func (r *statsRepo) namedCounts(ctx context.Context, f model.StatsFilter, kind model.Kind, limit int) ([]model.NamedCount, error) {
	where, args := statsWhere(f)
	query := fmt.Sprintf(`
		SELECT COALESCE(j.name, c.%s) AS label, COUNT(*) AS cnt
		FROM consumptions c
		LEFT JOIN %s j ON j.id = c.%s`+where+`
		GROUP BY 1
		HAVING label <> ''
		ORDER BY cnt DESC, label
		LIMIT ?`, kind.SnapshotColumn(), kind.Table(), kind.FKColumn())
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка статистики по %s: %w", kind, err)
	}
	defer rows.Close()

	result := []model.NamedCount{}
	for rows.Next() {
		var nc model.NamedCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		result = append(result, nc)
	}
	return result, rows.Err()
}

func (r *statsRepo) Totals(ctx context.Context, f model.StatsFilter) (weight, surface float64, sheets int, err error) {
	where, args := statsWhere(f)
	query := `
		SELECT COALESCE(SUM(c.weight_g), 0), COALESCE(SUM(c.surface_m2), 0), COALESCE(SUM(c.sheet_count), 0)
		FROM consumptions c` + where

	if err = r.db.QueryRowContext(ctx, query, args...).Scan(&weight, &surface, &sheets); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка подсчёта итогов: %w", err)
	}
	return weight, surface, sheets, nil
}

func (r *statsRepo) CountByActivity(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error) {
	where, args := statsWhere(f)
	query := `
		SELECT strftime(?, c.entry_at) AS period, COALESCE(t.name, c.activity_type_name) AS series, COUNT(*)
		FROM consumptions c
		LEFT JOIN activity_types t ON t.id = c.activity_type_id` + where + `
		GROUP BY 1, 2
		ORDER BY 1, 2`
	return r.timeline(ctx, query, append([]any{format}, args...))
}

func (r *statsRepo) WeightByMaterial(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error) {
	return r.sumByMaterial(ctx, f, format, "weight_g")
}

func (r *statsRepo) SurfaceByMaterial(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error) {
	return r.sumByMaterial(ctx, f, format, "surface_m2")
}

// sumByMaterial суммирует числовую колонку по периодам и материалам.
// column берётся только из фиксированного набора вызывающих методов.
func (r *statsRepo) sumByMaterial(ctx context.Context, f model.StatsFilter, format, column string) ([]model.TimelinePoint, error) {
	where, args := statsWhere(f, "c."+column+" IS NOT NULL")
	query := `
		SELECT strftime(?, c.entry_at) AS period, COALESCE(mt.name, c.material_name) AS series, SUM(c.` + column + `)
		FROM consumptions c
		LEFT JOIN materials mt ON mt.id = c.material_id` + where + `
		GROUP BY 1, 2
		ORDER BY 1, 2`
	return r.timeline(ctx, query, append([]any{format}, args...))
}

func (r *statsRepo) SheetsByColorMode(ctx context.Context, f model.StatsFilter, format string) ([]model.TimelinePoint, error) {
	where, args := statsWhere(f, "c.sheet_count IS NOT NULL")
	query := `
		SELECT strftime(?, c.entry_at) AS period, c.color_mode AS series, SUM(c.sheet_count)
		FROM consumptions c` + where + `
		GROUP BY 1, 2
		ORDER BY 1, 2`
	return r.timeline(ctx, query, append([]any{format}, args...))
}

func (r *statsRepo) timeline(ctx context.Context, query string, args []any) ([]model.TimelinePoint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка построения временного ряда: %w", err)
	}
	defer rows.Close()

	result := []model.TimelinePoint{}
	for rows.Next() {
		var p model.TimelinePoint
		var period *string
		if err := rows.Scan(&period, &p.Series, &p.Value); err != nil {
			return nil, fmt.Errorf("ошибка сканирования временного ряда: %w", err)
		}
		// Некорректная отметка времени даёт NULL в strftime
		if period == nil {
			continue
		}
		p.Period = *period
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *statsRepo) Histogram(ctx context.Context, f model.StatsFilter) (*model.ActivityHistogram, error) {
	h := &model.ActivityHistogram{}

	// Час суток учитывается только для записей со временем
	where, args := statsWhere(f, "length(c.entry_at) > 10")
	rows, err := r.db.QueryContext(ctx, `
		SELECT CAST(strftime('%H', c.entry_at) AS INTEGER), COUNT(*)
		FROM consumptions c`+where+`
		GROUP BY 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка распределения по часам: %w", err)
	}
	if err := fillHistogram(rows, h.ByHour[:]); err != nil {
		return nil, err
	}

	where, args = statsWhere(f)
	rows, err = r.db.QueryContext(ctx, `
		SELECT CAST(strftime('%w', c.entry_at) AS INTEGER), COUNT(*)
		FROM consumptions c`+where+`
		GROUP BY 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка распределения по дням недели: %w", err)
	}
	if err := fillHistogram(rows, h.ByWeekday[:]); err != nil {
		return nil, err
	}
	return h, nil
}

func fillHistogram(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}, buckets []int) error {
	defer rows.Close()
	for rows.Next() {
		var bucket *int
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return fmt.Errorf("ошибка сканирования распределения: %w", err)
		}
		if bucket != nil && *bucket >= 0 && *bucket < len(buckets) {
			buckets[*bucket] = n
		}
	}
	return rows.Err()
}
