package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
)

// ReferenceRepository — интерфейс доступа к шести справочникам
// и таблице связей материал-станок.
type ReferenceRepository interface {
	// Add вставляет строку, если имя свободно. Если строка с таким именем уже есть
	// (активная или нет), она реактивируется и возвращается её id.
	Add(ctx context.Context, ref model.Reference) (int64, error)
	// Update обновляет атрибуты строки (кроме active, image_path и состояния станка).
	Update(ctx context.Context, ref model.Reference) error
	// Get возвращает строку по id независимо от active.
	Get(ctx context.Context, kind model.Kind, id int64) (model.Reference, error)
	// List возвращает строки справочника в естественном порядке вида.
	List(ctx context.Context, kind model.Kind, activeOnly bool) ([]model.Reference, error)
	// NameByID возвращает текущее имя строки (в том числе неактивной).
	NameByID(ctx context.Context, kind model.Kind, id int64) (string, error)
	// IDByName возвращает id строки по точному имени.
	IDByName(ctx context.Context, kind model.Kind, name string) (int64, error)
	// Deactivate выставляет active = 0. Повторный вызов не ошибка.
	Deactivate(ctx context.Context, kind model.Kind, id int64) error
	// BulkDeactivate деактивирует набор строк одним запросом.
	BulkDeactivate(ctx context.Context, kind model.Kind, ids []int64) (int64, error)
	// SetImagePath сохраняет путь изображения строки.
	SetImagePath(ctx context.Context, kind model.Kind, id int64, path string) error
	// SetMachineStatus обновляет состояние станка.
	SetMachineStatus(ctx context.Context, id int64, status model.MachineStatus, reason, date string) error
	// LinkMaterialMachine связывает материал со станком (идемпотентно).
	LinkMaterialMachine(ctx context.Context, materialID, machineID int64) error
	// UnlinkAllMaterialMachines удаляет все связи материала.
	UnlinkAllMaterialMachines(ctx context.Context, materialID int64) error
	// ListMaterialMachines возвращает всю таблицу связей.
	ListMaterialMachines(ctx context.Context) ([]model.MaterialMachine, error)
}

// kindSchema — колонки вида справочника помимо id, name, image_path, active.
type kindSchema struct {
	// attrs — изменяемые через Add/Update колонки
	attrs []string
	// readonly — колонки, которые только читаются (меняются отдельными операциями)
	readonly []string
	// orderBy — естественный порядок листинга
	orderBy string
}

var schemas = map[model.Kind]kindSchema{
	model.KindPreparer:     {orderBy: "name"},
	model.KindActivityType: {attrs: []string{"icon", "color", "badge_class", "default_unit"}, orderBy: "id"},
	model.KindMachine: {
		attrs:    []string{"activity_type_id", "quantity", "brand", "work_area", "power", "description"},
		readonly: []string{"status", "repair_reason", "repair_date"},
		orderBy:  "activity_type_id, name",
	},
	model.KindMaterial: {attrs: []string{"activity_type_id", "unit"}, orderBy: "activity_type_id, name"},
	model.KindClass:    {orderBy: "name"},
	model.KindReferent: {attrs: []string{"category"}, orderBy: "category, name"},
}

// attrValues возвращает значения изменяемых колонок в порядке kindSchema.attrs.
func attrValues(ref model.Reference) []any {
	switch r := ref.(type) {
	case *model.ActivityType:
		return []any{r.Icon, r.Color, r.BadgeClass, r.DefaultUnit}
	case *model.Machine:
		return []any{r.ActivityTypeID, r.Quantity, r.Brand, r.WorkArea, r.Power, r.Description}
	case *model.Material:
		return []any{r.ActivityTypeID, r.Unit}
	case *model.Referent:
		return []any{r.Category}
	}
	return nil
}

// scanDest возвращает приёмники для SELECT id, name, image_path, active, attrs..., readonly...
func scanDest(ref model.Reference) []any {
	switch r := ref.(type) {
	case *model.Preparer:
		return []any{&r.ID, &r.Name, &r.ImagePath, &r.Active}
	case *model.ActivityType:
		return []any{&r.ID, &r.Name, &r.ImagePath, &r.Active, &r.Icon, &r.Color, &r.BadgeClass, &r.DefaultUnit}
	case *model.Machine:
		return []any{&r.ID, &r.Name, &r.ImagePath, &r.Active,
			&r.ActivityTypeID, &r.Quantity, &r.Brand, &r.WorkArea, &r.Power, &r.Description,
			&r.Status, &r.RepairReason, &r.RepairDate}
	case *model.Material:
		return []any{&r.ID, &r.Name, &r.ImagePath, &r.Active, &r.ActivityTypeID, &r.Unit}
	case *model.Class:
		return []any{&r.ID, &r.Name, &r.ImagePath, &r.Active}
	case *model.Referent:
		return []any{&r.ID, &r.Name, &r.ImagePath, &r.Active, &r.Category}
	}
	return nil
}

// selectColumns возвращает список колонок SELECT для вида.
func selectColumns(kind model.Kind) string {
	s := schemas[kind]
	cols := append([]string{"id", "name", "image_path", "active"}, s.attrs...)
	cols = append(cols, s.readonly...)
	return strings.Join(cols, ", ")
}

// imagePath извлекает путь изображения из строки справочника.
func imagePath(ref model.Reference) string {
	switch r := ref.(type) {
	case *model.Preparer:
		return r.ImagePath
	case *model.ActivityType:
		return r.ImagePath
	case *model.Machine:
		return r.ImagePath
	case *model.Material:
		return r.ImagePath
	case *model.Class:
		return r.ImagePath
	case *model.Referent:
		return r.ImagePath
	}
	return ""
}

// referenceRepo — реализация ReferenceRepository.
type referenceRepo struct {
	db DBTX
}

// NewReferenceRepository создаёт репозиторий справочников.
func NewReferenceRepository(db DBTX) ReferenceRepository {
	return &referenceRepo{db: db}
}

func (r *referenceRepo) Add(ctx context.Context, ref model.Reference) (int64, error) {
	kind := ref.Kind()
	s := schemas[kind]

	cols := append([]string{"name", "image_path"}, s.attrs...)
	args := append([]any{ref.DisplayName(), imagePath(ref)}, attrValues(ref)...)

	// Машина создаётся с явным состоянием
	if m, ok := ref.(*model.Machine); ok {
		status := m.Status
		if status == "" {
			status = model.MachineAvailable
		}
		cols = append(cols, "status")
		args = append(args, string(status))
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (name) DO UPDATE SET active = 1
		RETURNING id`, kind.Table(), strings.Join(cols, ", "), placeholders(len(cols)))

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("ошибка добавления в %s: %w", kind, err)
	}
	return id, nil
}

func (r *referenceRepo) Update(ctx context.Context, ref model.Reference) error {
	kind := ref.Kind()
	s := schemas[kind]

	sets := []string{"name = ?"}
	for _, c := range s.attrs {
		sets = append(sets, c+" = ?")
	}
	args := append([]any{ref.DisplayName()}, attrValues(ref)...)
	args = append(args, ref.EntityID())

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, kind.Table(), strings.Join(sets, ", "))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: имя %q уже используется", ErrConflict, ref.DisplayName())
		}
		return fmt.Errorf("ошибка обновления %s: %w", kind, err)
	}
	return expectAffected(res)
}

func (r *referenceRepo) Get(ctx context.Context, kind model.Kind, id int64) (model.Reference, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns(kind), kind.Table())

	ref := model.NewReference(kind)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(scanDest(ref)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения %s: %w", kind, err)
	}

	if m, ok := ref.(*model.Material); ok {
		links, err := r.materialLinks(ctx, &m.ID)
		if err != nil {
			return nil, err
		}
		m.MachineIDs = links[m.ID]
		if m.MachineIDs == nil {
			m.MachineIDs = []int64{}
		}
	}
	return ref, nil
}

func (r *referenceRepo) List(ctx context.Context, kind model.Kind, activeOnly bool) ([]model.Reference, error) {
	where := ""
	if activeOnly {
		where = "WHERE active = 1"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY %s`,
		selectColumns(kind), kind.Table(), where, schemas[kind].orderBy)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка %s: %w", kind, err)
	}
	defer rows.Close()

	result := []model.Reference{}
	for rows.Next() {
		ref := model.NewReference(kind)
		if err := rows.Scan(scanDest(ref)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования %s: %w", kind, err)
		}
		result = append(result, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", kind, err)
	}
	rows.Close()

	if kind == model.KindMaterial {
		links, err := r.materialLinks(ctx, nil)
		if err != nil {
			return nil, err
		}
		for _, ref := range result {
			m := ref.(*model.Material)
			m.MachineIDs = links[m.ID]
			if m.MachineIDs == nil {
				m.MachineIDs = []int64{}
			}
		}
	}
	return result, nil
}

// materialLinks возвращает id станков по материалам (для одного материала или всех).
func (r *referenceRepo) materialLinks(ctx context.Context, materialID *int64) (map[int64][]int64, error) {
	query := `SELECT material_id, machine_id FROM material_machines`
	var args []any
	if materialID != nil {
		query += ` WHERE material_id = ?`
		args = append(args, *materialID)
	}
	query += ` ORDER BY material_id, machine_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения связей материал-станок: %w", err)
	}
	defer rows.Close()

	links := make(map[int64][]int64)
	for rows.Next() {
		var mat, mac int64
		if err := rows.Scan(&mat, &mac); err != nil {
			return nil, fmt.Errorf("ошибка сканирования связи материал-станок: %w", err)
		}
		links[mat] = append(links[mat], mac)
	}
	return links, rows.Err()
}

func (r *referenceRepo) NameByID(ctx context.Context, kind model.Kind, id int64) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT name FROM %s WHERE id = ?`, kind.Table()), id).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения имени %s: %w", kind, err)
	}
	return name, nil
}

func (r *referenceRepo) IDByName(ctx context.Context, kind model.Kind, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, kind.Table()), name).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка поиска %s по имени: %w", kind, err)
	}
	return id, nil
}

func (r *referenceRepo) Deactivate(ctx context.Context, kind model.Kind, id int64) error {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET active = 0 WHERE id = ?`, kind.Table()), id)
	if err != nil {
		return fmt.Errorf("ошибка деактивации %s: %w", kind, err)
	}
	return expectAffected(res)
}

func (r *referenceRepo) BulkDeactivate(ctx context.Context, kind model.Kind, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET active = 0 WHERE id IN (%s)`, kind.Table(), placeholders(len(ids))),
		args...)
	if err != nil {
		return 0, fmt.Errorf("ошибка массовой деактивации %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ошибка получения числа строк: %w", err)
	}
	return n, nil
}

func (r *referenceRepo) SetImagePath(ctx context.Context, kind model.Kind, id int64, path string) error {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET image_path = ? WHERE id = ?`, kind.Table()), path, id)
	if err != nil {
		return fmt.Errorf("ошибка сохранения изображения %s: %w", kind, err)
	}
	return expectAffected(res)
}

func (r *referenceRepo) SetMachineStatus(ctx context.Context, id int64, status model.MachineStatus, reason, date string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE machines SET status = ?, repair_reason = ?, repair_date = ? WHERE id = ?`,
		string(status), reason, date, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления состояния станка: %w", err)
	}
	return expectAffected(res)
}

func (r *referenceRepo) LinkMaterialMachine(ctx context.Context, materialID, machineID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO material_machines (material_id, machine_id) VALUES (?, ?)`,
		materialID, machineID)
	if err != nil {
		return fmt.Errorf("ошибка связывания материала %d со станком %d: %w", materialID, machineID, err)
	}
	return nil
}

func (r *referenceRepo) UnlinkAllMaterialMachines(ctx context.Context, materialID int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM material_machines WHERE material_id = ?`, materialID); err != nil {
		return fmt.Errorf("ошибка удаления связей материала %d: %w", materialID, err)
	}
	return nil
}

func (r *referenceRepo) ListMaterialMachines(ctx context.Context) ([]model.MaterialMachine, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT material_id, machine_id FROM material_machines ORDER BY material_id, machine_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения связей материал-станок: %w", err)
	}
	defer rows.Close()

	result := []model.MaterialMachine{}
	for rows.Next() {
		var mm model.MaterialMachine
		if err := rows.Scan(&mm.MaterialID, &mm.MachineID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования связи материал-станок: %w", err)
		}
		result = append(result, mm)
	}
	return result, rows.Err()
}

// expectAffected возвращает ErrNotFound, если запрос не затронул ни одной строки.
func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа строк: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
