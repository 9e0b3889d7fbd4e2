// transfer.go — CSV: экспорт журнала и справочников, шаблоны импорта,
// построчный импорт справочников с разрешением ссылок по имени.
// Разделитель ';', на выходе UTF-8 с BOM (для Excel), BOM на входе допускается.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
)

// csvSeparator — разделитель полей CSV.
const csvSeparator = ';'

// machineListSeparator — разделитель имён станков в колонке machines материала.
const machineListSeparator = "|"

// referenceColumns — колонки CSV для каждого вида справочника.
var referenceColumns = map[model.Kind][]string{
	model.KindPreparer:     {"name"},
	model.KindClass:        {"name"},
	model.KindReferent:     {"name", "category"},
	model.KindActivityType: {"name", "icon", "color", "badge_class", "default_unit"},
	model.KindMachine:      {"name", "activity_type", "quantity", "brand", "work_area", "power", "description"},
	model.KindMaterial:     {"name", "activity_type", "unit", "machines"},
}

// templateExamples — примеры строк шаблонов импорта.
var templateExamples = map[model.Kind][][]string{
	model.KindPreparer: {{"Jean Martin"}, {"Marie Curie"}},
	model.KindClass:    {{"501"}, {"502"}, {"BTS CPRP"}},
	model.KindReferent: {
		{"M. Dupont", "Professeur"},
		{"Mme Martin", "Agent technique"},
		{"Entreprise X", "Demande extérieure"},
	},
	model.KindActivityType: {{"Gravure", "✏️", "#64748b", "badge-gravure", "pièces"}},
	model.KindMachine:      {{"Exemple Machine", "Impression 3D", "1", "Marque", "300x300 mm", "100W", "Description"}},
	model.KindMaterial:     {{"Exemple Matériau", "Impression 3D", "g", "Creality Ender 3|Raise 3D Pro"}},
}

// consumptionHeader — заголовок экспорта журнала.
var consumptionHeader = []string{
	"Date", "Préparateur", "Type activité", "Machine", "Matériau", "Classe",
	"Référent", "Catégorie réf.", "Quantité", "Unité", "Poids (g)", "Longueur (mm)",
	"Largeur (mm)", "Surface (m²)", "Nb feuilles", "Format papier", "Épaisseur",
	"Nb feuilles plastique", "Type feuille", "Mode couleur", "Projet", "Commentaire",
}

// ImportResult — итог импорта CSV.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// TransferService — сервис CSV импорта и экспорта.
type TransferService struct {
	refs         *ReferenceService
	consumptions repository.ConsumptionRepository
	lookup       repository.ReferenceRepository
	logger       *slog.Logger
}

// NewTransferService создаёт сервис CSV.
func NewTransferService(tx *repository.TxRunner, refs *ReferenceService, logger *slog.Logger) *TransferService {
	return &TransferService{
		refs:         refs,
		consumptions: repository.NewConsumptionRepository(tx.DB()),
		lookup:       repository.NewReferenceRepository(tx.DB()),
		logger:       logger.With(slog.String("component", "transfer_service")),
	}
}

// newCSVWriter возвращает writer CSV, пишущий UTF-8 с BOM.
func newCSVWriter(w io.Writer) (*csv.Writer, io.Closer) {
	enc := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(enc)
	cw.Comma = csvSeparator
	return cw, enc
}

// flushCSV завершает запись CSV и закрывает кодировщик.
func flushCSV(cw *csv.Writer, enc io.Closer) error {
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	return enc.Close()
}

// ExportConsumptions пишет выборку журнала в CSV (имена через fallback-join).
func (s *TransferService) ExportConsumptions(ctx context.Context, w io.Writer, filter model.ConsumptionFilter) error {
	if err := normalizeFilterDates(&filter.DateFrom, &filter.DateTo); err != nil {
		return err
	}

	cw, enc := newCSVWriter(w)
	if err := cw.Write(consumptionHeader); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}

	n := 0
	err := s.consumptions.Each(ctx, filter, func(v *model.ConsumptionView) error {
		n++
		return cw.Write([]string{
			v.EntryAt, v.PreparerName, v.ActivityTypeName, v.MachineName, v.MaterialName, v.ClassName,
			v.ReferentName, v.ReferentCategory, formatFloat(&v.Quantity), v.Unit, formatFloat(v.WeightG), formatFloat(v.LengthMM),
			formatFloat(v.WidthMM), formatFloat(v.SurfaceM2), formatInt(v.SheetCount), v.PaperFormat, v.Thickness,
			formatInt(v.PlasticSheetCount), v.SheetType, v.ColorMode, v.ProjectName, v.Comment,
		})
	})
	if err != nil {
		return err
	}
	if err := flushCSV(cw, enc); err != nil {
		return err
	}

	s.logger.Debug("Журнал экспортирован в CSV", slog.Int("rows", n))
	return nil
}

// ExportReference пишет активные строки справочника в CSV в формате шаблона импорта.
func (s *TransferService) ExportReference(ctx context.Context, w io.Writer, kind model.Kind) error {
	list, err := s.refs.List(ctx, kind, false)
	if err != nil {
		return err
	}

	var typeNames, machineNames map[int64]string
	if kind == model.KindMachine || kind == model.KindMaterial {
		if typeNames, err = s.namesByID(ctx, model.KindActivityType); err != nil {
			return err
		}
	}
	if kind == model.KindMaterial {
		if machineNames, err = s.namesByID(ctx, model.KindMachine); err != nil {
			return err
		}
	}

	cw, enc := newCSVWriter(w)
	if err := cw.Write(referenceColumns[kind]); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	for _, ref := range list {
		if err := cw.Write(referenceRecord(ref, typeNames, machineNames)); err != nil {
			return fmt.Errorf("ошибка записи CSV: %w", err)
		}
	}
	return flushCSV(cw, enc)
}

// Template пишет шаблон импорта: заголовок и строки-примеры.
func (s *TransferService) Template(w io.Writer, kind model.Kind) error {
	cw, enc := newCSVWriter(w)
	if err := cw.Write(referenceColumns[kind]); err != nil {
		return fmt.Errorf("ошибка записи CSV: %w", err)
	}
	for _, row := range templateExamples[kind] {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("ошибка записи CSV: %w", err)
		}
	}
	return flushCSV(cw, enc)
}

func (s *TransferService) namesByID(ctx context.Context, kind model.Kind) (map[int64]string, error) {
	list, err := s.lookup.List(ctx, kind, false)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(list))
	for _, ref := range list {
		names[ref.EntityID()] = ref.DisplayName()
	}
	return names, nil
}

func (s *TransferService) idsByName(ctx context.Context, kind model.Kind) (map[string]int64, error) {
	list, err := s.lookup.List(ctx, kind, false)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(list))
	for _, ref := range list {
		ids[ref.DisplayName()] = ref.EntityID()
	}
	return ids, nil
}

// referenceRecord формирует строку CSV для строки справочника.
func referenceRecord(ref model.Reference, typeNames, machineNames map[int64]string) []string {
	typeName := func(id *int64) string {
		if id == nil {
			return ""
		}
		return typeNames[*id]
	}

	switch r := ref.(type) {
	case *model.Referent:
		return []string{r.Name, r.Category}
	case *model.ActivityType:
		return []string{r.Name, r.Icon, r.Color, r.BadgeClass, r.DefaultUnit}
	case *model.Machine:
		return []string{r.Name, typeName(r.ActivityTypeID), strconv.Itoa(r.Quantity), r.Brand, r.WorkArea, r.Power, r.Description}
	case *model.Material:
		machines := make([]string, 0, len(r.MachineIDs))
		for _, id := range r.MachineIDs {
			if name, ok := machineNames[id]; ok {
				machines = append(machines, name)
			}
		}
		return []string{r.Name, typeName(r.ActivityTypeID), r.Unit, strings.Join(machines, machineListSeparator)}
	}
	return []string{ref.DisplayName()}
}

// Import импортирует строки справочника из CSV. Каждая строка фиксируется отдельно;
// ошибки строк собираются в результат и не прерывают импорт.
// Заголовок без колонки name — ошибка валидации всего импорта.
func (s *TransferService) Import(ctx context.Context, kind model.Kind, r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.Comma = csvSeparator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, validationf("пустой файл CSV")
		}
		return nil, validationf("некорректный заголовок CSV: %v", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := columns["name"]; !ok {
		return nil, validationf("в заголовке нет колонки name")
	}

	var typeIDs, machineIDs map[string]int64
	if kind == model.KindMachine || kind == model.KindMaterial {
		if typeIDs, err = s.idsByName(ctx, model.KindActivityType); err != nil {
			return nil, err
		}
	}
	if kind == model.KindMaterial {
		if machineIDs, err = s.idsByName(ctx, model.KindMachine); err != nil {
			return nil, err
		}
	}

	result := &ImportResult{Errors: []string{}}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("ошибка чтения CSV: %w", err)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("строка %d: %v", perr.StartLine, perr.Err))
			csvImportRows.WithLabelValues(string(kind), "error").Inc()
			continue
		}
		// Номер строки файла: пустые строки пропускаются читателем CSV
		line, _ := cr.FieldPos(0)

		row := csvRow{record: record, columns: columns}
		if row.empty() {
			continue
		}

		ref, err := buildImportedReference(kind, row, typeIDs, machineIDs)
		if err == nil {
			_, err = s.refs.Add(ctx, ref)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("строка %d: %s", line, importErrorMessage(err)))
			csvImportRows.WithLabelValues(string(kind), "error").Inc()
			continue
		}
		result.Imported++
		csvImportRows.WithLabelValues(string(kind), "imported").Inc()
	}

	s.logger.Info("Импорт CSV завершён",
		slog.String("kind", string(kind)),
		slog.Int("imported", result.Imported),
		slog.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// importErrorMessage убирает префикс сентинела из сообщения об ошибке строки.
func importErrorMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{ErrValidation.Error() + ": ", ErrNotFound.Error() + ": "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}

// csvRow — запись CSV с доступом к полям по имени колонки.
type csvRow struct {
	record  []string
	columns map[string]int
}

func (r csvRow) get(column string) string {
	i, ok := r.columns[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func (r csvRow) empty() bool {
	for _, v := range r.record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// buildImportedReference собирает строку справочника из записи CSV,
// разрешая тип активности и станки по имени.
func buildImportedReference(kind model.Kind, row csvRow, typeIDs, machineIDs map[string]int64) (model.Reference, error) {
	name := row.get("name")
	if name == "" {
		return nil, validationf("пустое имя")
	}

	resolveType := func() (*int64, error) {
		typeName := row.get("activity_type")
		if typeName == "" {
			return nil, nil
		}
		id, ok := typeIDs[typeName]
		if !ok {
			return nil, validationf("неизвестный тип активности %q", typeName)
		}
		return &id, nil
	}

	switch kind {
	case model.KindPreparer:
		return &model.Preparer{Name: name}, nil
	case model.KindClass:
		return &model.Class{Name: name}, nil
	case model.KindReferent:
		return &model.Referent{Name: name, Category: row.get("category")}, nil
	case model.KindActivityType:
		return &model.ActivityType{
			Name:        name,
			Icon:        row.get("icon"),
			Color:       row.get("color"),
			BadgeClass:  row.get("badge_class"),
			DefaultUnit: row.get("default_unit"),
		}, nil
	case model.KindMachine:
		typeID, err := resolveType()
		if err != nil {
			return nil, err
		}
		quantity := 1
		if q := row.get("quantity"); q != "" {
			if quantity, err = strconv.Atoi(q); err != nil || quantity < 0 {
				return nil, validationf("некорректное количество %q", q)
			}
		}
		return &model.Machine{
			Name:           name,
			ActivityTypeID: typeID,
			Quantity:       quantity,
			Brand:          row.get("brand"),
			WorkArea:       row.get("work_area"),
			Power:          row.get("power"),
			Description:    row.get("description"),
		}, nil
	case model.KindMaterial:
		typeID, err := resolveType()
		if err != nil {
			return nil, err
		}
		m := &model.Material{Name: name, ActivityTypeID: typeID, Unit: row.get("unit")}
		if list := row.get("machines"); list != "" {
			m.MachineIDs = []int64{}
			for _, machine := range strings.Split(list, machineListSeparator) {
				machine = strings.TrimSpace(machine)
				if machine == "" {
					continue
				}
				id, ok := machineIDs[machine]
				if !ok {
					return nil, validationf("неизвестный станок %q", machine)
				}
				m.MachineIDs = append(m.MachineIDs, id)
			}
		}
		return m, nil
	}
	return nil, validationf("неизвестный вид справочника %q", kind)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
