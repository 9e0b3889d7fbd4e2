// demo.go — сброс хранилища и генерация демонстрационных данных.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arturkryukov/fabtrack/internal/database"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/repository"
)

const (
	// ResetConfirmation — фраза, которую нужно передать для сброса хранилища.
	ResetConfirmation = "REINITIALISER"
	// DefaultDemoCount — число демонстрационных записей по умолчанию.
	DefaultDemoCount = 150
	// MaxDemoCount — максимальное число демонстрационных записей за один вызов.
	MaxDemoCount = 10000
	// demoDays — глубина периода демонстрационных записей (дни).
	demoDays = 180
)

// BackupCreator создаёт резервную копию с меткой.
type BackupCreator interface {
	Create(ctx context.Context, label string) (*model.BackupInfo, error)
}

// Кандидаты для демонстрационных данных.
var (
	demoPreparers = []string{"Steven LEFRANCOIS", "Axel BRUA", "Jeremy LOUIS", "Élève", "Professeur"}

	demoClasses = []string{
		"500", "501", "502", "503", "504", "505", "506",
		"601", "602", "603", "604", "605", "606",
		"701", "702", "703", "704", "705", "741", "750",
		"800 DNMADE", "801 CPI CPRP", "802 CRSA", "804 ELEC", "805 FONDERIE", "806 GA",
		"900 DNMADE", "901 CPI CPRP", "902 CRSA", "904 ELEC", "905 FONDERIE",
		"CPGEPCSI", "EXTERIEUR", "JPO", "FMS2", "FMS3", "LPRO BIO", "TCND GRETA",
	}

	demoReferents = []struct{ name, category string }{
		{"M. Martin", "Professeur"},
		{"Mme Dubois", "Professeur"},
		{"M. Laurent", "Professeur"},
		{"Mme Moreau", "Professeur"},
		{"M. Garcia", "Agent technique"},
		{"Mme Petit", "Agent technique"},
		{"M. Bernard", "Agent technique"},
		{"Association MakerSpace", "Demande extérieure"},
		{"Entreprise ACME", "Demande extérieure"},
		{"Mairie de Nancy", "Demande extérieure"},
		{"Club Robotique", "Demande extérieure"},
		{"Secrétariat Direction", "Administration"},
		{"Service Communication", "Administration"},
	}

	// demoWeights — веса выбора типа активности; неизвестные типы получают вес 1.
	demoWeights = map[string]int{
		"Impression 3D":     40,
		"Découpe Laser":     25,
		"Impression Papier": 15,
		"CNC / Fraisage":    10,
		"Thermoformage":     5,
		"Bricolage":         3,
		"Broderie":          2,
	}

	demoComments = map[demoShape][]string{
		shapeAdditive:    {"Prototype boîtier", "Pièce rechange", "Projet élève", "Support montage", "Engrenage", "Capot", "Test résistance", "Maquette", ""},
		shapeSubtractive: {"Plaque signalétique", "Pièce découpée", "Gravure logo", "Puzzle éducatif", "Support expo", ""},
		shapePrinting:    {"Plans fabrication", "Affiche", "Documents cours", "Poster", "Fiches techniques", ""},
		shapeThermo:      {"Moule prototype", "Blister", "Protection pièce", ""},
		shapeOther:       {"Projet perso", "Atelier découverte", "Maintenance", "Démo", ""},
	}

	demoThickness   = []string{"3mm", "5mm", "6mm", "8mm", "10mm", "12mm"}
	demoFormats     = []string{"A0", "A1", "A2", "A3", "A4", "A4"}
	demoColorModes  = []string{"couleur", "noir_blanc"}
	demoSheetTypes  = []string{"opaque", "transparente"}
	demoShapeByName = map[string]demoShape{
		"Impression 3D":     shapeAdditive,
		"Découpe Laser":     shapeSubtractive,
		"CNC / Fraisage":    shapeSubtractive,
		"Impression Papier": shapePrinting,
		"Thermoformage":     shapeThermo,
	}
)

// demoShape — набор измерений записи в зависимости от типа активности.
type demoShape int

const (
	shapeOther demoShape = iota
	shapeAdditive
	shapeSubtractive
	shapePrinting
	shapeThermo
)

// DemoService — сброс хранилища и генерация демонстрационных данных.
type DemoService struct {
	tx      *repository.TxRunner
	ledger  *LedgerService
	backups BackupCreator
	dbPath  string
	changes Invalidator
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemoService создаёт сервис сброса и демо-данных.
// backups и changes могут быть nil; rng == nil — источник со случайным зерном.
func NewDemoService(
	tx *repository.TxRunner,
	ledger *LedgerService,
	backups BackupCreator,
	dbPath string,
	changes Invalidator,
	rng *rand.Rand,
	logger *slog.Logger,
) *DemoService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &DemoService{
		tx:      tx,
		ledger:  ledger,
		backups: backups,
		dbPath:  dbPath,
		changes: changes,
		rng:     rng,
		logger:  logger.With(slog.String("component", "demo_service")),
	}
}

// Reset удаляет все данные и заново применяет миграции.
// Фраза подтверждения проверяется до любых изменений.
func (s *DemoService) Reset(ctx context.Context, confirmation string) error {
	if confirmation != ResetConfirmation {
		return fmt.Errorf("%w: ожидается %q", ErrConfirmationMismatch, ResetConfirmation)
	}

	if s.backups != nil {
		info, err := s.backups.Create(ctx, model.BackupLabelPreReset)
		if err != nil {
			return fmt.Errorf("не удалось создать копию перед сбросом: %w", err)
		}
		s.logger.Info("Копия перед сбросом создана", slog.String("name", info.Name))
	}

	if err := database.Reset(ctx, s.tx.DB(), s.dbPath, s.logger); err != nil {
		return err
	}

	notifyChange(s.changes)
	s.logger.Warn("Хранилище сброшено")
	return nil
}

// demoCatalog — активные справочники, из которых собираются записи.
type demoCatalog struct {
	preparers []int64
	classes   []int64
	referents []int64
	types     []*model.ActivityType
	weights   []int
	machines  map[int64][]int64
	materials map[int64][]*model.Material
}

// GenerateDemo добавляет кандидатов справочников (insert-if-absent) и count
// записей журнала в одной транзакции. count <= 0 — значение по умолчанию.
func (s *DemoService) GenerateDemo(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		count = DefaultDemoCount
	}
	if count > MaxDemoCount {
		return 0, validationf("не более %d записей за один вызов", MaxDemoCount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		refs := repository.NewReferenceRepository(tx)
		if err := seedDemoPools(ctx, refs); err != nil {
			return err
		}

		cat, err := loadDemoCatalog(ctx, refs)
		if err != nil {
			return err
		}
		if len(cat.types) == 0 {
			return validationf("нет активных типов активности")
		}

		now := s.ledger.now()
		for i := 0; i < count; i++ {
			if _, err := s.ledger.createInTx(ctx, tx, s.demoRecord(cat, now)); err != nil {
				return fmt.Errorf("демо-запись %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	consumptionsWritten.WithLabelValues("demo").Add(float64(count))
	notifyChange(s.changes)
	s.logger.Info("Демонстрационные данные сгенерированы", slog.Int("count", count))
	return count, nil
}

// seedDemoPools добавляет кандидатов классов, преподавателей и референтов.
func seedDemoPools(ctx context.Context, refs repository.ReferenceRepository) error {
	for _, name := range demoPreparers {
		if _, err := refs.Add(ctx, &model.Preparer{Name: name}); err != nil {
			return err
		}
	}
	for _, name := range demoClasses {
		if _, err := refs.Add(ctx, &model.Class{Name: name}); err != nil {
			return err
		}
	}
	for _, r := range demoReferents {
		if _, err := refs.Add(ctx, &model.Referent{Name: r.name, Category: r.category}); err != nil {
			return err
		}
	}
	return nil
}

func loadDemoCatalog(ctx context.Context, refs repository.ReferenceRepository) (*demoCatalog, error) {
	cat := &demoCatalog{
		machines:  make(map[int64][]int64),
		materials: make(map[int64][]*model.Material),
	}

	lists := make(map[model.Kind][]model.Reference, len(model.Kinds))
	for _, kind := range model.Kinds {
		list, err := refs.List(ctx, kind, true)
		if err != nil {
			return nil, err
		}
		lists[kind] = list
	}

	for _, ref := range lists[model.KindPreparer] {
		cat.preparers = append(cat.preparers, ref.EntityID())
	}
	for _, ref := range lists[model.KindClass] {
		cat.classes = append(cat.classes, ref.EntityID())
	}
	for _, ref := range lists[model.KindReferent] {
		cat.referents = append(cat.referents, ref.EntityID())
	}
	for _, ref := range lists[model.KindActivityType] {
		t := ref.(*model.ActivityType)
		w, ok := demoWeights[t.Name]
		if !ok {
			w = 1
		}
		cat.types = append(cat.types, t)
		cat.weights = append(cat.weights, w)
	}
	for _, ref := range lists[model.KindMachine] {
		m := ref.(*model.Machine)
		if m.ActivityTypeID != nil {
			cat.machines[*m.ActivityTypeID] = append(cat.machines[*m.ActivityTypeID], m.ID)
		}
	}
	for _, ref := range lists[model.KindMaterial] {
		m := ref.(*model.Material)
		if m.ActivityTypeID != nil {
			cat.materials[*m.ActivityTypeID] = append(cat.materials[*m.ActivityTypeID], m)
		}
	}
	return cat, nil
}

// demoRecord собирает одну демонстрационную запись.
func (s *DemoService) demoRecord(cat *demoCatalog, now time.Time) model.ConsumptionInput {
	t := cat.types[weightedIndex(s.rng, cat.weights)]
	in := model.ConsumptionInput{
		EntryAt:        model.Some(s.demoTimestamp(now)),
		ActivityTypeID: model.Some(t.ID),
		Quantity:       model.Some(0.0),
		Unit:           model.Some(t.DefaultUnit),
	}

	if len(cat.preparers) > 0 {
		in.PreparerID = model.Some(pick(s.rng, cat.preparers))
	}
	if len(cat.classes) > 0 && s.rng.Float64() > 0.15 {
		in.ClassID = model.Some(pick(s.rng, cat.classes))
	}
	if len(cat.referents) > 0 && s.rng.Float64() > 0.25 {
		in.ReferentID = model.Some(pick(s.rng, cat.referents))
	}

	var machineID *int64
	if machines := cat.machines[t.ID]; len(machines) > 0 {
		id := pick(s.rng, machines)
		machineID = &id
		in.MachineID = model.Some(id)
	}
	if mat := s.demoMaterial(cat.materials[t.ID], machineID); mat != nil {
		in.MaterialID = model.Some(mat.ID)
		if mat.Unit != "" {
			in.Unit = model.Some(mat.Unit)
		}
	}

	shape := demoShapeByName[t.Name]
	switch shape {
	case shapeAdditive:
		in.WeightG = model.Some(round1(s.uniform(5, 500)))
	case shapeSubtractive:
		in.LengthMM = model.Some(round1(s.uniform(50, 800)))
		in.WidthMM = model.Some(round1(s.uniform(50, 600)))
		in.Thickness = model.Some(pick(s.rng, demoThickness))
	case shapePrinting:
		in.SheetCount = model.Some(1 + s.rng.IntN(50))
		in.PaperFormat = model.Some(pick(s.rng, demoFormats))
		in.ColorMode = model.Some(pick(s.rng, demoColorModes))
	case shapeThermo:
		in.PlasticSheetCount = model.Some(1 + s.rng.IntN(5))
		in.SheetType = model.Some(pick(s.rng, demoSheetTypes))
	}
	in.Comment = model.Some(pick(s.rng, demoComments[shape]))
	return in
}

// demoMaterial выбирает материал, связанный со станком, иначе универсальный материал типа.
func (s *DemoService) demoMaterial(materials []*model.Material, machineID *int64) *model.Material {
	var linked, generic []*model.Material
	for _, m := range materials {
		if len(m.MachineIDs) == 0 {
			generic = append(generic, m)
			continue
		}
		if machineID == nil {
			continue
		}
		for _, id := range m.MachineIDs {
			if id == *machineID {
				linked = append(linked, m)
				break
			}
		}
	}

	switch {
	case len(linked) > 0:
		return pick(s.rng, linked)
	case len(generic) > 0:
		return pick(s.rng, generic)
	}
	return nil
}

// demoTimestamp возвращает отметку за последние demoDays дней, не позже now;
// час смещён к рабочему времени 08–18.
func (s *DemoService) demoTimestamp(now time.Time) string {
	day := now.AddDate(0, 0, -s.rng.IntN(demoDays+1))
	hour := 8 + s.rng.IntN(11)
	if s.rng.Float64() < 0.1 {
		hour = s.rng.IntN(24)
	}
	ts := time.Date(day.Year(), day.Month(), day.Day(), hour, s.rng.IntN(60), 0, 0, now.Location())
	if ts.After(now) {
		ts = now
	}
	return ts.Format(dateTimeLayout)
}

func (s *DemoService) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

// weightedIndex выбирает индекс пропорционально весам.
func weightedIndex(rng *rand.Rand, weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	n := rng.IntN(total)
	for i, w := range weights {
		if n < w {
			return i
		}
		n -= w
	}
	return len(weights) - 1
}
