// Пакет model — доменные типы FabTrack: справочники, записи расхода,
// статистика и резервные копии.
package model

import (
	"fmt"
	"strings"
)

// Kind — вид справочника. Значение совпадает с именем таблицы и
// используется как разрешённый идентификатор в динамическом SQL.
type Kind string

const (
	KindPreparer     Kind = "preparers"
	KindActivityType Kind = "activity_types"
	KindMachine      Kind = "machines"
	KindMaterial     Kind = "materials"
	KindClass        Kind = "classes"
	KindReferent     Kind = "referents"
)

// Kinds — все виды справочников в порядке зависимостей.
var Kinds = []Kind{KindPreparer, KindActivityType, KindMachine, KindMaterial, KindClass, KindReferent}

// ParseKind проверяет имя вида справочника по белому списку.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("неизвестный справочник %q", s)
}

// Table возвращает имя таблицы справочника.
func (k Kind) Table() string { return string(k) }

// FKColumn возвращает колонку внешнего ключа в consumptions.
func (k Kind) FKColumn() string {
	switch k {
	case KindPreparer:
		return "preparer_id"
	case KindActivityType:
		return "activity_type_id"
	case KindMachine:
		return "machine_id"
	case KindMaterial:
		return "material_id"
	case KindClass:
		return "class_id"
	case KindReferent:
		return "referent_id"
	}
	panic("model: неизвестный справочник " + string(k))
}

// SnapshotColumn возвращает колонку снимка имени в consumptions.
func (k Kind) SnapshotColumn() string {
	return strings.TrimSuffix(k.FKColumn(), "_id") + "_name"
}

// Reference — общий интерфейс строк справочника.
type Reference interface {
	Kind() Kind
	EntityID() int64
	DisplayName() string
}

// Preparer — преподаватель или сотрудник, оформивший расход.
type Preparer struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
	Active    bool   `json:"active"`
}

func (p *Preparer) Kind() Kind          { return KindPreparer }
func (p *Preparer) EntityID() int64     { return p.ID }
func (p *Preparer) DisplayName() string { return p.Name }

// ActivityType — вид деятельности мастерской (3D-печать, лазер, ...).
type ActivityType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	BadgeClass  string `json:"badge_class"`
	DefaultUnit string `json:"default_unit"`
	ImagePath   string `json:"image_path"`
	Active      bool   `json:"active"`
}

func (a *ActivityType) Kind() Kind          { return KindActivityType }
func (a *ActivityType) EntityID() int64     { return a.ID }
func (a *ActivityType) DisplayName() string { return a.Name }

// MachineStatus — состояние станка.
type MachineStatus string

const (
	MachineAvailable    MachineStatus = "available"
	MachineUnderRepair  MachineStatus = "under_repair"
	MachineOutOfService MachineStatus = "out_of_service"
)

// Valid проверяет значение состояния.
func (s MachineStatus) Valid() bool {
	switch s {
	case MachineAvailable, MachineUnderRepair, MachineOutOfService:
		return true
	}
	return false
}

// Machine — станок или принтер.
type Machine struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name"`
	ActivityTypeID *int64        `json:"activity_type_id"`
	Quantity       int           `json:"quantity"`
	Brand          string        `json:"brand"`
	WorkArea       string        `json:"work_area"`
	Power          string        `json:"power"`
	Description    string        `json:"description"`
	Status         MachineStatus `json:"status"`
	RepairReason   string        `json:"repair_reason"`
	RepairDate     string        `json:"repair_date"`
	ImagePath      string        `json:"image_path"`
	Active         bool          `json:"active"`
}

func (m *Machine) Kind() Kind          { return KindMachine }
func (m *Machine) EntityID() int64     { return m.ID }
func (m *Machine) DisplayName() string { return m.Name }

// Material — расходный материал. Без связанных станков материал считается универсальным.
type Material struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	ActivityTypeID *int64  `json:"activity_type_id"`
	Unit           string  `json:"unit"`
	ImagePath      string  `json:"image_path"`
	Active         bool    `json:"active"`
	MachineIDs     []int64 `json:"machine_ids"`
}

func (m *Material) Kind() Kind          { return KindMaterial }
func (m *Material) EntityID() int64     { return m.ID }
func (m *Material) DisplayName() string { return m.Name }

// Class — учебный класс или группа.
type Class struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
	Active    bool   `json:"active"`
}

func (c *Class) Kind() Kind          { return KindClass }
func (c *Class) EntityID() int64     { return c.ID }
func (c *Class) DisplayName() string { return c.Name }

// Referent — заказчик работы (преподаватель, внешняя организация, ...).
type Referent struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	ImagePath string `json:"image_path"`
	Active    bool   `json:"active"`
}

func (r *Referent) Kind() Kind          { return KindReferent }
func (r *Referent) EntityID() int64     { return r.ID }
func (r *Referent) DisplayName() string { return r.Name }

// NewReference возвращает пустую строку справочника указанного вида.
func NewReference(kind Kind) Reference {
	switch kind {
	case KindPreparer:
		return &Preparer{}
	case KindActivityType:
		return &ActivityType{}
	case KindMachine:
		return &Machine{}
	case KindMaterial:
		return &Material{}
	case KindClass:
		return &Class{}
	case KindReferent:
		return &Referent{}
	}
	return nil
}

// MaterialMachine — связь материала со станком.
type MaterialMachine struct {
	MaterialID int64 `json:"material_id"`
	MachineID  int64 `json:"machine_id"`
}

// ReferenceData — все активные справочники и связи материал-станок.
type ReferenceData struct {
	Preparers        []Reference       `json:"preparers"`
	ActivityTypes    []Reference       `json:"activity_types"`
	Machines         []Reference       `json:"machines"`
	Materials        []Reference       `json:"materials"`
	Classes          []Reference       `json:"classes"`
	Referents        []Reference       `json:"referents"`
	MaterialMachines []MaterialMachine `json:"material_machines"`
}

// Set помещает список справочника в соответствующее поле.
func (d *ReferenceData) Set(kind Kind, list []Reference) {
	switch kind {
	case KindPreparer:
		d.Preparers = list
	case KindActivityType:
		d.ActivityTypes = list
	case KindMachine:
		d.Machines = list
	case KindMaterial:
		d.Materials = list
	case KindClass:
		d.Classes = list
	case KindReferent:
		d.Referents = list
	}
}
