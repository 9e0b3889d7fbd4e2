package model

import (
	"bytes"
	"encoding/json"
)

// Consumption — запись журнала расхода в том виде, в котором она хранится:
// внешние ключи и снимки имён на момент записи.
type Consumption struct {
	ID      int64  `json:"id"`
	EntryAt string `json:"entry_at"`

	PreparerID       *int64 `json:"preparer_id"`
	PreparerName     string `json:"preparer_name"`
	ActivityTypeID   *int64 `json:"activity_type_id"`
	ActivityTypeName string `json:"activity_type_name"`
	MachineID        *int64 `json:"machine_id"`
	MachineName      string `json:"machine_name"`
	MaterialID       *int64 `json:"material_id"`
	MaterialName     string `json:"material_name"`
	ClassID          *int64 `json:"class_id"`
	ClassName        string `json:"class_name"`
	ReferentID       *int64 `json:"referent_id"`
	ReferentName     string `json:"referent_name"`

	Quantity          float64  `json:"quantity"`
	Unit              string   `json:"unit"`
	WeightG           *float64 `json:"weight_g"`
	LengthMM          *float64 `json:"length_mm"`
	WidthMM           *float64 `json:"width_mm"`
	SurfaceM2         *float64 `json:"surface_m2"`
	SheetCount        *int     `json:"sheet_count"`
	PaperFormat       string   `json:"paper_format"`
	Thickness         string   `json:"thickness"`
	PlasticSheetCount *int     `json:"plastic_sheet_count"`
	SheetType         string   `json:"sheet_type"`
	ColorMode         string   `json:"color_mode"`
	ProjectName       string   `json:"project_name"`
	Comment           string   `json:"comment"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// FK возвращает указатель на поле внешнего ключа для вида справочника.
func (c *Consumption) FK(kind Kind) **int64 {
	switch kind {
	case KindPreparer:
		return &c.PreparerID
	case KindActivityType:
		return &c.ActivityTypeID
	case KindMachine:
		return &c.MachineID
	case KindMaterial:
		return &c.MaterialID
	case KindClass:
		return &c.ClassID
	case KindReferent:
		return &c.ReferentID
	}
	return nil
}

// Snapshot возвращает указатель на поле снимка имени для вида справочника.
func (c *Consumption) Snapshot(kind Kind) *string {
	switch kind {
	case KindPreparer:
		return &c.PreparerName
	case KindActivityType:
		return &c.ActivityTypeName
	case KindMachine:
		return &c.MachineName
	case KindMaterial:
		return &c.MaterialName
	case KindClass:
		return &c.ClassName
	case KindReferent:
		return &c.ReferentName
	}
	return nil
}

// ConsumptionView — строка выборки журнала: имена разрешены через
// fallback-join (текущее имя справочника, иначе снимок) и дополнены
// атрибутами отображения.
type ConsumptionView struct {
	Consumption
	ActivityIcon     string `json:"activity_icon"`
	ActivityColor    string `json:"activity_color"`
	BadgeClass       string `json:"badge_class"`
	ReferentCategory string `json:"referent_category"`
	MaterialUnit     string `json:"material_unit"`
}

// ConsumptionFilter — условия выборки журнала (объединяются через AND).
type ConsumptionFilter struct {
	DateFrom       string
	DateTo         string
	ActivityTypeID *int64
	PreparerID     *int64
	ClassID        *int64
	ReferentID     *int64
	MachineID      *int64
	MaterialID     *int64
}

// ConsumptionPage — страница выборки журнала.
type ConsumptionPage struct {
	Rows      []ConsumptionView `json:"rows"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
	PageCount int               `json:"page_count"`
}

// Optional — поле частичного обновления. Set отличает отсутствующий ключ JSON
// от явного null (Set=true, Valid=false).
type Optional[T any] struct {
	Set   bool
	Valid bool
	V     T
}

// Some возвращает заданное значение.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Valid: true, V: v} }

// Null возвращает явно заданный null.
func Null[T any]() Optional[T] { return Optional[T]{Set: true} }

// UnmarshalJSON вызывается только для присутствующих ключей.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Valid = false
		var zero T
		o.V = zero
		return nil
	}
	if err := json.Unmarshal(b, &o.V); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// MarshalJSON сериализует значение или null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.V)
}

// Ptr возвращает значение как указатель (nil для null/отсутствия).
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.V
	return &v
}

// Or возвращает o, если поле задано, иначе fallback.
func (o Optional[T]) Or(fallback Optional[T]) Optional[T] {
	if o.Set {
		return o
	}
	return fallback
}

// ConsumptionInput — поля создания или частичного обновления записи.
type ConsumptionInput struct {
	EntryAt Optional[string] `json:"entry_at"`

	PreparerID     Optional[int64] `json:"preparer_id"`
	ActivityTypeID Optional[int64] `json:"activity_type_id"`
	MachineID      Optional[int64] `json:"machine_id"`
	MaterialID     Optional[int64] `json:"material_id"`
	ClassID        Optional[int64] `json:"class_id"`
	ReferentID     Optional[int64] `json:"referent_id"`

	Quantity          Optional[float64] `json:"quantity"`
	Unit              Optional[string]  `json:"unit"`
	WeightG           Optional[float64] `json:"weight_g"`
	LengthMM          Optional[float64] `json:"length_mm"`
	WidthMM           Optional[float64] `json:"width_mm"`
	SurfaceM2         Optional[float64] `json:"surface_m2"`
	SheetCount        Optional[int]     `json:"sheet_count"`
	PaperFormat       Optional[string]  `json:"paper_format"`
	Thickness         Optional[string]  `json:"thickness"`
	PlasticSheetCount Optional[int]     `json:"plastic_sheet_count"`
	SheetType         Optional[string]  `json:"sheet_type"`
	ColorMode         Optional[string]  `json:"color_mode"`
	ProjectName       Optional[string]  `json:"project_name"`
	Comment           Optional[string]  `json:"comment"`
}

// FK возвращает поле внешнего ключа ввода для вида справочника.
func (in *ConsumptionInput) FK(kind Kind) *Optional[int64] {
	switch kind {
	case KindPreparer:
		return &in.PreparerID
	case KindActivityType:
		return &in.ActivityTypeID
	case KindMachine:
		return &in.MachineID
	case KindMaterial:
		return &in.MaterialID
	case KindClass:
		return &in.ClassID
	case KindReferent:
		return &in.ReferentID
	}
	return nil
}

// MergeInput накладывает поля item поверх общих полей партии:
// заданное в item побеждает.
func MergeInput(common, item ConsumptionInput) ConsumptionInput {
	return ConsumptionInput{
		EntryAt:           item.EntryAt.Or(common.EntryAt),
		PreparerID:        item.PreparerID.Or(common.PreparerID),
		ActivityTypeID:    item.ActivityTypeID.Or(common.ActivityTypeID),
		MachineID:         item.MachineID.Or(common.MachineID),
		MaterialID:        item.MaterialID.Or(common.MaterialID),
		ClassID:           item.ClassID.Or(common.ClassID),
		ReferentID:        item.ReferentID.Or(common.ReferentID),
		Quantity:          item.Quantity.Or(common.Quantity),
		Unit:              item.Unit.Or(common.Unit),
		WeightG:           item.WeightG.Or(common.WeightG),
		LengthMM:          item.LengthMM.Or(common.LengthMM),
		WidthMM:           item.WidthMM.Or(common.WidthMM),
		SurfaceM2:         item.SurfaceM2.Or(common.SurfaceM2),
		SheetCount:        item.SheetCount.Or(common.SheetCount),
		PaperFormat:       item.PaperFormat.Or(common.PaperFormat),
		Thickness:         item.Thickness.Or(common.Thickness),
		PlasticSheetCount: item.PlasticSheetCount.Or(common.PlasticSheetCount),
		SheetType:         item.SheetType.Or(common.SheetType),
		ColorMode:         item.ColorMode.Or(common.ColorMode),
		ProjectName:       item.ProjectName.Or(common.ProjectName),
		Comment:           item.Comment.Or(common.Comment),
	}
}

// ConsumptionBatch — пакетное создание: общие поля и варианты.
type ConsumptionBatch struct {
	Common ConsumptionInput   `json:"common"`
	Items  []ConsumptionInput `json:"items"`
}
