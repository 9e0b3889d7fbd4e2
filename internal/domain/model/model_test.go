package model

import (
	"encoding/json"
	"testing"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("salles"); err == nil {
		t.Error("ParseKind(salles): ожидалась ошибка")
	}
	if _, err := ParseKind("machines; DROP TABLE consumptions"); err == nil {
		t.Error("ParseKind с инъекцией: ожидалась ошибка")
	}
}

func TestKindColumns(t *testing.T) {
	tests := []struct {
		kind     Kind
		fk, snap string
	}{
		{KindPreparer, "preparer_id", "preparer_name"},
		{KindActivityType, "activity_type_id", "activity_type_name"},
		{KindMachine, "machine_id", "machine_name"},
		{KindMaterial, "material_id", "material_name"},
		{KindClass, "class_id", "class_name"},
		{KindReferent, "referent_id", "referent_name"},
	}
	for _, tt := range tests {
		if got := tt.kind.FKColumn(); got != tt.fk {
			t.Errorf("%s.FKColumn() = %q, ожидается %q", tt.kind, got, tt.fk)
		}
		if got := tt.kind.SnapshotColumn(); got != tt.snap {
			t.Errorf("%s.SnapshotColumn() = %q, ожидается %q", tt.kind, got, tt.snap)
		}
		if NewReference(tt.kind).Kind() != tt.kind {
			t.Errorf("NewReference(%s) вернул другой вид", tt.kind)
		}
	}
}

func TestOptional_UnmarshalPresence(t *testing.T) {
	var in ConsumptionInput
	body := `{"machine_id": 7, "class_id": null, "comment": "test"}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !in.MachineID.Set || !in.MachineID.Valid || in.MachineID.V != 7 {
		t.Errorf("MachineID = %+v, ожидается Some(7)", in.MachineID)
	}
	if !in.ClassID.Set || in.ClassID.Valid {
		t.Errorf("ClassID = %+v, ожидается явный null", in.ClassID)
	}
	if in.PreparerID.Set {
		t.Errorf("PreparerID = %+v, ожидается отсутствие", in.PreparerID)
	}
	if in.ClassID.Ptr() != nil {
		t.Error("Ptr() для null должен быть nil")
	}
	if p := in.MachineID.Ptr(); p == nil || *p != 7 {
		t.Errorf("Ptr() = %v, ожидается 7", p)
	}
}

func TestMergeInput_ItemWins(t *testing.T) {
	common := ConsumptionInput{
		EntryAt:     Some("2026-03-02"),
		PreparerID:  Some(int64(1)),
		ProjectName: Some("Robot"),
	}
	item := ConsumptionInput{
		ProjectName: Some("Robot v2"),
		MachineID:   Some(int64(4)),
		PreparerID:  Null[int64](),
	}

	got := MergeInput(common, item)
	if got.EntryAt.V != "2026-03-02" {
		t.Errorf("EntryAt = %q, ожидается общее значение", got.EntryAt.V)
	}
	if got.ProjectName.V != "Robot v2" {
		t.Errorf("ProjectName = %q, ожидается значение варианта", got.ProjectName.V)
	}
	if got.PreparerID.Valid {
		t.Error("явный null варианта должен перекрывать общее значение")
	}
	if got.MachineID.V != 4 {
		t.Errorf("MachineID = %d, ожидается 4", got.MachineID.V)
	}
}

func TestBackupFrequencyPeriod(t *testing.T) {
	if BackupOff.Period() != 0 {
		t.Error("off: ожидается нулевой период")
	}
	if BackupWeekly.Period() != 7*BackupDaily.Period() {
		t.Error("weekly должен быть равен 7 daily")
	}
}
