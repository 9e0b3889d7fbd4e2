package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
)

func TestReferenceService_AddIsInsertIfAbsent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.mustAdd(t, &model.Class{Name: "  501 "})
	second := env.mustAdd(t, &model.Class{Name: "501"})
	if first != second {
		t.Errorf("повторное добавление вернуло id %d, ожидается %d", second, first)
	}

	list, err := env.refs.List(ctx, model.KindClass, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(list) = %d, ожидается 1 (дубликаты не создаются)", len(list))
	}
}

func TestReferenceService_AddReactivates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.mustAdd(t, &model.Preparer{Name: "Jean Martin"})
	if err := env.refs.Deactivate(ctx, model.KindPreparer, id); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	active, err := env.refs.List(ctx, model.KindPreparer, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("деактивированная строка не должна попадать в активный список")
	}

	if again := env.mustAdd(t, &model.Preparer{Name: "Jean Martin"}); again != id {
		t.Errorf("id после реактивации = %d, ожидается %d", again, id)
	}
	ref, err := env.refs.Get(ctx, model.KindPreparer, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ref.(*model.Preparer).Active {
		t.Error("строка должна быть реактивирована")
	}
}

func TestReferenceService_AddValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ref  model.Reference
	}{
		{"пустое имя", &model.Class{Name: "   "}},
		{"слишком длинное имя", &model.Class{Name: strings.Repeat("я", maxNameLength+1)}},
		{"отрицательное количество", &model.Machine{Name: "X", Quantity: -1}},
		{"недопустимое состояние", &model.Machine{Name: "Y", Status: "broken"}},
	}
	for _, tt := range tests {
		if _, err := env.refs.Add(ctx, tt.ref); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: ожидается ErrValidation, получено %v", tt.name, err)
		}
	}

	missing := int64(9999)
	if _, err := env.refs.Add(ctx, &model.Machine{Name: "Z", ActivityTypeID: &missing}); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующий тип активности: ожидается ErrNotFound, получено %v", err)
	}
}

func TestReferenceService_MachineDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.mustAdd(t, &model.Machine{Name: "Prusa MK4"})
	ref, err := env.refs.Get(ctx, model.KindMachine, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m := ref.(*model.Machine)
	if m.Quantity != 1 {
		t.Errorf("Quantity = %d, ожидается 1", m.Quantity)
	}
	if m.Status != model.MachineAvailable {
		t.Errorf("Status = %q, ожидается available", m.Status)
	}
}

func TestReferenceService_MaterialMachines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustAdd(t, &model.Machine{Name: "Machine A"})
	b := env.mustAdd(t, &model.Machine{Name: "Machine B"})
	mat := env.mustAdd(t, &model.Material{Name: "Filament X", MachineIDs: []int64{a, b}})

	ref, err := env.refs.Get(ctx, model.KindMaterial, mat)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := ref.(*model.Material).MachineIDs; len(got) != 2 {
		t.Fatalf("MachineIDs = %v, ожидается 2 связи", got)
	}

	if err := env.refs.SetMaterialMachines(ctx, mat, []int64{b}); err != nil {
		t.Fatalf("SetMaterialMachines: %v", err)
	}
	ref, _ = env.refs.Get(ctx, model.KindMaterial, mat)
	if got := ref.(*model.Material).MachineIDs; len(got) != 1 || got[0] != b {
		t.Errorf("MachineIDs = %v, ожидается [%d]", got, b)
	}

	if err := env.refs.SetMaterialMachines(ctx, mat, []int64{99999}); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующий станок: ожидается ErrNotFound, получено %v", err)
	}
	ref, _ = env.refs.Get(ctx, model.KindMaterial, mat)
	if got := ref.(*model.Material).MachineIDs; len(got) != 1 {
		t.Errorf("неудачная замена должна откатиться, MachineIDs = %v", got)
	}
}

func TestReferenceService_AddExistingMaterialKeepsLinks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustAdd(t, &model.Machine{Name: "Machine A"})
	mat := env.mustAdd(t, &model.Material{Name: "Filament Y", MachineIDs: []int64{a}})

	again, err := env.refs.Add(ctx, &model.Material{Name: "Filament Y", MachineIDs: []int64{}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if again != mat {
		t.Errorf("id = %d, ожидается %d", again, mat)
	}

	ref, _ := env.refs.Get(ctx, model.KindMaterial, mat)
	if got := ref.(*model.Material).MachineIDs; len(got) != 1 || got[0] != a {
		t.Errorf("MachineIDs = %v, связи существующего материала не должны меняться", got)
	}
}

func TestReferenceService_SetMachineStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.mustAdd(t, &model.Machine{Name: "Laser"})

	if err := env.refs.SetMachineStatus(ctx, id, model.MachineUnderRepair, "Tube HS", "2026-02-01"); err != nil {
		t.Fatalf("SetMachineStatus: %v", err)
	}
	ref, _ := env.refs.Get(ctx, model.KindMachine, id)
	m := ref.(*model.Machine)
	if m.Status != model.MachineUnderRepair || m.RepairReason != "Tube HS" || m.RepairDate != "2026-02-01" {
		t.Errorf("состояние = %+v", m)
	}

	if err := env.refs.SetMachineStatus(ctx, id, model.MachineAvailable, "ignored", "2026-02-02"); err != nil {
		t.Fatalf("SetMachineStatus: %v", err)
	}
	ref, _ = env.refs.Get(ctx, model.KindMachine, id)
	m = ref.(*model.Machine)
	if m.RepairReason != "" || m.RepairDate != "" {
		t.Errorf("для available причина и дата очищаются, получено %q, %q", m.RepairReason, m.RepairDate)
	}

	if err := env.refs.SetMachineStatus(ctx, id, "broken", "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидается ErrValidation, получено %v", err)
	}
	if err := env.refs.SetMachineStatus(ctx, 99999, model.MachineOutOfService, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидается ErrNotFound, получено %v", err)
	}
}

func TestReferenceService_Snapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	data, err := env.refs.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(data.ActivityTypes) == 0 || len(data.Machines) == 0 || len(data.Materials) == 0 {
		t.Error("каталог должен быть засеян миграцией")
	}
	if len(data.MaterialMachines) == 0 {
		t.Error("ожидаются засеянные связи материал-станок")
	}
	if data.Preparers == nil {
		t.Error("пустой справочник должен сериализоваться как []")
	}
}

func TestReferenceService_InvalidatesStats(t *testing.T) {
	env := newTestEnv(t)
	inv := &countingInvalidator{}
	refs := NewReferenceService(env.tx, inv, env.logger)

	if _, err := refs.Add(context.Background(), &model.Class{Name: "BTS CPRP"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if inv.calls != 1 {
		t.Errorf("Invalidate вызван %d раз, ожидается 1", inv.calls)
	}
}
