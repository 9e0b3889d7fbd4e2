package service

import (
	"context"
	"errors"
	"testing"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
)

func TestDependencyService_ReplaceAndDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldID := env.mustAdd(t, &model.Preparer{Name: "Ancien"})
	newID := env.mustAdd(t, &model.Preparer{Name: "Nouveau"})
	for i := 0; i < 3; i++ {
		if _, err := env.ledger.Create(ctx, model.ConsumptionInput{PreparerID: model.Some(oldID)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := env.deps.UsageCount(ctx, model.KindPreparer, oldID)
	if err != nil {
		t.Fatalf("UsageCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("UsageCount = %d, ожидается 3", n)
	}

	affected, err := env.deps.ReplaceAndDeactivate(ctx, model.KindPreparer, oldID, &newID)
	if err != nil {
		t.Fatalf("ReplaceAndDeactivate: %v", err)
	}
	if affected != 3 {
		t.Errorf("affected = %d, ожидается 3", affected)
	}

	if n, _ := env.deps.UsageCount(ctx, model.KindPreparer, oldID); n != 0 {
		t.Errorf("после переноса UsageCount(old) = %d, ожидается 0", n)
	}
	if n, _ := env.deps.UsageCount(ctx, model.KindPreparer, newID); n != 3 {
		t.Errorf("UsageCount(new) = %d, ожидается 3", n)
	}

	page, err := env.ledger.Query(ctx, model.ConsumptionFilter{}, 1, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, row := range page.Rows {
		if row.PreparerName != "Nouveau" {
			t.Errorf("PreparerName = %q, ожидается Nouveau", row.PreparerName)
		}
	}
	c, _ := env.ledger.Get(ctx, page.Rows[0].ID)
	if c.PreparerName != "Nouveau" {
		t.Errorf("снимок = %q, перенос обновляет снимок", c.PreparerName)
	}

	ref, _ := env.refs.Get(ctx, model.KindPreparer, oldID)
	if ref.(*model.Preparer).Active {
		t.Error("заменённая строка должна быть деактивирована")
	}
}

func TestDependencyService_DetachKeepsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	class := env.mustAdd(t, &model.Class{Name: "FMS2"})
	id, err := env.ledger.Create(ctx, model.ConsumptionInput{ClassID: model.Some(class)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	affected, err := env.deps.ReplaceAndDeactivate(ctx, model.KindClass, class, nil)
	if err != nil {
		t.Fatalf("ReplaceAndDeactivate: %v", err)
	}
	if affected != 1 {
		t.Errorf("affected = %d, ожидается 1", affected)
	}

	c, _ := env.ledger.Get(ctx, id)
	if c.ClassID != nil {
		t.Errorf("ClassID = %v, ожидается nil", *c.ClassID)
	}
	if c.ClassName != "FMS2" {
		t.Errorf("ClassName = %q, снимок сохраняется после отвязки", c.ClassName)
	}

	page, _ := env.ledger.Query(ctx, model.ConsumptionFilter{}, 1, 10)
	if page.Rows[0].ClassName != "FMS2" {
		t.Errorf("выборка показывает %q, ожидается снимок FMS2", page.Rows[0].ClassName)
	}
}

func TestDependencyService_ReplaceAndDeactivateErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.mustAdd(t, &model.Class{Name: "JPO"})
	if _, err := env.deps.ReplaceAndDeactivate(ctx, model.KindClass, id, &id); !errors.Is(err, ErrValidation) {
		t.Errorf("замена на саму себя: ожидается ErrValidation, получено %v", err)
	}

	missing := int64(99999)
	if _, err := env.deps.ReplaceAndDeactivate(ctx, model.KindClass, id, &missing); !errors.Is(err, ErrValidation) {
		t.Errorf("несуществующая замена: ожидается ErrValidation, получено %v", err)
	}
	ref, _ := env.refs.Get(ctx, model.KindClass, id)
	if !ref.(*model.Class).Active {
		t.Error("после ошибки строка должна остаться активной")
	}

	if _, err := env.deps.ReplaceAndDeactivate(ctx, model.KindClass, missing, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующая строка: ожидается ErrNotFound, получено %v", err)
	}
	if _, err := env.deps.UsageCount(ctx, model.KindClass, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("UsageCount: ожидается ErrNotFound, получено %v", err)
	}
}

func TestDependencyService_BulkDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustAdd(t, &model.Class{Name: "FMS2"})
	b := env.mustAdd(t, &model.Class{Name: "FMS3"})
	env.mustAdd(t, &model.Class{Name: "JPO"})

	n, err := env.deps.BulkDeactivate(ctx, model.KindClass, []int64{a, b})
	if err != nil {
		t.Fatalf("BulkDeactivate: %v", err)
	}
	if n != 2 {
		t.Errorf("деактивировано %d, ожидается 2", n)
	}

	active, _ := env.refs.List(ctx, model.KindClass, false)
	if len(active) != 1 || active[0].DisplayName() != "JPO" {
		t.Errorf("активные классы = %v, ожидается только JPO", active)
	}

	if _, err := env.deps.BulkDeactivate(ctx, model.KindClass, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой список: ожидается ErrValidation, получено %v", err)
	}
}

func TestDependencyService_DetachedMachineKeepsName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	print3d := env.mustID(t, model.KindActivityType, "Impression 3D")

	machine := env.mustAdd(t, &model.Machine{Name: "Printer-A", ActivityTypeID: &print3d})
	material := env.mustAdd(t, &model.Material{Name: "PLA test", ActivityTypeID: &print3d, MachineIDs: []int64{machine}})

	id, err := env.ledger.Create(ctx, model.ConsumptionInput{
		ActivityTypeID: model.Some(print3d),
		MachineID:      model.Some(machine),
		MaterialID:     model.Some(material),
		WeightG:        model.Some(120.5),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := env.deps.ReplaceAndDeactivate(ctx, model.KindMachine, machine, nil); err != nil {
		t.Fatalf("ReplaceAndDeactivate: %v", err)
	}

	c, err := env.ledger.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.MachineID != nil {
		t.Errorf("MachineID = %d, ожидается nil", *c.MachineID)
	}
	if c.MachineName != "Printer-A" {
		t.Errorf("MachineName = %q, ожидается Printer-A", c.MachineName)
	}
	if c.WeightG == nil || *c.WeightG != 120.5 {
		t.Errorf("WeightG = %v, ожидается 120.5", c.WeightG)
	}
}
