package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/testutil"
)

func TestMachineService(t *testing.T) {
	env := setupServices(t, Options{})
	ctx := context.Background()

	m, err := env.svc.Machine.CreateMachine(ctx, "sup", &CreateMachineRequest{Code: " CNC-07 ", Name: "Lathe", WorkCentre: "Turning"})
	if err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	if m.Code != "CNC-07" || m.Status != entity.MachineStatusActive {
		t.Fatalf("machine = %+v", m)
	}
	if _, err := env.svc.Machine.CreateMachine(ctx, "sup", &CreateMachineRequest{Code: "CNC-07", Name: "Dup"}); !errors.Is(err, ErrMachineCodeExists) {
		t.Errorf("duplicate code: got %v", err)
	}

	updated, err := env.svc.Machine.UpdateMachine(ctx, m.ID, "sup", &UpdateMachineRequest{Status: testutil.StrPtr(entity.MachineStatusInactive)})
	if err != nil {
		t.Fatalf("UpdateMachine: %v", err)
	}
	if updated.Status != entity.MachineStatusInactive || updated.Name != "Lathe" {
		t.Errorf("updated = %+v", updated)
	}
	if _, err := env.svc.Machine.UpdateMachine(ctx, m.ID, "sup", &UpdateMachineRequest{Status: testutil.StrPtr("broken")}); !errors.Is(err, ErrInvalidMachine) {
		t.Errorf("bad status: got %v", err)
	}

	items, total, err := env.svc.Machine.ListMachines(ctx, 1, 20, map[string]string{"work_centre": "Turning"})
	if err != nil || total != 1 || items[0].ID != m.ID {
		t.Errorf("list = %v %d %v", items, total, err)
	}
}
