package core

import (
	"context"
	"errors"
	"testing"

	"haccare/pkg/domain"
)

func launchRunning(t *testing.T, svc *Service) {
	t.Helper()
	provisionWorkspace(t, svc, "ws-1", "ward-b")
	_, err := svc.Launch(context.Background(), LaunchRequest{
		TemplateID:        "tmpl-1",
		TargetWorkspaceID: "ws-1",
		Scope:             SessionScope{SessionID: "s1"},
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
}

func workspaceStatus(t *testing.T, store Store, id string) WorkspaceStatus {
	t.Helper()
	var ws Workspace
	err := store.View(context.Background(), func(view StoreView) error {
		var err error
		ws, _, err = view.Workspace(context.Background(), id)
		return err
	})
	if err != nil {
		t.Fatalf("Workspace(%s): %v", id, err)
	}
	return ws.Status
}

func TestProvisionRejectsDuplicateAndMissingTenant(t *testing.T) {
	svc, _ := newTestService(t)
	provisionWorkspace(t, svc, "ws-1", "ward-a")

	var validation *domain.ValidationError
	if _, err := svc.Provision(context.Background(), ProvisionRequest{WorkspaceID: "ws-1", TenantID: "ward-a"}); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError on duplicate, got %v", err)
	}
	if _, err := svc.Provision(context.Background(), ProvisionRequest{WorkspaceID: "ws-2"}); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError on missing tenant, got %v", err)
	}
}

func TestProvisionGeneratesIdentifier(t *testing.T) {
	svc, _ := newTestService(t, WithIDGenerator(sequenceIDs("ws")))
	ws, err := svc.Provision(context.Background(), ProvisionRequest{TenantID: "ward-a"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if ws.ID != "ws-001" || ws.Status != WorkspacePending {
		t.Fatalf("unexpected workspace %+v", ws)
	}
}

func TestPauseResumeLeaveDataUntouched(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	launchRunning(t, svc)

	before := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b")

	ctx := context.Background()
	if err := svc.Pause(ctx, "ws-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := workspaceStatus(t, store, "ws-1"); got != WorkspacePaused {
		t.Fatalf("status %s, want paused", got)
	}
	if err := svc.Resume(ctx, "ws-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := workspaceStatus(t, store, "ws-1"); got != WorkspaceRunning {
		t.Fatalf("status %s, want running", got)
	}

	after := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b")
	if len(before) != 1 || len(after) != 1 || before[0].String("id") != after[0].String("id") {
		t.Fatalf("pause/resume touched rows: before %v after %v", before, after)
	}
}

func TestStatusTransitionGuards(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	launchRunning(t, svc)

	ctx := context.Background()
	var validation *domain.ValidationError
	if err := svc.Resume(ctx, "ws-1"); !errors.As(err, &validation) {
		t.Fatalf("resume of running workspace must fail, got %v", err)
	}
	if err := svc.Pause(ctx, "ws-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := svc.Complete(ctx, "ws-1"); !errors.As(err, &validation) {
		t.Fatalf("complete of paused workspace must fail, got %v", err)
	}
	if err := svc.Resume(ctx, "ws-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := svc.Complete(ctx, "ws-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := svc.Pause(ctx, "missing"); !errors.As(err, &validation) {
		t.Fatalf("pause of missing workspace must fail, got %v", err)
	}
}

func TestRestartRequiresCompleted(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	launchRunning(t, svc)

	ctx := context.Background()
	var validation *domain.ValidationError
	if _, err := svc.Restart(ctx, RestartRequest{WorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}}); !errors.As(err, &validation) {
		t.Fatalf("restart of running workspace must fail, got %v", err)
	}
	if err := svc.Complete(ctx, "ws-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	result, err := svc.Restart(ctx, RestartRequest{WorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if result.Action != ActionRestart || result.Phase != PhaseDone {
		t.Fatalf("unexpected restart result %+v", result)
	}
	if got := workspaceStatus(t, store, "ws-1"); got != WorkspaceRunning {
		t.Fatalf("status %s after restart, want running", got)
	}
}

func TestResetWithoutSnapshotFails(t *testing.T) {
	svc, _ := newTestService(t)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	var validation *domain.ValidationError
	_, err := svc.Launch(context.Background(), LaunchRequest{TemplateID: "tmpl-none", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}})
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for missing snapshot, got %v", err)
	}
}

func TestStatusSurface(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	launchRunning(t, svc)

	info, err := svc.Status(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if info.Workspace.Status != WorkspaceRunning || info.LatestSnapshot != 1 || info.SnapshotMissing {
		t.Fatalf("unexpected info %+v", info)
	}

	unbound := provisionWorkspace(t, svc, "ws-free", "ward-x")
	info, err = svc.Status(context.Background(), unbound.ID)
	if err != nil {
		t.Fatalf("Status unbound: %v", err)
	}
	if info.LatestSnapshot != 0 || info.SnapshotMissing {
		t.Fatalf("unexpected unbound info %+v", info)
	}
}

func TestSessionScopeRequiresSessionID(t *testing.T) {
	svc, store := newTestService(t)
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	var validation *domain.ValidationError
	_, err := svc.Launch(context.Background(), LaunchRequest{
		TemplateID:        "tmpl-1",
		TargetWorkspaceID: "ws-1",
		Scope:             SessionScope{},
	})
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for empty session id, got %v", err)
	}
}
