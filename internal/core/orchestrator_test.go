package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"haccare/internal/infra/persistence/memory"
	"haccare/pkg/domain"
)

func captureTemplate(t *testing.T, svc *Service) SnapshotVersion {
	t.Helper()
	snapshot, err := svc.CaptureSnapshot(context.Background(), CaptureRequest{TemplateWorkspaceID: "tmpl-1"})
	if err != nil {
		t.Fatalf("CaptureSnapshot: %v", err)
	}
	return snapshot
}

func storedMapping(t *testing.T, store Store, templateID, sessionID string) (MappingSet, bool) {
	t.Helper()
	var mapping MappingSet
	var found bool
	err := store.View(context.Background(), func(view StoreView) error {
		var err error
		mapping, found, err = view.MappingSet(context.Background(), templateID, sessionID)
		return err
	})
	if err != nil {
		t.Fatalf("MappingSet: %v", err)
	}
	return mapping, found
}

func TestLaunchRoundTrip(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	result, err := svc.Launch(context.Background(), LaunchRequest{
		TemplateID:        "tmpl-1",
		TargetWorkspaceID: "ws-1",
		ExpectedTenant:    "ward-b",
		Scope:             SessionScope{SessionID: "s1"},
		Actor:             "instructor",
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if result.Phase != PhaseDone || result.SnapshotVersion != 1 || result.Template != "tmpl-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Inserted[domain.EntityPatient] != 1 || result.Inserted[domain.EntityLabResult] != 1 {
		t.Fatalf("inserted counts %v", result.Inserted)
	}
	for _, warning := range result.Warnings {
		if warning == ephemeralWarning {
			t.Fatal("session-scoped launch carried the ephemeral warning")
		}
	}

	mapping, found := storedMapping(t, store, "tmpl-1", "s1")
	if !found {
		t.Fatal("session mapping not persisted")
	}
	patientDest, ok := mapping.Destination(domain.EntityPatient, "p1")
	if !ok {
		t.Fatal("patient p1 has no destination assignment")
	}

	patients := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b")
	if len(patients) != 1 {
		t.Fatalf("expected 1 patient in target workspace, got %d", len(patients))
	}
	patient := patients[0]
	if patient.String("id") != patientDest || patient.String("id") == "p1" {
		t.Fatalf("patient id %q, want remapped %q", patient.String("id"), patientDest)
	}
	if got := patient.String("armband_code"); got != domain.ArmbandCode(patientDest) {
		t.Fatalf("armband_code %q not derived from destination identifier", got)
	}

	alerts := listRows(t, store, domain.EntityPatientAlert, "tenant_id", "ward-b")
	if len(alerts) != 1 || alerts[0].String("patient_id") != patientDest {
		t.Fatalf("alert not restamped and remapped: %v", alerts)
	}

	meds := listRows(t, store, domain.EntityPatientMedication, "patient_id", patientDest)
	if len(meds) != 1 {
		t.Fatalf("expected 1 remapped medication, got %d", len(meds))
	}
	admins := listRows(t, store, domain.EntityMedicationAdministration, "medication_id", meds[0].String("id"))
	if len(admins) != 1 || admins[0].String("patient_id") != patientDest {
		t.Fatalf("administration references not remapped: %v", admins)
	}

	var ws Workspace
	err = store.View(context.Background(), func(view StoreView) error {
		var err error
		ws, _, err = view.Workspace(context.Background(), "ws-1")
		return err
	})
	if err != nil {
		t.Fatalf("Workspace: %v", err)
	}
	if ws.Status != WorkspaceRunning || ws.TemplateID != "tmpl-1" {
		t.Fatalf("workspace after launch: %+v", ws)
	}
}

func TestSessionIdentifiersAreStableAcrossResets(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx := context.Background()
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	first, _ := storedMapping(t, store, "tmpl-1", "s1")
	firstDest, _ := first.Destination(domain.EntityPatient, "p1")

	for i := 0; i < 2; i++ {
		if _, err := svc.Reset(ctx, ResetRequest{WorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}}); err != nil {
			t.Fatalf("Reset %d: %v", i, err)
		}
		patients := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b")
		if len(patients) != 1 || patients[0].String("id") != firstDest {
			t.Fatalf("reset %d changed the patient identifier: %v", i, patients)
		}
	}

	// A different session draws its own identifiers.
	provisionWorkspace(t, svc, "ws-2", "ward-c")
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-2", Scope: SessionScope{SessionID: "s2"}}); err != nil {
		t.Fatalf("second session launch: %v", err)
	}
	second, _ := storedMapping(t, store, "tmpl-1", "s2")
	secondDest, _ := second.Destination(domain.EntityPatient, "p1")
	if secondDest == firstDest {
		t.Fatalf("sessions s1 and s2 share destination identifier %q", firstDest)
	}
}

func TestSessionMappingExtendsForNewTemplateEntities(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx := context.Background()
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	before, _ := storedMapping(t, store, "tmpl-1", "s1")
	patientDest, _ := before.Destination(domain.EntityPatient, "p1")

	// Template evolves: an allergy is added and recaptured.
	insertRows(t, store, domain.EntityPatientAllergy,
		Row{"id": "alg1", "patient_id": "p1", "allergen": "penicillin"})
	snapshot := captureTemplate(t, svc)
	if snapshot.Version != 2 {
		t.Fatalf("recapture version = %d, want 2", snapshot.Version)
	}

	result, err := svc.Reset(ctx, ResetRequest{WorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}})
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if result.SnapshotVersion != 2 {
		t.Fatalf("reset used snapshot version %d, want 2", result.SnapshotVersion)
	}

	after, _ := storedMapping(t, store, "tmpl-1", "s1")
	if dest, _ := after.Destination(domain.EntityPatient, "p1"); dest != patientDest {
		t.Fatalf("existing assignment changed: %q -> %q", patientDest, dest)
	}
	allergyDest, ok := after.Destination(domain.EntityPatientAllergy, "alg1")
	if !ok {
		t.Fatal("new entity missing from extended mapping")
	}
	allergies := listRows(t, store, domain.EntityPatientAllergy, "patient_id", patientDest)
	if len(allergies) != 1 || allergies[0].String("id") != allergyDest {
		t.Fatalf("allergy not restored under extended mapping: %v", allergies)
	}
}

func TestEphemeralScopeRegeneratesIdentifiers(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx := context.Background()
	result, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	warned := false
	for _, warning := range result.Warnings {
		if warning == ephemeralWarning {
			warned = true
		}
	}
	if !warned {
		t.Fatal("ephemeral launch did not warn about invalidated artifacts")
	}
	if _, found := storedMapping(t, store, "tmpl-1", ""); found {
		t.Fatal("ephemeral scope persisted a mapping set")
	}
	firstID := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b")[0].String("id")

	if _, err := svc.Reset(ctx, ResetRequest{WorkspaceID: "ws-1", Scope: EphemeralScope{}}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	secondID := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b")[0].String("id")
	if secondID == firstID {
		t.Fatalf("ephemeral reset reused identifier %q", firstID)
	}
}

func TestResetWipesSessionAuthoredRows(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx := context.Background()
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	mapping, _ := storedMapping(t, store, "tmpl-1", "s1")
	patientDest, _ := mapping.Destination(domain.EntityPatient, "p1")

	// Trainees document against the restored patient during the session.
	insertRows(t, store, domain.EntityPatientNote,
		Row{"id": "note-live", "patient_id": patientDest, "content": "written during the session"})
	insertRows(t, store, domain.EntityPatientVital,
		Row{"id": "vital-live", "patient_id": patientDest})

	result, err := svc.Reset(ctx, ResetRequest{WorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}})
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if result.Deleted[domain.EntityPatientNote] != 1 || result.Deleted[domain.EntityPatientVital] != 1 {
		t.Fatalf("deleted counts %v", result.Deleted)
	}
	if rows := listRows(t, store, domain.EntityPatientNote, "patient_id", patientDest); len(rows) != 0 {
		t.Fatalf("session-authored note survived reset: %v", rows)
	}
	if rows := listRows(t, store, domain.EntityPatientVital, "patient_id", patientDest); len(rows) != 0 {
		t.Fatalf("session-authored vital survived reset: %v", rows)
	}
}

func TestLaunchRequiresPendingWorkspace(t *testing.T) {
	svc, store := newTestService(t, WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx := context.Background()
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}}); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	_, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError on second launch, got %v", err)
	}
}

func TestLaunchTenantMismatchAborts(t *testing.T) {
	svc, store := newTestService(t)
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	_, err := svc.Launch(context.Background(), LaunchRequest{
		TemplateID:        "tmpl-1",
		TargetWorkspaceID: "ws-1",
		ExpectedTenant:    "ward-z",
		Scope:             EphemeralScope{},
	})
	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if rows := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b"); len(rows) != 0 {
		t.Fatalf("mutation happened despite tenant mismatch: %v", rows)
	}
}

func TestRestoreRollsBackOnInsertFailure(t *testing.T) {
	inner := memory.NewStore()
	failing := &insertFailStore{Store: inner, entity: domain.EntityLabResult}
	svc, err := NewService(failing, nil,
		WithIDGenerator(sequenceIDs("dst")),
		WithRetryPolicy(RetryPolicy{Attempts: 1}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	seedClinicalTemplate(t, svc, inner)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	_, err = svc.Launch(context.Background(), LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}})
	if err == nil || !strings.Contains(err.Error(), "constraint violated") {
		t.Fatalf("expected injected insert failure, got %v", err)
	}
	// Nothing of the partial restore may remain.
	if rows := listRows(t, inner, domain.EntityPatient, "tenant_id", "ward-b"); len(rows) != 0 {
		t.Fatalf("partial restore leaked rows: %v", rows)
	}
	var ws Workspace
	_ = inner.View(context.Background(), func(view StoreView) error {
		ws, _, _ = view.Workspace(context.Background(), "ws-1")
		return nil
	})
	if ws.Status != WorkspacePending {
		t.Fatalf("workspace status %s after failed launch, want pending", ws.Status)
	}
}

func TestConcurrentOperationsAreRejectedImmediately(t *testing.T) {
	svc, store := newTestService(t)
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx := context.Background()
	if err := svc.locks.acquireExclusive("ws-1"); err != nil {
		t.Fatalf("acquireExclusive: %v", err)
	}
	defer svc.locks.releaseExclusive("ws-1")

	var conflict *domain.ConcurrencyConflictError
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}}); !errors.As(err, &conflict) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
	if _, err := svc.CaptureSnapshot(ctx, CaptureRequest{TemplateWorkspaceID: "ws-1"}); !errors.As(err, &conflict) {
		t.Fatalf("expected capture conflict, got %v", err)
	}

	// Shared holders exclude restores but not each other.
	if err := svc.locks.acquireShared("tmpl-1"); err != nil {
		t.Fatalf("acquireShared: %v", err)
	}
	defer svc.locks.releaseShared("tmpl-1")
	if _, err := svc.CaptureSnapshot(ctx, CaptureRequest{TemplateWorkspaceID: "tmpl-1"}); err != nil {
		t.Fatalf("capture under shared lock: %v", err)
	}
}

func TestCancelledContextAbortsBeforeMutation(t *testing.T) {
	svc, store := newTestService(t)
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rows := listRows(t, store, domain.EntityPatient, "tenant_id", "ward-b"); len(rows) != 0 {
		t.Fatalf("cancelled launch mutated the workspace: %v", rows)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	inner := memory.NewStore()
	flaky := &flakyStore{Store: inner}
	svc, err := NewService(flaky, nil,
		WithIDGenerator(sequenceIDs("dst")),
		WithRetryPolicy(RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	seedClinicalTemplate(t, svc, inner)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	flaky.failures = flaky.calls + 1
	result, err := svc.Launch(context.Background(), LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: EphemeralScope{}})
	if err != nil {
		t.Fatalf("launch after transient failure: %v", err)
	}
	if result.Phase != PhaseDone {
		t.Fatalf("phase %s, want done", result.Phase)
	}
	if rows := listRows(t, inner, domain.EntityPatient, "tenant_id", "ward-b"); len(rows) != 1 {
		t.Fatalf("expected restored patient after retry, got %v", rows)
	}
}

func TestRestoreOutcomesAreAudited(t *testing.T) {
	recorder := NewMemoryAuditRecorder()
	svc, store := newTestService(t, WithAuditRecorder(recorder), WithIDGenerator(sequenceIDs("dst")))
	seedClinicalTemplate(t, svc, store)
	captureTemplate(t, svc)
	provisionWorkspace(t, svc, "ws-1", "ward-b")

	ctx := context.Background()
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}, Actor: "instructor"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := svc.Launch(ctx, LaunchRequest{TemplateID: "tmpl-1", TargetWorkspaceID: "ws-1", Scope: SessionScope{SessionID: "s1"}}); err == nil {
		t.Fatal("second launch must fail")
	}

	var launches []AuditEvent
	for _, event := range recorder.Events() {
		if event.Action == ActionLaunch {
			launches = append(launches, event)
		}
	}
	if len(launches) != 2 {
		t.Fatalf("expected 2 launch events, got %d", len(launches))
	}
	success, failure := launches[0], launches[1]
	if success.Outcome != OutcomeSuccess || success.Actor != "instructor" || success.Session != "s1" {
		t.Fatalf("unexpected success event %+v", success)
	}
	if success.RowCounts[domain.EntityPatient] != 1 {
		t.Fatalf("success event row counts %v", success.RowCounts)
	}
	if failure.Outcome != OutcomeFailure || failure.Error == "" {
		t.Fatalf("unexpected failure event %+v", failure)
	}
}

func TestInsertSnapshotReportsUnresolvableReference(t *testing.T) {
	svc, store := newTestService(t)

	doc := domain.NewSnapshotDocument()
	doc.Append(domain.EntityMedicationAdministration, Row{"id": "a1", "patient_id": "p-ghost"})
	mapping := domain.NewMappingSet("tmpl-1", "")
	mapping.Assign(domain.EntityMedicationAdministration, "a1", "dst-a1")

	res := Result{Inserted: make(map[EntityType]int)}
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx Tx) error {
		_, err := svc.insertSnapshot(ctx, tx, Workspace{ID: "ws-1", TenantID: "ward-b"}, doc, mapping, &res)
		return err
	})
	var rie *domain.ReferentialIntegrityError
	if !errors.As(err, &rie) {
		t.Fatalf("expected ReferentialIntegrityError, got %v", err)
	}
	if rie.Column != "patient_id" || rie.Value != "p-ghost" || rie.Row == nil {
		t.Fatalf("incomplete error context: %+v", rie)
	}
}
