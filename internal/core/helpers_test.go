package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"haccare/internal/infra/persistence/memory"
	"haccare/pkg/domain"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	base := []Option{
		WithClock(ClockFunc(func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) })),
		WithRetryPolicy(RetryPolicy{Attempts: 1}),
	}
	svc, err := NewService(store, nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

// sequenceIDs makes destination identifiers readable and deterministic.
func sequenceIDs(prefix string) func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

func provisionWorkspace(t *testing.T, svc *Service, id, tenant string) Workspace {
	t.Helper()
	ws, err := svc.Provision(context.Background(), ProvisionRequest{WorkspaceID: id, TenantID: tenant})
	if err != nil {
		t.Fatalf("Provision(%s): %v", id, err)
	}
	return ws
}

func insertRows(t *testing.T, store Store, entity EntityType, rows ...Row) {
	t.Helper()
	err := store.RunInTransaction(context.Background(), func(tx Tx) error {
		for _, row := range rows {
			if err := tx.InsertRow(context.Background(), entity, row.String("id"), row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert %s rows: %v", entity, err)
	}
}

func listRows(t *testing.T, store Store, entity EntityType, column, value string) []Row {
	t.Helper()
	var out []Row
	err := store.View(context.Background(), func(view StoreView) error {
		rows, err := view.ListWhere(context.Background(), entity, column, value)
		out = rows
		return err
	})
	if err != nil {
		t.Fatalf("list %s: %v", entity, err)
	}
	return out
}

// seedClinicalTemplate provisions template workspace "tmpl-1" under tenant
// "ward-a" with a small but fully linked record graph.
func seedClinicalTemplate(t *testing.T, svc *Service, store Store) Workspace {
	t.Helper()
	ws := provisionWorkspace(t, svc, "tmpl-1", "ward-a")
	insertRows(t, store, domain.EntityPatient,
		Row{"id": "p1", "tenant_id": "ward-a", "first_name": "Ada", "last_name": "Gray", "date_of_birth": "1980-01-01"})
	insertRows(t, store, domain.EntityPatientAlert,
		Row{"id": "al1", "tenant_id": "ward-a", "patient_id": "p1", "alert_type": "fall_risk", "message": "high fall risk"})
	insertRows(t, store, domain.EntityPatientMedication,
		Row{"id": "m1", "patient_id": "p1", "name": "amoxicillin"})
	insertRows(t, store, domain.EntityMedicationAdministration,
		Row{"id": "a1", "medication_id": "m1", "patient_id": "p1"})
	insertRows(t, store, domain.EntityLabPanel,
		Row{"id": "lp1", "patient_id": "p1", "panel_name": "CBC"})
	insertRows(t, store, domain.EntityLabResult,
		Row{"id": "lr1", "panel_id": "lp1", "patient_id": "p1", "test_name": "WBC"})
	return ws
}

// flakyStore fails the first n RunInTransaction calls with a transient error.
type flakyStore struct {
	Store
	failures int
	calls    int
}

func (f *flakyStore) RunInTransaction(ctx context.Context, fn func(Tx) error) error {
	f.calls++
	if f.calls <= f.failures {
		return &domain.TransientStoreError{Op: "begin", Err: fmt.Errorf("simulated outage %d", f.calls)}
	}
	return f.Store.RunInTransaction(ctx, fn)
}

// insertFailStore fails InsertRow for one entity with a non-transient error.
type insertFailStore struct {
	Store
	entity EntityType
}

func (s *insertFailStore) RunInTransaction(ctx context.Context, fn func(Tx) error) error {
	return s.Store.RunInTransaction(ctx, func(tx Tx) error {
		return fn(&insertFailTx{Tx: tx, entity: s.entity})
	})
}

type insertFailTx struct {
	Tx
	entity EntityType
}

func (t *insertFailTx) InsertRow(ctx context.Context, entity EntityType, id string, row Row) error {
	if entity == t.entity {
		return fmt.Errorf("constraint violated on %s", entity)
	}
	return t.Tx.InsertRow(ctx, entity, id, row)
}
