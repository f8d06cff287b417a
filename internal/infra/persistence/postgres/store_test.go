package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"haccare/internal/infra/persistence/postgres/testutil"
	"haccare/pkg/domain"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	store, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewStoreWithDB: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestPostgresStoreAppliesDDL(t *testing.T) {
	_, conn := newStubStore(t)
	if len(conn.Execs) != 4 {
		t.Fatalf("expected 4 DDL statements, got %d", len(conn.Execs))
	}
}

func TestPostgresRowFilters(t *testing.T) {
	store, _ := newStubStore(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		rows := []domain.Row{
			{"id": "p2", "tenant_id": "ward-a"},
			{"id": "p1", "tenant_id": "ward-a"},
			{"id": "p3", "tenant_id": "ward-b"},
		}
		for _, row := range rows {
			if err := tx.InsertRow(ctx, domain.EntityPatient, row.String("id"), row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.View(ctx, func(view domain.View) error {
		rows, err := view.ListWhere(ctx, domain.EntityPatient, "tenant_id", "ward-a")
		if err != nil {
			return err
		}
		if len(rows) != 2 || rows[0].String("id") != "p1" || rows[1].String("id") != "p2" {
			t.Fatalf("tenant filter/order wrong: %v", rows)
		}
		byIn, err := view.ListWhereIn(ctx, domain.EntityPatient, "id", []string{"p1", "p3"})
		if err != nil {
			return err
		}
		if len(byIn) != 2 {
			t.Fatalf("IN filter returned %v", byIn)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestPostgresUpdateAndDelete(t *testing.T) {
	store, _ := newStubStore(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if err := tx.InsertRow(ctx, domain.EntityPatient, "p1", domain.Row{"id": "p1", "tenant_id": "ward-a"}); err != nil {
			return err
		}
		if err := tx.UpdateRow(ctx, domain.EntityPatient, "p1", map[string]any{"armband_code": "HAC-P1"}); err != nil {
			return err
		}
		rows, err := tx.ListWhere(ctx, domain.EntityPatient, "id", "p1")
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].String("armband_code") != "HAC-P1" {
			t.Fatalf("update not applied: %v", rows)
		}
		n, err := tx.DeleteWhere(ctx, domain.EntityPatient, "tenant_id", "ward-a")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("deleted %d, want 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestPostgresWorkspaceMappingSnapshotRoundTrip(t *testing.T) {
	store, _ := newStubStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		ws := domain.Workspace{ID: "ws-1", TenantID: "ward-a", Status: domain.WorkspacePending, CreatedAt: now, UpdatedAt: now}
		if err := tx.PutWorkspace(ctx, ws); err != nil {
			return err
		}
		ws.Status = domain.WorkspaceRunning
		if err := tx.PutWorkspace(ctx, ws); err != nil {
			return err
		}
		mapping := domain.NewMappingSet("tmpl", "s1")
		mapping.Assign(domain.EntityPatient, "p1", "d1")
		if err := tx.PutMappingSet(ctx, mapping); err != nil {
			return err
		}
		if err := tx.PutSnapshot(ctx, domain.SnapshotVersion{TemplateID: "tmpl", Version: 1, CapturedAt: now, Document: domain.NewSnapshotDocument()}); err != nil {
			return err
		}
		return tx.PutSnapshot(ctx, domain.SnapshotVersion{TemplateID: "tmpl", Version: 2, CapturedAt: now, Document: domain.NewSnapshotDocument()})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = store.View(ctx, func(view domain.View) error {
		ws, found, err := view.Workspace(ctx, "ws-1")
		if err != nil {
			return err
		}
		if !found || ws.Status != domain.WorkspaceRunning {
			t.Fatalf("workspace upsert lost: %+v (found %v)", ws, found)
		}
		if _, found, err := view.Workspace(ctx, "missing"); err != nil || found {
			t.Fatalf("missing workspace: found=%v err=%v", found, err)
		}
		mapping, found, err := view.MappingSet(ctx, "tmpl", "s1")
		if err != nil {
			return err
		}
		if !found {
			t.Fatal("mapping not found")
		}
		if dest, ok := mapping.Destination(domain.EntityPatient, "p1"); !ok || dest != "d1" {
			t.Fatalf("mapping content lost: %+v", mapping)
		}
		latest, found, err := view.LatestSnapshot(ctx, "tmpl")
		if err != nil {
			return err
		}
		if !found || latest.Version != 2 {
			t.Fatalf("latest snapshot = %+v (found %v)", latest, found)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestPostgresClassifiesBackendFailuresTransient(t *testing.T) {
	store, conn := newStubStore(t)
	ctx := context.Background()

	conn.FailTables = map[string]bool{"managed_rows": true}
	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		return tx.InsertRow(ctx, domain.EntityPatient, "p1", domain.Row{"id": "p1"})
	})
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}

	conn.FailTables = nil
	conn.FailBegin = true
	err = store.View(ctx, func(domain.View) error { return nil })
	var transient *domain.TransientStoreError
	if !errors.As(err, &transient) {
		t.Fatalf("expected transient begin failure, got %v", err)
	}
}

func TestPostgresCommitFailureIsTransient(t *testing.T) {
	store, conn := newStubStore(t)
	conn.FailCommit = true
	err := store.RunInTransaction(context.Background(), func(tx domain.Tx) error { return nil })
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient commit failure, got %v", err)
	}
}

func TestPostgresConstraintViolationIsNotTransient(t *testing.T) {
	store, _ := newStubStore(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx domain.Tx) error {
		if err := tx.InsertRow(ctx, domain.EntityPatient, "p1", domain.Row{"id": "p1"}); err != nil {
			return err
		}
		return tx.InsertRow(ctx, domain.EntityPatient, "p1", domain.Row{"id": "p1"})
	})
	if err == nil {
		t.Fatal("duplicate insert accepted")
	}
	if domain.IsTransient(err) {
		t.Fatalf("unique violation classified as transient: %v", err)
	}
	var perr *pgconn.PgError
	if !errors.As(err, &perr) || perr.Code != "23505" {
		t.Fatalf("expected unique_violation, got %v", err)
	}
}

func TestPostgresErrorClassification(t *testing.T) {
	transientCodes := []string{"08006", "40001", "40P01", "55P03", "53300", "57P03"}
	for _, code := range transientCodes {
		if !domain.IsTransient(classify("op", &pgconn.PgError{Code: code})) {
			t.Errorf("SQLSTATE %s should be transient", code)
		}
	}
	structuralCodes := []string{"23505", "23503", "42601", "22P02"}
	for _, code := range structuralCodes {
		if domain.IsTransient(classify("op", &pgconn.PgError{Code: code})) {
			t.Errorf("SQLSTATE %s should not be transient", code)
		}
	}
	if !domain.IsTransient(classify("op", errors.New("broken pipe"))) {
		t.Error("connection-level failure without a SQLSTATE should be transient")
	}
}
