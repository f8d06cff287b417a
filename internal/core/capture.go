package core

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"haccare/internal/infra/archive"
	"haccare/pkg/domain"
)

// CaptureRequest names the template workspace to capture and the actor for
// the audit trail.
type CaptureRequest struct {
	TemplateWorkspaceID string
	Actor               string
}

// CaptureSnapshot reads every managed row scoped to the template workspace,
// in dependency order, into a new snapshot version. Rows are stored
// unmodified: foreign keys keep their source identifiers pending remap at
// restore time. The read and the version write share one transaction, so a
// capture observes a single consistent state. A template with no patients
// produces a valid, empty snapshot.
func (s *Service) CaptureSnapshot(ctx context.Context, req CaptureRequest) (SnapshotVersion, error) {
	start := s.clock.Now()
	if err := s.locks.acquireShared(req.TemplateWorkspaceID); err != nil {
		return SnapshotVersion{}, err
	}
	defer s.locks.releaseShared(req.TemplateWorkspaceID)

	var captured SnapshotVersion
	err := retryTransient(ctx, s.retry, func() error {
		return s.store.RunInTransaction(ctx, func(tx Tx) error {
			ws, ok, err := tx.Workspace(ctx, req.TemplateWorkspaceID)
			if err != nil {
				return err
			}
			if !ok {
				return &domain.ValidationError{Reason: fmt.Sprintf("template workspace %s does not exist", req.TemplateWorkspaceID)}
			}
			doc, _, err := s.collectManagedRows(ctx, tx, ws)
			if err != nil {
				return err
			}
			if err := s.registry.CheckClosure(doc); err != nil {
				return err
			}
			version := int64(1)
			if latest, found, err := tx.LatestSnapshot(ctx, ws.ID); err != nil {
				return err
			} else if found {
				version = latest.Version + 1
			}
			captured = SnapshotVersion{
				TemplateID: ws.ID,
				Version:    version,
				CapturedAt: s.clock.Now().UTC(),
				CapturedBy: req.Actor,
				Document:   doc,
			}
			return tx.PutSnapshot(ctx, captured)
		})
	})
	duration := s.clock.Now().Sub(start)
	if err != nil {
		s.logger.Error("capture failed",
			zap.String("template", req.TemplateWorkspaceID),
			zap.Error(err))
		s.emit(AuditEvent{
			Action:    ActionCapture,
			Workspace: req.TemplateWorkspaceID,
			Template:  req.TemplateWorkspaceID,
			Outcome:   OutcomeFailure,
			Error:     err.Error(),
			Actor:     req.Actor,
			Timestamp: s.clock.Now().UTC(),
			Duration:  duration,
		})
		return SnapshotVersion{}, err
	}
	s.publishToArchive(ctx, captured)
	s.logger.Info("captured snapshot",
		zap.String("template", captured.TemplateID),
		zap.Int64("version", captured.Version))
	s.emit(AuditEvent{
		Action:    ActionCapture,
		Workspace: req.TemplateWorkspaceID,
		Template:  captured.TemplateID,
		RowCounts: captured.Document.Counts(),
		Outcome:   OutcomeSuccess,
		Actor:     req.Actor,
		Timestamp: s.clock.Now().UTC(),
		Duration:  duration,
	})
	return captured, nil
}

// collectManagedRows walks the registry in insertion order and gathers every
// row scoped to the workspace: directly via the tenant column, or
// transitively via the parent entity's identifiers collected on an earlier
// pass. The identifier map it returns drives reverse-order deletion.
func (s *Service) collectManagedRows(ctx context.Context, view StoreView, ws Workspace) (SnapshotDocument, map[EntityType][]string, error) {
	doc := domain.NewSnapshotDocument()
	ids := make(map[EntityType][]string, s.registry.Len())
	for _, d := range s.registry.InsertionOrder() {
		var rows []Row
		var err error
		switch {
		case d.TenantColumn != "":
			rows, err = view.ListWhere(ctx, d.Entity, d.TenantColumn, ws.TenantID)
		case len(ids[d.Parent]) == 0:
			// No parents in this workspace, so no reachable rows.
		default:
			rows, err = view.ListWhereIn(ctx, d.Entity, d.ParentColumn, ids[d.Parent])
		}
		if err != nil {
			return SnapshotDocument{}, nil, err
		}
		for _, row := range rows {
			ids[d.Entity] = append(ids[d.Entity], row.String(d.IdentityColumn))
		}
		if len(rows) > 0 {
			doc.Entities[d.Entity] = rows
		}
	}
	return doc, ids, nil
}

// publishToArchive writes the captured version to the configured blob
// archive. Archive publication is best-effort: the store commit is the
// durability boundary, so a publication failure logs and moves on.
func (s *Service) publishToArchive(ctx context.Context, snapshot SnapshotVersion) {
	if s.archive == nil {
		return
	}
	encoded, err := archive.EncodeSnapshot(snapshot)
	if err != nil {
		s.logger.Warn("archive encode failed",
			zap.String("template", snapshot.TemplateID),
			zap.Int64("version", snapshot.Version),
			zap.Error(err))
		return
	}
	key := archive.SnapshotKey(snapshot.TemplateID, snapshot.Version)
	if _, err := s.archive.Put(ctx, key, bytes.NewReader(encoded)); err != nil {
		s.logger.Warn("archive publish failed",
			zap.String("key", key),
			zap.Error(err))
		return
	}
	s.logger.Info("archived snapshot", zap.String("key", key))
}

// ArchivedSnapshot fetches a previously published snapshot version from the
// archive.
func (s *Service) ArchivedSnapshot(ctx context.Context, templateID string, version int64) (SnapshotVersion, error) {
	if s.archive == nil {
		return SnapshotVersion{}, fmt.Errorf("no snapshot archive configured")
	}
	rc, err := s.archive.Get(ctx, archive.SnapshotKey(templateID, version))
	if err != nil {
		return SnapshotVersion{}, err
	}
	defer func() { _ = rc.Close() }()
	return archive.DecodeSnapshot(rc)
}
