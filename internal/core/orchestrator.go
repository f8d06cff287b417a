package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"haccare/pkg/domain"
)

// Mode selects what a restore does to pre-existing rows.
type Mode int

// Restore modes.
const (
	// ModeInsertOnly restores into a freshly provisioned, empty workspace.
	ModeInsertOnly Mode = iota
	// ModeFullReset wipes every managed row first, then restores. Partial
	// or selective deletion is deliberately unsupported: delete everything,
	// then restore everything, is the only safe semantics.
	ModeFullReset
)

// Phase names the orchestrator states. Failed is reachable from any phase.
type Phase string

// Orchestrator phases in execution order.
const (
	PhaseValidating Phase = "validating"
	PhaseDeleting   Phase = "deleting"
	PhaseInserting  Phase = "inserting"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Result reports the outcome of a launch, reset, or restart.
type Result struct {
	Action          Action
	Workspace       string
	Template        string
	Session         string
	SnapshotVersion int64
	Phase           Phase
	Inserted        map[EntityType]int
	Deleted         map[EntityType]int
	Warnings        []string
	Duration        time.Duration
}

// restorePlan is the internal input to the orchestrator, assembled by the
// lifecycle entry points.
type restorePlan struct {
	action         Action
	mode           Mode
	workspaceID    string
	templateID     string // empty for reset/restart: taken from the workspace binding
	expectedTenant string
	scope          Scope
	actor          string
	allowedFrom    []WorkspaceStatus
}

const ephemeralWarning = "ephemeral restore: identifiers were regenerated, previously printed artifacts are no longer valid"

// runRestore drives Validating → Deleting → Inserting → Finalizing inside a
// single store transaction under the workspace's exclusive lock. Transient
// store failures retry the whole transaction; everything else fails the
// operation with the workspace left byte-identical to its pre-attempt state.
func (s *Service) runRestore(ctx context.Context, plan restorePlan) (Result, error) {
	start := s.clock.Now()
	res := Result{
		Action:    plan.action,
		Workspace: plan.workspaceID,
		Session:   sessionID(plan.scope),
		Phase:     PhaseValidating,
	}
	if err := s.locks.acquireExclusive(plan.workspaceID); err != nil {
		res.Phase = PhaseFailed
		return res, err
	}
	defer s.locks.releaseExclusive(plan.workspaceID)

	// Cancellation is honored up to the Deleting phase; after that the
	// transaction runs to commit or rollback on a detached context.
	txCtx := context.WithoutCancel(ctx)
	err := retryTransient(ctx, s.retry, func() error {
		res.Inserted = make(map[EntityType]int)
		res.Deleted = make(map[EntityType]int)
		res.Warnings = nil
		res.Phase = PhaseValidating
		return s.store.RunInTransaction(txCtx, func(tx Tx) error {
			return s.restoreInTx(ctx, txCtx, tx, plan, &res)
		})
	})
	res.Duration = s.clock.Now().Sub(start)

	event := AuditEvent{
		Action:    plan.action,
		Workspace: plan.workspaceID,
		Template:  res.Template,
		Session:   res.Session,
		RowCounts: res.Inserted,
		Actor:     plan.actor,
		Timestamp: s.clock.Now().UTC(),
		Duration:  res.Duration,
	}
	if err != nil {
		res.Phase = PhaseFailed
		event.Outcome = OutcomeFailure
		event.Error = err.Error()
		s.emit(event)
		s.logger.Error("restore failed",
			zap.String("action", string(plan.action)),
			zap.String("workspace", plan.workspaceID),
			zap.String("phase", string(res.Phase)),
			zap.Error(err))
		return res, err
	}
	res.Phase = PhaseDone
	event.Outcome = OutcomeSuccess
	s.emit(event)
	s.logger.Info("restore complete",
		zap.String("action", string(plan.action)),
		zap.String("workspace", plan.workspaceID),
		zap.String("template", res.Template),
		zap.Int64("snapshot_version", res.SnapshotVersion),
		zap.String("session", res.Session))
	return res, nil
}

func (s *Service) restoreInTx(ctx, txCtx context.Context, tx Tx, plan restorePlan, res *Result) error {
	// Validating.
	ws, ok, err := tx.Workspace(txCtx, plan.workspaceID)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.ValidationError{Reason: fmt.Sprintf("workspace %s does not exist", plan.workspaceID)}
	}
	if plan.expectedTenant != "" && ws.TenantID != plan.expectedTenant {
		return &domain.ValidationError{Reason: fmt.Sprintf("workspace %s belongs to tenant %s, expected %s", ws.ID, ws.TenantID, plan.expectedTenant)}
	}
	if err := requireStatus(ws, plan.allowedFrom); err != nil {
		return err
	}
	templateID := plan.templateID
	if templateID == "" {
		templateID = ws.TemplateID
	}
	if templateID == "" {
		return &domain.ValidationError{Reason: fmt.Sprintf("workspace %s is not bound to a template", ws.ID)}
	}
	res.Template = templateID

	snapshot, found, err := tx.LatestSnapshot(txCtx, templateID)
	if err != nil {
		return err
	}
	if !found {
		return &domain.ValidationError{Reason: fmt.Sprintf("template %s has no captured snapshot", templateID)}
	}
	res.SnapshotVersion = snapshot.Version
	if err := s.registry.CheckClosure(snapshot.Document); err != nil {
		return err
	}
	mapping, added, err := s.resolveMapping(txCtx, tx, templateID, plan.scope, snapshot.Document)
	if err != nil {
		return err
	}
	if added > 0 && mapping.SessionID != "" {
		s.logger.Info("extended session mapping",
			zap.String("template", templateID),
			zap.String("session", mapping.SessionID),
			zap.Int("assignments", added))
	}
	if _, ephemeral := plan.scope.(EphemeralScope); ephemeral {
		res.Warnings = append(res.Warnings, ephemeralWarning)
	}

	// Last cancellation point: nothing has been mutated yet.
	if err := ctx.Err(); err != nil {
		return err
	}

	// Deleting. Unconditional full wipe of managed rows, children first.
	if plan.mode == ModeFullReset {
		res.Phase = PhaseDeleting
		if err := s.wipeWorkspace(txCtx, tx, ws, res.Deleted); err != nil {
			return err
		}
	}

	// Inserting.
	res.Phase = PhaseInserting
	finalize, err := s.insertSnapshot(txCtx, tx, ws, snapshot.Document, mapping, res)
	if err != nil {
		return err
	}

	// Finalizing: derived columns, mapping persistence, status flip.
	res.Phase = PhaseFinalizing
	for _, pending := range finalize {
		columns := make(map[string]any, len(pending.descriptor.Derived))
		for _, derived := range pending.descriptor.Derived {
			columns[derived.Column] = derived.Derive(pending.row)
		}
		if err := tx.UpdateRow(txCtx, pending.descriptor.Entity, pending.id, columns); err != nil {
			return err
		}
	}
	if mapping.SessionID != "" {
		if err := tx.PutMappingSet(txCtx, mapping); err != nil {
			return err
		}
	}
	ws.TemplateID = templateID
	ws.Status = WorkspaceRunning
	ws.UpdatedAt = s.clock.Now().UTC()
	return tx.PutWorkspace(txCtx, ws)
}

// wipeWorkspace deletes every managed row scoped to the workspace in
// reverse dependency order. Reachable identifiers are collected up front,
// while parent rows still exist, so transitively scoped entities can be
// addressed through their parents.
func (s *Service) wipeWorkspace(ctx context.Context, tx Tx, ws Workspace, deleted map[EntityType]int) error {
	_, ids, err := s.collectManagedRows(ctx, tx, ws)
	if err != nil {
		return err
	}
	for _, d := range s.registry.DeletionOrder() {
		var n int
		switch {
		case d.TenantColumn != "":
			n, err = tx.DeleteWhere(ctx, d.Entity, d.TenantColumn, ws.TenantID)
		case len(ids[d.Parent]) == 0:
			continue
		default:
			n, err = tx.DeleteWhereIn(ctx, d.Entity, d.ParentColumn, ids[d.Parent])
		}
		if err != nil {
			return err
		}
		deleted[d.Entity] = n
	}
	return nil
}

type pendingDerivation struct {
	descriptor *Descriptor
	id         string
	row        Row
}

// insertSnapshot writes every snapshot row in forward dependency order,
// remapping identity and foreign-key columns through the mapping set and
// restamping tenant columns with the target workspace's namespace. A foreign
// key that resolves against neither the mapping nor the snapshot aborts the
// whole operation: partial restores are not permitted.
func (s *Service) insertSnapshot(ctx context.Context, tx Tx, ws Workspace, doc SnapshotDocument, mapping MappingSet, res *Result) ([]pendingDerivation, error) {
	var finalize []pendingDerivation
	for _, d := range s.registry.InsertionOrder() {
		rows, present := doc.Entities[d.Entity]
		if !present {
			res.Warnings = append(res.Warnings, fmt.Sprintf("entity %s present in registry but absent from snapshot, skipped", d.Entity))
			continue
		}
		for _, source := range rows {
			row := source.Clone()
			sourceID := row.String(d.IdentityColumn)
			destID, ok := mapping.Destination(d.Entity, sourceID)
			if !ok {
				return nil, &domain.ValidationError{Entity: d.Entity, RowID: sourceID, Reason: "mapping set does not cover this identity"}
			}
			row[d.IdentityColumn] = destID
			for _, fk := range d.References() {
				value := row.String(fk.Column)
				if value == "" {
					continue
				}
				mapped, ok := mapping.Destination(fk.References, value)
				if !ok {
					rie := &domain.ReferentialIntegrityError{
						Entity: d.Entity,
						RowID:  sourceID,
						Column: fk.Column,
						Value:  value,
						Row:    source,
					}
					s.logger.Error("unresolvable foreign key",
						zap.String("entity", string(d.Entity)),
						zap.String("row", sourceID),
						zap.String("column", fk.Column),
						zap.Any("row_dump", source))
					return nil, rie
				}
				row[fk.Column] = mapped
			}
			if d.TenantColumn != "" {
				row[d.TenantColumn] = ws.TenantID
			}
			if err := tx.InsertRow(ctx, d.Entity, destID, row); err != nil {
				return nil, err
			}
			res.Inserted[d.Entity]++
			if len(d.Derived) > 0 {
				finalize = append(finalize, pendingDerivation{descriptor: d, id: destID, row: row})
			}
		}
	}
	return finalize, nil
}

func requireStatus(ws Workspace, allowed []WorkspaceStatus) error {
	for _, status := range allowed {
		if ws.Status == status {
			return nil
		}
	}
	return &domain.ValidationError{Reason: fmt.Sprintf("workspace %s is %s, operation requires one of %v", ws.ID, ws.Status, allowed)}
}
