package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"haccare/pkg/domain"
)

// LaunchRequest starts a scenario: the template's latest snapshot is
// restored into a freshly provisioned, still-empty target workspace.
type LaunchRequest struct {
	TemplateID        string
	TargetWorkspaceID string
	// ExpectedTenant, when set, must match the target workspace's tenant
	// namespace; a mismatch aborts before any mutation.
	ExpectedTenant string
	Scope          Scope
	Actor          string
}

// ResetRequest restores a running workspace back to its template baseline,
// discarding everything authored during the live session.
type ResetRequest struct {
	WorkspaceID    string
	ExpectedTenant string
	Scope          Scope
	Actor          string
}

// RestartRequest reruns a completed workspace. Mechanically identical to
// reset; only the permitted starting status differs.
type RestartRequest struct {
	WorkspaceID    string
	ExpectedTenant string
	Scope          Scope
	Actor          string
}

// ProvisionRequest creates a workspace in pending status. A workspace with
// a tenant namespace can serve as a template source for captures, a restore
// target for launches, or both.
type ProvisionRequest struct {
	WorkspaceID string // generated when empty
	TenantID    string
	TemplateID  string // optional pre-binding; launch overwrites it
}

// Provision registers a new, empty workspace.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (Workspace, error) {
	if req.TenantID == "" {
		return Workspace{}, &domain.ValidationError{Reason: "provision requires a tenant"}
	}
	id := req.WorkspaceID
	if id == "" {
		id = s.newID()
	}
	now := s.clock.Now().UTC()
	ws := Workspace{
		ID:         id,
		TenantID:   req.TenantID,
		TemplateID: req.TemplateID,
		Status:     WorkspacePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.store.RunInTransaction(ctx, func(tx Tx) error {
		if _, ok, err := tx.Workspace(ctx, id); err != nil {
			return err
		} else if ok {
			return &domain.ValidationError{Reason: fmt.Sprintf("workspace %s already exists", id)}
		}
		return tx.PutWorkspace(ctx, ws)
	})
	if err != nil {
		return Workspace{}, err
	}
	s.logger.Info("workspace provisioned",
		zap.String("workspace", id),
		zap.String("tenant", req.TenantID))
	return ws, nil
}

// Launch drives (none) → running: insert-only restore against a pending
// workspace, binding it to the template for later resets.
func (s *Service) Launch(ctx context.Context, req LaunchRequest) (Result, error) {
	if req.TemplateID == "" {
		return Result{Phase: PhaseFailed}, &domain.ValidationError{Reason: "launch requires a template"}
	}
	return s.runRestore(ctx, restorePlan{
		action:         ActionLaunch,
		mode:           ModeInsertOnly,
		workspaceID:    req.TargetWorkspaceID,
		templateID:     req.TemplateID,
		expectedTenant: req.ExpectedTenant,
		scope:          normalizeScope(req.Scope),
		actor:          req.Actor,
		allowedFrom:    []WorkspaceStatus{WorkspacePending},
	})
}

// Reset drives running → running: unconditional full wipe of the
// workspace's managed rows followed by a complete restore of the template's
// latest snapshot. With a session scope, destination identifiers are
// identical on every reset.
func (s *Service) Reset(ctx context.Context, req ResetRequest) (Result, error) {
	return s.runRestore(ctx, restorePlan{
		action:         ActionReset,
		mode:           ModeFullReset,
		workspaceID:    req.WorkspaceID,
		expectedTenant: req.ExpectedTenant,
		scope:          normalizeScope(req.Scope),
		actor:          req.Actor,
		allowedFrom:    []WorkspaceStatus{WorkspaceRunning},
	})
}

// Restart drives completed → running with reset mechanics.
func (s *Service) Restart(ctx context.Context, req RestartRequest) (Result, error) {
	return s.runRestore(ctx, restorePlan{
		action:         ActionRestart,
		mode:           ModeFullReset,
		workspaceID:    req.WorkspaceID,
		expectedTenant: req.ExpectedTenant,
		scope:          normalizeScope(req.Scope),
		actor:          req.Actor,
		allowedFrom:    []WorkspaceStatus{WorkspaceCompleted},
	})
}

// Pause drives running → paused. Status only: no row is touched.
func (s *Service) Pause(ctx context.Context, workspaceID string) error {
	return s.setStatus(ctx, workspaceID, []WorkspaceStatus{WorkspaceRunning}, WorkspacePaused)
}

// Resume drives paused → running. Status only.
func (s *Service) Resume(ctx context.Context, workspaceID string) error {
	return s.setStatus(ctx, workspaceID, []WorkspaceStatus{WorkspacePaused}, WorkspaceRunning)
}

// Complete drives running → completed. Status only: data stays in place
// until the next restart.
func (s *Service) Complete(ctx context.Context, workspaceID string) error {
	return s.setStatus(ctx, workspaceID, []WorkspaceStatus{WorkspaceRunning}, WorkspaceCompleted)
}

func (s *Service) setStatus(ctx context.Context, workspaceID string, allowed []WorkspaceStatus, to WorkspaceStatus) error {
	err := s.store.RunInTransaction(ctx, func(tx Tx) error {
		ws, ok, err := tx.Workspace(ctx, workspaceID)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.ValidationError{Reason: fmt.Sprintf("workspace %s does not exist", workspaceID)}
		}
		if err := requireStatus(ws, allowed); err != nil {
			return err
		}
		ws.Status = to
		ws.UpdatedAt = s.clock.Now().UTC()
		return tx.PutWorkspace(ctx, ws)
	})
	if err != nil {
		return err
	}
	s.logger.Info("workspace status changed",
		zap.String("workspace", workspaceID),
		zap.String("status", string(to)))
	return nil
}

// WorkspaceInfo is the status surface for operators.
type WorkspaceInfo struct {
	Workspace       Workspace
	LatestSnapshot  int64
	SnapshotMissing bool
}

// Status reports a workspace's lifecycle state and, when the workspace is
// bound to a template, the template's latest snapshot version.
func (s *Service) Status(ctx context.Context, workspaceID string) (WorkspaceInfo, error) {
	var info WorkspaceInfo
	err := s.store.View(ctx, func(view StoreView) error {
		ws, ok, err := view.Workspace(ctx, workspaceID)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.ValidationError{Reason: fmt.Sprintf("workspace %s does not exist", workspaceID)}
		}
		info.Workspace = ws
		if ws.TemplateID == "" {
			return nil
		}
		latest, found, err := view.LatestSnapshot(ctx, ws.TemplateID)
		if err != nil {
			return err
		}
		if !found {
			info.SnapshotMissing = true
			return nil
		}
		info.LatestSnapshot = latest.Version
		return nil
	})
	return info, err
}

// normalizeScope maps a nil scope to Ephemeral so callers that skip the
// session argument get the documented ad hoc behavior rather than a panic.
func normalizeScope(scope Scope) Scope {
	if scope == nil {
		return EphemeralScope{}
	}
	return scope
}
