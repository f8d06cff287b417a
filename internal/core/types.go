package core

import "haccare/pkg/domain"

type (
	EntityType       = domain.EntityType
	Row              = domain.Row
	Registry         = domain.Registry
	Descriptor       = domain.Descriptor
	SnapshotDocument = domain.SnapshotDocument
	SnapshotVersion  = domain.SnapshotVersion
	MappingSet       = domain.MappingSet
	Scope            = domain.Scope
	SessionScope     = domain.SessionScope
	EphemeralScope   = domain.EphemeralScope
	Workspace        = domain.Workspace
	WorkspaceStatus  = domain.WorkspaceStatus
	Store            = domain.Store
	Tx               = domain.Tx
	StoreView        = domain.View
)

const (
	WorkspacePending   = domain.WorkspacePending
	WorkspaceRunning   = domain.WorkspaceRunning
	WorkspacePaused    = domain.WorkspacePaused
	WorkspaceCompleted = domain.WorkspaceCompleted
)
