package domain

import "context"

// View provides read access to one consistent version of the store. Capture
// runs entirely against a View; restores read through their Tx.
type View interface {
	// ListWhere returns rows of entity whose column equals value, ordered
	// by row identifier.
	ListWhere(ctx context.Context, entity EntityType, column, value string) ([]Row, error)
	// ListWhereIn returns rows of entity whose column equals any of the
	// values, ordered by row identifier.
	ListWhereIn(ctx context.Context, entity EntityType, column string, values []string) ([]Row, error)
	Workspace(ctx context.Context, id string) (Workspace, bool, error)
	MappingSet(ctx context.Context, templateID, sessionID string) (MappingSet, bool, error)
	LatestSnapshot(ctx context.Context, templateID string) (SnapshotVersion, bool, error)
}

// Tx is the atomic mutation scope of a restore or capture. Either every
// operation performed through a Tx commits, or none does: the engine relies
// on this to guarantee that no observer ever sees a partially restored
// workspace.
type Tx interface {
	View
	InsertRow(ctx context.Context, entity EntityType, id string, row Row) error
	// UpdateRow merges columns into the identified row.
	UpdateRow(ctx context.Context, entity EntityType, id string, columns map[string]any) error
	DeleteWhere(ctx context.Context, entity EntityType, column, value string) (int, error)
	DeleteWhereIn(ctx context.Context, entity EntityType, column string, values []string) (int, error)
	PutWorkspace(ctx context.Context, workspace Workspace) error
	// PutMappingSet upserts the full mapping set for its (template, session)
	// pair. Extensions recorded during a restore commit atomically with the
	// restored rows.
	PutMappingSet(ctx context.Context, mapping MappingSet) error
	// PutSnapshot stores a new snapshot version. Versions are assigned by
	// the caller and must be monotonically increasing per template.
	PutSnapshot(ctx context.Context, snapshot SnapshotVersion) error
}

// Store is the engine's persistence contract. Implementations classify
// retryable backend failures as TransientStoreError; every other failure is
// treated as structural and fatal for the operation in flight.
type Store interface {
	// RunInTransaction executes fn within an atomic scope and commits only
	// when fn returns nil.
	RunInTransaction(ctx context.Context, fn func(Tx) error) error
	// View executes fn against a single consistent read of the store.
	View(ctx context.Context, fn func(View) error) error
	Close() error
}
