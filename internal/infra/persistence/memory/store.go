// Package memory provides an in-memory row store used for tests and
// ephemeral environments. Transactions run against a deep copy of the state
// which replaces the live state only on commit, so a failed restore leaves
// the store byte-identical to its pre-attempt contents.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"haccare/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Store = (*Store)(nil)

type state struct {
	rows       map[domain.EntityType]map[string]domain.Row
	workspaces map[string]domain.Workspace
	mappings   map[string]domain.MappingSet
	snapshots  map[string][]domain.SnapshotVersion
}

func newState() *state {
	return &state{
		rows:       make(map[domain.EntityType]map[string]domain.Row),
		workspaces: make(map[string]domain.Workspace),
		mappings:   make(map[string]domain.MappingSet),
		snapshots:  make(map[string][]domain.SnapshotVersion),
	}
}

func (s *state) clone() *state {
	out := newState()
	for entity, byID := range s.rows {
		bucket := make(map[string]domain.Row, len(byID))
		for id, row := range byID {
			bucket[id] = row.Clone()
		}
		out.rows[entity] = bucket
	}
	for id, ws := range s.workspaces {
		out.workspaces[id] = ws
	}
	for key, mapping := range s.mappings {
		out.mappings[key] = mapping.Clone()
	}
	for template, versions := range s.snapshots {
		cloned := make([]domain.SnapshotVersion, len(versions))
		for i, v := range versions {
			v.Document = v.Document.Clone()
			cloned[i] = v
		}
		out.snapshots[template] = cloned
	}
	return out
}

func mappingKey(templateID, sessionID string) string {
	return templateID + "\x00" + sessionID
}

// Store is the in-memory row store.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// RunInTransaction executes fn against a cloned state and swaps it in only
// when fn succeeds.
func (s *Store) RunInTransaction(_ context.Context, fn func(domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.state.clone()
	if err := fn(&tx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// View executes fn against a cloned state, isolating the caller from
// concurrent commits.
func (s *Store) View(_ context.Context, fn func(domain.View) error) error {
	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()
	return fn(&tx{state: working})
}

// Close implements domain.Store.
func (s *Store) Close() error { return nil }

type tx struct {
	state *state
}

var _ domain.Tx = (*tx)(nil)

func (t *tx) ListWhere(_ context.Context, entity domain.EntityType, column, value string) ([]domain.Row, error) {
	return t.list(entity, func(row domain.Row) bool {
		return row.String(column) == value
	}), nil
}

func (t *tx) ListWhereIn(_ context.Context, entity domain.EntityType, column string, values []string) ([]domain.Row, error) {
	accepted := make(map[string]bool, len(values))
	for _, v := range values {
		accepted[v] = true
	}
	return t.list(entity, func(row domain.Row) bool {
		return accepted[row.String(column)]
	}), nil
}

func (t *tx) list(entity domain.EntityType, match func(domain.Row) bool) []domain.Row {
	byID := t.state.rows[entity]
	ids := make([]string, 0, len(byID))
	for id, row := range byID {
		if match(row) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]domain.Row, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id].Clone())
	}
	return out
}

func (t *tx) Workspace(_ context.Context, id string) (domain.Workspace, bool, error) {
	ws, ok := t.state.workspaces[id]
	return ws, ok, nil
}

func (t *tx) MappingSet(_ context.Context, templateID, sessionID string) (domain.MappingSet, bool, error) {
	mapping, ok := t.state.mappings[mappingKey(templateID, sessionID)]
	if !ok {
		return domain.MappingSet{}, false, nil
	}
	return mapping.Clone(), true, nil
}

func (t *tx) LatestSnapshot(_ context.Context, templateID string) (domain.SnapshotVersion, bool, error) {
	versions := t.state.snapshots[templateID]
	if len(versions) == 0 {
		return domain.SnapshotVersion{}, false, nil
	}
	latest := versions[len(versions)-1]
	latest.Document = latest.Document.Clone()
	return latest, true, nil
}

func (t *tx) InsertRow(_ context.Context, entity domain.EntityType, id string, row domain.Row) error {
	if id == "" {
		return fmt.Errorf("memory store: insert into %s with empty row id", entity)
	}
	bucket, ok := t.state.rows[entity]
	if !ok {
		bucket = make(map[string]domain.Row)
		t.state.rows[entity] = bucket
	}
	if _, exists := bucket[id]; exists {
		return fmt.Errorf("memory store: duplicate %s row %s", entity, id)
	}
	bucket[id] = row.Clone()
	return nil
}

func (t *tx) UpdateRow(_ context.Context, entity domain.EntityType, id string, columns map[string]any) error {
	row, ok := t.state.rows[entity][id]
	if !ok {
		return fmt.Errorf("memory store: update of missing %s row %s", entity, id)
	}
	for column, value := range columns {
		row[column] = value
	}
	return nil
}

func (t *tx) DeleteWhere(_ context.Context, entity domain.EntityType, column, value string) (int, error) {
	return t.deleteMatching(entity, func(row domain.Row) bool {
		return row.String(column) == value
	}), nil
}

func (t *tx) DeleteWhereIn(_ context.Context, entity domain.EntityType, column string, values []string) (int, error) {
	accepted := make(map[string]bool, len(values))
	for _, v := range values {
		accepted[v] = true
	}
	return t.deleteMatching(entity, func(row domain.Row) bool {
		return accepted[row.String(column)]
	}), nil
}

func (t *tx) deleteMatching(entity domain.EntityType, match func(domain.Row) bool) int {
	byID := t.state.rows[entity]
	n := 0
	for id, row := range byID {
		if match(row) {
			delete(byID, id)
			n++
		}
	}
	return n
}

func (t *tx) PutWorkspace(_ context.Context, ws domain.Workspace) error {
	t.state.workspaces[ws.ID] = ws
	return nil
}

func (t *tx) PutMappingSet(_ context.Context, mapping domain.MappingSet) error {
	t.state.mappings[mappingKey(mapping.TemplateID, mapping.SessionID)] = mapping.Clone()
	return nil
}

func (t *tx) PutSnapshot(_ context.Context, snapshot domain.SnapshotVersion) error {
	versions := t.state.snapshots[snapshot.TemplateID]
	if len(versions) > 0 && snapshot.Version <= versions[len(versions)-1].Version {
		return fmt.Errorf("memory store: snapshot version %d for %s is not monotonic", snapshot.Version, snapshot.TemplateID)
	}
	snapshot.Document = snapshot.Document.Clone()
	t.state.snapshots[snapshot.TemplateID] = append(versions, snapshot)
	return nil
}
