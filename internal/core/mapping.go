package core

import (
	"context"
	"fmt"

	"haccare/pkg/domain"
)

// resolveMapping produces the identifier mapping a restore will apply.
//
// For a SessionScope it is "create if absent, else reuse": the stored
// mapping for (template, session) is loaded when present, then extended with
// fresh destination identifiers for any source identifier the snapshot
// contains that the mapping has not seen. Extending rather than regenerating
// is what lets a template gain entities after a session mapping was built
// without disturbing identifiers already assigned to that session.
//
// For an EphemeralScope every restore draws a fresh mapping and nothing is
// persisted.
//
// The returned count is the number of assignments added on this call.
func (s *Service) resolveMapping(ctx context.Context, view StoreView, templateID string, scope Scope, doc SnapshotDocument) (MappingSet, int, error) {
	var mapping MappingSet
	switch sc := scope.(type) {
	case SessionScope:
		if sc.SessionID == "" {
			return MappingSet{}, 0, &domain.ValidationError{Reason: "session scope requires a session identifier"}
		}
		stored, found, err := view.MappingSet(ctx, templateID, sc.SessionID)
		if err != nil {
			return MappingSet{}, 0, err
		}
		if found {
			mapping = stored.Clone()
		} else {
			mapping = domain.NewMappingSet(templateID, sc.SessionID)
		}
	case EphemeralScope:
		mapping = domain.NewMappingSet(templateID, "")
	default:
		return MappingSet{}, 0, &domain.ValidationError{Reason: fmt.Sprintf("unsupported scope %T", scope)}
	}
	added := s.extendMapping(&mapping, doc)
	if err := verifyMappingCoverage(s.registry, mapping, doc); err != nil {
		return MappingSet{}, 0, err
	}
	return mapping, added, nil
}

// extendMapping assigns one fresh destination identifier per distinct source
// identifier the snapshot contains, walking entities in dependency order.
// Existing assignments are never touched.
func (s *Service) extendMapping(mapping *MappingSet, doc SnapshotDocument) int {
	added := 0
	for _, d := range s.registry.InsertionOrder() {
		for _, row := range doc.Rows(d.Entity) {
			sourceID := row.String(d.IdentityColumn)
			if _, ok := mapping.Destination(d.Entity, sourceID); ok {
				continue
			}
			mapping.Assign(d.Entity, sourceID, s.newID())
			added++
		}
	}
	return added
}

// verifyMappingCoverage confirms the mapping covers every identity the
// snapshot references. After extendMapping this holds by construction;
// the check guards against hand-supplied or corrupted mapping sets.
func verifyMappingCoverage(registry *Registry, mapping MappingSet, doc SnapshotDocument) error {
	for _, d := range registry.InsertionOrder() {
		for _, row := range doc.Rows(d.Entity) {
			sourceID := row.String(d.IdentityColumn)
			if _, ok := mapping.Destination(d.Entity, sourceID); !ok {
				return &domain.ValidationError{
					Entity: d.Entity,
					RowID:  sourceID,
					Reason: "mapping set does not cover this identity",
				}
			}
		}
	}
	return nil
}
