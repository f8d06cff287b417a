package domain

import "time"

// Row is one captured record in its raw, flat column form. Foreign-key and
// identity values stay as the *source* identifiers until the orchestrator
// remaps them during insertion.
type Row map[string]any

// String returns the named column as a string. Missing columns and
// non-string values yield "".
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Has reports whether the column is present with a non-nil value.
func (r Row) Has(column string) bool {
	v, ok := r[column]
	return ok && v != nil
}

// Clone returns a shallow copy of the row. Column values are JSON scalars in
// practice, so a shallow copy is sufficient isolation.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SnapshotDocument maps each entity to its captured rows. Entities absent
// from the map were empty (or not yet part of the registry) at capture time.
type SnapshotDocument struct {
	Entities map[EntityType][]Row `json:"entities"`
}

// NewSnapshotDocument returns an empty document.
func NewSnapshotDocument() SnapshotDocument {
	return SnapshotDocument{Entities: make(map[EntityType][]Row)}
}

// Rows returns the captured rows for an entity, which may be nil.
func (d SnapshotDocument) Rows(entity EntityType) []Row {
	return d.Entities[entity]
}

// Append adds rows under the entity key.
func (d SnapshotDocument) Append(entity EntityType, rows ...Row) {
	d.Entities[entity] = append(d.Entities[entity], rows...)
}

// Counts reports captured row counts per entity.
func (d SnapshotDocument) Counts() map[EntityType]int {
	out := make(map[EntityType]int, len(d.Entities))
	for entity, rows := range d.Entities {
		out[entity] = len(rows)
	}
	return out
}

// Clone deep-copies the document so a consumer can mutate rows without
// touching the stored snapshot.
func (d SnapshotDocument) Clone() SnapshotDocument {
	out := NewSnapshotDocument()
	for entity, rows := range d.Entities {
		cloned := make([]Row, len(rows))
		for i, row := range rows {
			cloned[i] = row.Clone()
		}
		out.Entities[entity] = cloned
	}
	return out
}

// SnapshotVersion is one point-in-time capture of a template workspace.
// Versions increase monotonically per template on every re-capture and are
// read-only once stored.
type SnapshotVersion struct {
	TemplateID string           `json:"template_id"`
	Version    int64            `json:"version"`
	CapturedAt time.Time        `json:"captured_at"`
	CapturedBy string           `json:"captured_by,omitempty"`
	Document   SnapshotDocument `json:"document"`
}
