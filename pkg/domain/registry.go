package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ForeignKey declares a column whose values reference another managed
// entity's identity column.
type ForeignKey struct {
	Column     string
	References EntityType
}

// DerivedColumn is a read-only column recomputed from the row after
// identifier remapping, during the Finalizing phase of a restore.
type DerivedColumn struct {
	Column string
	Derive func(row Row) any
}

// Descriptor statically describes one managed entity: how rows are
// identified, how they reference the rest of the graph, and how they are
// scoped to a workspace. Entities without a TenantColumn are reachable only
// transitively through Parent.
type Descriptor struct {
	Entity         EntityType
	IdentityColumn string
	// TenantColumn, when set, scopes rows to a workspace directly.
	TenantColumn string
	// Parent and ParentColumn address transitively scoped rows through the
	// parent entity's identifiers.
	Parent       EntityType
	ParentColumn string
	ForeignKeys  []ForeignKey
	Derived      []DerivedColumn

	// newRecord returns a zero typed record used to validate raw rows at
	// the registry boundary.
	newRecord func() any
}

// References returns every foreign key of the entity including the parent
// link, which is itself a foreign key for remapping purposes.
func (d *Descriptor) References() []ForeignKey {
	if d.Parent == "" {
		return d.ForeignKeys
	}
	refs := make([]ForeignKey, 0, len(d.ForeignKeys)+1)
	refs = append(refs, ForeignKey{Column: d.ParentColumn, References: d.Parent})
	for _, fk := range d.ForeignKeys {
		if fk.Column == d.ParentColumn {
			continue
		}
		refs = append(refs, fk)
	}
	return refs
}

// ValidateRow checks a raw row against the descriptor: identity present,
// reference columns string-valued, and the whole row decodable into the
// entity's typed record. Rows enter business logic only through this check.
func (d *Descriptor) ValidateRow(row Row) error {
	id := row.String(d.IdentityColumn)
	if id == "" {
		return &ValidationError{Entity: d.Entity, Reason: fmt.Sprintf("missing identity column %q", d.IdentityColumn)}
	}
	for _, fk := range d.References() {
		if !row.Has(fk.Column) {
			continue
		}
		if _, ok := row[fk.Column].(string); !ok {
			return &ValidationError{Entity: d.Entity, RowID: id, Reason: fmt.Sprintf("foreign key column %q is not a string", fk.Column)}
		}
	}
	if d.newRecord != nil {
		raw, err := json.Marshal(row)
		if err != nil {
			return &ValidationError{Entity: d.Entity, RowID: id, Reason: fmt.Sprintf("encode row: %v", err)}
		}
		if err := json.Unmarshal(raw, d.newRecord()); err != nil {
			return &ValidationError{Entity: d.Entity, RowID: id, Reason: fmt.Sprintf("row does not match %s record shape: %v", d.Entity, err)}
		}
	}
	return nil
}

// Registry holds the closed set of managed entity descriptors and the
// dependency order computed once at construction.
type Registry struct {
	byEntity map[EntityType]*Descriptor
	order    []*Descriptor
}

// NewRegistry validates the descriptor set and computes the topological
// order used for insertion (reversed for deletion). A cyclic or dangling
// graph is a ConfigurationError; nothing else may run after one.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{byEntity: make(map[EntityType]*Descriptor, len(descriptors))}
	owned := make([]*Descriptor, len(descriptors))
	for i := range descriptors {
		d := descriptors[i]
		if d.Entity == "" {
			return nil, &ConfigurationError{Reason: "descriptor with empty entity name"}
		}
		if _, dup := r.byEntity[d.Entity]; dup {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("duplicate descriptor for %s", d.Entity)}
		}
		if d.IdentityColumn == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("%s has no identity column", d.Entity)}
		}
		if d.TenantColumn == "" && (d.Parent == "" || d.ParentColumn == "") {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("%s is neither tenant-scoped nor parented", d.Entity)}
		}
		if d.Parent != "" && d.ParentColumn == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("%s declares parent %s without a parent column", d.Entity, d.Parent)}
		}
		owned[i] = &d
		r.byEntity[d.Entity] = &d
	}
	for _, d := range owned {
		for _, fk := range d.References() {
			if _, ok := r.byEntity[fk.References]; !ok {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("%s.%s references unknown entity %s", d.Entity, fk.Column, fk.References)}
			}
		}
	}
	order, err := topologicalOrder(owned)
	if err != nil {
		return nil, err
	}
	r.order = order
	return r, nil
}

// topologicalOrder runs Kahn's algorithm over the reference edges. The
// result places every entity after everything it references; ties keep
// declaration order so the output is deterministic.
func topologicalOrder(descriptors []*Descriptor) ([]*Descriptor, error) {
	indegree := make(map[EntityType]int, len(descriptors))
	dependents := make(map[EntityType][]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		seen := make(map[EntityType]bool)
		for _, fk := range d.References() {
			if fk.References == d.Entity || seen[fk.References] {
				continue
			}
			seen[fk.References] = true
			indegree[d.Entity]++
			dependents[fk.References] = append(dependents[fk.References], d)
		}
	}
	order := make([]*Descriptor, 0, len(descriptors))
	queue := make([]*Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if indegree[d.Entity] == 0 {
			queue = append(queue, d)
		}
	}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		order = append(order, d)
		for _, dep := range dependents[d.Entity] {
			indegree[dep.Entity]--
			if indegree[dep.Entity] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(descriptors) {
		var cyclic []string
		for _, d := range descriptors {
			if indegree[d.Entity] > 0 {
				cyclic = append(cyclic, string(d.Entity))
			}
		}
		return nil, &ConfigurationError{Reason: fmt.Sprintf("entity graph contains a cycle involving: %s", strings.Join(cyclic, ", "))}
	}
	return order, nil
}

// Descriptor returns the descriptor for an entity.
func (r *Registry) Descriptor(entity EntityType) (*Descriptor, bool) {
	d, ok := r.byEntity[entity]
	return d, ok
}

// InsertionOrder returns descriptors such that every entity appears after
// every entity it references.
func (r *Registry) InsertionOrder() []*Descriptor {
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// DeletionOrder is InsertionOrder reversed: children before parents.
func (r *Registry) DeletionOrder() []*Descriptor {
	out := make([]*Descriptor, len(r.order))
	for i, d := range r.order {
		out[len(r.order)-1-i] = d
	}
	return out
}

// Len reports the number of managed entities.
func (r *Registry) Len() int { return len(r.order) }

// CheckClosure verifies referential closure of a snapshot document: every
// foreign-key value in every row must resolve to an identity present
// elsewhere in the same document. The first violation is reported with the
// offending entity, row, and column.
func (r *Registry) CheckClosure(doc SnapshotDocument) error {
	identities := make(map[EntityType]map[string]bool, len(r.order))
	for _, d := range r.order {
		set := make(map[string]bool)
		for _, row := range doc.Rows(d.Entity) {
			if err := d.ValidateRow(row); err != nil {
				return err
			}
			set[row.String(d.IdentityColumn)] = true
		}
		identities[d.Entity] = set
	}
	for entity := range doc.Entities {
		if _, ok := r.byEntity[entity]; !ok {
			return &ValidationError{Entity: entity, Reason: "snapshot contains rows for an unmanaged entity"}
		}
	}
	for _, d := range r.order {
		for _, row := range doc.Rows(d.Entity) {
			for _, fk := range d.References() {
				value := row.String(fk.Column)
				if value == "" {
					continue
				}
				if !identities[fk.References][value] {
					return &ValidationError{
						Entity: d.Entity,
						RowID:  row.String(d.IdentityColumn),
						Reason: fmt.Sprintf("column %q references %s %q which is absent from the snapshot", fk.Column, fk.References, value),
					}
				}
			}
		}
	}
	return nil
}
