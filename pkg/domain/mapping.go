package domain

// MappingSet records, per entity, the destination identifier assigned to
// each source identifier for one (template, session) pair. Once a
// (session, entity, source) tuple is assigned, the assignment never changes:
// restoring the same session repeatedly reproduces identical destination
// identifiers, which is what keeps externally printed labels valid.
type MappingSet struct {
	TemplateID string                           `json:"template_id"`
	SessionID  string                           `json:"session_id"`
	Entities   map[EntityType]map[string]string `json:"entities"`
}

// NewMappingSet returns an empty mapping for the pair.
func NewMappingSet(templateID, sessionID string) MappingSet {
	return MappingSet{
		TemplateID: templateID,
		SessionID:  sessionID,
		Entities:   make(map[EntityType]map[string]string),
	}
}

// Destination looks up the assigned destination identifier.
func (m MappingSet) Destination(entity EntityType, sourceID string) (string, bool) {
	dest, ok := m.Entities[entity][sourceID]
	return dest, ok
}

// Assign records a destination identifier. Existing assignments are never
// overwritten; the first assignment wins and the call is a no-op afterwards.
func (m *MappingSet) Assign(entity EntityType, sourceID, destinationID string) {
	if m.Entities == nil {
		m.Entities = make(map[EntityType]map[string]string)
	}
	bySource, ok := m.Entities[entity]
	if !ok {
		bySource = make(map[string]string)
		m.Entities[entity] = bySource
	}
	if _, taken := bySource[sourceID]; taken {
		return
	}
	bySource[sourceID] = destinationID
}

// Len reports the total number of assignments across entities.
func (m MappingSet) Len() int {
	n := 0
	for _, bySource := range m.Entities {
		n += len(bySource)
	}
	return n
}

// Clone deep-copies the mapping set.
func (m MappingSet) Clone() MappingSet {
	out := NewMappingSet(m.TemplateID, m.SessionID)
	for entity, bySource := range m.Entities {
		cloned := make(map[string]string, len(bySource))
		for src, dst := range bySource {
			cloned[src] = dst
		}
		out.Entities[entity] = cloned
	}
	return out
}

// Scope selects how destination identifiers are assigned during a restore.
// It is an explicit sum type rather than a nullable session parameter: a
// SessionScope persists and reuses a mapping set, an EphemeralScope draws
// fresh identifiers on every restore and persists nothing.
type Scope interface {
	isScope()
}

// SessionScope requests deterministic identifier reuse for a logical replay
// slot. The mapping set is created on first use and extended, never rebuilt.
type SessionScope struct {
	SessionID string
}

func (SessionScope) isScope() {}

// EphemeralScope requests fresh random identifiers with no persisted
// mapping. Any externally printed artifacts tied to earlier identifiers
// become invalid; the orchestrator surfaces this as a warning on the result.
type EphemeralScope struct{}

func (EphemeralScope) isScope() {}
