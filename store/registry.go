package store

// Relationship defines a parent-child relationship for cascade operations.
type Relationship struct {
	// ParentTable is the parent's logical table (e.g., "project").
	ParentTable string

	// ChildTable is the child's logical table (e.g., "task").
	ChildTable string

	// ForeignKey is the field in the child that holds the parent id (e.g., "projectId").
	ForeignKey string

	// Index is the optional index on ForeignKey; empty means a filtered scan.
	Index string
}

// Registry holds all known table relationships for cascade operations.
type Registry struct {
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byParent:      make(map[string][]Relationship),
	}
}

// Register adds a relationship to the registry. Registering the same
// (parent, child, foreign key) twice is a no-op.
func (r *Registry) Register(rel Relationship) {
	for _, existing := range r.byParent[rel.ParentTable] {
		if existing.ChildTable == rel.ChildTable && existing.ForeignKey == rel.ForeignKey {
			return
		}
	}
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.ParentTable] = append(r.byParent[rel.ParentTable], rel)
}

// ChildrenOf returns all child relationships for a given parent table.
func (r *Registry) ChildrenOf(parentTable string) []Relationship {
	return r.byParent[parentTable]
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren returns true if the parent table has any registered child relationships.
func (r *Registry) HasChildren(parentTable string) bool {
	return len(r.byParent[parentTable]) > 0
}

// ChildQuery returns the query selecting every child row of parentID under rel.
func (rel Relationship) ChildQuery(parentID string) Query {
	q := Query{Table: rel.ChildTable, Order: Asc}
	if rel.Index != "" {
		q.Index = rel.Index
		q.Eq = []Eq{{Field: rel.ForeignKey, Value: parentID}}
		return q
	}
	q.Filter = Cmp{Field: rel.ForeignKey, Op: OpEq, Value: parentID}
	return q
}
