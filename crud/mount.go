package crud

import (
	"fmt"

	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

// Mounted holds the factories built from a schema file.
type Mounted struct {
	Owned  map[string]*Owned
	Org    map[string]*OrgScoped
	Child  map[string]*Child
	Caches map[string]*Cache
}

// MountOptions supplies the parts of a table definition that are code.
type MountOptions struct {
	// Hooks are table-local hooks by table name.
	Hooks map[string]Hooks

	// Fetchers are cache fetchers by the name tables reference.
	Fetchers map[string]Fetcher
}

// Mount builds every table of f on e.
func Mount(e *Engine, f *schema.File, opts MountOptions) (*Mounted, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}
	m := &Mounted{
		Owned:  map[string]*Owned{},
		Org:    map[string]*OrgScoped{},
		Child:  map[string]*Child{},
		Caches: map[string]*Cache{},
	}
	for _, def := range f.Tables {
		hooks := opts.Hooks[def.Name]
		var err error
		switch def.Factory {
		case schema.FactoryOwned:
			m.Owned[def.Name], err = NewOwned(e, def, hooks)
		case schema.FactoryOrg:
			m.Org[def.Name], err = NewOrgScoped(e, def, hooks)
		case schema.FactoryChild:
			m.Child[def.Name], err = NewChild(e, def, hooks)
		case schema.FactoryCache:
			fetch, ok := opts.Fetchers[def.Cache.Fetcher]
			if !ok {
				return nil, fmt.Errorf("table %q: fetcher %q is not registered", def.Name, def.Cache.Fetcher)
			}
			m.Caches[def.Name], err = NewCache(e, def, fetch)
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OrgTables returns the names of the mounted org-scoped tables.
func (e *Engine) OrgTables() []string {
	var out []string
	for _, name := range e.Tables() {
		if e.tables[name].def.Factory == schema.FactoryOrg {
			out = append(out, name)
		}
	}
	return out
}

// TableSpecs lists every table the engine reads or writes with the indexes
// its queries use: mounted tables, their cascade targets, the users table,
// the membership table and the rate limit table.
func (e *Engine) TableSpecs() []store.TableSpec {
	specs := []store.TableSpec{
		{Table: e.config.UsersTable},
		{Table: e.config.RateLimitTable},
		{Table: e.config.Org.Org},
		{Table: e.config.Org.Member, Indexes: []store.IndexSpec{
			{Name: e.config.Org.MemberIndex, Field: store.FieldOrg},
		}},
	}
	for _, name := range e.Tables() {
		t := e.tables[name]
		spec := store.TableSpec{Table: name}
		for _, idx := range t.def.Indexes {
			f, _ := t.def.Fields.Field(idx.Fields[0])
			spec.Indexes = append(spec.Indexes, store.IndexSpec{
				Name:   idx.Name,
				Field:  idx.Fields[0],
				Number: f.Kind == schema.KindNumber,
			})
		}
		switch t.def.Factory {
		case schema.FactoryOwned:
			spec.Indexes = append(spec.Indexes, store.IndexSpec{Name: e.config.OwnerIndex, Field: store.FieldOwner})
		case schema.FactoryOrg:
			spec.Indexes = append(spec.Indexes,
				store.IndexSpec{Name: e.config.OrgIndex, Field: store.FieldOrg},
				store.IndexSpec{Name: e.config.OwnerIndex, Field: store.FieldOwner},
			)
		case schema.FactoryChild:
			if p := t.def.Parent; p.Index != "" {
				spec.Indexes = append(spec.Indexes, store.IndexSpec{Name: p.Index, Field: p.ForeignKey})
			}
		}
		specs = append(specs, spec)
		for _, c := range t.def.Cascade {
			child := store.TableSpec{Table: c.Table}
			if c.Index != "" {
				child.Indexes = []store.IndexSpec{{Name: c.Index, Field: c.ForeignKey}}
			}
			specs = append(specs, child)
		}
	}
	return store.MergeSpecs(specs...)
}
