package schema

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/canopy/store"
)

// Factory is the scoping model a table is generated with.
type Factory string

const (
	FactoryOwned Factory = "owned"
	FactoryOrg   Factory = "org"
	FactoryChild Factory = "child"
	FactoryCache Factory = "cache"
)

// Index declares a secondary index. Fields[0] is the partition key; later
// fields are equality-filtered.
type Index struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

// SearchIndex declares the full-text field of a table.
type SearchIndex struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
}

// RateLimit is a per-caller sliding-window rule.
type RateLimit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Cascade names a child table removed with its parent on hard delete.
type Cascade struct {
	Table      string `yaml:"table"`
	ForeignKey string `yaml:"foreignKey"`
	Index      string `yaml:"index,omitempty"`
}

// Parent configures the child factory.
type Parent struct {
	Table      string `yaml:"table"`
	ForeignKey string `yaml:"foreignKey"`
	Index      string `yaml:"index,omitempty"`

	// PubField names the flag on the parent that exposes children publicly.
	PubField string `yaml:"pubField,omitempty"`
}

// ACLFrom derives a document's editors from a parent document.
type ACLFrom struct {
	Table string `yaml:"table"`
	Field string `yaml:"field"`
}

// CacheOptions configures the cache factory.
type CacheOptions struct {
	TTL time.Duration `yaml:"ttl,omitempty"`

	// Fetcher names the registered fetch function.
	Fetcher string `yaml:"fetcher"`
}

// Table is a declarative table definition.
type Table struct {
	Name       string        `yaml:"name"`
	Factory    Factory       `yaml:"factory"`
	Fields     Schema        `yaml:"fields"`
	SoftDelete bool          `yaml:"softDelete,omitempty"`
	Indexes    []Index       `yaml:"indexes,omitempty"`
	Search     *SearchIndex  `yaml:"search,omitempty"`
	RateLimit  *RateLimit    `yaml:"rateLimit,omitempty"`
	Cascade    []Cascade     `yaml:"cascade,omitempty"`
	Parent     *Parent       `yaml:"parent,omitempty"`
	ACL        bool          `yaml:"acl,omitempty"`
	ACLFrom    *ACLFrom      `yaml:"aclFrom,omitempty"`
	Cache      *CacheOptions `yaml:"cache,omitempty"`

	// AuthWhere and PubWhere are default where clauses for the
	// authenticated and public read surfaces.
	AuthWhere map[string]any `yaml:"authWhere,omitempty"`
	PubWhere  map[string]any `yaml:"pubWhere,omitempty"`
}

// File is the top-level shape of a schema file.
type File struct {
	Tables []Table `yaml:"tables"`
}

// LoadFile reads and checks a YAML schema file.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and checks a YAML schema document.
func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	if err := f.Check(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Check validates every table and cross-table reference.
func (f *File) Check() error {
	names := make(map[string]bool, len(f.Tables))
	for _, t := range f.Tables {
		if names[t.Name] {
			return fmt.Errorf("table %q declared twice", t.Name)
		}
		names[t.Name] = true
	}
	var errs []error
	for _, t := range f.Tables {
		if err := t.Check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Check reports a descriptive configuration error when options do not fit
// the table's factory.
func (t Table) Check() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("table %q: %s", t.Name, fmt.Sprintf(format, args...))
	}
	if t.Name == "" {
		return errors.New("table with empty name")
	}
	if err := t.Fields.Check(); err != nil {
		return fail("%v", err)
	}

	switch t.Factory {
	case FactoryOwned, FactoryOrg, FactoryChild, FactoryCache:
	default:
		return fail("unknown factory %q", t.Factory)
	}

	if t.Parent != nil && t.Factory != FactoryChild {
		return fail("parent is only valid for the child factory")
	}
	if t.Factory == FactoryChild {
		if t.Parent == nil || t.Parent.Table == "" || t.Parent.ForeignKey == "" {
			return fail("child factory needs parent.table and parent.foreignKey")
		}
		if f, ok := t.Fields.Field(t.Parent.ForeignKey); !ok || f.Kind != KindID {
			return fail("parent foreign key %q must be a declared id field", t.Parent.ForeignKey)
		}
	}
	if (t.ACL || t.ACLFrom != nil) && t.Factory != FactoryOrg {
		return fail("acl is only valid for the org factory")
	}
	if t.ACLFrom != nil {
		if t.ACLFrom.Table == "" || t.ACLFrom.Field == "" {
			return fail("aclFrom needs table and field")
		}
		if _, ok := t.Fields.Field(t.ACLFrom.Field); !ok {
			return fail("aclFrom field %q is not declared", t.ACLFrom.Field)
		}
	}
	if len(t.Cascade) > 0 && t.Factory != FactoryOwned && t.Factory != FactoryOrg {
		return fail("cascade is only valid for owned and org factories")
	}
	for _, c := range t.Cascade {
		if c.Table == "" || c.ForeignKey == "" {
			return fail("cascade entries need table and foreignKey")
		}
	}
	if t.SoftDelete && (t.Factory == FactoryChild || t.Factory == FactoryCache) {
		return fail("softDelete is not supported by the %s factory", t.Factory)
	}
	if (t.Cache != nil) != (t.Factory == FactoryCache) {
		return fail("cache options are required by, and only valid for, the cache factory")
	}
	if t.Cache != nil && t.Cache.Fetcher == "" {
		return fail("cache.fetcher is required")
	}
	if t.Search != nil {
		f, ok := t.Fields.Field(t.Search.Field)
		if !ok || f.Kind != KindString {
			return fail("search field %q must be a declared string field", t.Search.Field)
		}
	}
	for _, idx := range t.Indexes {
		if idx.Name == "" || len(idx.Fields) == 0 {
			return fail("indexes need a name and at least one field")
		}
		for _, name := range idx.Fields {
			if _, ok := t.Fields.Field(name); !ok && !Reserved[name] && name != store.FieldOrg {
				return fail("index %q references unknown field %q", idx.Name, name)
			}
		}
	}
	if t.RateLimit != nil && (t.RateLimit.Max < 1 || t.RateLimit.Window <= 0) {
		return fail("rateLimit needs max >= 1 and a positive window")
	}
	return nil
}

// IndexFor returns the first index whose partition key is field.
func (t Table) IndexFor(field string) (Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Fields[0] == field {
			return idx, true
		}
	}
	return Index{}, false
}
