package crud_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/files"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
	"github.com/jacentio/canopy/store/memstore"
	"github.com/jacentio/canopy/where"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	st    *memstore.Store
	e     *crud.Engine
	clock *clock
	files *files.Memory
}

func newEnv(t *testing.T, cfg crud.Config, opts ...crud.Option) *env {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	st := memstore.New(memstore.WithClock(c.now))
	mem := files.NewMemory("https://files.test")
	opts = append([]crud.Option{crud.WithClock(c.now), crud.WithFiles(mem)}, opts...)
	ev := &env{st: st, e: crud.New(st, cfg, opts...), clock: c, files: mem}

	ctx := context.Background()
	for id, name := range map[string]string{"u1": "Ada", "u2": "Grace", "u3": "Linus"} {
		require.NoError(t, st.Put(ctx, "users", id, store.Doc{"name": name, "email": id + "@example.com"}))
	}
	return ev
}

// seedOrg creates org o1 owned by u1 with u2 as member and u3 as admin.
func (ev *env) seedOrg(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ev.st.Put(ctx, "org", "o1", store.Doc{"name": "Acme", "slug": "acme", "userId": "u1"}))
	require.NoError(t, ev.st.Put(ctx, "org", "o2", store.Doc{"name": "Other", "slug": "other", "userId": "u4"}))
	for _, m := range []store.Doc{
		{"orgId": "o1", "userId": "u2", "isAdmin": false},
		{"orgId": "o1", "userId": "u3", "isAdmin": true},
		{"orgId": "o2", "userId": "u2", "isAdmin": false},
	} {
		_, err := ev.st.Insert(ctx, "orgMember", m)
		require.NoError(t, err)
	}
}

func as(user string) context.Context {
	return crud.WithUserID(context.Background(), user)
}

func requireCode(t *testing.T, err error, code apierr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apierr.CodeOf(err), "error: %v", err)
}

func taskTable() schema.Table {
	return schema.Table{
		Name:    "task",
		Factory: schema.FactoryOwned,
		Fields: schema.Schema{
			{Name: "title", Kind: schema.KindString, Rules: "min=1,max=200"},
			{Name: "priority", Kind: schema.KindNumber, Optional: true},
			{Name: "done", Kind: schema.KindBool, Optional: true},
			{Name: "projectId", Kind: schema.KindID, Optional: true, Table: "project"},
			{Name: "cover", Kind: schema.KindFile, Optional: true},
		},
		SoftDelete: true,
		Search:     &schema.SearchIndex{Name: "search_title", Field: "title"},
		Indexes: []schema.Index{
			{Name: "by_user", Fields: []string{"userId"}},
			{Name: "by_project", Fields: []string{"projectId"}},
		},
	}
}

func docTable() schema.Table {
	return schema.Table{
		Name:    "doc",
		Factory: schema.FactoryOrg,
		Fields: schema.Schema{
			{Name: "title", Kind: schema.KindString},
			{Name: "status", Kind: schema.KindString, Optional: true},
		},
		ACL:     true,
		Indexes: []schema.Index{{Name: "by_org", Fields: []string{"orgId"}}},
	}
}

func mustOwned(t *testing.T, e *crud.Engine, def schema.Table, hooks crud.Hooks) *crud.Owned {
	t.Helper()
	o, err := crud.NewOwned(e, def, hooks)
	require.NoError(t, err)
	return o
}

func createTask(t *testing.T, o *crud.Owned, user string, data store.Doc) string {
	t.Helper()
	id, err := o.Create(as(user), data)
	require.NoError(t, err)
	return id
}

func mustWhere(t *testing.T, raw string) *where.Where {
	t.Helper()
	w, err := where.Parse([]byte(raw))
	require.NoError(t, err)
	return w
}

func ids(docs []store.Doc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func int64p(v int64) *int64 { return &v }
