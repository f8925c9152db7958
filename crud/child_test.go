package crud_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

func wikiTables(t *testing.T, ev *env) (*crud.Owned, *crud.Child) {
	t.Helper()
	wikis := mustOwned(t, ev.e, schema.Table{
		Name:    "wiki",
		Factory: schema.FactoryOwned,
		Fields: schema.Schema{
			{Name: "name", Kind: schema.KindString},
			{Name: "published", Kind: schema.KindBool, Optional: true},
		},
		Cascade: []schema.Cascade{{Table: "wikiPage", ForeignKey: "wikiId", Index: "by_wiki"}},
	}, crud.Hooks{})
	pages, err := crud.NewChild(ev.e, schema.Table{
		Name:    "wikiPage",
		Factory: schema.FactoryChild,
		Fields: schema.Schema{
			{Name: "wikiId", Kind: schema.KindID, Table: "wiki"},
			{Name: "title", Kind: schema.KindString},
		},
		Parent:  &schema.Parent{Table: "wiki", ForeignKey: "wikiId", Index: "by_wiki", PubField: "published"},
		Indexes: []schema.Index{{Name: "by_wiki", Fields: []string{"wikiId"}}},
	}, crud.Hooks{})
	require.NoError(t, err)
	return wikis, pages
}

func TestChild_ParentOwnership(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	wikis, pages := wikiTables(t, ev)

	w, err := wikis.Create(as("u1"), store.Doc{"name": "Docs"})
	require.NoError(t, err)

	id, err := pages.Create(as("u1"), store.Doc{"wikiId": w, "title": "Intro"})
	require.NoError(t, err)

	_, err = pages.Create(as("u2"), store.Doc{"wikiId": w, "title": "Spam"})
	requireCode(t, err, apierr.NotAuthorized)

	_, err = pages.Create(as("u1"), store.Doc{"wikiId": "missing", "title": "Lost"})
	requireCode(t, err, apierr.NotFound)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "wiki", ae.Table)

	_, err = pages.Get(as("u2"), id)
	requireCode(t, err, apierr.NotAuthorized)

	d, err := pages.Get(as("u1"), id)
	require.NoError(t, err)
	assert.Equal(t, "Intro", d["title"])

	d, err = pages.Get(as("u1"), "missing")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestChild_ListInInsertionOrder(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	wikis, pages := wikiTables(t, ev)
	ctx := as("u1")

	w, err := wikis.Create(ctx, store.Doc{"name": "Docs"})
	require.NoError(t, err)
	other, err := wikis.Create(ctx, store.Doc{"name": "Other"})
	require.NoError(t, err)

	var want []string
	for _, title := range []string{"one", "two", "three"} {
		id, err := pages.Create(ctx, store.Doc{"wikiId": w, "title": title})
		require.NoError(t, err)
		want = append(want, id)
	}
	_, err = pages.Create(ctx, store.Doc{"wikiId": other, "title": "elsewhere"})
	require.NoError(t, err)

	docs, err := pages.List(ctx, w, 0)
	require.NoError(t, err)
	assert.Equal(t, want, ids(docs))

	docs, err = pages.List(ctx, w, 2)
	require.NoError(t, err)
	assert.Equal(t, want[:2], ids(docs))

	_, err = pages.List(as("u2"), w, 0)
	requireCode(t, err, apierr.NotAuthorized)
}

func TestChild_MoveRequiresNewParent(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	wikis, pages := wikiTables(t, ev)

	mine, err := wikis.Create(as("u1"), store.Doc{"name": "Mine"})
	require.NoError(t, err)
	alsoMine, err := wikis.Create(as("u1"), store.Doc{"name": "Also mine"})
	require.NoError(t, err)
	theirs, err := wikis.Create(as("u2"), store.Doc{"name": "Theirs"})
	require.NoError(t, err)
	id, err := pages.Create(as("u1"), store.Doc{"wikiId": mine, "title": "p"})
	require.NoError(t, err)

	_, err = pages.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"wikiId": theirs}})
	requireCode(t, err, apierr.NotAuthorized)

	next, err := pages.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"wikiId": alsoMine}})
	require.NoError(t, err)
	assert.Equal(t, alsoMine, next["wikiId"])

	_, err = pages.Rm(as("u2"), id)
	requireCode(t, err, apierr.NotAuthorized)
	_, err = pages.Rm(as("u1"), id)
	require.NoError(t, err)
	assert.Zero(t, ev.st.Len("wikiPage"))
}

func TestChild_PublicSurface(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	wikis, pages := wikiTables(t, ev)
	anon := context.Background()

	w, err := wikis.Create(as("u1"), store.Doc{"name": "Docs"})
	require.NoError(t, err)
	id, err := pages.Create(as("u1"), store.Doc{"wikiId": w, "title": "Intro"})
	require.NoError(t, err)

	require.NotNil(t, pages.Pub())
	_, err = pages.Pub().List(anon, w, 0)
	requireCode(t, err, apierr.NotFound)
	_, err = pages.Pub().Get(anon, id)
	requireCode(t, err, apierr.NotFound)

	_, err = wikis.Update(as("u1"), crud.UpdateArgs{ID: w, Patch: store.Doc{"published": true}})
	require.NoError(t, err)

	docs, err := pages.Pub().List(anon, w, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids(docs))

	d, err := pages.Pub().Get(anon, id)
	require.NoError(t, err)
	assert.Equal(t, false, d["own"])
}

func TestChild_CascadeFromParent(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	wikis, pages := wikiTables(t, ev)
	ctx := as("u1")

	w, err := wikis.Create(ctx, store.Doc{"name": "Docs"})
	require.NoError(t, err)
	for _, title := range []string{"a", "b"} {
		_, err := pages.Create(ctx, store.Doc{"wikiId": w, "title": title})
		require.NoError(t, err)
	}

	_, err = wikis.Rm(ctx, w)
	require.NoError(t, err)
	assert.Zero(t, ev.st.Len("wikiPage"))
}

func TestChild_RejectsSoftDelete(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	_, err := crud.NewChild(ev.e, schema.Table{
		Name:       "note",
		Factory:    schema.FactoryChild,
		Fields:     schema.Schema{{Name: "taskId", Kind: schema.KindID}},
		Parent:     &schema.Parent{Table: "task", ForeignKey: "taskId"},
		SoftDelete: true,
	}, crud.Hooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "softDelete")
}
