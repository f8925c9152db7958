package crud_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

func TestOwned_CreateStampsOwner(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	id := createTask(t, tasks, "u1", store.Doc{"title": "Buy milk", "priority": 2})

	d, err := ev.st.Get(context.Background(), "task", id)
	require.NoError(t, err)
	assert.Equal(t, "u1", d.String(store.FieldOwner))
	updated, _ := d.Int64(store.FieldUpdatedAt)
	assert.Equal(t, store.Millis(ev.clock.now()), updated)
}

func TestOwned_CreateRequiresCaller(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	_, err := tasks.Create(context.Background(), store.Doc{"title": "x"})
	requireCode(t, err, apierr.NotAuthenticated)
	assert.Zero(t, ev.st.Len("task"))
}

func TestOwned_CreateValidation(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	tests := []struct {
		name  string
		data  store.Doc
		field string
	}{
		{"missing required", store.Doc{"priority": 1}, "title"},
		{"rule", store.Doc{"title": ""}, "title"},
		{"wrong kind", store.Doc{"title": "x", "done": "yes"}, "done"},
		{"forged owner", store.Doc{"title": "x", "userId": "u2"}, "userId"},
		{"unknown field", store.Doc{"title": "x", "color": "red"}, "color"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tasks.Create(as("u1"), tt.data)
			requireCode(t, err, apierr.ValidationFailed)

			var ae *apierr.Error
			require.ErrorAs(t, err, &ae)
			assert.Contains(t, ae.FieldErrors, tt.field)
			assert.Equal(t, "task", ae.Table)
		})
	}
	assert.Zero(t, ev.st.Len("task"))
}

func TestOwned_UpdateExpectedUpdatedAt(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	id := createTask(t, tasks, "u1", store.Doc{"title": "Draft"})
	created := store.Millis(ev.clock.now())

	ev.clock.advance(time.Second)
	next, err := tasks.Update(ctx, crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "First"}, ExpectedUpdatedAt: int64p(created)})
	require.NoError(t, err)
	firstUpdate, _ := next.Int64(store.FieldUpdatedAt)
	assert.Equal(t, store.Millis(ev.clock.now()), firstUpdate)

	// A second writer still holding the original version loses.
	ev.clock.advance(time.Second)
	_, err = tasks.Update(ctx, crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "Stale"}, ExpectedUpdatedAt: int64p(created)})
	requireCode(t, err, apierr.Conflict)

	d, err := ev.st.Get(context.Background(), "task", id)
	require.NoError(t, err)
	assert.Equal(t, "First", d["title"])
	cur, _ := d.Int64(store.FieldUpdatedAt)
	assert.Equal(t, firstUpdate, cur)
}

func TestOwned_UpdateSameMillisecond(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	id := createTask(t, tasks, "u1", store.Doc{"title": "a"})
	base := store.Millis(ev.clock.now())

	first, err := tasks.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "b"}})
	require.NoError(t, err)
	second, err := tasks.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "c"}})
	require.NoError(t, err)

	v1, _ := first.Int64(store.FieldUpdatedAt)
	v2, _ := second.Int64(store.FieldUpdatedAt)
	assert.Equal(t, base+1, v1)
	assert.Equal(t, base+2, v2)
}

func TestOwned_UpdateClearsOptionalField(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	id := createTask(t, tasks, "u1", store.Doc{"title": "a", "priority": 3})
	next, err := tasks.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"priority": nil}})
	require.NoError(t, err)
	assert.False(t, next.Has("priority"))

	_, err = tasks.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"title": nil}})
	requireCode(t, err, apierr.ValidationFailed)
}

func TestOwned_OnlyOwnerMutates(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	id := createTask(t, tasks, "u1", store.Doc{"title": "mine"})

	_, err := tasks.Update(as("u2"), crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "theirs"}})
	requireCode(t, err, apierr.NotAuthorized)

	_, err = tasks.Rm(as("u2"), id)
	requireCode(t, err, apierr.NotAuthorized)

	_, err = tasks.Rm(as("u1"), "missing")
	requireCode(t, err, apierr.NotFound)
}

func TestOwned_SoftDeleteAndRestore(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	id := createTask(t, tasks, "u1", store.Doc{"title": "keep me"})
	_, err := tasks.Rm(ctx, id)
	require.NoError(t, err)

	res, err := tasks.Auth().List(ctx, crud.ListArgs{})
	require.NoError(t, err)
	assert.Empty(t, res.Page)

	got, err := tasks.Auth().Read(ctx, crud.ReadArgs{ID: id})
	require.NoError(t, err)
	assert.Nil(t, got)

	// The row is still stored.
	assert.Equal(t, 1, ev.st.Len("task"))

	_, err = tasks.Update(ctx, crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "x"}})
	requireCode(t, err, apierr.NotFound)

	restored, err := tasks.Restore(ctx, id)
	require.NoError(t, err)
	assert.False(t, restored.Has(store.FieldDeletedAt))

	res, err = tasks.Auth().List(ctx, crud.ListArgs{})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids(res.Page))

	// Restoring a live document changes nothing.
	again, err := tasks.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, restored[store.FieldUpdatedAt], again[store.FieldUpdatedAt])
}

func TestOwned_SoftDeleteRetention(t *testing.T) {
	ev := newEnv(t, crud.Config{SoftDeleteRetention: 24 * time.Hour})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	id := createTask(t, tasks, "u1", store.Doc{"title": "t"})
	_, err := tasks.Rm(ctx, id)
	require.NoError(t, err)

	d, err := ev.st.Get(context.Background(), "task", id)
	require.NoError(t, err)
	ttl, _ := d.Int64(store.FieldTTL)
	assert.Equal(t, store.TTLAt(ev.clock.now().Add(24*time.Hour)), ttl)

	restored, err := tasks.Restore(ctx, id)
	require.NoError(t, err)
	assert.False(t, restored.Has(store.FieldTTL))
}

func TestOwned_BulkLimit(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	items := make([]store.Doc, 101)
	for i := range items {
		items[i] = store.Doc{"title": fmt.Sprintf("task %d", i)}
	}
	_, err := tasks.BulkCreate(ctx, items)
	requireCode(t, err, apierr.LimitExceeded)
	assert.Zero(t, ev.st.Len("task"))

	res, err := tasks.BulkCreate(ctx, items[:100])
	require.NoError(t, err)
	require.Len(t, res.IDs, 100)

	_, err = tasks.BulkRm(ctx, append(res.IDs, "one-too-many"))
	requireCode(t, err, apierr.LimitExceeded)
	list, err := tasks.Auth().List(ctx, crud.ListArgs{Page: crud.PageOpts{NumItems: 200}})
	require.NoError(t, err)
	assert.Len(t, list.Page, 100)

	_, err = tasks.BulkUpdate(ctx, append(res.IDs, "one-too-many"), store.Doc{"done": true})
	requireCode(t, err, apierr.LimitExceeded)
}

func TestOwned_BulkCreateValidatesFirst(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	_, err := tasks.BulkCreate(as("u1"), []store.Doc{{"title": "ok"}, {"title": 7}})
	requireCode(t, err, apierr.ValidationFailed)
	assert.Zero(t, ev.st.Len("task"))
}

func TestOwned_BulkCreateReportsCommittedOnAfterHookError(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	n := 0
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{
		AfterCreate: func(context.Context, *crud.OpCtx, string, store.Doc) error {
			n++
			if n == 2 {
				return errors.New("webhook down")
			}
			return nil
		},
	})

	res, err := tasks.BulkCreate(as("u1"), []store.Doc{{"title": "a"}, {"title": "b"}, {"title": "c"}})
	require.Error(t, err)
	assert.Len(t, res.IDs, 2)
	assert.Equal(t, 2, ev.st.Len("task"))
	for _, id := range res.IDs {
		_, err := ev.st.Get(context.Background(), "task", id)
		assert.NoError(t, err)
	}
}

func TestOwned_BulkSkipsForeignDocuments(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	mine := createTask(t, tasks, "u1", store.Doc{"title": "mine"})
	theirs := createTask(t, tasks, "u2", store.Doc{"title": "theirs"})

	res, err := tasks.BulkUpdate(as("u1"), []string{mine, theirs, "gone"}, store.Doc{"done": true})
	require.NoError(t, err)
	assert.Equal(t, []string{mine}, res.IDs)
	assert.Equal(t, []crud.Skipped{
		{ID: theirs, Code: string(apierr.NotAuthorized)},
		{ID: "gone", Code: string(apierr.NotFound)},
	}, res.Skipped)

	d, err := ev.st.Get(context.Background(), "task", theirs)
	require.NoError(t, err)
	assert.False(t, d.Has("done"))

	res, err = tasks.BulkRm(as("u1"), []string{mine, theirs})
	require.NoError(t, err)
	assert.Equal(t, []string{mine}, res.IDs)
	assert.Len(t, res.Skipped, 1)
}

func TestOwned_ListOwnAndWhere(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	low := createTask(t, tasks, "u1", store.Doc{"title": "low", "priority": 1})
	mid := createTask(t, tasks, "u1", store.Doc{"title": "mid", "priority": 3})
	high := createTask(t, tasks, "u1", store.Doc{"title": "high", "priority": 5, "done": true})
	other := createTask(t, tasks, "u2", store.Doc{"title": "other", "priority": 3})

	tests := []struct {
		name  string
		where string
		want  []string
	}{
		{"no clause", ``, []string{other, high, mid, low}},
		{"own", `{"own": true}`, []string{high, mid, low}},
		{"own with field", `{"own": true, "done": true}`, []string{high}},
		{"between inclusive", `{"priority": {"$between": [3, 5]}}`, []string{other, high, mid}},
		{"or groups", `{"priority": 1, "or": [{"done": true}]}`, []string{high, low}},
		{"own or other", `{"own": true, "priority": 1, "or": [{"title": "other"}]}`, []string{other, low}},
		{"null matches missing", `{"done": null}`, []string{other, mid, low}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w = mustWhere(t, tt.where)
			res, err := tasks.Auth().List(ctx, crud.ListArgs{Where: w})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.Page))
		})
	}
}

func TestOwned_ListPagination(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	var created []string
	for i := 0; i < 5; i++ {
		created = append(created, createTask(t, tasks, "u1", store.Doc{"title": fmt.Sprintf("t%d", i)}))
	}

	first, err := tasks.Auth().List(ctx, crud.ListArgs{Page: crud.PageOpts{NumItems: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{created[4], created[3]}, ids(first.Page))
	assert.False(t, first.IsDone)
	require.NotEmpty(t, first.ContinueCursor)

	rest, err := tasks.Auth().List(ctx, crud.ListArgs{Page: crud.PageOpts{NumItems: 10, Cursor: first.ContinueCursor}})
	require.NoError(t, err)
	assert.Equal(t, []string{created[2], created[1], created[0]}, ids(rest.Page))
	assert.True(t, rest.IsDone)

	_, err = tasks.Auth().List(ctx, crud.ListArgs{Page: crud.PageOpts{Cursor: "%%%"}})
	requireCode(t, err, apierr.ValidationFailed)
}

func TestOwned_ListPageSizeCapped(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	for i := 0; i < crud.MaxPageSize+1; i++ {
		_, err := ev.st.Insert(context.Background(), "task", store.Doc{"title": fmt.Sprintf("t%d", i), store.FieldOwner: "u1"})
		require.NoError(t, err)
	}

	page, err := tasks.Auth().List(as("u1"), crud.ListArgs{Page: crud.PageOpts{NumItems: math.MaxInt}})
	require.NoError(t, err)
	assert.Len(t, page.Page, crud.MaxPageSize)
	assert.False(t, page.IsDone)
}

func TestOwned_ReadEnrichment(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ev.files.Add("cover-1")

	id := createTask(t, tasks, "u1", store.Doc{"title": "pic", "cover": "cover-1"})

	d, err := tasks.Auth().Read(as("u1"), crud.ReadArgs{ID: id})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, true, d["own"])
	assert.Equal(t, store.Doc{"_id": "u1", "name": "Ada", "image": nil}, d["author"])
	assert.Equal(t, "https://files.test/cover-1", d["coverUrl"])

	d, err = tasks.Auth().Read(as("u2"), crud.ReadArgs{ID: id})
	require.NoError(t, err)
	assert.Equal(t, false, d["own"])

	d, err = tasks.Auth().Read(as("u2"), crud.ReadArgs{ID: id, Own: true})
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = tasks.Auth().Read(as("u1"), crud.ReadArgs{ID: id, Where: mustWhere(t, `{"done": true}`)})
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = tasks.Auth().Read(as("u1"), crud.ReadArgs{ID: "missing"})
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestOwned_AuthorMissing(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	id := createTask(t, tasks, "ghost", store.Doc{"title": "orphan"})
	d, err := tasks.Pub().Read(context.Background(), crud.ReadArgs{ID: id})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Nil(t, d["author"])
	assert.Equal(t, false, d["own"])
}

func TestOwned_SearchWithWhere(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	milk := createTask(t, tasks, "u1", store.Doc{"title": "Buy milk"})
	createTask(t, tasks, "u1", store.Doc{"title": "Buy milk chocolate", "done": true})
	createTask(t, tasks, "u1", store.Doc{"title": "Walk dog"})

	docs, err := tasks.Auth().Search(ctx, crud.SearchArgs{Query: "milk", Where: mustWhere(t, `{"done": null}`)})
	require.NoError(t, err)
	assert.Equal(t, []string{milk}, ids(docs))

	docs, err = tasks.Auth().Search(ctx, crud.SearchArgs{Query: "buy", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestOwned_LargeFilterStrict(t *testing.T) {
	ev := newEnv(t, crud.Config{FilterThreshold: 2, StrictFilters: true})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")
	for i := 0; i < 3; i++ {
		createTask(t, tasks, "u1", store.Doc{"title": "note"})
	}

	_, err := tasks.Auth().Search(ctx, crud.SearchArgs{Query: "note", Where: mustWhere(t, `{"own": true}`)})
	requireCode(t, err, apierr.LimitExceeded)

	// Without a clause nothing is filtered in memory.
	docs, err := tasks.Auth().Search(ctx, crud.SearchArgs{Query: "note"})
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestOwned_InvalidWhere(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	_, err := tasks.Auth().List(as("u1"), crud.ListArgs{Where: mustWhere(t, `{"colour": "red"}`)})
	requireCode(t, err, apierr.InvalidWhere)

	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []string{"colour"}, ae.Fields)
}

func TestOwned_PubDefaultWhere(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	def := taskTable()
	def.PubWhere = map[string]any{"done": true}
	tasks := mustOwned(t, ev.e, def, crud.Hooks{})

	createTask(t, tasks, "u1", store.Doc{"title": "open"})
	done := createTask(t, tasks, "u1", store.Doc{"title": "closed", "done": true})

	res, err := tasks.Pub().List(context.Background(), crud.ListArgs{})
	require.NoError(t, err)
	assert.Equal(t, []string{done}, ids(res.Page))

	res, err = tasks.Auth().List(as("u1"), crud.ListArgs{})
	require.NoError(t, err)
	assert.Len(t, res.Page, 2)
}

func TestOwned_Indexed(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	a := createTask(t, tasks, "u1", store.Doc{"title": "a", "projectId": "p1"})
	createTask(t, tasks, "u1", store.Doc{"title": "b", "projectId": "p2"})

	docs, err := tasks.Auth().Indexed(as("u1"), crud.IndexedArgs{Index: "by_project", Value: "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, ids(docs))

	_, err = tasks.Auth().Indexed(as("u1"), crud.IndexedArgs{Index: "by_colour", Value: "x"})
	requireCode(t, err, apierr.ValidationFailed)
}

func TestOwned_RateLimit(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	def := taskTable()
	def.RateLimit = &schema.RateLimit{Max: 2, Window: time.Minute}
	tasks := mustOwned(t, ev.e, def, crud.Hooks{})

	createTask(t, tasks, "u1", store.Doc{"title": "1"})
	createTask(t, tasks, "u1", store.Doc{"title": "2"})

	ev.clock.advance(10 * time.Second)
	_, err := tasks.Create(as("u1"), store.Doc{"title": "3"})
	requireCode(t, err, apierr.RateLimited)
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int64(50_000), ae.RetryAfter)

	// Other callers have their own window.
	createTask(t, tasks, "u2", store.Doc{"title": "other"})

	ev.clock.advance(time.Minute)
	createTask(t, tasks, "u1", store.Doc{"title": "4"})
}

func TestOwned_RestoreRateLimited(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	def := taskTable()
	def.RateLimit = &schema.RateLimit{Max: 2, Window: time.Minute}
	tasks := mustOwned(t, ev.e, def, crud.Hooks{})

	id := createTask(t, tasks, "u1", store.Doc{"title": "1"})
	_, err := tasks.Rm(as("u1"), id)
	require.NoError(t, err)

	_, err = tasks.Restore(as("u1"), id)
	requireCode(t, err, apierr.RateLimited)
	d, err := ev.st.Get(context.Background(), "task", id)
	require.NoError(t, err)
	assert.True(t, d.Has(store.FieldDeletedAt))

	ev.clock.advance(time.Minute)
	_, err = tasks.Restore(as("u1"), id)
	require.NoError(t, err)
}

func TestOwned_Attachments(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	def := taskTable()
	def.SoftDelete = false
	tasks := mustOwned(t, ev.e, def, crud.Hooks{})
	ev.files.Add("f1", "f2")
	ctx := as("u1")

	id := createTask(t, tasks, "u1", store.Doc{"title": "pic", "cover": "f1"})

	_, err := tasks.Update(ctx, crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "renamed"}})
	require.NoError(t, err)
	assert.Empty(t, ev.files.Deleted())

	_, err = tasks.Update(ctx, crud.UpdateArgs{ID: id, Patch: store.Doc{"cover": "f2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ev.files.Deleted())

	_, err = tasks.Rm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, ev.files.Deleted())
	assert.Zero(t, ev.st.Len("task"))
}

func TestOwned_CascadeOnHardDelete(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	projects := mustOwned(t, ev.e, schema.Table{
		Name:    "project",
		Factory: schema.FactoryOwned,
		Fields:  schema.Schema{{Name: "name", Kind: schema.KindString}},
		Cascade: []schema.Cascade{{Table: "task", ForeignKey: "projectId", Index: "by_project"}},
	}, crud.Hooks{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")
	ev.files.Add("c1")

	p, err := projects.Create(ctx, store.Doc{"name": "Launch"})
	require.NoError(t, err)
	keep, err := projects.Create(ctx, store.Doc{"name": "Other"})
	require.NoError(t, err)
	createTask(t, tasks, "u1", store.Doc{"title": "a", "projectId": p, "cover": "c1"})
	createTask(t, tasks, "u1", store.Doc{"title": "b", "projectId": p})
	survivor := createTask(t, tasks, "u1", store.Doc{"title": "c", "projectId": keep})

	_, err = projects.Rm(ctx, p)
	require.NoError(t, err)

	rest, err := store.Collect(context.Background(), ev.st, store.Query{Table: "task"})
	require.NoError(t, err)
	assert.Equal(t, []string{survivor}, ids(rest))
	assert.Equal(t, []string{"c1"}, ev.files.Deleted())
}

func TestOwned_SoftDeleteKeepsChildren(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	projects := mustOwned(t, ev.e, schema.Table{
		Name:       "project",
		Factory:    schema.FactoryOwned,
		Fields:     schema.Schema{{Name: "name", Kind: schema.KindString}},
		SoftDelete: true,
		Cascade:    []schema.Cascade{{Table: "task", ForeignKey: "projectId"}},
	}, crud.Hooks{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})
	ctx := as("u1")

	p, err := projects.Create(ctx, store.Doc{"name": "Launch"})
	require.NoError(t, err)
	createTask(t, tasks, "u1", store.Doc{"title": "a", "projectId": p})

	_, err = projects.Rm(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.st.Len("task"))
}
