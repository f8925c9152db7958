package crud_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/store"
)

// tracer appends its name to the "trace" field of creates and patches and
// records every after hook it sees.
func tracer(name string, calls *[]string) crud.Hooks {
	tag := func(d store.Doc) store.Doc {
		out := d.Clone()
		trace, _ := out["trace"].(string)
		out["trace"] = trace + name
		return out
	}
	return crud.Hooks{
		BeforeCreate: func(_ context.Context, _ *crud.OpCtx, data store.Doc) (store.Doc, error) {
			*calls = append(*calls, name+".beforeCreate")
			return tag(data), nil
		},
		AfterCreate: func(_ context.Context, _ *crud.OpCtx, _ string, _ store.Doc) error {
			*calls = append(*calls, name+".afterCreate")
			return nil
		},
		BeforeUpdate: func(_ context.Context, _ *crud.OpCtx, _, patch store.Doc) (store.Doc, error) {
			*calls = append(*calls, name+".beforeUpdate")
			return tag(patch), nil
		},
		AfterUpdate: func(_ context.Context, _ *crud.OpCtx, _, _ store.Doc) error {
			*calls = append(*calls, name+".afterUpdate")
			return nil
		},
		BeforeDelete: func(_ context.Context, _ *crud.OpCtx, _ store.Doc) error {
			*calls = append(*calls, name+".beforeDelete")
			return nil
		},
		AfterDelete: func(_ context.Context, _ *crud.OpCtx, _ store.Doc) error {
			*calls = append(*calls, name+".afterDelete")
			return nil
		},
	}
}

func TestHooks_Order(t *testing.T) {
	var calls []string
	ev := newEnv(t, crud.Config{}, crud.WithMiddleware(
		crud.Middleware{Name: "a", Hooks: tracer("a", &calls)},
		crud.Middleware{Name: "b", Hooks: tracer("b", &calls)},
	))
	def := taskTable()
	def.SoftDelete = false
	tasks := mustOwned(t, ev.e, def, tracer("local", &calls))
	ctx := as("u1")

	id := createTask(t, tasks, "u1", store.Doc{"title": "x"})
	d, err := ev.st.Get(context.Background(), "task", id)
	require.NoError(t, err)
	assert.Equal(t, "ablocal", d["trace"])
	assert.Equal(t, []string{
		"a.beforeCreate", "b.beforeCreate", "local.beforeCreate",
		"a.afterCreate", "b.afterCreate", "local.afterCreate",
	}, calls)

	calls = nil
	next, err := tasks.Update(ctx, crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "y"}})
	require.NoError(t, err)
	assert.Equal(t, "ablocal", next["trace"])
	assert.Equal(t, []string{
		"a.beforeUpdate", "b.beforeUpdate", "local.beforeUpdate",
		"a.afterUpdate", "b.afterUpdate", "local.afterUpdate",
	}, calls)

	calls = nil
	_, err = tasks.Rm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"a.beforeDelete", "b.beforeDelete", "local.beforeDelete",
		"a.afterDelete", "b.afterDelete", "local.afterDelete",
	}, calls)
}

func TestHooks_BeforeErrorAborts(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	denied := errors.New("denied")
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{
		BeforeCreate: func(context.Context, *crud.OpCtx, store.Doc) (store.Doc, error) {
			return nil, denied
		},
		BeforeDelete: func(context.Context, *crud.OpCtx, store.Doc) error {
			return denied
		},
	})

	_, err := tasks.Create(as("u1"), store.Doc{"title": "x"})
	require.ErrorIs(t, err, denied)
	assert.Zero(t, ev.st.Len("task"))

	require.NoError(t, ev.st.Put(context.Background(), "task", "t1", store.Doc{"title": "seeded", "userId": "u1"}))
	_, err = tasks.Rm(as("u1"), "t1")
	require.ErrorIs(t, err, denied)
	d, err := ev.st.Get(context.Background(), "task", "t1")
	require.NoError(t, err)
	assert.False(t, d.Has(store.FieldDeletedAt))
}

func TestHooks_AfterErrorKeepsWrite(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	failed := errors.New("notify failed")
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{
		AfterCreate: func(context.Context, *crud.OpCtx, string, store.Doc) error {
			return failed
		},
	})

	id, err := tasks.Create(as("u1"), store.Doc{"title": "x"})
	require.ErrorIs(t, err, failed)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, ev.st.Len("task"))
}

func TestHooks_OpCtx(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	var seen *crud.OpCtx
	var shared any
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{
		BeforeCreate: func(_ context.Context, op *crud.OpCtx, data store.Doc) (store.Doc, error) {
			op.Set("k", 42)
			return data, nil
		},
		AfterCreate: func(ctx context.Context, op *crud.OpCtx, id string, _ store.Doc) error {
			seen = op
			shared, _ = op.Get("k")
			// The mutation surface reads through to the store.
			d, err := op.DB.Get(ctx, op.Table, id)
			if err != nil || d == nil {
				return errors.New("created document not visible")
			}
			return nil
		},
	})

	createTask(t, tasks, "u1", store.Doc{"title": "x"})
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.UserID)
	assert.Equal(t, "task", seen.Table)
	assert.Equal(t, "create", seen.Op)
	assert.Equal(t, 42, shared)
}

func TestHooks_MutationCtxSideEffects(t *testing.T) {
	ev := newEnv(t, crud.Config{})
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{
		AfterCreate: func(ctx context.Context, op *crud.OpCtx, id string, _ store.Doc) error {
			_, _, err := op.DB.Create(ctx, "activity", store.Doc{"taskId": id, "_id": "forged"})
			return err
		},
	})

	id := createTask(t, tasks, "u1", store.Doc{"title": "x"})
	acts, err := store.Collect(context.Background(), ev.st, store.Query{Table: "activity"})
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, id, acts[0]["taskId"])
	assert.Equal(t, "u1", acts[0].String(store.FieldOwner))
	assert.NotEqual(t, "forged", acts[0].ID())
}

func TestComposeMiddleware_Empty(t *testing.T) {
	h := crud.ComposeMiddleware()
	assert.Nil(t, h.BeforeCreate)
	assert.Nil(t, h.AfterDelete)
}

func TestAuditLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ev := newEnv(t, crud.Config{}, crud.WithMiddleware(crud.AuditLog(logger, crud.AuditOptions{Diff: true})))
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	id := createTask(t, tasks, "u1", store.Doc{"title": "x"})
	_, err := tasks.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"title": "y"}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"action":"create"`)
	assert.Contains(t, out, `"action":"update"`)
	assert.Contains(t, out, `"table":"task"`)
	assert.Contains(t, out, `"user":"u1"`)
	assert.Contains(t, out, `"field":"title"`)
}

func TestDiff(t *testing.T) {
	prev := store.Doc{"title": "a", "tags": []string{"x"}, "updatedAt": int64(1), "gone": true}
	next := store.Doc{"title": "b", "tags": []string{"x"}, "updatedAt": int64(2), "added": 1}

	assert.Equal(t, []crud.Change{
		{Field: "added", To: 1},
		{Field: "gone", From: true},
		{Field: "title", From: "a", To: "b"},
	}, crud.Diff(prev, next))
}

func TestSlowQueryWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	// A nanosecond threshold flags every mutation.
	ev := newEnv(t, crud.Config{}, crud.WithMiddleware(crud.SlowQueryWarn(logger, 1)))
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	createTask(t, tasks, "u1", store.Doc{"title": "x"})
	assert.Contains(t, buf.String(), "slow mutation")
	assert.Contains(t, buf.String(), "action=create")
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{`<script>alert(1)</script>hi`, "hi"},
		{`<SCRIPT src="x.js">`, ""},
		{`<b onclick="steal()">bold</b>`, "<b>bold</b>"},
		{`<img src=x onerror=alert(1)>`, "<img src=x>"},
		{"status online = yes", "status online = yes"},
		{"a < b onload=1", "a < b onload=1"},
		{`<b onclick="a()" onmouseover='b()'>x</b> online = yes`, "<b>x</b> online = yes"},
		{`<a title="1>0" onclick=z>go</a>`, `<a title="1>0">go</a>`},
		{`<img src=x onerror=alert(1)`, "<img src=x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, crud.Sanitize(tt.in), tt.in)
	}
}

func TestInputSanitize(t *testing.T) {
	ev := newEnv(t, crud.Config{}, crud.WithMiddleware(crud.InputSanitize("title")))
	tasks := mustOwned(t, ev.e, taskTable(), crud.Hooks{})

	id := createTask(t, tasks, "u1", store.Doc{"title": `<script>x()</script>Clean`})
	d, err := ev.st.Get(context.Background(), "task", id)
	require.NoError(t, err)
	assert.Equal(t, "Clean", d["title"])

	next, err := tasks.Update(as("u1"), crud.UpdateArgs{ID: id, Patch: store.Doc{"title": `<i onmouseover='x'>y</i>`}})
	require.NoError(t, err)
	assert.Equal(t, "<i>y</i>", next["title"])
}
