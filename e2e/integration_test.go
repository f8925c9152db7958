//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// CANOPY_E2E_PROFILE selects a shared AWS profile; CANOPY_DYNAMO_ENDPOINT
// points the client at DynamoDB Local instead.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/org"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

const testSchema = `
tables:
  - name: project
    factory: owned
    softDelete: true
    fields:
      - {name: name, kind: string, rules: "min=1"}
    indexes:
      - {name: by_name, fields: [name]}
    search: {name: search_name, field: name}
  - name: board
    factory: owned
    fields:
      - {name: title, kind: string}
    cascade:
      - {table: card, foreignKey: boardId, index: by_board}
  - name: card
    factory: owned
    fields:
      - {name: text, kind: string}
      - {name: boardId, kind: id, table: board}
  - name: note
    factory: owned
    fields:
      - {name: body, kind: string}
    rateLimit: {max: 2, window: 1m}
  - name: wiki
    factory: org
    fields:
      - {name: title, kind: string}
`

var (
	testID    string
	ddbClient *dynamodb.Client
	dynamo    *store.Dynamo
	engine    *crud.Engine
	mounted   *crud.Mounted
	orgs      *org.Service
	specs     []store.TableSpec
)

// indexWait bounds how long tests wait for GSIs to catch up.
const indexWait = 20 * time.Second

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	dcfg := store.DynamoConfig{TablePrefix: fmt.Sprintf("canopy-e2e-%s_", testID)}
	fmt.Printf("Test ID: %s (prefix %s)\n", testID, dcfg.TablePrefix)

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if p := os.Getenv("CANOPY_E2E_PROFILE"); p != "" {
		opts = append(opts, config.WithSharedConfigProfile(p))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if ep := os.Getenv("CANOPY_DYNAMO_ENDPOINT"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})

	dynamo = store.NewDynamo(ddbClient, dcfg)
	engine = crud.New(dynamo, crud.Config{})
	f, err := schema.Parse([]byte(testSchema))
	if err != nil {
		fmt.Printf("Failed to parse schema: %v\n", err)
		os.Exit(1)
	}
	if mounted, err = crud.Mount(engine, f, crud.MountOptions{}); err != nil {
		fmt.Printf("Failed to mount schema: %v\n", err)
		os.Exit(1)
	}
	orgs = org.New(engine, org.Config{})
	specs = store.MergeSpecs(append(engine.TableSpecs(), orgs.TableSpecs()...)...)

	fmt.Println("Creating test tables...")
	created, err := store.Provision(ctx, ddbClient, dcfg, specs, 2*time.Minute)
	if err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		deleteTables(ctx, dcfg)
		os.Exit(1)
	}
	fmt.Printf("Created %d tables\n", len(created))

	code := m.Run()

	deleteTables(ctx, dcfg)
	os.Exit(code)
}

func deleteTables(ctx context.Context, cfg store.DynamoConfig) {
	fmt.Println("Deleting test tables...")
	for _, s := range specs {
		name := cfg.PhysicalTable(s.Table)
		if _, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)}); err != nil {
			fmt.Printf("Failed to delete table %s: %v\n", name, err)
		}
	}
}

// --- Helpers ---

func as(user string) context.Context {
	return crud.WithUserID(context.Background(), user)
}

func newUser(t *testing.T) string {
	t.Helper()
	id, err := dynamo.Insert(context.Background(), engine.Config().UsersTable, store.Doc{
		"email": fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
	})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

// eventually polls fn until it returns nil or indexWait passes.
func eventually(t *testing.T, what string, fn func() error) {
	t.Helper()
	deadline := time.Now().Add(indexWait)
	for {
		err := fn()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: %v", what, err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func wantCode(t *testing.T, err error, code apierr.Code) {
	t.Helper()
	if got := apierr.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

// --- Store Tests ---

func TestStore_InsertGetPatch(t *testing.T) {
	ctx := context.Background()

	id, err := dynamo.Insert(ctx, "project", store.Doc{"name": "Raw", store.FieldOwner: "nobody"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := dynamo.Insert(ctx, "project", store.Doc{store.FieldID: id}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists on duplicate id, got %v", err)
	}

	doc, err := dynamo.Get(ctx, "project", id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc["name"] != "Raw" || !doc.Has(store.FieldCreationTime) {
		t.Errorf("unexpected document %v", doc)
	}

	if err := dynamo.Patch(ctx, "project", id, store.Doc{"name": "Cooked"}, store.Eq{Field: "name", Value: "Raw"}); err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	err = dynamo.Patch(ctx, "project", id, store.Doc{"name": "Burnt"}, store.Eq{Field: "name", Value: "Raw"})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}

	if err := dynamo.Delete(ctx, "project", id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := dynamo.Delete(ctx, "project", id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := dynamo.Patch(ctx, "project", id, store.Doc{"name": "Ghost"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound patching a deleted row, got %v", err)
	}
}

func TestStore_TTLFiltering(t *testing.T) {
	ctx := context.Background()
	owner := "ttl-" + testID
	past := store.TTLAt(time.Now().Add(-time.Hour))

	live, err := dynamo.Insert(ctx, "project", store.Doc{"name": "live", store.FieldOwner: owner})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	gone, err := dynamo.Insert(ctx, "project", store.Doc{"name": "gone", store.FieldOwner: owner, store.FieldTTL: past})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if _, err := dynamo.Get(ctx, "project", gone); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired row should read as missing, got %v", err)
	}

	q := store.Query{
		Table: "project",
		Index: engine.Config().OwnerIndex,
		Eq:    []store.Eq{{Field: store.FieldOwner, Value: owner}},
	}
	eventually(t, "query live rows", func() error {
		docs, err := store.Collect(ctx, dynamo, q)
		if err != nil {
			return err
		}
		if len(docs) != 1 || docs[0].ID() != live {
			return fmt.Errorf("expected only %s, got %d rows", live, len(docs))
		}
		return nil
	})

	q.IncludeExpired = true
	eventually(t, "query expired rows", func() error {
		docs, err := store.Collect(ctx, dynamo, q)
		if err != nil {
			return err
		}
		if len(docs) != 2 {
			return fmt.Errorf("expected 2 rows with IncludeExpired, got %d", len(docs))
		}
		return nil
	})
}

func TestStore_Paging(t *testing.T) {
	ctx := context.Background()
	owner := "pager-" + testID
	for i := 0; i < 5; i++ {
		if _, err := dynamo.Insert(ctx, "project", store.Doc{
			"name":                  fmt.Sprintf("page %d", i),
			store.FieldOwner:        owner,
			store.FieldCreationTime: int64(1000 + i),
		}); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	q := store.Query{
		Table:    "project",
		Index:    engine.Config().OwnerIndex,
		Eq:       []store.Eq{{Field: store.FieldOwner, Value: owner}},
		Order:    store.Asc,
		PageSize: 2,
	}
	eventually(t, "index holds every row", func() error {
		docs, err := store.Collect(ctx, dynamo, q)
		if err != nil {
			return err
		}
		if len(docs) != 5 {
			return fmt.Errorf("expected 5 rows, got %d", len(docs))
		}
		return nil
	})

	var names []string
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("paging did not terminate")
		}
		page, err := dynamo.Query(ctx, q)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for _, d := range page.Docs {
			names = append(names, d["name"].(string))
		}
		if page.IsDone {
			break
		}
		q.Cursor = page.ContinueCursor
	}
	if len(names) != 5 || names[0] != "page 0" || names[4] != "page 4" {
		t.Errorf("unexpected page order %v", names)
	}
}

// --- Engine Tests ---

func TestOwned_CreateUpdateConflict(t *testing.T) {
	user := newUser(t)
	projects := mounted.Owned["project"]

	id, err := projects.Create(as(user), store.Doc{"name": "Apollo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	doc, err := projects.Auth().Read(as(user), crud.ReadArgs{ID: id})
	if err != nil || doc == nil {
		t.Fatalf("Read failed: %v %v", doc, err)
	}
	if doc[store.FieldOwner] != user {
		t.Errorf("expected owner %s, got %v", user, doc[store.FieldOwner])
	}

	updated, err := projects.Update(as(user), crud.UpdateArgs{ID: id, Patch: store.Doc{"name": "Artemis"}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	stamp, _ := updated.Int64(store.FieldUpdatedAt)

	stale := stamp - 1
	_, err = projects.Update(as(user), crud.UpdateArgs{ID: id, Patch: store.Doc{"name": "Gemini"}, ExpectedUpdatedAt: &stale})
	wantCode(t, err, apierr.Conflict)

	if _, err := projects.Update(as(user), crud.UpdateArgs{ID: id, Patch: store.Doc{"name": "Gemini"}, ExpectedUpdatedAt: &stamp}); err != nil {
		t.Errorf("Update with current stamp failed: %v", err)
	}

	other := newUser(t)
	_, err = projects.Update(as(other), crud.UpdateArgs{ID: id, Patch: store.Doc{"name": "Hijack"}})
	wantCode(t, err, apierr.NotFound)
}

func TestOwned_SoftDeleteRestore(t *testing.T) {
	user := newUser(t)
	projects := mounted.Owned["project"]

	id, err := projects.Create(as(user), store.Doc{"name": "Phoenix"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := projects.Rm(as(user), id); err != nil {
		t.Fatalf("Rm failed: %v", err)
	}
	doc, err := projects.Auth().Read(as(user), crud.ReadArgs{ID: id})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc != nil {
		t.Errorf("soft-deleted project should be hidden, got %v", doc)
	}
	raw, err := dynamo.Get(context.Background(), "project", id)
	if err != nil || !raw.Has(store.FieldDeletedAt) {
		t.Fatalf("row should remain with deletedAt: %v %v", raw, err)
	}

	if _, err := projects.Restore(as(user), id); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	doc, err = projects.Auth().Read(as(user), crud.ReadArgs{ID: id})
	if err != nil || doc == nil {
		t.Errorf("restored project should be visible: %v %v", doc, err)
	}
}

func TestOwned_CascadeDelete(t *testing.T) {
	user := newUser(t)
	boards, cards := mounted.Owned["board"], mounted.Owned["card"]

	board, err := boards.Create(as(user), store.Doc{"title": "Sprint"})
	if err != nil {
		t.Fatalf("Create board failed: %v", err)
	}
	var cardIDs []string
	for i := 0; i < 3; i++ {
		id, err := cards.Create(as(user), store.Doc{"text": fmt.Sprintf("card %d", i), "boardId": board})
		if err != nil {
			t.Fatalf("Create card %d failed: %v", i, err)
		}
		cardIDs = append(cardIDs, id)
	}

	eventually(t, "cards visible by board", func() error {
		docs, err := store.Collect(context.Background(), dynamo, store.Query{
			Table: "card",
			Index: "by_board",
			Eq:    []store.Eq{{Field: "boardId", Value: board}},
		})
		if err != nil {
			return err
		}
		if len(docs) != 3 {
			return fmt.Errorf("expected 3 cards, got %d", len(docs))
		}
		return nil
	})

	if _, err := boards.Rm(as(user), board); err != nil {
		t.Fatalf("Rm board failed: %v", err)
	}
	if _, err := dynamo.Get(context.Background(), "board", board); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("board should be gone, got %v", err)
	}
	for _, id := range cardIDs {
		if _, err := dynamo.Get(context.Background(), "card", id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("card %s should be gone, got %v", id, err)
		}
	}
}

func TestOwned_Search(t *testing.T) {
	user := newUser(t)
	projects := mounted.Owned["project"]
	marker := "zephyr" + testID
	for _, name := range []string{marker + " alpha", marker + " beta", "unrelated"} {
		if _, err := projects.Create(as(user), store.Doc{"name": name}); err != nil {
			t.Fatalf("Create %q failed: %v", name, err)
		}
	}

	docs, err := projects.Auth().Search(as(user), crud.SearchArgs{Query: marker})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 matches for %q, got %d", marker, len(docs))
	}
}

func TestOwned_RateLimit(t *testing.T) {
	user := newUser(t)
	notes := mounted.Owned["note"]

	for i := 0; i < 2; i++ {
		if _, err := notes.Create(as(user), store.Doc{"body": "hi"}); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}
	_, err := notes.Create(as(user), store.Doc{"body": "one too many"})
	wantCode(t, err, apierr.RateLimited)

	if _, err := notes.Create(as(newUser(t)), store.Doc{"body": "fresh bucket"}); err != nil {
		t.Errorf("other users keep their own budget: %v", err)
	}
}

// --- Organization Tests ---

func TestOrg_InviteAndScopedTable(t *testing.T) {
	owner, invitee, outsider := newUser(t), newUser(t), newUser(t)
	slug := "e2e-" + testID

	orgID, err := orgs.Create(as(owner), org.CreateArgs{Name: "E2E Org", Slug: slug})
	if err != nil {
		t.Fatalf("Create org failed: %v", err)
	}
	_, err = orgs.Create(as(outsider), org.CreateArgs{Name: "Squatter", Slug: slug})
	wantCode(t, err, apierr.OrgSlugTaken)

	inv, err := orgs.Invite(as(owner), org.InviteArgs{OrgID: orgID, Email: "new@example.com"})
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	var joined string
	eventually(t, "accept invite", func() error {
		joined, err = orgs.AcceptInvite(as(invitee), inv.Token)
		return err
	})
	if joined != orgID {
		t.Errorf("expected to join %s, got %s", orgID, joined)
	}

	wikis := mounted.Org["wiki"]
	if _, err := wikis.Create(as(invitee), orgID, store.Doc{"title": "Runbook"}); err != nil {
		t.Fatalf("member create failed: %v", err)
	}
	_, err = wikis.Create(as(outsider), orgID, store.Doc{"title": "Spam"})
	wantCode(t, err, apierr.NotOrgMember)

	eventually(t, "list org wiki", func() error {
		res, err := wikis.Auth().List(as(owner), crud.ListArgs{OrgID: orgID})
		if err != nil {
			return err
		}
		if len(res.Page) != 1 {
			return fmt.Errorf("expected 1 page, got %d", len(res.Page))
		}
		return nil
	})

	if err := orgs.Remove(as(owner), orgID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := dynamo.Get(context.Background(), "org", orgID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("org should be gone, got %v", err)
	}
}

// --- Dispatch ---

func TestDispatch_UnknownOperation(t *testing.T) {
	_, err := engine.Dispatch(as(newUser(t)), "project:explode", []byte(`{}`))
	wantCode(t, err, apierr.NotFound)
}
