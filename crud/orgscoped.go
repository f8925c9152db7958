package crud

import (
	"context"

	"github.com/jacentio/canopy/acl"
	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
)

// OrgScoped is the operation set of a table whose documents belong to an
// organization. Members create; owners, admins, the document's author and
// its editors mutate.
type OrgScoped struct {
	t    *table
	auth *Reader
	pub  *Reader
}

// NewOrgScoped builds and registers the operations of an org-scoped table.
func NewOrgScoped(e *Engine, def schema.Table, hooks Hooks) (*OrgScoped, error) {
	t, err := newTable(e, def, schema.FactoryOrg, hooks)
	if err != nil {
		return nil, err
	}
	o := &OrgScoped{t: t, auth: newReader(t, false), pub: newReader(t, true)}
	o.register()
	return o, nil
}

// Name returns the table name.
func (o *OrgScoped) Name() string { return o.t.name }

// Auth is the member read surface.
func (o *OrgScoped) Auth() *Reader { return o.auth }

// Pub is the public read surface.
func (o *OrgScoped) Pub() *Reader { return o.pub }

func (o *OrgScoped) member(ctx context.Context, orgID string) (string, acl.Access, error) {
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return "", acl.Access{}, err
	}
	if orgID == "" {
		return "", acl.Access{}, o.t.fail(apierr.ValidationFailed).WithFields(store.FieldOrg).WithDebug("orgId is required")
	}
	a, err := o.t.e.acl.RequireOrgMember(ctx, orgID, user)
	return user, a, err
}

// inOrg loads a live document of orgID.
func (o *OrgScoped) inOrg(ctx context.Context, orgID, id string) (store.Doc, error) {
	d, err := o.t.mustLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.String(store.FieldOrg) != orgID {
		return nil, o.t.fail(apierr.NotFound)
	}
	return d, nil
}

// editorsOf returns the ACL that applies to d: its own editors, a parent's
// when editors derive from a parent, or nil without ACL.
func (o *OrgScoped) editorsOf(ctx context.Context, d store.Doc) ([]string, error) {
	switch {
	case o.t.def.ACLFrom != nil:
		from := o.t.def.ACLFrom
		parent, err := o.t.e.get(ctx, from.Table, d.String(from.Field))
		if err != nil || parent == nil {
			return nil, err
		}
		return parent.Strings(store.FieldEditors), nil
	case o.t.def.ACL:
		return d.Strings(store.FieldEditors), nil
	}
	return nil, nil
}

// editable loads a document and checks the caller may mutate it.
func (o *OrgScoped) editable(ctx context.Context, user string, a acl.Access, orgID, id string, load func(context.Context, string) (store.Doc, error)) (store.Doc, error) {
	d, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil || d.String(store.FieldOrg) != orgID {
		return nil, o.t.fail(apierr.NotFound)
	}
	editors, err := o.editorsOf(ctx, d)
	if err != nil {
		return nil, err
	}
	if !acl.CanEdit(a.Role, d, user, editors) {
		return nil, o.t.fail(apierr.Forbidden)
	}
	return d, nil
}

func (o *OrgScoped) liveLoad(ctx context.Context, id string) (store.Doc, error) {
	d, err := o.t.load(ctx, id)
	if err != nil || !o.t.live(d) {
		return nil, err
	}
	return d, nil
}

// Create inserts a document into orgID. Any member may create.
func (o *OrgScoped) Create(ctx context.Context, orgID string, data store.Doc) (string, error) {
	user, _, err := o.member(ctx, orgID)
	if err != nil {
		return "", err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return "", err
	}
	if err := o.t.validate(data, false); err != nil {
		return "", err
	}
	return o.t.insert(ctx, o.t.opCtx(user, "create"), data, store.Doc{store.FieldOrg: orgID})
}

// Update patches a document the caller may edit.
func (o *OrgScoped) Update(ctx context.Context, args UpdateArgs) (store.Doc, error) {
	user, a, err := o.member(ctx, args.OrgID)
	if err != nil {
		return nil, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	if err := o.t.validate(args.Patch, true); err != nil {
		return nil, err
	}
	prev, err := o.editable(ctx, user, a, args.OrgID, args.ID, o.liveLoad)
	if err != nil {
		return nil, err
	}
	return o.t.patch(ctx, o.t.opCtx(user, "update"), prev, args.Patch, args.ExpectedUpdatedAt)
}

// Rm deletes a document the caller may edit. Hard deletes cascade first.
func (o *OrgScoped) Rm(ctx context.Context, orgID, id string) (store.Doc, error) {
	user, a, err := o.member(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	prev, err := o.editable(ctx, user, a, orgID, id, o.liveLoad)
	if err != nil {
		return nil, err
	}
	return o.t.remove(ctx, o.t.opCtx(user, "rm"), prev)
}

// Restore undoes a soft delete.
func (o *OrgScoped) Restore(ctx context.Context, orgID, id string) (store.Doc, error) {
	user, a, err := o.member(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return nil, err
	}
	prev, err := o.editable(ctx, user, a, orgID, id, o.t.load)
	if err != nil {
		return nil, err
	}
	return o.t.restore(ctx, o.t.opCtx(user, "restore"), prev)
}

// BulkCreate validates every item, then creates them one at a time.
func (o *OrgScoped) BulkCreate(ctx context.Context, orgID string, items []store.Doc) (BulkResult, error) {
	user, _, err := o.member(ctx, orgID)
	if err != nil {
		return BulkResult{}, err
	}
	if err := o.t.checkBulk(len(items)); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return BulkResult{}, err
	}
	for _, item := range items {
		if err := o.t.validate(item, false); err != nil {
			return BulkResult{}, err
		}
	}
	res := BulkResult{IDs: make([]string, 0, len(items))}
	for _, item := range items {
		id, err := o.t.insert(ctx, o.t.opCtx(user, "bulkCreate"), item, store.Doc{store.FieldOrg: orgID})
		if id != "" {
			res.IDs = append(res.IDs, id)
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// BulkUpdate patches each document the caller may edit; the rest are skipped.
func (o *OrgScoped) BulkUpdate(ctx context.Context, orgID string, ids []string, patch store.Doc) (BulkResult, error) {
	user, a, err := o.member(ctx, orgID)
	if err != nil {
		return BulkResult{}, err
	}
	if err := o.t.checkBulk(len(ids)); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.validate(patch, true); err != nil {
		return BulkResult{}, err
	}
	return bulkEach(ids, func(id string) error {
		prev, err := o.editable(ctx, user, a, orgID, id, o.liveLoad)
		if err != nil {
			return err
		}
		_, err = o.t.patch(ctx, o.t.opCtx(user, "bulkUpdate"), prev, patch, nil)
		return err
	})
}

// BulkRm deletes each document the caller may edit; the rest are skipped.
func (o *OrgScoped) BulkRm(ctx context.Context, orgID string, ids []string) (BulkResult, error) {
	user, a, err := o.member(ctx, orgID)
	if err != nil {
		return BulkResult{}, err
	}
	if err := o.t.checkBulk(len(ids)); err != nil {
		return BulkResult{}, err
	}
	if err := o.t.rateLimit(ctx, user); err != nil {
		return BulkResult{}, err
	}
	return bulkEach(ids, func(id string) error {
		prev, err := o.editable(ctx, user, a, orgID, id, o.liveLoad)
		if err != nil {
			return err
		}
		_, err = o.t.remove(ctx, o.t.opCtx(user, "bulkRm"), prev)
		return err
	})
}

// Editors returns a document's editors. Any member may read them.
func (o *OrgScoped) Editors(ctx context.Context, orgID, id string) ([]string, error) {
	if err := o.requireACL(); err != nil {
		return nil, err
	}
	if _, _, err := o.member(ctx, orgID); err != nil {
		return nil, err
	}
	d, err := o.inOrg(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	editors := d.Strings(store.FieldEditors)
	if editors == nil {
		editors = []string{}
	}
	return editors, nil
}

// AddEditor grants editorID edit rights on a document. Admins only.
func (o *OrgScoped) AddEditor(ctx context.Context, orgID, id, editorID string) ([]string, error) {
	return o.changeEditors(ctx, "addEditor", orgID, id, func(cur []string) []string {
		return append(cur, editorID)
	})
}

// RemoveEditor revokes editorID's edit rights. Admins only.
func (o *OrgScoped) RemoveEditor(ctx context.Context, orgID, id, editorID string) ([]string, error) {
	return o.changeEditors(ctx, "removeEditor", orgID, id, func(cur []string) []string {
		out := cur[:0]
		for _, e := range cur {
			if e != editorID {
				out = append(out, e)
			}
		}
		return out
	})
}

// SetEditors replaces a document's editors. Admins only.
func (o *OrgScoped) SetEditors(ctx context.Context, orgID, id string, editors []string) ([]string, error) {
	return o.changeEditors(ctx, "setEditors", orgID, id, func([]string) []string {
		return append([]string(nil), editors...)
	})
}

func (o *OrgScoped) requireACL() error {
	if !o.t.def.ACL {
		return o.t.fail(apierr.NotFound).WithDebug("%s has no document ACL", o.t.name)
	}
	return nil
}

func (o *OrgScoped) changeEditors(ctx context.Context, op, orgID, id string, change func([]string) []string) ([]string, error) {
	if err := o.requireACL(); err != nil {
		return nil, err
	}
	user, err := o.t.e.RequireUser(ctx, o.t.name)
	if err != nil {
		return nil, err
	}
	a, err := o.t.e.acl.RequireOrgRole(ctx, orgID, user, acl.RoleAdmin)
	if err != nil {
		return nil, err
	}
	d, err := o.inOrg(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	current := d.Strings(store.FieldEditors)
	next := change(append([]string(nil), current...))
	editors, err := o.t.e.acl.ValidateEditors(ctx, a.Org, next, current...)
	if err != nil {
		return nil, err
	}
	if _, err := o.t.opCtx(user, op).DB.patchFrom(ctx, o.t.name, d, store.Doc{store.FieldEditors: editors}); err != nil {
		return nil, err
	}
	return editors, nil
}

func (o *OrgScoped) register() {
	e, t := o.t.e, o.t
	e.Register(t.label("create"), Bind(func(ctx context.Context, a CreateArgs) (any, error) {
		return o.Create(ctx, a.OrgID, a.Data)
	}))
	e.Register(t.label("update"), Bind(func(ctx context.Context, a UpdateArgs) (any, error) {
		return o.Update(ctx, a)
	}))
	e.Register(t.label("rm"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
		return o.Rm(ctx, a.OrgID, a.ID)
	}))
	if t.def.SoftDelete {
		e.Register(t.label("restore"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
			return o.Restore(ctx, a.OrgID, a.ID)
		}))
	}
	e.Register(t.label("bulkCreate"), Bind(func(ctx context.Context, a BulkCreateArgs) (any, error) {
		return o.BulkCreate(ctx, a.OrgID, a.Items)
	}))
	e.Register(t.label("bulkUpdate"), Bind(func(ctx context.Context, a BulkUpdateArgs) (any, error) {
		return o.BulkUpdate(ctx, a.OrgID, a.IDs, a.Data)
	}))
	e.Register(t.label("bulkRm"), Bind(func(ctx context.Context, a BulkIDArgs) (any, error) {
		return o.BulkRm(ctx, a.OrgID, a.IDs)
	}))
	if t.def.ACL {
		e.Register(t.label("editors"), Bind(func(ctx context.Context, a IDArgs) (any, error) {
			return o.Editors(ctx, a.OrgID, a.ID)
		}))
		e.Register(t.label("addEditor"), Bind(func(ctx context.Context, a EditorArgs) (any, error) {
			return o.AddEditor(ctx, a.OrgID, a.ID, a.EditorID)
		}))
		e.Register(t.label("removeEditor"), Bind(func(ctx context.Context, a EditorArgs) (any, error) {
			return o.RemoveEditor(ctx, a.OrgID, a.ID, a.EditorID)
		}))
		e.Register(t.label("setEditors"), Bind(func(ctx context.Context, a SetEditorsArgs) (any, error) {
			return o.SetEditors(ctx, a.OrgID, a.ID, a.Editors)
		}))
	}
	o.auth.register()
	o.pub.register()
}
