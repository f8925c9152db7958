package crud

import (
	"context"

	"github.com/jacentio/canopy/store"
)

// Hooks are callbacks around the mutations of a table. Before hooks may
// replace the data or patch they are given; returning an error aborts the
// call before the write. After hooks run once the write has committed and
// their errors are returned to the caller without undoing it.
type Hooks struct {
	BeforeCreate func(ctx context.Context, op *OpCtx, data store.Doc) (store.Doc, error)
	AfterCreate  func(ctx context.Context, op *OpCtx, id string, doc store.Doc) error

	BeforeUpdate func(ctx context.Context, op *OpCtx, prev, patch store.Doc) (store.Doc, error)
	AfterUpdate  func(ctx context.Context, op *OpCtx, prev, next store.Doc) error

	BeforeDelete func(ctx context.Context, op *OpCtx, doc store.Doc) error
	AfterDelete  func(ctx context.Context, op *OpCtx, doc store.Doc) error
}

// Middleware is a named, process-wide set of hooks.
type Middleware struct {
	Name string
	Hooks
}

// ComposeMiddleware chains middleware in registration order.
func ComposeMiddleware(mw ...Middleware) Hooks {
	hs := make([]Hooks, len(mw))
	for i, m := range mw {
		hs[i] = m.Hooks
	}
	return composeHooks(hs...)
}

// composeHooks chains hooks in order: before hooks form a pipeline where
// each output feeds the next, after hooks all run in sequence. The first
// error stops the chain.
func composeHooks(hs ...Hooks) Hooks {
	var out Hooks

	var bc []func(context.Context, *OpCtx, store.Doc) (store.Doc, error)
	var ac []func(context.Context, *OpCtx, string, store.Doc) error
	var bu []func(context.Context, *OpCtx, store.Doc, store.Doc) (store.Doc, error)
	var au []func(context.Context, *OpCtx, store.Doc, store.Doc) error
	var bd, ad []func(context.Context, *OpCtx, store.Doc) error
	for _, h := range hs {
		if h.BeforeCreate != nil {
			bc = append(bc, h.BeforeCreate)
		}
		if h.AfterCreate != nil {
			ac = append(ac, h.AfterCreate)
		}
		if h.BeforeUpdate != nil {
			bu = append(bu, h.BeforeUpdate)
		}
		if h.AfterUpdate != nil {
			au = append(au, h.AfterUpdate)
		}
		if h.BeforeDelete != nil {
			bd = append(bd, h.BeforeDelete)
		}
		if h.AfterDelete != nil {
			ad = append(ad, h.AfterDelete)
		}
	}

	if len(bc) > 0 {
		out.BeforeCreate = func(ctx context.Context, op *OpCtx, data store.Doc) (store.Doc, error) {
			var err error
			for _, f := range bc {
				if data, err = f(ctx, op, data); err != nil {
					return nil, err
				}
			}
			return data, nil
		}
	}
	if len(ac) > 0 {
		out.AfterCreate = func(ctx context.Context, op *OpCtx, id string, doc store.Doc) error {
			for _, f := range ac {
				if err := f(ctx, op, id, doc); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if len(bu) > 0 {
		out.BeforeUpdate = func(ctx context.Context, op *OpCtx, prev, patch store.Doc) (store.Doc, error) {
			var err error
			for _, f := range bu {
				if patch, err = f(ctx, op, prev, patch); err != nil {
					return nil, err
				}
			}
			return patch, nil
		}
	}
	if len(au) > 0 {
		out.AfterUpdate = func(ctx context.Context, op *OpCtx, prev, next store.Doc) error {
			for _, f := range au {
				if err := f(ctx, op, prev, next); err != nil {
					return err
				}
			}
			return nil
		}
	}
	if len(bd) > 0 {
		out.BeforeDelete = chainDelete(bd)
	}
	if len(ad) > 0 {
		out.AfterDelete = chainDelete(ad)
	}
	return out
}

func chainDelete(fs []func(context.Context, *OpCtx, store.Doc) error) func(context.Context, *OpCtx, store.Doc) error {
	return func(ctx context.Context, op *OpCtx, doc store.Doc) error {
		for _, f := range fs {
			if err := f(ctx, op, doc); err != nil {
				return err
			}
		}
		return nil
	}
}

// The run helpers make unset hooks no-ops.

func (h Hooks) beforeCreate(ctx context.Context, op *OpCtx, data store.Doc) (store.Doc, error) {
	if h.BeforeCreate == nil {
		return data, nil
	}
	return h.BeforeCreate(ctx, op, data)
}

func (h Hooks) afterCreate(ctx context.Context, op *OpCtx, id string, doc store.Doc) error {
	if h.AfterCreate == nil {
		return nil
	}
	return h.AfterCreate(ctx, op, id, doc)
}

func (h Hooks) beforeUpdate(ctx context.Context, op *OpCtx, prev, patch store.Doc) (store.Doc, error) {
	if h.BeforeUpdate == nil {
		return patch, nil
	}
	return h.BeforeUpdate(ctx, op, prev, patch)
}

func (h Hooks) afterUpdate(ctx context.Context, op *OpCtx, prev, next store.Doc) error {
	if h.AfterUpdate == nil {
		return nil
	}
	return h.AfterUpdate(ctx, op, prev, next)
}

func (h Hooks) beforeDelete(ctx context.Context, op *OpCtx, doc store.Doc) error {
	if h.BeforeDelete == nil {
		return nil
	}
	return h.BeforeDelete(ctx, op, doc)
}

func (h Hooks) afterDelete(ctx context.Context, op *OpCtx, doc store.Doc) error {
	if h.AfterDelete == nil {
		return nil
	}
	return h.AfterDelete(ctx, op, doc)
}
