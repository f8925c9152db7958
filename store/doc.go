// Package store defines the document store contract the crud engine runs on,
// plus a DynamoDB implementation of it.
//
// The engine never talks to a database directly. Every generated operation
// goes through [Store], which offers transactional single-call primitives:
//
//	type Store interface {
//	    Get(ctx, table, id) (Doc, error)
//	    Insert(ctx, table, data) (string, error)
//	    Put(ctx, table, id, data) error
//	    Patch(ctx, table, id, patch, expect...) error
//	    Delete(ctx, table, id) error
//	    Query(ctx, q) (Page, error)
//	}
//
// # Documents
//
// A [Doc] is an untyped field map. The store owns the system fields
// [FieldID] and [FieldCreationTime]; the engine owns ownership and
// timestamp fields such as [FieldOwner] and [FieldUpdatedAt].
//
// # Filtering
//
// Queries select rows either by index equality ([Query.Index] + [Query.Eq]),
// by full-text search ([Query.Search]) or by full scan, then apply an optional
// [Expr] filter the backend evaluates natively.
//
// # Expiry
//
// Rows carrying a [FieldTTL] (unix seconds) in the past are treated as gone,
// mirroring DynamoDB's lazy TTL deletion. [Query.IncludeExpired] lifts this.
//
// # Errors
//
//   - [ErrNotFound] - row doesn't exist or has expired
//   - [ErrAlreadyExists] - insert with an id that is taken
//   - [ErrConcurrentModification] - conditional patch failed
//   - [ErrNotUnique] - [Unique] matched more than one row
package store
