package domain

import "context"

// MutateFunc computes the next state of a document from its current state.
// cur is a private copy and may be modified. Returning a nil aggregate leaves
// the document untouched.
type MutateFunc func(cur *Aggregate, exists bool) (*Aggregate, error)

// Store is the document store the report engine persists aggregates in.
// Get/Save/Update/Ref are the plain document primitives; Mutate is an atomic
// read-modify-write and is what every counter change goes through.
type Store interface {
	// Get returns the document at path. ok is false when it does not exist.
	Get(ctx context.Context, path string) (agg *Aggregate, ok bool, err error)

	// Save creates or fully overwrites the document at path.
	Save(ctx context.Context, path string, agg *Aggregate) error

	// Update merges patch into an existing document. Missing documents yield a
	// not_found error.
	Update(ctx context.Context, path string, patch map[string]any) error

	// Ref returns a reference to the document at path.
	Ref(path string) DocumentRef

	// Mutate applies fn atomically and returns the persisted state. Every
	// successful write increments Version by one.
	Mutate(ctx context.Context, path string, fn MutateFunc) (*Aggregate, error)
}
