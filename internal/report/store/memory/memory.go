// Package memory is an in-process document store, used by tests and by the
// "memory" backend for local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/cardreport/internal/report/domain"
	"github.com/smallbiznis/cardreport/internal/report/store"
)

type Store struct {
	mu   sync.Mutex
	docs map[string]*domain.Aggregate
}

func New() *Store {
	return &Store{docs: make(map[string]*domain.Aggregate)}
}

func (s *Store) Get(ctx context.Context, path string) (*domain.Aggregate, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[store.NormalizePath(path)]
	return doc.Clone(), ok, nil
}

func (s *Store) Save(ctx context.Context, path string, agg *domain.Aggregate) error {
	return store.Save(ctx, s, path, agg)
}

func (s *Store) Update(ctx context.Context, path string, patch map[string]any) error {
	return store.Update(ctx, s, path, patch)
}

func (s *Store) Ref(path string) domain.DocumentRef {
	return store.Ref(path)
}

func (s *Store) Mutate(ctx context.Context, path string, fn domain.MutateFunc) (*domain.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = store.NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.docs[path]
	next, err := fn(cur.Clone(), exists)
	if err != nil || next == nil {
		return nil, err
	}
	next = store.Next(path, cur, exists, next)
	s.docs[path] = next.Clone()
	return next, nil
}

// Paths lists stored document paths with the given prefix, sorted.
func (s *Store) Paths(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for path := range s.docs {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}
