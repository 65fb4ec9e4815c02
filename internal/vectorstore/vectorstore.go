// Package vectorstore holds namespaced (vector, metadata) rows and answers
// nearest-neighbour queries over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrUnavailable wraps every failure of the backing store.
var ErrUnavailable = errors.New("vector store unavailable")

// Namespace partitions the index so code and issue vectors never mix.
type Namespace string

const (
	NamespaceCode   Namespace = "code"
	NamespaceIssues Namespace = "issues"
)

// Predicate restricts a metadata field to one of Values. A predicate with no
// values matches nothing.
type Predicate struct {
	Field  string
	Values []string
}

// Eq matches rows whose field equals value.
func Eq(field, value string) Predicate {
	return Predicate{Field: field, Values: []string{value}}
}

// In matches rows whose field is any of values.
func In(field string, values ...string) Predicate {
	return Predicate{Field: field, Values: values}
}

// Filter is a conjunction of predicates. A nil Filter matches every row in
// the namespace.
type Filter []Predicate

// Match is one query result. Score is the cosine similarity clamped to [0,1].
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// Store is a namespaced vector index.
type Store interface {
	// Upsert writes the row, overwriting any row with the same id.
	Upsert(ctx context.Context, ns Namespace, id string, vector []float32, metadata map[string]string) error
	// Query returns at most topK rows matching filter, best first.
	Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter Filter) ([]Match, error)
	// Delete removes every row matching filter and reports how many went.
	Delete(ctx context.Context, ns Namespace, filter Filter) (int64, error)
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func validateFilter(f Filter) error {
	for _, p := range f {
		if !fieldPattern.MatchString(p.Field) {
			return fmt.Errorf("invalid filter field %q", p.Field)
		}
	}
	return nil
}
