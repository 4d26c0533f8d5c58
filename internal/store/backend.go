package store

import (
	"context"
	"errors"
)

// ErrNoDocument is returned by a Backend when no document exists for (kind, id).
var ErrNoDocument = errors.New("store: document not found")

// Document is a JSON-encoded entity plus the secondary index values it is listed by.
type Document struct {
	Kind  string
	ID    string
	Data  []byte
	Index map[string]string
}

// Backend persists documents. Commit must apply every document or none.
// Backends are not responsible for entity-level locking; Store serializes writers.
type Backend interface {
	Get(ctx context.Context, kind, id string) ([]byte, error)
	// List returns every document of kind whose index field equals value.
	// An empty field lists the whole kind.
	List(ctx context.Context, kind, field, value string) ([][]byte, error)
	Commit(ctx context.Context, docs []Document) error
	HealthCheck(ctx context.Context) error
	Close() error
}
