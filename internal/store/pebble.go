package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// Key layout:
//
//	doc/<kind>/<id>                   -> record
//	idx/<kind>/<field>/<value>/<id>   -> empty
const (
	docPrefix = "doc/"
	idxPrefix = "idx/"
)

type pebbleRecord struct {
	Index map[string]string `json:"index,omitempty"`
	Data  json.RawMessage   `json:"data"`
}

// PebbleBackend stores documents in an embedded Pebble database.
type PebbleBackend struct {
	db *pebble.DB
}

// NewPebbleBackend opens (or creates) a Pebble database in dir.
func NewPebbleBackend(dir string) (*PebbleBackend, error) {
	opts := &pebble.Options{
		MemTableSize:             16 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    12,
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleBackend{db: db}, nil
}

func docKey(kind, id string) []byte {
	return []byte(docPrefix + kind + "/" + id)
}

func indexPrefix(kind, field, value string) []byte {
	return []byte(idxPrefix + kind + "/" + field + "/" + value + "/")
}

func indexKey(kind, field, value, id string) []byte {
	return append(indexPrefix(kind, field, value), id...)
}

// upperBound returns the exclusive upper bound of a prefix scan.
func upperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func (p *PebbleBackend) getRecord(kind, id string) (*pebbleRecord, error) {
	val, closer, err := p.db.Get(docKey(kind, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s/%s: %w", kind, id, err)
	}
	defer closer.Close()

	var rec pebbleRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("pebble decode %s/%s: %w", kind, id, err)
	}
	return &rec, nil
}

func (p *PebbleBackend) Get(_ context.Context, kind, id string) ([]byte, error) {
	rec, err := p.getRecord(kind, id)
	if err != nil {
		return nil, err
	}
	return []byte(rec.Data), nil
}

func (p *PebbleBackend) List(_ context.Context, kind, field, value string) ([][]byte, error) {
	if field == "" {
		prefix := []byte(docPrefix + kind + "/")
		iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
		if err != nil {
			return nil, fmt.Errorf("pebble iter: %w", err)
		}
		defer iter.Close()

		var out [][]byte
		for iter.First(); iter.Valid(); iter.Next() {
			var rec pebbleRecord
			if err := json.Unmarshal(iter.Value(), &rec); err != nil {
				return nil, fmt.Errorf("pebble decode %s: %w", iter.Key(), err)
			}
			out = append(out, []byte(rec.Data))
		}
		return out, iter.Error()
	}

	prefix := indexPrefix(kind, field, value)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return nil, err
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		data, err := p.Get(context.Background(), kind, id)
		if errors.Is(err, ErrNoDocument) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Commit writes all documents and rewrites their index entries in one synced batch.
func (p *PebbleBackend) Commit(_ context.Context, docs []Document) error {
	batch := p.db.NewBatch()
	defer batch.Close()

	for _, d := range docs {
		prev, err := p.getRecord(d.Kind, d.ID)
		if err != nil && !errors.Is(err, ErrNoDocument) {
			return err
		}
		if prev != nil {
			for field, value := range prev.Index {
				if err := batch.Delete(indexKey(d.Kind, field, value, d.ID), nil); err != nil {
					return fmt.Errorf("pebble delete index: %w", err)
				}
			}
		}

		rec, err := json.Marshal(pebbleRecord{Index: d.Index, Data: d.Data})
		if err != nil {
			return fmt.Errorf("pebble encode %s/%s: %w", d.Kind, d.ID, err)
		}
		if err := batch.Set(docKey(d.Kind, d.ID), rec, nil); err != nil {
			return fmt.Errorf("pebble set: %w", err)
		}
		for field, value := range d.Index {
			if value == "" {
				continue
			}
			if err := batch.Set(indexKey(d.Kind, field, value, d.ID), nil, nil); err != nil {
				return fmt.Errorf("pebble set index: %w", err)
			}
		}
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleBackend) HealthCheck(context.Context) error {
	if p.db == nil {
		return fmt.Errorf("pebble not initialized")
	}
	return nil
}

func (p *PebbleBackend) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
