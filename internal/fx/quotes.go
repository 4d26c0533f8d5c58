package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// ErrQuoteNotFound is returned for unknown or expired quotes.
var ErrQuoteNotFound = errors.New("fx quote not found")

// QuoteStore keeps quotes until they expire.
type QuoteStore interface {
	Put(ctx context.Context, q model.FXQuote, ttl time.Duration) error
	Get(ctx context.Context, id string) (*model.FXQuote, error)
}

// RedisQuoteStore keeps quotes as JSON under fx:quote:<id> with a TTL.
type RedisQuoteStore struct {
	redis *redis.Client
}

func NewRedisQuoteStore(rdb *redis.Client) *RedisQuoteStore {
	return &RedisQuoteStore{redis: rdb}
}

func quoteKey(id string) string { return "fx:quote:" + id }

func (s *RedisQuoteStore) Put(ctx context.Context, q model.FXQuote, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal fx quote: %w", err)
	}
	return s.redis.Set(ctx, quoteKey(q.QuoteID), data, ttl).Err()
}

func (s *RedisQuoteStore) Get(ctx context.Context, id string) (*model.FXQuote, error) {
	data, err := s.redis.Get(ctx, quoteKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fx quote %s: %w", id, err)
	}
	var q model.FXQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode fx quote %s: %w", id, err)
	}
	return &q, nil
}

// MemoryQuoteStore is the single-process fallback when Redis is not configured.
type MemoryQuoteStore struct {
	mu     sync.Mutex
	quotes map[string]model.FXQuote
	now    func() time.Time
}

func NewMemoryQuoteStore() *MemoryQuoteStore {
	return &MemoryQuoteStore{quotes: make(map[string]model.FXQuote), now: time.Now}
}

func (s *MemoryQuoteStore) Put(_ context.Context, q model.FXQuote, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, old := range s.quotes {
		if old.Expired(now) {
			delete(s.quotes, id)
		}
	}
	s.quotes[q.QuoteID] = q
	return nil
}

func (s *MemoryQuoteStore) Get(_ context.Context, id string) (*model.FXQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok || q.Expired(s.now()) {
		return nil, ErrQuoteNotFound
	}
	return &q, nil
}
