package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/pkg/secrets"
	"github.com/Checker-Finance/trade-escrow/pkg/utils"
)

// Resolver maps API keys to organization ids.
//
// Keys come from two places: a static map configured at start-up and a JSON
// secret {api_key: org_id} held in the secrets provider. The secret is cached
// as a whole so one fetch serves every key until the cache entry expires.
type Resolver struct {
	logger     *zap.Logger
	static     map[string]string
	provider   secrets.Provider
	secretName string
	cache      *secrets.Cache[map[string]string]
}

// NewResolver builds a Resolver. provider may be nil when only static keys are used.
func NewResolver(logger *zap.Logger, static map[string]string, provider secrets.Provider, secretName string, cache *secrets.Cache[map[string]string]) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if static == nil {
		static = map[string]string{}
	}
	return &Resolver{
		logger:     logger,
		static:     static,
		provider:   provider,
		secretName: secretName,
		cache:      cache,
	}
}

// ParseStaticKeys parses "key1:org1,key2:org2".
func ParseStaticKeys(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, org, ok := strings.Cut(pair, ":")
		key, org = strings.TrimSpace(key), strings.TrimSpace(org)
		if !ok || key == "" || org == "" {
			return nil, fmt.Errorf("invalid static key entry %q", pair)
		}
		out[key] = org
	}
	return out, nil
}

// OrgForKey returns the organization that owns apiKey, or an Unauthorized error.
func (r *Resolver) OrgForKey(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", apperr.New(apperr.KindUnauthorized, "auth", "", "", "", "missing api key")
	}
	if org, ok := r.static[apiKey]; ok {
		return org, nil
	}

	keys, err := r.remoteKeys(ctx)
	if err != nil {
		r.logger.Warn("auth.secret_fetch_failed",
			zap.String("secret", r.secretName),
			zap.Error(err))
		return "", fmt.Errorf("resolve api key: %w", err)
	}
	if org, ok := keys[apiKey]; ok {
		return org, nil
	}

	r.logger.Info("auth.unknown_key", zap.String("key", utils.MaskKey(apiKey)))
	return "", apperr.New(apperr.KindUnauthorized, "auth", "", "", "", "unknown api key")
}

// Refresh drops the cached secret so the next lookup refetches it.
func (r *Resolver) Refresh() {
	if r.cache != nil {
		r.cache.Bust(r.secretName)
	}
}

func (r *Resolver) remoteKeys(ctx context.Context) (map[string]string, error) {
	if r.provider == nil || r.secretName == "" {
		return nil, nil
	}
	if r.cache == nil {
		return r.fetch(ctx)
	}
	keys, hit, err := r.cache.GetOrLoad(ctx, r.secretName, r.fetch)
	if hit {
		metrics.IncCacheHit("hit")
	} else {
		metrics.IncCacheHit("miss")
	}
	return keys, err
}

func (r *Resolver) fetch(ctx context.Context) (map[string]string, error) {
	keys, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		return nil, err
	}
	r.logger.Info("auth.keys_loaded",
		zap.String("secret", r.secretName),
		zap.Int("count", len(keys)))
	return keys, nil
}
