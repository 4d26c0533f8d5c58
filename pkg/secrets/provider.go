package secrets

import "context"

// Provider fetches a JSON secret as a flat string map.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// StaticProvider serves fixed secrets. Used for local runs and tests.
type StaticProvider map[string]map[string]string

func (s StaticProvider) GetSecret(_ context.Context, name string) (map[string]string, error) {
	v, ok := s[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out, nil
}
