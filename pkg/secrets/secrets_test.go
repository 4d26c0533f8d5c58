package secrets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("a", "org-1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "org-1", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	assert.Equal(t, 1, c.Len())
	c.evictExpired()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Bust(t *testing.T) {
	c := NewCache[int](time.Hour)
	c.Put("k", 1)
	c.Bust("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_StartCleanerStops(t *testing.T) {
	c := NewCache[int](time.Nanosecond)
	c.Put("k", 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.StartCleaner(time.Millisecond, stop)
		close(done)
	}()
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	close(stop)
	<-done
}

func TestCache_GetOrLoadCoalescesMisses(t *testing.T) {
	c := NewCache[map[string]string](time.Hour)
	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (map[string]string, error) {
		loads.Add(1)
		<-release
		return map[string]string{"k1": "org-1"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrLoad(context.Background(), "dev/api-keys", load)
			assert.NoError(t, err)
			assert.Equal(t, "org-1", v["k1"])
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, loads.Load())

	_, hit, err := c.GetOrLoad(context.Background(), "dev/api-keys", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.EqualValues(t, 1, loads.Load())
}

func TestCache_GetOrLoadDoesNotCacheFailures(t *testing.T) {
	c := NewCache[string](time.Hour)
	boom := errors.New("throttled")

	_, hit, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, hit)
	assert.Zero(t, c.Len())

	v, hit, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) { return "org-2", nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "org-2", v)
}

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{"dev/api-keys": {"k1": "org-1"}}
	got, err := p.GetSecret(context.Background(), "dev/api-keys")
	require.NoError(t, err)
	assert.Equal(t, "org-1", got["k1"])

	got["k1"] = "mutated"
	again, _ := p.GetSecret(context.Background(), "dev/api-keys")
	assert.Equal(t, "org-1", again["k1"])

	_, err = p.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

type fakeSM struct {
	value *string
	err   error
}

func (f fakeSM) GetSecretValue(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestAWSProvider_GetSecret(t *testing.T) {
	ctx := context.Background()

	p := &AWSSecretsManagerProvider{client: fakeSM{value: aws.String(`{"k1":"org-1"}`)}}
	got, err := p.GetSecret(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "org-1"}, got)

	p = &AWSSecretsManagerProvider{client: fakeSM{value: aws.String(`not json`)}}
	_, err = p.GetSecret(ctx, "s")
	assert.ErrorContains(t, err, "invalid secret format")

	p = &AWSSecretsManagerProvider{client: fakeSM{}}
	_, err = p.GetSecret(ctx, "s")
	assert.Error(t, err)

	p = &AWSSecretsManagerProvider{client: fakeSM{err: &types.ResourceNotFoundException{Message: aws.String("gone")}}}
	_, err = p.GetSecret(ctx, "s")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	p = &AWSSecretsManagerProvider{client: fakeSM{err: errors.New("throttled")}}
	_, err = p.GetSecret(ctx, "s")
	assert.ErrorContains(t, err, "throttled")
}
