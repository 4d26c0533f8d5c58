package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_ExclusivePerKey(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(ctx, "a")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired released key")
	}
}

func TestLocker_ContextCancelReleasesPartialHold(t *testing.T) {
	l := NewLocker()
	release, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// "a" sorts first and is taken, then "b" blocks until the deadline.
	_, err = l.Acquire(ctx, "b", "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err, "key a must be free again")
	r()
}

func TestLocker_OverlappingSetsDoNotDeadlock(t *testing.T) {
	l := NewLocker()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r, err := l.Acquire(ctx, "x", "y")
			if err != nil {
				return
			}
			counter++
			r()
		}()
		go func() {
			defer wg.Done()
			r, err := l.Acquire(ctx, "y", "x", "x")
			if err != nil {
				return
			}
			counter++
			r()
		}()
	}
	wg.Wait()
	assert.NoError(t, ctx.Err())
	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, l.size())
}

func TestLocker_ReleaseIsIdempotent(t *testing.T) {
	l := NewLocker()
	r, err := l.Acquire(context.Background(), "k", "")
	require.NoError(t, err)
	r()
	r()
	assert.Equal(t, 0, l.size())
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedUnique([]string{"c", "", "a", "b", "a"}))
	assert.Empty(t, sortedUnique(nil))
}
