package actor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBeginExposesValues(t *testing.T) {
	ctx, release := Begin(context.Background(), "admin", "corr-1")
	defer release()

	id, ok := ActorID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "admin", id)

	corr, ok := CorrelationID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "corr-1", corr)
}

func TestValuesAbsentWithoutScope(t *testing.T) {
	_, ok := ActorID(context.Background())
	assert.False(t, ok)

	_, ok = CorrelationID(context.Background())
	assert.False(t, ok)
}

func TestEmptyValuesAreAbsent(t *testing.T) {
	ctx, release := Begin(context.Background(), "", "corr-1")
	defer release()

	_, ok := ActorID(ctx)
	assert.False(t, ok)
	assert.Nil(t, Ptr(ActorID(ctx)))
	assert.Equal(t, "corr-1", *Ptr(CorrelationID(ctx)))
}

func TestReleaseClearsScope(t *testing.T) {
	ctx, release := Begin(context.Background(), "admin", "corr-1")
	release()
	release()

	_, ok := ActorID(ctx)
	assert.False(t, ok)
	_, ok = CorrelationID(ctx)
	assert.False(t, ok)
}

func TestConcurrentScopesDoNotLeak(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := "user"
			if n%2 == 0 {
				user = "admin"
			}
			ctx, release := Begin(context.Background(), user, "")
			defer release()

			got, ok := ActorID(ctx)
			assert.True(t, ok)
			assert.Equal(t, user, got)
		}(i)
	}
	wg.Wait()
}
