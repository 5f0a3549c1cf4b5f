package query_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/query"
)

func TestPlanCache(t *testing.T) {
	s := fixtures.Animals()
	cache := query.NewPlanCache(10)

	plan, ok := cache.Get(fixtures.Dog, "age > 5")
	assert.False(t, ok)
	assert.Nil(t, plan)

	first, err := cache.Compile(s, fixtures.Dog, "age > 5")
	require.NoError(t, err)
	again, err := cache.Compile(s, fixtures.Dog, "age > 5")
	require.NoError(t, err)
	assert.Same(t, first, again)

	other, err := cache.Compile(s, fixtures.Cat, "age > 5")
	require.NoError(t, err)
	assert.NotSame(t, first, other, "the type is part of the key")
	assert.Equal(t, fixtures.Cat, other.Object().Name)

	hits, misses, size := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(3), misses)
	assert.Equal(t, 2, size)

	cache.Clear()
	hits, misses, size = cache.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
	assert.Zero(t, size)
}

func TestPlanCacheDoesNotCacheErrors(t *testing.T) {
	cache := query.NewPlanCache(10)
	_, err := cache.Compile(fixtures.Animals(), fixtures.Dog, "age >")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	_, _, size := cache.Stats()
	assert.Zero(t, size)
}

func TestPlanCacheEviction(t *testing.T) {
	s := fixtures.Animals()
	cache := query.NewPlanCache(3)
	for i := 0; i < 10; i++ {
		_, err := cache.Compile(s, fixtures.Dog, fmt.Sprintf("age > %d", i))
		require.NoError(t, err)
	}
	_, _, size := cache.Stats()
	assert.Equal(t, 3, size)

	t.Run("least recently used goes first", func(t *testing.T) {
		cache := query.NewPlanCache(3)
		for _, p := range []string{"age > 1", "age > 2", "age > 3"} {
			_, err := cache.Compile(s, fixtures.Dog, p)
			require.NoError(t, err)
		}
		_, ok := cache.Get(fixtures.Dog, "age > 1")
		require.True(t, ok)

		_, err := cache.Compile(s, fixtures.Dog, "age > 4")
		require.NoError(t, err)

		_, ok = cache.Get(fixtures.Dog, "age > 1")
		assert.True(t, ok)
		_, ok = cache.Get(fixtures.Dog, "age > 2")
		assert.False(t, ok)
	})
}

func TestPlanCacheConcurrent(t *testing.T) {
	s := fixtures.Animals()
	cache := query.NewPlanCache(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := cache.Compile(s, fixtures.Dog, fmt.Sprintf("age > %d", j%5))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	hits, misses, size := cache.Stats()
	assert.Equal(t, int64(400), hits+misses)
	assert.Equal(t, 5, size)
}

func TestNilPlanCache(t *testing.T) {
	var cache *query.PlanCache
	plan, err := cache.Compile(fixtures.Animals(), fixtures.Dog, "age > 1")
	require.NoError(t, err)
	assert.NotNil(t, plan)
	hits, misses, size := cache.Stats()
	assert.Zero(t, hits+misses)
	assert.Zero(t, size)
}
