package eventcache

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxCost int, opts ...Option[string]) *Cache[string] {
	t.Helper()

	conf := DefaultConfig()
	conf.MaxCost = maxCost
	conf.NumShards = 8
	conf.CleanupIntervalMilli = 100
	cache, err := NewCache[string](conf, opts...)
	require.NoError(t, err, "Cache initialization should not fail")
	return cache
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "default config", mutate: func(*Config) {}, valid: true},
		{name: "zero max cost", mutate: func(c *Config) { c.MaxCost = 0 }},
		{name: "zero shards", mutate: func(c *Config) { c.NumShards = 0 }},
		{name: "zero cleanup interval", mutate: func(c *Config) { c.CleanupIntervalMilli = 0 }},
		{name: "zero buffer", mutate: func(c *Config) { c.MaxSetBufferSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := DefaultConfig()
			tt.mutate(&conf)

			err := conf.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)

			_, err = NewCache[string](conf)
			assert.Error(t, err, "NewCache should reject an invalid config")
		})
	}
}

func TestCache_PutAndGet(t *testing.T) {
	cache := newTestCache(t, 1000)
	defer cache.Close()

	t.Run("Put and Get valid item", func(t *testing.T) {
		success := cache.Put("key1", "value1", 10, 1000) // TTL = 1 second
		assert.True(t, success, "Put should succeed")

		// wait for the item to store in the cache
		cache.Wait()

		val, ok := cache.Get("key1")
		assert.True(t, ok, "Get should succeed for an existing key")
		assert.Equal(t, "value1", val, "Get should return the correct value")
	})

	t.Run("Put rejects invalid cost and ttl", func(t *testing.T) {
		assert.False(t, cache.Put("key2", "value2", 0, 1000))
		assert.False(t, cache.Put("key2", "value2", 10, 0))
		assert.False(t, cache.Touch("key2", 0))
	})

	t.Run("Put and Get an expired item, then after being evicted get should receive no item", func(t *testing.T) {
		success := cache.Put("key1", "value1", 10, 1) // TTL = 1 milliseconds
		assert.True(t, success, "Put should succeed")

		time.Sleep(10 * time.Millisecond)
		cache.Wait()

		// ensure the expiry pass kicks in and the item is removed
		time.Sleep(250 * time.Millisecond)

		val, ok := cache.Get("key1")
		assert.False(t, ok, "Get should failed since the item is expired")
		assert.Equal(t, "", val, "Get should return the correct empty value")
	})

	t.Run("Put and delete", func(t *testing.T) {
		require.True(t, cache.Put("key3", "value3", 10, 1000))
		cache.Wait()

		cache.Delete("key3")
		cache.Wait()

		_, ok := cache.Get("key3")
		assert.False(t, ok, "Get should fail after Delete")
	})

	t.Run("Put and clear", func(t *testing.T) {
		success := cache.Put("key1", "value1", 10, 1000)
		assert.True(t, success, "Put should succeed")

		cache.Wait()
		val, ok := cache.Get("key1")
		assert.True(t, ok, "Get should succeed for an existing key")
		assert.Equal(t, "value1", val, "Get should return the correct value")

		cache.Clear()

		val, ok = cache.Get("key1")
		assert.False(t, ok, "Get should fail after Clear")
		assert.Equal(t, "", val, "Get should return the correct empty value")
		assert.Equal(t, 0, cache.Size())
		assert.Equal(t, 0, cache.Cost())
	})

	t.Run("Put and close", func(t *testing.T) {
		success := cache.Put("key1", "value1", 10, 1000)
		assert.True(t, success, "Put should succeed")

		cache.Wait()
		val, ok := cache.Get("key1")
		assert.True(t, ok, "Get should succeed for an existing key")
		assert.Equal(t, "value1", val, "Get should return the correct value")

		cache.Close()

		val, ok = cache.Get("key1")
		assert.False(t, ok, "Get should fail on a closed cache")
		assert.Equal(t, "", val, "Get should return the correct empty value")
		assert.False(t, cache.Put("key1", "value1", 10, 1000), "Put should fail on a closed cache")
	})
}

func TestCache_TouchKeepsItemAlive(t *testing.T) {
	cache := newTestCache(t, 1000)
	defer cache.Close()

	require.True(t, cache.Put("short", "v", 10, 50))
	require.True(t, cache.Put("long", "v", 10, 5000))
	cache.Wait()

	key, _, ok := cache.NextVictim()
	require.True(t, ok)
	assert.Equal(t, "short", key)

	require.True(t, cache.Touch("short", 10000))
	require.True(t, cache.Touch("missing", 10000))
	cache.Wait()

	key, expireAt, ok := cache.NextVictim()
	require.True(t, ok)
	assert.Equal(t, "long", key)
	assert.True(t, expireAt.After(time.Now()))

	time.Sleep(250 * time.Millisecond)

	_, ok = cache.Get("short")
	assert.True(t, ok, "touched item should outlive its original ttl")
	assert.Equal(t, 2, cache.Size())
}

func TestCache_CapacityEvictsSoonestExpiry(t *testing.T) {
	var mu sync.Mutex
	var evicted []EvictedItem[string]

	cache := newTestCache(t, 20, WithEvictHandler(func(e EvictedItem[string]) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, e)
	}))
	defer cache.Close()

	require.True(t, cache.Put("a", "A", 10, 10000))
	require.True(t, cache.Put("b", "B", 10, 20000))
	require.True(t, cache.Put("c", "C", 10, 30000))
	cache.Wait()

	_, ok := cache.Get("a")
	assert.False(t, ok, "a expires first and should be the capacity victim")
	for _, key := range []string{"b", "c"} {
		_, ok := cache.Get(key)
		assert.True(t, ok, "%s should still be cached", key)
	}
	assert.Equal(t, 20, cache.Cost())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, evicted, 1)
	assert.Equal(t, "a", evicted[0].Key)
	assert.Equal(t, "A", evicted[0].Value)
	assert.Equal(t, ReasonCapacity, evicted[0].Reason)
}

func TestCache_UpdateThatEvictsItself(t *testing.T) {
	cache := newTestCache(t, 20)
	defer cache.Close()

	require.True(t, cache.Put("a", "A", 15, 20000))
	require.True(t, cache.Put("b", "B", 5, 10000))
	cache.Wait()

	// b grows past the bound while still expiring first, the stale value must not linger
	require.True(t, cache.Put("b", "B2", 6, 10000))
	cache.Wait()

	_, ok := cache.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Size())
	assert.Equal(t, 15, cache.Cost())
}

func TestCache_Metrics(t *testing.T) {
	m := NewSimpleMetrics()

	conf := DefaultConfig()
	conf.MaxCost = 10
	conf.NumShards = 4
	conf.CleanupIntervalMilli = 50
	conf.Metrics = m
	cache, err := NewCache[string](conf)
	require.NoError(t, err)
	defer cache.Close()

	require.True(t, cache.Put("a", "A", 5, 10000))
	require.True(t, cache.Put("b", "B", 5, 20000))
	require.True(t, cache.Put("c", "C", 5, 30000))
	require.True(t, cache.Put("d", "D", 1, 1))
	cache.Wait()

	cache.Get("b")
	cache.Get("a")

	time.Sleep(200 * time.Millisecond)

	// d expires first, so it is its own capacity victim and never counts as a put
	assert.Equal(t, uint64(3), m.Puts.Load())
	assert.Equal(t, uint64(1), m.GetHit.Load())
	assert.Equal(t, uint64(1), m.GetMiss.Load())
	assert.Equal(t, uint64(2), m.Evicted.Load())
	assert.Equal(t, int64(cache.Size()), m.Size.Load())
	assert.Equal(t, int64(cache.Cost()), m.Cost.Load())
}

func TestCache_ConcurrentReadersAndWriters(t *testing.T) {
	cache := newTestCache(t, 500)
	defer cache.Close()

	keys := []string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7"}
	for _, key := range keys {
		require.True(t, cache.Put(key, key, 10, 60000))
	}
	cache.Wait()

	const rounds = 2000
	var wg sync.WaitGroup
	stop := make(chan struct{})

	readers := []func(){
		func() { cache.Get(keys[0]) },
		func() { cache.NextVictim() },
		func() { cache.Size() },
		func() {
			var buf bytes.Buffer
			_, err := cache.SaveSnapshot(&buf)
			assert.NoError(t, err)
		},
	}
	for _, read := range readers {
		wg.Add(1)
		go func(read func()) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					read()
				}
			}
		}(read)
	}

	for i := 0; i < rounds; i++ {
		key := keys[i%len(keys)]
		switch i % 4 {
		case 0:
			cache.Put(key, fmt.Sprint(i), 10, 60000+i)
		case 1, 2:
			cache.Touch(key, 60000+i)
		case 3:
			cache.Delete(key)
		}
	}
	cache.Wait()
	close(stop)
	wg.Wait()

	assert.LessOrEqual(t, cache.Cost(), 500)
	assert.Equal(t, cache.Size()*10, cache.Cost())
}

func TestCache_HugeTTLIsClamped(t *testing.T) {
	cache := newTestCache(t, 100)
	defer cache.Close()

	require.True(t, cache.Put("k", "v", 1, 9_300_000_000_000))
	cache.Wait()

	key, expireAt, ok := cache.NextVictim()
	require.True(t, ok)
	assert.Equal(t, "k", key)
	assert.True(t, expireAt.After(time.Now().Add(MaxTTL-time.Hour)))

	require.True(t, cache.Touch("k", 9_300_000_000_000))
	time.Sleep(250 * time.Millisecond)

	v, ok := cache.Get("k")
	assert.True(t, ok, "an item with a huge ttl must not be collected as expired")
	assert.Equal(t, "v", v)
}

func TestCache_Close(t *testing.T) {
	t.Run("concurrent close calls all return", func(t *testing.T) {
		cache := newTestCache(t, 100)
		require.True(t, cache.Put("k", "v", 1, 60000))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cache.Close()
			}()
		}
		waitOrFail(t, wg.Wait)

		assert.Equal(t, 0, cache.Size())
		cache.Close()
	})

	t.Run("blocked writers and waiters are released", func(t *testing.T) {
		conf := DefaultConfig()
		conf.NumShards = 4
		conf.MaxSetBufferSize = 1
		cache, err := NewCache[string](conf)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				cache.Delete(fmt.Sprint(i))
			}(i)
			go func() {
				defer wg.Done()
				cache.Wait()
			}()
		}

		cache.Close()
		waitOrFail(t, wg.Wait)
	})

	t.Run("clear racing close returns", func(t *testing.T) {
		cache := newTestCache(t, 100)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				cache.Clear()
			}()
			go func() {
				defer wg.Done()
				cache.Close()
			}()
		}
		waitOrFail(t, wg.Wait)
	})
}

func waitOrFail(t *testing.T, wait func()) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the cache to shut down")
	}
}
