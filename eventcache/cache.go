package eventcache

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zhongshixi/eventcache/treap"
)

type Config struct {

	// MaxCost the maximum cost the cache can hold, it can be any arbitrary number
	// the cost can be your estimation of the memory usage of the cached item
	// when the total cost goes above MaxCost the items closest to expiry are evicted first
	MaxCost int

	// NumShards describes the number of shards for the value lookup map, more shards means less contention in putting and getting the items
	// suggestion - use number that is a power of 2
	NumShards uint64

	// MaxSetBufferSize describes the maximum number of actions can live in the buffer at once waiting to be applied
	// if the buffer is full, Put and Touch fail instead of blocking
	MaxSetBufferSize int

	// CleanupIntervalMilli describes the interval in milliseconds between two passes that drop expired items
	CleanupIntervalMilli int

	// Logger receives debug records for evictions, nil discards them
	Logger *slog.Logger

	// Metrics receives the cache counters, nil means NoopMetrics
	Metrics Metrics
}

func DefaultConfig() Config {
	return Config{
		MaxCost:              1 << 30,   // 1GB
		NumShards:            256,       // the number of shards for the value map
		MaxSetBufferSize:     32 * 1024, // 32768, the number of actions can live in the buffer at once
		CleanupIntervalMilli: 10000,     // 10 seconds
	}
}

func (c *Config) Validate() error {
	if c.MaxCost <= 0 {
		return fmt.Errorf("MaxCost must be greater than 0")
	}

	if c.NumShards <= 0 {
		return fmt.Errorf("NumShards must be greater than 0")
	}

	if c.CleanupIntervalMilli <= 0 {
		return fmt.Errorf("CleanupIntervalMilli must be greater than 0")
	}

	if c.MaxSetBufferSize <= 0 {
		return fmt.Errorf("MaxSetBufferSize must be greater than 0")
	}

	return nil
}

// MaxTTL bounds the ttl accepted by Put and Touch, longer ones are clamped to it.
// Expiries have to stay representable as unix nanoseconds.
const MaxTTL = 100 * 365 * 24 * time.Hour

// expiryAfter returns now plus ttlMillis, clamped to MaxTTL.
func expiryAfter(now time.Time, ttlMillis int) time.Time {
	ttl := MaxTTL
	if int64(ttlMillis) < int64(MaxTTL/time.Millisecond) {
		ttl = time.Duration(ttlMillis) * time.Millisecond
	}
	return now.Add(ttl)
}

type Option[V any] func(*Cache[V])

// WithEvictHandler registers fn to be called, on the processing goroutine,
// for every item the cache drops because of capacity or expiry.
func WithEvictHandler[V any](fn func(EvictedItem[V])) Option[V] {
	return func(c *Cache[V]) { c.onEvict = fn }
}

// WithIndexOptions passes options through to the expiry index.
func WithIndexOptions[V any](opts ...treap.Option) Option[V] {
	return func(c *Cache[V]) { c.indexOpts = append(c.indexOpts, opts...) }
}

// Cache is a concurrent safe cache whose eviction order is driven by item expiry
type Cache[V any] struct {
	conf Config

	shardedMap *shardedMap[V]

	evictionPolicy *evictionPolicy[V]
	indexOpts      []treap.Option

	cleanupTicker *time.Ticker

	setBuf chan *Item[V]

	stopSig chan struct{}

	// closed is closed once Close has stopped the processing goroutine
	closed chan struct{}

	isClosed atomic.Bool

	logger  *slog.Logger
	metrics Metrics
	onEvict func(EvictedItem[V])
}

// NewCache creates a new cache with the given configuration
func NewCache[V any](conf Config, opts ...Option[V]) (*Cache[V], error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	c := &Cache[V]{
		conf:          conf,
		shardedMap:    newShardedMap[V](conf.NumShards),
		cleanupTicker: time.NewTicker(time.Duration(conf.CleanupIntervalMilli) * time.Millisecond),
		setBuf:        make(chan *Item[V], conf.MaxSetBufferSize),
		stopSig:       make(chan struct{}),
		closed:        make(chan struct{}),
		logger:        conf.Logger,
		metrics:       conf.Metrics,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}
	c.evictionPolicy = newEvictionPolicy[V](conf.MaxCost, c.indexOpts...)

	go c.processItems()

	return c, nil
}

// Put returns false if the cost is 0 or ttl is 0 or cache is closed or buffer is full(indicating contention and failed operation)
// ttls above MaxTTL are clamped to it
// it does not immediately add the item to the cache, instead it adds the item to the buffer for background processing,
// eventually the item will be added to the cache or evicted by the policy
func (c *Cache[V]) Put(key string, value V, cost int, ttlMillis int) bool {
	if c == nil || c.isClosed.Load() {
		return false
	}

	if cost <= 0 {
		return false
	}

	if ttlMillis <= 0 {
		return false
	}

	item := &Item[V]{
		Key:      keyID(key),
		Name:     key,
		Value:    value,
		Cost:     cost,
		ExpireAt: expiryAfter(time.Now(), ttlMillis),
		Action:   ActionPut,
	}

	return c.offer(item)
}

// Touch moves the expiry of an existing item to ttlMillis from now, the item keeps its value and cost
// it returns false if the ttl is 0 or cache is closed or buffer is full, touching a missing key is a no-op
func (c *Cache[V]) Touch(key string, ttlMillis int) bool {
	if c == nil || c.isClosed.Load() {
		return false
	}

	if ttlMillis <= 0 {
		return false
	}

	item := &Item[V]{
		Key:      keyID(key),
		Name:     key,
		ExpireAt: expiryAfter(time.Now(), ttlMillis),
		Action:   ActionTouch,
	}

	return c.offer(item)
}

func (c *Cache[V]) offer(item *Item[V]) bool {
	select {
	case c.setBuf <- item:
		return true
	default:
		return false
	}
}

// Get returns the value of the key if it exists in the cache immediately without blocking
// it will return the value even if the value is expired but not yet collected, the consumer decides what to do with it
func (c *Cache[V]) Get(key string) (V, bool) {
	if c == nil || c.isClosed.Load() {
		return zeroValue[V](), false
	}

	v, ok := c.shardedMap.Get(keyID(key))
	if ok {
		c.metrics.IncGetHit()
	} else {
		c.metrics.IncGetMiss()
	}
	return v, ok
}

// Delete marks the item to be removed from the cache, it does not immediately delete the item from the cache
// it can be a blocking operation if the set buffer is full, a concurrent Close releases it
func (c *Cache[V]) Delete(key string) {
	if c == nil || c.isClosed.Load() {
		return
	}

	c.enqueue(&Item[V]{
		Key:    keyID(key),
		Name:   key,
		Action: ActionRemove,
	})
}

// enqueue blocks until item is buffered, it returns false when the cache closes first
func (c *Cache[V]) enqueue(item *Item[V]) bool {
	select {
	case c.setBuf <- item:
		return true
	case <-c.closed:
		return false
	}
}

// Wait blocks until the all the items in the set buffer added before Wait() is invoked are processed
func (c *Cache[V]) Wait() {
	if c == nil || c.isClosed.Load() {
		return
	}

	item := &Item[V]{
		Action: ActionWait,
		Done:   make(chan struct{}),
	}

	if !c.enqueue(item) {
		return
	}

	select {
	case <-item.Done:
	case <-c.closed:
	}
}

// NextVictim returns the key of the item that expires first and therefore is evicted next
func (c *Cache[V]) NextVictim() (string, time.Time, bool) {
	if c == nil || c.isClosed.Load() {
		return "", time.Time{}, false
	}

	return c.evictionPolicy.Peek()
}

// processItems is a background goroutine that applies the buffered actions and drops expired items
func (c *Cache[V]) processItems() {
	for {
		select {
		case item := <-c.setBuf:
			c.apply(item)

		case <-c.cleanupTicker.C:
			c.dropEvicted(c.evictionPolicy.EvictExpiredItems(time.Now()), ReasonExpired)
			c.reportSize()

		case <-c.stopSig:
			return
		}
	}
}

func (c *Cache[V]) apply(item *Item[V]) {
	switch item.Action {
	// signal the corresponding wait group it is done, so Wait() can return
	case ActionWait:
		if item.Done != nil {
			close(item.Done)
		}
		return

	case ActionPut:
		// the evicted items could contain the item that was just put
		evictedItems, ok := c.evictionPolicy.Insert(item)
		c.dropEvicted(evictedItems, ReasonCapacity)
		if ok {
			c.shardedMap.Put(item.Key, item.Value)
			c.metrics.IncPut()
		}

	case ActionTouch:
		c.evictionPolicy.Touch(item.Key, item.ExpireAt)

	case ActionRemove:
		if _, ok := c.evictionPolicy.Remove(item.Key); ok {
			c.shardedMap.Remove(item.Key)
		}
	}

	c.reportSize()
}

func (c *Cache[V]) dropEvicted(items []*Item[V], reason EvictionReason) {
	if len(items) == 0 {
		return
	}

	for _, item := range items {
		c.shardedMap.Remove(item.Key)
		c.logger.Debug("evicted item", "key", item.Name, "reason", reason.String(), "cost", item.Cost, "expire_at", item.ExpireAt)

		if c.onEvict != nil {
			c.onEvict(EvictedItem[V]{
				Key:      item.Name,
				Value:    item.Value,
				ExpireAt: item.ExpireAt,
				Cost:     item.Cost,
				Reason:   reason,
			})
		}
	}

	if reason == ReasonExpired {
		c.metrics.AddExpired(len(items))
	} else {
		c.metrics.AddEvicted(len(items))
	}
}

func (c *Cache[V]) reportSize() {
	c.metrics.SetSize(c.evictionPolicy.Size())
	c.metrics.SetCost(c.evictionPolicy.Cost())
}

// Clear clears the cache and restarts the background processing
// during the clearance it is suggested that user should not call Put, Get, Delete, Wait operations to avoid delay in the clearance
func (c *Cache[V]) Clear() {
	if c == nil || c.isClosed.Load() {
		return
	}

	// block until the processItems goroutine is stopped, unless Close got there first
	select {
	case c.stopSig <- struct{}{}:
	case <-c.closed:
		return
	}

	c.reset()

	go c.processItems()
}

// reset drops the buffered actions and every cached item, the processing goroutine must be stopped
func (c *Cache[V]) reset() {
	// clear the rest of set buffer items
loop:
	for {
		select {
		case item := <-c.setBuf:
			if item.Done != nil {
				close(item.Done)
			}

		default:
			break loop
		}
	}

	c.evictionPolicy.Clear()
	c.shardedMap.Clear()
	c.reportSize()
}

// Close stops the background processing and drops every item, only the first call has any effect.
// Writers blocked on a full buffer and pending Wait calls return once it is done.
func (c *Cache[V]) Close() {
	if c == nil || !c.isClosed.CompareAndSwap(false, true) {
		return
	}

	// block until the processItems goroutine is returned
	c.stopSig <- struct{}{}
	close(c.closed)
	c.cleanupTicker.Stop()

	c.reset()
}

// Size returns the number of items presented in the cache
func (c *Cache[V]) Size() int {
	return c.evictionPolicy.Size()
}

// Cost returns current collected cost of the cache
func (c *Cache[V]) Cost() int {
	return c.evictionPolicy.Cost()
}
