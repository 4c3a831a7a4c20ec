package cache

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LRUCache 带TTL的LRU缓存
type LRUCache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // 头部为最近访问
	config  *CacheConfig
	stats   CacheStats
	now     func() time.Time
	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLRUCache 创建新的LRU缓存
func NewLRUCache[V any](config *CacheConfig) *LRUCache[V] {
	if config == nil {
		config = DefaultCacheConfig()
	}
	return &LRUCache[V]{
		items:  make(map[string]*list.Element),
		order:  list.New(),
		config: config,
		stats: CacheStats{
			MaxSize:   int64(config.MaxSize),
			CreatedAt: time.Now(),
		},
		now: time.Now,
	}
}

// Get 获取缓存项，过期项视为不存在并立即移除
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if e.expired(c.now()) {
		c.removeElement(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Set 设置缓存项，ttl为0时使用默认TTL
func (c *LRUCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.stats.Sets++
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value, e.expiresAt = value, expiresAt
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	for c.config.MaxSize > 0 && c.order.Len() > c.config.MaxSize {
		c.removeElement(c.order.Back())
		c.stats.Evictions++
	}
}

// Delete 删除缓存项
func (c *LRUCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	c.stats.Deletes++
	return true
}

// DeletePrefix 删除指定前缀的全部缓存项
func (c *LRUCache[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
			removed++
		}
	}
	c.stats.Deletes += int64(removed)
	return removed
}

// Clear 清空缓存
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Size 当前条目数，包括尚未清理的过期项
func (c *LRUCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// GetStats 获取统计快照
func (c *LRUCache[V]) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.TotalItems = int64(c.order.Len())
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// EvictExpired 清理所有过期项
func (c *LRUCache[V]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry[V]).expired(now) {
			c.removeElement(el)
			expired++
		}
		el = prev
	}
	c.stats.Expirations += int64(expired)
	c.stats.LastCleanup = now
	return expired
}

// Start 启动后台清理协程
func (c *LRUCache[V]) Start() error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return fmt.Errorf("cache is already running")
	}
	if c.config.CleanupInterval <= 0 {
		return nil
	}

	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.cleanupWorker(c.stopCh)
	return nil
}

// Stop 停止后台清理协程
func (c *LRUCache[V]) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return fmt.Errorf("cache is not running")
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.wg.Wait()
		c.stopCh = nil
	}
	return nil
}

// IsRunning 检查是否正在运行
func (c *LRUCache[V]) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *LRUCache[V]) cleanupWorker(stopCh <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.EvictExpired()
		case <-stopCh:
			return
		}
	}
}

// removeElement 调用方持有锁
func (c *LRUCache[V]) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry[V])
	delete(c.items, e.key)
}
