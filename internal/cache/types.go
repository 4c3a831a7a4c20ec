package cache

import (
	"time"
)

// CacheStats 缓存统计信息
type CacheStats struct {
	TotalItems  int64     `json:"total_items"`
	MaxSize     int64     `json:"max_size"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	Sets        int64     `json:"sets"`
	Deletes     int64     `json:"deletes"`
	Evictions   int64     `json:"evictions"`   // 容量淘汰次数
	Expirations int64     `json:"expirations"` // 过期清理次数
	CreatedAt   time.Time `json:"created_at"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	MaxSize         int           `json:"max_size"`         // 最大条目数
	DefaultTTL      time.Duration `json:"default_ttl"`      // 默认TTL，0表示不过期
	CleanupInterval time.Duration `json:"cleanup_interval"` // 后台清理间隔
}

// DefaultCacheConfig 默认缓存配置
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxSize:         1000,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Cache 缓存接口
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string) bool
	DeletePrefix(prefix string) int
	Clear()
	Size() int
	GetStats() CacheStats

	Start() error
	Stop() error
	IsRunning() bool
}
