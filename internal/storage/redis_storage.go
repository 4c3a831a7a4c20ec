package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charging-platform/ocpi-node/internal/config"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/go-redis/redis/v8"
)

// RedisStorage 使用 Redis hash 存储对端模块地址。
// key: {prefix}{CC}:{PARTY}，field: {module}:{ROLE}，value: url
type RedisStorage struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStorage 创建一个新的 RedisStorage 实例
func NewRedisStorage(cfg config.RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ocpi:endpoints:"
	}
	return &RedisStorage{Client: client, Prefix: prefix}, nil
}

func (r *RedisStorage) key(party ocpi.Party) string {
	return r.Prefix + party.Key()
}

func field(module ocpi.ModuleID, role ocpi.InterfaceRole) string {
	return strings.ToLower(string(module)) + ":" + strings.ToUpper(string(role))
}

// SetEndpoints 覆盖写入一个参与方的全部模块地址
func (r *RedisStorage) SetEndpoints(ctx context.Context, party ocpi.Party, endpoints []Endpoint) error {
	key := r.key(party)
	values := make([]interface{}, 0, 2*len(endpoints))
	for _, ep := range endpoints {
		values = append(values, field(ep.Module, ep.Role), ep.URL)
	}

	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store endpoints for %s: %w", party, err)
	}
	return nil
}

// GetEndpoint 获取指定模块和角色的地址
func (r *RedisStorage) GetEndpoint(ctx context.Context, party ocpi.Party, module ocpi.ModuleID, role ocpi.InterfaceRole) (string, error) {
	val, err := r.Client.HGet(ctx, r.key(party), field(module, role)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEndpointNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read endpoint for %s: %w", party, err)
	}
	return val, nil
}

// ListEndpoints 列出一个参与方登记的全部模块地址，按模块名排序
func (r *RedisStorage) ListEndpoints(ctx context.Context, party ocpi.Party) ([]Endpoint, error) {
	all, err := r.Client.HGetAll(ctx, r.key(party)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints for %s: %w", party, err)
	}

	endpoints := make([]Endpoint, 0, len(all))
	for f, url := range all {
		module, role, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		endpoints = append(endpoints, Endpoint{Module: ocpi.ModuleID(module), Role: ocpi.InterfaceRole(role), URL: url})
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return field(endpoints[i].Module, endpoints[i].Role) < field(endpoints[j].Module, endpoints[j].Role)
	})
	return endpoints, nil
}

// DeleteEndpoints 删除一个参与方的全部登记
func (r *RedisStorage) DeleteEndpoints(ctx context.Context, party ocpi.Party) error {
	return r.Client.Del(ctx, r.key(party)).Err()
}

// Close 关闭与存储后端的连接
func (r *RedisStorage) Close() error {
	return r.Client.Close()
}
