package storage

import (
	"context"

	"github.com/charging-platform/ocpi-node/internal/cache"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
)

// CachedStorage 在地址存储前加一层本地缓存，未登记的结果不缓存
type CachedStorage struct {
	backend EndpointStorage
	cache   cache.Cache[string]
}

// NewCachedStorage 创建带缓存的地址存储
func NewCachedStorage(backend EndpointStorage, c cache.Cache[string]) *CachedStorage {
	return &CachedStorage{backend: backend, cache: c}
}

func cacheKey(party ocpi.Party, module ocpi.ModuleID, role ocpi.InterfaceRole) string {
	return party.Key() + "|" + field(module, role)
}

// SetEndpoints 写入后使该参与方的缓存失效
func (s *CachedStorage) SetEndpoints(ctx context.Context, party ocpi.Party, endpoints []Endpoint) error {
	defer s.cache.DeletePrefix(party.Key() + "|")
	return s.backend.SetEndpoints(ctx, party, endpoints)
}

// GetEndpoint 优先读缓存
func (s *CachedStorage) GetEndpoint(ctx context.Context, party ocpi.Party, module ocpi.ModuleID, role ocpi.InterfaceRole) (string, error) {
	key := cacheKey(party, module, role)
	if url, ok := s.cache.Get(key); ok {
		return url, nil
	}

	url, err := s.backend.GetEndpoint(ctx, party, module, role)
	if err != nil {
		return "", err
	}
	s.cache.Set(key, url, 0)
	return url, nil
}

// ListEndpoints 直接读后端
func (s *CachedStorage) ListEndpoints(ctx context.Context, party ocpi.Party) ([]Endpoint, error) {
	return s.backend.ListEndpoints(ctx, party)
}

// DeleteEndpoints 删除后使该参与方的缓存失效
func (s *CachedStorage) DeleteEndpoints(ctx context.Context, party ocpi.Party) error {
	defer s.cache.DeletePrefix(party.Key() + "|")
	return s.backend.DeleteEndpoints(ctx, party)
}

// Close 关闭后端
func (s *CachedStorage) Close() error {
	return s.backend.Close()
}
