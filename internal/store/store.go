package store

import (
	"errors"
	"sync"
	"time"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
)

var (
	// ErrLocationNotFound 父级站点不存在
	ErrLocationNotFound = errors.New("location not found")
	// ErrEVSENotFound 父级EVSE不存在
	ErrEVSENotFound = errors.New("evse not found")
)

// Store 内存资源存储。
// 读操作返回深拷贝；写入子对象时父对象的 last_updated 不会回退。
type Store struct {
	mu        sync.RWMutex
	locations *ordered[*ocpi.Location]
	tokens    *ordered[*ocpi.Token]
	now       func() time.Time
}

// New 创建空存储
func New() *Store {
	return &Store{
		locations: newOrdered[*ocpi.Location](),
		tokens:    newOrdered[*ocpi.Token](),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func tokenKey(party ocpi.Party, uid ocpi.TokenUID) string {
	return party.Key() + ":" + ocpi.Key(uid)
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Stats 存储规模
type Stats struct {
	Locations int `json:"locations"`
	Tokens    int `json:"tokens"`
}

// GetStats 获取存储规模
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Locations: s.locations.len(), Tokens: s.tokens.len()}
}

// ListLocations 按插入顺序返回全部站点
func (s *Store) ListLocations() []*ocpi.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ocpi.Location, 0, s.locations.len())
	s.locations.each(func(l *ocpi.Location) { out = append(out, l.Clone()) })
	return out
}

// GetLocation 按id查找站点
func (s *Store) GetLocation(id ocpi.LocationID) (*ocpi.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locations.get(ocpi.Key(id))
	return l.Clone(), ok
}

// GetEVSE 在站点内查找EVSE
func (s *Store) GetEVSE(locationID ocpi.LocationID, uid ocpi.EVSEUID) (*ocpi.EVSE, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locations.get(ocpi.Key(locationID))
	if !ok {
		return nil, false
	}
	e, ok := l.EVSE(uid)
	return e.Clone(), ok
}

// GetConnector 在EVSE内查找Connector
func (s *Store) GetConnector(locationID ocpi.LocationID, uid ocpi.EVSEUID, id ocpi.ConnectorID) (*ocpi.Connector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locations.get(ocpi.Key(locationID))
	if !ok {
		return nil, false
	}
	e, ok := l.EVSE(uid)
	if !ok {
		return nil, false
	}
	c, ok := e.Connector(id)
	return c.Clone(), ok
}

// PutLocation 新增或整体替换站点，返回是否为新增
func (s *Store) PutLocation(loc *ocpi.Location) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := loc.Clone()
	key := ocpi.Key(stored.ID)
	if prev, ok := s.locations.get(key); ok {
		stored.LastUpdated = latest(stored.LastUpdated, prev.LastUpdated)
	}
	for i := range stored.EVSEs {
		stored.LastUpdated = latest(stored.LastUpdated, stored.EVSEs[i].LastUpdated)
	}
	return s.locations.put(key, stored)
}

// PutEVSE 新增或替换站点下的EVSE
func (s *Store) PutEVSE(locationID ocpi.LocationID, evse *ocpi.EVSE) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locations.get(ocpi.Key(locationID))
	if !ok {
		return false, ErrLocationNotFound
	}

	stored := evse.Clone()
	created := true
	if prev, ok := l.EVSE(stored.UID); ok {
		stored.LastUpdated = latest(stored.LastUpdated, prev.LastUpdated)
		*prev = *stored
		created = false
	} else {
		l.EVSEs = append(l.EVSEs, *stored)
	}
	l.LastUpdated = latest(l.LastUpdated, stored.LastUpdated)
	return created, nil
}

// PutConnector 新增或替换EVSE下的Connector
func (s *Store) PutConnector(locationID ocpi.LocationID, uid ocpi.EVSEUID, conn *ocpi.Connector) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locations.get(ocpi.Key(locationID))
	if !ok {
		return false, ErrLocationNotFound
	}
	e, ok := l.EVSE(uid)
	if !ok {
		return false, ErrEVSENotFound
	}

	stored := conn.Clone()
	created := true
	if prev, ok := e.Connector(stored.ID); ok {
		stored.LastUpdated = latest(stored.LastUpdated, prev.LastUpdated)
		*prev = *stored
		created = false
	} else {
		e.Connectors = append(e.Connectors, *stored)
	}
	e.LastUpdated = latest(e.LastUpdated, stored.LastUpdated)
	l.LastUpdated = latest(l.LastUpdated, e.LastUpdated)
	return created, nil
}

// RemoveLocation 删除站点及其下所有对象
func (s *Store) RemoveLocation(id ocpi.LocationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locations.remove(ocpi.Key(id))
}

// RemoveEVSE 删除EVSE，站点的 last_updated 推进到当前时间
func (s *Store) RemoveEVSE(locationID ocpi.LocationID, uid ocpi.EVSEUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locations.get(ocpi.Key(locationID))
	if !ok {
		return false
	}
	for i := range l.EVSEs {
		if ocpi.Equal(l.EVSEs[i].UID, uid) {
			l.EVSEs = append(l.EVSEs[:i], l.EVSEs[i+1:]...)
			l.LastUpdated = latest(l.LastUpdated, s.now())
			return true
		}
	}
	return false
}

// RemoveConnector 删除Connector，父级 last_updated 推进到当前时间
func (s *Store) RemoveConnector(locationID ocpi.LocationID, uid ocpi.EVSEUID, id ocpi.ConnectorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locations.get(ocpi.Key(locationID))
	if !ok {
		return false
	}
	e, ok := l.EVSE(uid)
	if !ok {
		return false
	}
	for i := range e.Connectors {
		if ocpi.Equal(e.Connectors[i].ID, id) {
			e.Connectors = append(e.Connectors[:i], e.Connectors[i+1:]...)
			now := s.now()
			e.LastUpdated = latest(e.LastUpdated, now)
			l.LastUpdated = latest(l.LastUpdated, now)
			return true
		}
	}
	return false
}

// ListTokens 按插入顺序返回全部令牌
func (s *Store) ListTokens() []*ocpi.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ocpi.Token, 0, s.tokens.len())
	s.tokens.each(func(t *ocpi.Token) { out = append(out, t.Clone()) })
	return out
}

// GetToken 按 country_code + party_id + uid 查找令牌
func (s *Store) GetToken(party ocpi.Party, uid ocpi.TokenUID) (*ocpi.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens.get(tokenKey(party, uid))
	return t.Clone(), ok
}

// PutToken 新增或替换令牌
func (s *Store) PutToken(token *ocpi.Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := token.Clone()
	key := tokenKey(ocpi.Party{CountryCode: stored.CountryCode, PartyID: stored.PartyID}, stored.UID)
	if prev, ok := s.tokens.get(key); ok {
		stored.LastUpdated = latest(stored.LastUpdated, prev.LastUpdated)
	}
	return s.tokens.put(key, stored)
}

// RemoveToken 删除令牌
func (s *Store) RemoveToken(party ocpi.Party, uid ocpi.TokenUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.remove(tokenKey(party, uid))
}
