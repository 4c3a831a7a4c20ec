package resolver

import (
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
)

// Level 标识链的层级
type Level int

const (
	LevelLocation Level = iota + 1
	LevelEVSE
	LevelConnector
)

// 各层级的错误描述
const (
	InvalidLocation  = "Invalid location identification!"
	UnknownLocation  = "Unknown location identification!"
	InvalidEVSE      = "Invalid EVSE identification!"
	UnknownEVSE      = "Unknown EVSE identification!"
	InvalidConnector = "Invalid connector identification!"
	UnknownConnector = "Unknown connector identification!"

	InvalidCountryCode = "Invalid country code identification!"
	InvalidParty       = "Invalid party identification!"
	InvalidToken       = "Invalid token identification!"
	UnknownToken       = "Unknown token identification!"
)

// LocationSource 站点树的只读查询
type LocationSource interface {
	GetLocation(id ocpi.LocationID) (*ocpi.Location, bool)
	GetEVSE(locationID ocpi.LocationID, uid ocpi.EVSEUID) (*ocpi.EVSE, bool)
	GetConnector(locationID ocpi.LocationID, uid ocpi.EVSEUID, id ocpi.ConnectorID) (*ocpi.Connector, bool)
}

// TokenSource 令牌的只读查询
type TokenSource interface {
	GetToken(party ocpi.Party, uid ocpi.TokenUID) (*ocpi.Token, bool)
}

// Resolution 站点链的解析结果，未解析到的层级为零值
type Resolution struct {
	LocationID  ocpi.LocationID
	EVSEUID     ocpi.EVSEUID
	ConnectorID ocpi.ConnectorID

	Location  *ocpi.Location
	EVSE      *ocpi.EVSE
	Connector *ocpi.Connector
}

// TokenResolution 令牌的解析结果
type TokenResolution struct {
	Party ocpi.Party
	UID   ocpi.TokenUID
	Token *ocpi.Token
}

// Resolver 把路径段解析为资源或结构化错误。无副作用。
type Resolver struct {
	locations LocationSource
	tokens    TokenSource
}

// New 创建解析器
func New(locations LocationSource, tokens TokenSource) *Resolver {
	return &Resolver{locations: locations, tokens: tokens}
}

// ResolveLocation 解析 {location_id}
func (r *Resolver) ResolveLocation(segments ...string) (Resolution, *ocpi.Fault) {
	return r.resolve(LevelLocation, LevelLocation, segments)
}

// ResolveEVSE 解析 {location_id}/{evse_uid}
func (r *Resolver) ResolveEVSE(segments ...string) (Resolution, *ocpi.Fault) {
	return r.resolve(LevelEVSE, LevelEVSE, segments)
}

// ResolveConnector 解析 {location_id}/{evse_uid}/{connector_id}
func (r *Resolver) ResolveConnector(segments ...string) (Resolution, *ocpi.Fault) {
	return r.resolve(LevelConnector, LevelConnector, segments)
}

// ResolveForWrite 用于PUT：父级必须存在，目标层级只做词法校验
func (r *Resolver) ResolveForWrite(level Level, segments ...string) (Resolution, *ocpi.Fault) {
	return r.resolve(level, level-1, segments)
}

// resolve 逐层先解析再查找，任一层失败立即返回
func (r *Resolver) resolve(depth, lookupDepth Level, segments []string) (Resolution, *ocpi.Fault) {
	var res Resolution
	if len(segments) != int(depth) {
		return res, ocpi.BadRequest("")
	}

	id, ok := ocpi.TryParse[ocpi.LocationID](segments[0])
	if !ok {
		return res, ocpi.BadRequest(InvalidLocation)
	}
	res.LocationID = id
	if lookupDepth >= LevelLocation {
		if res.Location, ok = r.locations.GetLocation(id); !ok {
			return res, ocpi.NotFound(ocpi.StatusUnknownLocation, UnknownLocation)
		}
	}
	if depth == LevelLocation {
		return res, nil
	}

	uid, ok := ocpi.TryParse[ocpi.EVSEUID](segments[1])
	if !ok {
		return res, ocpi.BadRequest(InvalidEVSE)
	}
	res.EVSEUID = uid
	if lookupDepth >= LevelEVSE {
		if res.EVSE, ok = r.locations.GetEVSE(id, uid); !ok {
			return res, ocpi.NotFound(ocpi.StatusUnknownLocation, UnknownEVSE)
		}
	}
	if depth == LevelEVSE {
		return res, nil
	}

	cid, ok := ocpi.TryParse[ocpi.ConnectorID](segments[2])
	if !ok {
		return res, ocpi.BadRequest(InvalidConnector)
	}
	res.ConnectorID = cid
	if lookupDepth >= LevelConnector {
		if res.Connector, ok = r.locations.GetConnector(id, uid, cid); !ok {
			return res, ocpi.NotFound(ocpi.StatusUnknownLocation, UnknownConnector)
		}
	}
	return res, nil
}

// ResolveToken 解析 {country_code}/{party_id}/{token_uid}
func (r *Resolver) ResolveToken(segments ...string) (TokenResolution, *ocpi.Fault) {
	return r.resolveToken(true, segments)
}

// ResolveTokenForWrite 只做词法校验
func (r *Resolver) ResolveTokenForWrite(segments ...string) (TokenResolution, *ocpi.Fault) {
	return r.resolveToken(false, segments)
}

func (r *Resolver) resolveToken(lookup bool, segments []string) (TokenResolution, *ocpi.Fault) {
	var res TokenResolution
	if len(segments) != 3 {
		return res, ocpi.BadRequest("")
	}

	cc, ok := ocpi.TryParse[ocpi.CountryCode](segments[0])
	if !ok {
		return res, ocpi.BadRequest(InvalidCountryCode)
	}
	pid, ok := ocpi.TryParse[ocpi.PartyID](segments[1])
	if !ok {
		return res, ocpi.BadRequest(InvalidParty)
	}
	uid, ok := ocpi.TryParse[ocpi.TokenUID](segments[2])
	if !ok {
		return res, ocpi.BadRequest(InvalidToken)
	}
	res.Party = ocpi.Party{CountryCode: cc, PartyID: pid}
	res.UID = uid

	if lookup {
		if res.Token, ok = r.tokens.GetToken(res.Party, uid); !ok {
			return res, ocpi.NotFound(ocpi.StatusUnknownToken, UnknownToken)
		}
	}
	return res, nil
}
