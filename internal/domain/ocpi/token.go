package ocpi

import "time"

// TokenType 令牌类型
type TokenType string

const (
	TokenTypeAdHocUser TokenType = "AD_HOC_USER"
	TokenTypeAppUser   TokenType = "APP_USER"
	TokenTypeOther     TokenType = "OTHER"
	TokenTypeRFID      TokenType = "RFID"
)

// WhitelistType 白名单策略
type WhitelistType string

const (
	WhitelistAlways         WhitelistType = "ALWAYS"
	WhitelistAllowed        WhitelistType = "ALLOWED"
	WhitelistAllowedOffline WhitelistType = "ALLOWED_OFFLINE"
	WhitelistNever          WhitelistType = "NEVER"
)

// Token eMSP签发的用户令牌，由 country_code + party_id + uid 唯一确定
type Token struct {
	CountryCode CountryCode   `json:"country_code" validate:"required,ocpi_country_code"`
	PartyID     PartyID       `json:"party_id" validate:"required,ocpi_party_id"`
	UID         TokenUID      `json:"uid" validate:"required,max=36,ocpi_cistring"`
	Type        TokenType     `json:"type" validate:"required,oneof=AD_HOC_USER APP_USER OTHER RFID"`
	ContractID  string        `json:"contract_id" validate:"required,max=36"`
	VisualNum   string        `json:"visual_number,omitempty" validate:"max=64"`
	Issuer      string        `json:"issuer" validate:"required,max=64"`
	Valid       bool          `json:"valid"`
	Whitelist   WhitelistType `json:"whitelist" validate:"required"`
	Language    string        `json:"language,omitempty" validate:"omitempty,len=2"`
	LastUpdated time.Time     `json:"last_updated" validate:"required"`
}

// GetLastUpdated 用于差量同步
func (t *Token) GetLastUpdated() time.Time { return t.LastUpdated }

// Clone 拷贝
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
