package ocpi

import "fmt"

// Party 由 country_code + party_id 确定的参与方
type Party struct {
	CountryCode CountryCode `json:"country_code" validate:"required,ocpi_country_code"`
	PartyID     PartyID     `json:"party_id" validate:"required,ocpi_party_id"`
}

// ParseParty 解析参与方标识
func ParseParty(countryCode, partyID string) (Party, bool) {
	cc, ok := TryParse[CountryCode](countryCode)
	if !ok {
		return Party{}, false
	}
	pid, ok := TryParse[PartyID](partyID)
	if !ok {
		return Party{}, false
	}
	return Party{CountryCode: cc, PartyID: pid}, true
}

// Key 规范化键，如 "NL:TNM"
func (p Party) Key() string {
	return Key(p.CountryCode) + ":" + Key(p.PartyID)
}

func (p Party) String() string {
	return fmt.Sprintf("%s*%s", Key(p.CountryCode), Key(p.PartyID))
}

// ModuleID OCPI模块标识
type ModuleID string

const (
	ModuleCommands  ModuleID = "commands"
	ModuleLocations ModuleID = "locations"
	ModuleTokens    ModuleID = "tokens"
	ModuleSessions  ModuleID = "sessions"
)

// InterfaceRole 模块接口角色
type InterfaceRole string

const (
	RoleSender   InterfaceRole = "SENDER"
	RoleReceiver InterfaceRole = "RECEIVER"
)
