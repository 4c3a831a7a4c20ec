package ocpi

import "time"

// EVSEStatus EVSE状态
type EVSEStatus string

const (
	EVSEStatusAvailable   EVSEStatus = "AVAILABLE"
	EVSEStatusBlocked     EVSEStatus = "BLOCKED"
	EVSEStatusCharging    EVSEStatus = "CHARGING"
	EVSEStatusInoperative EVSEStatus = "INOPERATIVE"
	EVSEStatusOutOfOrder  EVSEStatus = "OUTOFORDER"
	EVSEStatusPlanned     EVSEStatus = "PLANNED"
	EVSEStatusRemoved     EVSEStatus = "REMOVED"
	EVSEStatusReserved    EVSEStatus = "RESERVED"
	EVSEStatusUnknown     EVSEStatus = "UNKNOWN"
)

// GeoLocation 经纬度，OCPI 以字符串传输
type GeoLocation struct {
	Latitude  string `json:"latitude" validate:"required,max=10"`
	Longitude string `json:"longitude" validate:"required,max=11"`
}

// Location 充电站点，独占其下的EVSE
type Location struct {
	CountryCode CountryCode `json:"country_code" validate:"required,ocpi_country_code"`
	PartyID     PartyID     `json:"party_id" validate:"required,ocpi_party_id"`
	ID          LocationID  `json:"id" validate:"required,max=36,ocpi_cistring"`
	Publish     bool        `json:"publish"`
	Name        string      `json:"name,omitempty" validate:"max=255"`
	Address     string      `json:"address" validate:"required,max=45"`
	City        string      `json:"city" validate:"required,max=45"`
	PostalCode  string      `json:"postal_code,omitempty" validate:"max=10"`
	Country     string      `json:"country" validate:"required,len=3"`
	Coordinates GeoLocation `json:"coordinates"`
	TimeZone    string      `json:"time_zone,omitempty"`
	EVSEs       []EVSE      `json:"evses,omitempty" validate:"dive"`
	LastUpdated time.Time   `json:"last_updated" validate:"required"`
}

// EVSE 充电设备，独占其下的Connector
type EVSE struct {
	UID         EVSEUID     `json:"uid" validate:"required,max=36,ocpi_cistring"`
	EVSEID      string      `json:"evse_id,omitempty" validate:"max=48"`
	Status      EVSEStatus  `json:"status" validate:"required"`
	FloorLevel  string      `json:"floor_level,omitempty" validate:"max=4"`
	Connectors  []Connector `json:"connectors" validate:"dive"`
	LastUpdated time.Time   `json:"last_updated" validate:"required"`
}

// Connector 充电枪
type Connector struct {
	ID               ConnectorID `json:"id" validate:"required,max=36,ocpi_cistring"`
	Standard         string      `json:"standard" validate:"required"`
	Format           string      `json:"format" validate:"required,oneof=SOCKET CABLE"`
	PowerType        string      `json:"power_type" validate:"required"`
	MaxVoltage       int         `json:"max_voltage" validate:"gte=0"`
	MaxAmperage      int         `json:"max_amperage" validate:"gte=0"`
	MaxElectricPower *int        `json:"max_electric_power,omitempty"`
	TariffIDs        []string    `json:"tariff_ids,omitempty"`
	LastUpdated      time.Time   `json:"last_updated" validate:"required"`
}

// GetLastUpdated 用于差量同步
func (l *Location) GetLastUpdated() time.Time { return l.LastUpdated }

// GetLastUpdated 用于差量同步
func (e *EVSE) GetLastUpdated() time.Time { return e.LastUpdated }

// GetLastUpdated 用于差量同步
func (c *Connector) GetLastUpdated() time.Time { return c.LastUpdated }

// EVSE 按uid查找EVSE，大小写不敏感
func (l *Location) EVSE(uid EVSEUID) (*EVSE, bool) {
	for i := range l.EVSEs {
		if Equal(l.EVSEs[i].UID, uid) {
			return &l.EVSEs[i], true
		}
	}
	return nil, false
}

// Connector 按id查找Connector，大小写不敏感
func (e *EVSE) Connector(id ConnectorID) (*Connector, bool) {
	for i := range e.Connectors {
		if Equal(e.Connectors[i].ID, id) {
			return &e.Connectors[i], true
		}
	}
	return nil, false
}

// Clone 深拷贝，保证读者拿到的快照不会被后续写入修改
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	out := *l
	if l.EVSEs != nil {
		out.EVSEs = make([]EVSE, len(l.EVSEs))
		for i := range l.EVSEs {
			out.EVSEs[i] = *l.EVSEs[i].Clone()
		}
	}
	return &out
}

// Clone 深拷贝
func (e *EVSE) Clone() *EVSE {
	if e == nil {
		return nil
	}
	out := *e
	if e.Connectors != nil {
		out.Connectors = make([]Connector, len(e.Connectors))
		for i := range e.Connectors {
			out.Connectors[i] = *e.Connectors[i].Clone()
		}
	}
	return &out
}

// Clone 深拷贝
func (c *Connector) Clone() *Connector {
	if c == nil {
		return nil
	}
	out := *c
	if c.MaxElectricPower != nil {
		v := *c.MaxElectricPower
		out.MaxElectricPower = &v
	}
	if c.TariffIDs != nil {
		out.TariffIDs = append([]string(nil), c.TariffIDs...)
	}
	return &out
}
