package ocpi

import (
	"regexp"
	"strings"
)

// Grammar 标识符的词法规则
type Grammar struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// Match 检查字符串是否满足词法规则
func (g Grammar) Match(s string) bool {
	if s == "" || len(s) > g.MaxLen {
		return false
	}
	return g.Pattern.MatchString(s)
}

var (
	// CiString: 可打印ASCII，不含空白和控制字符
	ciStringPattern    = regexp.MustCompile(`^[\x21-\x7E]+$`)
	countryCodePattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
	partyIDPattern     = regexp.MustCompile(`^[A-Za-z0-9]{3}$`)

	ciString36 = Grammar{MaxLen: 36, Pattern: ciStringPattern}
	ciString64 = Grammar{MaxLen: 64, Pattern: ciStringPattern}
)

// Identifier 所有OCPI标识符类型的约束
type Identifier interface {
	~string
	Grammar() Grammar
}

type (
	LocationID    string
	EVSEUID       string
	ConnectorID   string
	TokenUID      string
	CountryCode   string
	PartyID       string
	CommandID     string
	RequestID     string
	CorrelationID string
	SessionID     string
	ReservationID string
)

func (LocationID) Grammar() Grammar    { return ciString36 }
func (EVSEUID) Grammar() Grammar       { return ciString36 }
func (ConnectorID) Grammar() Grammar   { return ciString36 }
func (TokenUID) Grammar() Grammar      { return ciString36 }
func (SessionID) Grammar() Grammar     { return ciString36 }
func (ReservationID) Grammar() Grammar { return ciString36 }
func (CommandID) Grammar() Grammar     { return ciString64 }
func (RequestID) Grammar() Grammar     { return ciString64 }
func (CorrelationID) Grammar() Grammar { return ciString64 }

func (CountryCode) Grammar() Grammar { return Grammar{MaxLen: 2, Pattern: countryCodePattern} }
func (PartyID) Grammar() Grammar     { return Grammar{MaxLen: 3, Pattern: partyIDPattern} }

// TryParse 按类型自身的词法规则解析标识符
func TryParse[T Identifier](s string) (T, bool) {
	var zero T
	if !zero.Grammar().Match(s) {
		return zero, false
	}
	return T(s), true
}

// Equal 大小写不敏感的相等比较
func Equal[T Identifier](a, b T) bool {
	return strings.EqualFold(string(a), string(b))
}

// Compare 大小写不敏感的排序比较，返回 -1/0/1
func Compare[T Identifier](a, b T) int {
	return strings.Compare(Key(a), Key(b))
}

// Key 返回用于map索引的规范化键
func Key[T Identifier](id T) string {
	return strings.ToUpper(string(id))
}

// IsEmpty 标识符是否为空
func IsEmpty[T Identifier](id T) bool {
	return id == ""
}
