package ocpi

// Version OCPI协议版本
type Version string

const (
	Version22  Version = "2.2"
	Version221 Version = "2.2.1"
	Version230 Version = "2.3.0"
	Version30  Version = "3.0"

	DefaultVersion = Version221
)

// SupportedVersions 支持的协议版本列表
var SupportedVersions = []Version{Version22, Version221, Version230, Version30}

// ParseVersion 解析协议版本，兼容 "v2.2" 这种写法
func ParseVersion(s string) (Version, bool) {
	if len(s) > 1 && (s[0] == 'v' || s[0] == 'V') {
		s = s[1:]
	}
	for _, v := range SupportedVersions {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

// IsLegacy 2.x 版本的异步结果使用 "result" 字段
func (v Version) IsLegacy() bool {
	return v != Version30
}

// CarriesAckTimeout 2.3.0 起同步应答中携带 timeout
func (v Version) CarriesAckTimeout() bool {
	return v == Version230 || v == Version30
}
