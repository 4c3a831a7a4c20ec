package listing

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
)

// 查询参数与响应头名称
const (
	ParamDateFrom = "date_from"
	ParamDateTo   = "date_to"
	ParamOffset   = "offset"
	ParamLimit    = "limit"

	HeaderTotalCount    = "X-Total-Count"
	HeaderFilteredCount = "X-Filtered-Count"
	HeaderLimit         = "X-Limit"
	HeaderLink          = "Link"
)

// Limits 服务端的默认与最大分页大小
type Limits struct {
	Default int
	Max     int
}

// 接受带或不带时区的时间戳，不带时区按UTC处理
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// ParsePageQuery 解析listing查询参数。
// limit 缺省时取默认值，超出最大值时截断；limit=0 或负数、非法 offset 或时间戳返回 400。
func ParsePageQuery(values url.Values, limits Limits) (PageQuery, *ocpi.Fault) {
	q := PageQuery{Limit: limits.Default}

	if raw := values.Get(ParamDateFrom); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return q, ocpi.BadRequest("Invalid date_from parameter!")
		}
		q.DateFrom = &t
	}
	if raw := values.Get(ParamDateTo); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return q, ocpi.BadRequest("Invalid date_to parameter!")
		}
		q.DateTo = &t
	}

	if raw := values.Get(ParamOffset); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, ocpi.BadRequest("Invalid offset parameter!")
		}
		q.Offset = n
	}

	if raw := values.Get(ParamLimit); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, ocpi.BadRequest("Invalid limit parameter!")
		}
		q.Limit = n
	}
	if limits.Max > 0 && q.Limit > limits.Max {
		q.Limit = limits.Max
	}
	return q, nil
}

// NextLink 基于当前请求地址生成下一页链接，保留原有过滤条件
func NextLink[T any](current *url.URL, page Page[T]) string {
	if !page.HasNext || current == nil {
		return ""
	}
	next := *current
	values := next.Query()
	values.Set(ParamOffset, strconv.Itoa(page.NextOffset()))
	values.Set(ParamLimit, strconv.Itoa(page.Limit))
	next.RawQuery = values.Encode()
	next.Fragment = ""
	return next.String()
}

// RequestURL 还原客户端看到的绝对地址
func RequestURL(r *http.Request) *url.URL {
	u := *r.URL
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		u.Scheme = proto
	}
	return &u
}

// WriteHeaders 写入分页响应头，Link 仅在还有下一页时出现
func WriteHeaders[T any](h http.Header, page Page[T], link string) {
	h.Set(HeaderTotalCount, strconv.Itoa(page.TotalCount))
	h.Set(HeaderFilteredCount, strconv.Itoa(page.FilteredCount))
	h.Set(HeaderLimit, strconv.Itoa(page.Limit))
	if link != "" {
		h.Set(HeaderLink, fmt.Sprintf(`<%s>; rel="next"`, link))
	}
}
