package listing

import (
	"errors"
	"time"
)

// ErrInvalidLimit limit必须为正数
var ErrInvalidLimit = errors.New("limit must be greater than zero")

// Timestamped 可参与差量同步的对象
type Timestamped interface {
	GetLastUpdated() time.Time
}

// PageQuery 分页与时间过滤参数
type PageQuery struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Offset   int
	Limit    int
}

// Includes 下界不含、上界包含：dateFrom < last_updated <= dateTo
func (q PageQuery) Includes(lastUpdated time.Time) bool {
	if q.DateFrom != nil && !lastUpdated.After(*q.DateFrom) {
		return false
	}
	if q.DateTo != nil && lastUpdated.After(*q.DateTo) {
		return false
	}
	return true
}

// Page 一页结果
type Page[T any] struct {
	Items         []T
	TotalCount    int
	FilteredCount int
	Offset        int
	Limit         int
	HasNext       bool
}

// NextOffset 下一页的起始位置
func (p Page[T]) NextOffset() int {
	return p.Offset + p.Limit
}

// Query 对稳定有序的集合做过滤和分页，不改变元素顺序
func Query[T Timestamped](items []T, q PageQuery) (Page[T], error) {
	if q.Limit <= 0 {
		return Page[T]{}, ErrInvalidLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	filtered := make([]T, 0, len(items))
	for _, item := range items {
		if q.Includes(item.GetLastUpdated()) {
			filtered = append(filtered, item)
		}
	}

	page := Page[T]{
		Items:         []T{},
		TotalCount:    len(items),
		FilteredCount: len(filtered),
		Offset:        q.Offset,
		Limit:         q.Limit,
	}
	if q.Offset >= len(filtered) {
		return page, nil
	}

	end := q.Offset + q.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page.Items = filtered[q.Offset:end]
	page.HasNext = q.Offset+q.Limit < len(filtered)
	return page, nil
}
