// Package repository 定义流水线持久化接口（运行记录、生成事件、世界状态快照）
package repository

import (
	"context"
)

// 列表分页约束
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TxKey 上下文中携带事务句柄的键
type TxKey struct{}

// Transactor 运行收尾需要原子写入运行结果与世界状态快照
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pagination 列表分页参数，页码从 1 开始
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPagination 规整分页参数：非法页码归 1，页大小收敛到 [1, MaxPageSize]
func NewPagination(page, pageSize int) Pagination {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return Pagination{Page: page, PageSize: min(pageSize, MaxPageSize)}
}

func (p Pagination) Offset() int { return (p.Page - 1) * p.PageSize }

func (p Pagination) Limit() int { return p.PageSize }

// PagedResult 一页结果及总量
type PagedResult[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPagedResult 按总量计算页数
func NewPagedResult[T any](items []T, total int64, p Pagination) *PagedResult[T] {
	size := int64(max(p.PageSize, 1))
	return &PagedResult[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: int((total + size - 1) / size),
	}
}
