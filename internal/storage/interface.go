package storage

import (
	"context"
	"errors"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
)

// ErrEndpointNotFound 对端未登记该模块接口
var ErrEndpointNotFound = errors.New("endpoint not found")

// Endpoint 对端某个模块接口的地址
type Endpoint struct {
	Module ocpi.ModuleID      `json:"identifier" validate:"required"`
	Role   ocpi.InterfaceRole `json:"role" validate:"required,oneof=SENDER RECEIVER"`
	URL    string             `json:"url" validate:"required,ocpi_abs_url"`
}

// EndpointStorage 管理对端参与方在版本协商中登记的模块地址
type EndpointStorage interface {
	// SetEndpoints 覆盖写入一个参与方的全部模块地址
	SetEndpoints(ctx context.Context, party ocpi.Party, endpoints []Endpoint) error

	// GetEndpoint 获取指定模块和角色的地址，不存在时返回 ErrEndpointNotFound
	GetEndpoint(ctx context.Context, party ocpi.Party, module ocpi.ModuleID, role ocpi.InterfaceRole) (string, error)

	// ListEndpoints 列出一个参与方登记的全部模块地址
	ListEndpoints(ctx context.Context, party ocpi.Party) ([]Endpoint, error)

	// DeleteEndpoints 删除一个参与方的全部登记
	DeleteEndpoints(ctx context.Context, party ocpi.Party) error

	// Close 关闭与存储后端的连接
	Close() error
}
