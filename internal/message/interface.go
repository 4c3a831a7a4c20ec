package message

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/charging-platform/ocpi-node/internal/domain/events"
)

// EventProducer 定义了向消息队列发布指令生命周期事件的接口
type EventProducer interface {
	// PublishEvent 异步发布一个事件
	PublishEvent(event events.Event) error
	// Close 关闭生产者
	Close() error
}

// SaramaConsumerGroup sarama.ConsumerGroup 中消费者用到的部分，便于测试注入
type SaramaConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Close() error
}

// CommandRequest 内部服务通过Kafka下发的指令请求
type CommandRequest struct {
	CommandID   string          `json:"command_id,omitempty" validate:"omitempty,max=36,ocpi_cistring"`
	CountryCode string          `json:"country_code" validate:"required,ocpi_country_code"`
	PartyID     string          `json:"party_id" validate:"required,ocpi_party_id"`
	Version     string          `json:"version,omitempty"`
	Command     string          `json:"command" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	Timeout     int             `json:"timeout,omitempty" validate:"gte=0"`
}

// CommandHandler 处理一条指令请求
type CommandHandler func(ctx context.Context, req *CommandRequest) error
