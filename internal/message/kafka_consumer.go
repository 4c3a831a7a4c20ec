package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/charging-platform/ocpi-node/internal/config"
	"github.com/charging-platform/ocpi-node/internal/domain/validation"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/metrics"
)

// DefaultMaxMessageBytes 单条指令请求的默认大小上限
const DefaultMaxMessageBytes = 1 << 20

// KafkaConsumer 从Kafka读取内部服务的指令请求
type KafkaConsumer struct {
	consumerGroup   SaramaConsumerGroup
	topic           string
	handler         CommandHandler
	validator       *validation.Validator
	maxMessageBytes int
	logger          *logger.Logger
	metrics         *metrics.Metrics
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewKafkaConsumer 创建消费者组
func NewKafkaConsumer(cfg config.KafkaConfig, log *logger.Logger, m *metrics.Metrics) (*KafkaConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = cfg.Consumer.ReturnErrors
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.Consumer.OffsetsInitial == "oldest" {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	saramaConfig.Consumer.Group.Session.Timeout = 10 * time.Second
	saramaConfig.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama consumer group: %w", err)
	}

	c := NewKafkaConsumerWithGroup(consumerGroup, cfg.CommandsTopic, log, m)
	if cfg.Consumer.MaxMessageBytes > 0 {
		c.maxMessageBytes = cfg.Consumer.MaxMessageBytes
	}
	if cfg.Consumer.ReturnErrors {
		go func() {
			for err := range consumerGroup.Errors() {
				c.logger.Error().Err(err).Msg("Sarama consumer group error")
			}
		}()
	}
	return c, nil
}

// NewKafkaConsumerWithGroup 注入消费者组，便于测试
func NewKafkaConsumerWithGroup(group SaramaConsumerGroup, topic string, log *logger.Logger, m *metrics.Metrics) *KafkaConsumer {
	return &KafkaConsumer{
		consumerGroup:   group,
		topic:           topic,
		validator:       validation.NewValidator(),
		maxMessageBytes: DefaultMaxMessageBytes,
		logger:          logger.OrNop(log).With("kafka-consumer"),
		metrics:         m,
	}
}

// Start 启动消费循环，直到 Close 被调用
func (c *KafkaConsumer) Start(handler CommandHandler) error {
	if handler == nil {
		return fmt.Errorf("command handler cannot be nil")
	}
	c.handler = handler

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			// Consume 在 rebalance 时返回，需要循环调用
			if err := c.consumerGroup.Consume(ctx, []string{c.topic}, c); err != nil {
				c.logger.Error().Err(err).Msg("Error from Kafka consumer group")
			}
			if ctx.Err() != nil {
				c.logger.Info().Msg("Kafka consumer context cancelled, stopping consumption")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
	return nil
}

// Close 停止消费并关闭消费者组
func (c *KafkaConsumer) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	if c.consumerGroup != nil {
		return c.consumerGroup.Close()
	}
	return nil
}

// Setup sarama.ConsumerGroupHandler
func (c *KafkaConsumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info().Msg("Kafka consumer group setup completed")
	return nil
}

// Cleanup sarama.ConsumerGroupHandler
func (c *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.logger.Info().Msg("Kafka consumer group cleanup completed")
	return nil
}

// ConsumeClaim 逐条处理指令请求。无法解析或校验失败的消息也会被标记，避免反复消费。
func (c *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.handleMessage(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	if err := c.validator.ValidateMessageSize(message.Value, c.maxMessageBytes); err != nil {
		c.logger.Warn().
			Err(err).
			Int32("partition", message.Partition).
			Int64("offset", message.Offset).
			Msg("Dropping oversized command request")
		return
	}
	var req CommandRequest
	if err := json.Unmarshal(message.Value, &req); err != nil {
		c.logger.Error().
			Err(err).
			Int32("partition", message.Partition).
			Int64("offset", message.Offset).
			Msg("Failed to unmarshal command request")
		return
	}
	if err := c.validator.ValidateStruct(&req); err != nil {
		c.logger.Warn().
			Err(err).
			Str("command", req.Command).
			Int64("offset", message.Offset).
			Msg("Dropping invalid command request")
		return
	}
	if c.metrics != nil {
		c.metrics.CommandsConsumed.WithLabelValues(req.Command).Inc()
	}

	if err := c.handler(ctx, &req); err != nil {
		c.logger.Error().
			Err(err).
			Str("command", req.Command).
			Str("target", req.CountryCode+"*"+req.PartyID).
			Msg("Failed to handle command request")
		return
	}
	c.logger.Debug().
		Str("topic", message.Topic).
		Int32("partition", message.Partition).
		Int64("offset", message.Offset).
		Str("command", req.Command).
		Msg("Command request consumed")
}

// NewKafkaConsumerForTest 仅为测试目的创建消费者实例，不连接消费者组
func NewKafkaConsumerForTest(handler CommandHandler, log *logger.Logger, m *metrics.Metrics) *KafkaConsumer {
	c := NewKafkaConsumerWithGroup(nil, "", log, m)
	c.handler = handler
	return c
}
