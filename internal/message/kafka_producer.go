package message

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/charging-platform/ocpi-node/internal/config"
	"github.com/charging-platform/ocpi-node/internal/domain/events"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/metrics"
)

// KafkaProducer 把指令生命周期事件写入Kafka
type KafkaProducer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewKafkaProducer 创建一个新的 KafkaProducer
func NewKafkaProducer(cfg config.KafkaConfig, log *logger.Logger, m *metrics.Metrics) (*KafkaProducer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal     // 只等待本地确认
	saramaConfig.Producer.Compression = sarama.CompressionSnappy // 压缩
	saramaConfig.Producer.Flush.Frequency = cfg.Producer.FlushFrequency
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Return.Successes = cfg.Producer.ReturnSuccess
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka async producer: %w", err)
	}
	return NewKafkaProducerWithAsync(producer, cfg.EventsTopic, log, m), nil
}

// NewKafkaProducerWithAsync 使用已有的 AsyncProducer，便于测试注入
func NewKafkaProducerWithAsync(producer sarama.AsyncProducer, topic string, log *logger.Logger, m *metrics.Metrics) *KafkaProducer {
	kp := &KafkaProducer{
		producer: producer,
		topic:    topic,
		logger:   logger.OrNop(log).With("kafka-producer"),
		metrics:  m,
	}

	// 处理成功和失败的 Kafka 消息
	go kp.handleSuccesses()
	go kp.handleErrors()

	return kp
}

// PublishEvent 以指令ID为key发布，同一指令的事件落在同一分区
func (p *KafkaProducer) PublishEvent(event events.Event) error {
	eventData, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.GetCommandID()),
		Value: sarama.ByteEncoder(eventData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.GetType())},
		},
	}

	p.producer.Input() <- msg
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(string(event.GetType())).Inc()
	}
	return nil
}

// Close 关闭生产者，等待缓冲中的消息发送完毕
func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *KafkaProducer) handleSuccesses() {
	for msg := range p.producer.Successes() {
		p.logger.Debug().
			Str("topic", msg.Topic).
			Str("key", keyOf(msg)).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Kafka message sent successfully")
	}
}

func (p *KafkaProducer) handleErrors() {
	for err := range p.producer.Errors() {
		p.logger.Error().
			Err(err.Err).
			Str("topic", err.Msg.Topic).
			Str("key", keyOf(err.Msg)).
			Msg("Failed to send Kafka message")
	}
}

func keyOf(msg *sarama.ProducerMessage) string {
	if msg == nil || msg.Key == nil {
		return ""
	}
	if key, ok := msg.Key.(sarama.StringEncoder); ok {
		return string(key)
	}
	return ""
}
