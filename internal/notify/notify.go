package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// Message 渲染好的告警，交给下游（邮件等）投递
type Message struct {
	RecipientID string    `json:"recipient_id"`
	AlertID     string    `json:"alert_id"`
	Kind        string    `json:"kind"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier fire-and-forget 投递接口，失败不回滚引擎状态
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

// LogNotifier 仅记录日志，未配置 kafka 时使用
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, msg Message) error {
	logger.Info("alert dispatched",
		zap.String("recipient", msg.RecipientID),
		zap.String("alert", msg.AlertID),
		zap.String("kind", msg.Kind),
		zap.String("text", msg.Text))
	return nil
}

func (LogNotifier) Close() error { return nil }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaNotifier 将消息写入 kafka，按收件人分区保证同一用户有序
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaNotifier{writer: w}
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.RecipientID), Value: payload})
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

// New 按配置选择实现
func New(brokers []string, topic string) Notifier {
	if len(brokers) == 0 {
		return LogNotifier{}
	}
	return NewKafkaNotifier(KafkaConfig{Brokers: brokers, Topic: topic})
}
