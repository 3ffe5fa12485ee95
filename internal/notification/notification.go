// Package notification 业务事件发布：订单与资金状态变化投递到消息队列，
// 供下游通知服务（站内信、邮件、IM 机器人）消费。发布失败不阻塞主流程。
package notification

import (
	"context"
	"time"

	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/davinsptra/cryptobroker/pkg/mq"
)

// 事件主题
const (
	TopicOrderEvents   = "broker.order.events"
	TopicFundingEvents = "broker.funding.events"
)

// Event 业务事件
type Event struct {
	// 事件类型，如 order.completed / deposit.approved
	Type string `json:"type"`
	// 用户 ID
	UserID string `json:"user_id"`
	// 业务对象 ID（订单号 / 充值单号 / 提现单号）
	RefID string `json:"ref_id"`
	// 事件产生时间
	OccurredAt time.Time `json:"occurred_at"`
	// 附加字段
	Payload map[string]any `json:"payload,omitempty"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event)
}

// KafkaPublisher 基于 Kafka 的事件发布实现
type KafkaPublisher struct {
	producer *mq.Producer
}

// NewKafkaPublisher 创建 Kafka 事件发布器
func NewKafkaPublisher(producer *mq.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish 发布事件。失败只记日志：通知是尽力而为，不参与记账事务。
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := p.producer.Send(ctx, topic, event.UserID, event); err != nil {
		logger.Error(ctx, "failed to publish event",
			"topic", topic, "type", event.Type, "ref_id", event.RefID, "error", err)
	}
}

// NoopPublisher 空实现，用于测试和关闭通知的部署
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, topic string, event Event) {}
