// Package messaging 账本领域事件的 Kafka 投递
package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
)

// sender *mq.KafkaProducer 满足该接口
type sender interface {
	SendMessage(ctx context.Context, topic, key string, value any) error
}

// KafkaPublisher 通过熔断器发送事件。Kafka 不可用时快速失败，不拖慢已提交的账本操作
type KafkaPublisher struct {
	sender  sender
	topic   string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewKafkaPublisher 连续失败 5 次后熔断 30 秒
func NewKafkaPublisher(s sender, topic string, logger *slog.Logger) *KafkaPublisher {
	log := logger.With("module", "event_publisher")
	return &KafkaPublisher{
		sender: s,
		topic:  topic,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ledger-events",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		logger: log,
	}
}

var _ domain.EventPublisher = (*KafkaPublisher)(nil)

// Publish 投递事件，分区键为账户 ID
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.sender.SendMessage(ctx, p.topic, event.Key(), event)
	})
	return err
}

// State 熔断器状态
func (p *KafkaPublisher) State() gobreaker.State {
	return p.breaker.State()
}

// NoopPublisher 未启用 Kafka 时使用
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.LedgerEvent) error { return nil }
