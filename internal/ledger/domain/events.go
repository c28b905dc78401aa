package domain

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// 领域事件类型
const (
	EventTransferCompleted = "transfer.completed"
	EventBuyCompleted      = "exchange.buy.completed"
	EventSellCompleted     = "exchange.sell.completed"
)

// LedgerEvent 账本操作完成事件，提交后尽力投递。
// 买卖事件的 CounterpartyID 为国库账户。
type LedgerEvent struct {
	Type           string          `json:"type"`
	ReferenceNo    string          `json:"reference_no"`
	AccountID      uint64          `json:"account_id"`
	CounterpartyID uint64          `json:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	Price          decimal.Decimal `json:"price"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Key 分区键，同一账户的事件保持有序
func (e LedgerEvent) Key() string {
	return strconv.FormatUint(e.AccountID, 10)
}

// EventPublisher 事件发布接口
type EventPublisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
}
