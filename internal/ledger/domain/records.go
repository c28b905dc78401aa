package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxTransferMessageLen 转账附言最大长度（字符）
	MaxTransferMessageLen = 500
	// MaxNotificationMessageLen 通知消息最大长度（字符）
	MaxNotificationMessageLen = 255
)

// TransferRecord 转账审计记录，只追加
type TransferRecord struct {
	ID         uint64
	TransferNo string
	SenderID   uint64
	ReceiverID uint64
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	Message    string
	CreatedAt  time.Time
}

// Notification 面向收款方的通知，与转账记录同事务写入
type Notification struct {
	ID         uint64
	SenderID   uint64
	ReceiverID uint64
	Amount     decimal.Decimal
	Message    string
	CreatedAt  time.Time
}

// ExchangeSide 兑换方向
type ExchangeSide string

const (
	ExchangeSideBuy  ExchangeSide = "BUY"
	ExchangeSideSell ExchangeSide = "SELL"
)

// ExchangeRecord 买卖审计记录。FiatAmount 买入为支付额，卖出为到账额
type ExchangeRecord struct {
	ID         uint64
	ExchangeNo string
	AccountID  uint64
	Side       ExchangeSide
	FiatAmount decimal.Decimal
	GrossToken decimal.Decimal
	NetToken   decimal.Decimal
	Fee        decimal.Decimal
	Price      decimal.Decimal
	CreatedAt  time.Time
}

// TruncateRunes 按字符截断
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// TransferDirection 转账历史的查询方向
type TransferDirection string

const (
	DirectionSent     TransferDirection = "sent"
	DirectionReceived TransferDirection = "received"
	DirectionAll      TransferDirection = "all"
)

// ParseTransferDirection 解析方向，空串视为 all
func ParseTransferDirection(s string) (TransferDirection, bool) {
	switch TransferDirection(s) {
	case "", DirectionAll:
		return DirectionAll, true
	case DirectionSent:
		return DirectionSent, true
	case DirectionReceived:
		return DirectionReceived, true
	}
	return "", false
}

// Page 分页参数
type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize 修正非法分页参数
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset 返回偏移量
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}
