// Package domain 代币账本的领域模型：账户、全局聚合量、审计记录与纯报价计算
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account 账户实体，持有代币（SRDS）与法币（TRY）两种余额
type Account struct {
	ID uint64
	// 可选的收款标识，统一小写
	Email string
	// 代币余额，2 位小数
	TokenBalance decimal.Decimal
	// 法币余额，2 位小数
	FiatBalance decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CanDebitToken 判断代币余额是否足够
func (a *Account) CanDebitToken(amount decimal.Decimal) bool {
	return a.TokenBalance.GreaterThanOrEqual(amount)
}

// CanDebitFiat 判断法币余额是否足够
func (a *Account) CanDebitFiat(amount decimal.Decimal) bool {
	return a.FiatBalance.GreaterThanOrEqual(amount)
}

// NormalizeEmail 收款标识规范化：去空白、转小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// 单行聚合表的固定主键
const SingletonID uint64 = 1

// CommissionPool 手续费池，单行
type CommissionPool struct {
	ID        uint64
	Total     decimal.Decimal
	UpdatedAt time.Time
}

// CirculatingSupply 流通量，单行，等于所有非国库账户代币余额之和
type CirculatingSupply struct {
	ID        uint64
	Total     decimal.Decimal
	UpdatedAt time.Time
}

// PriceSnapshot 价格缓存行，法币/代币，8 位小数。
// Version 在持有价格行锁时递增，用于丢弃乱序到达的缓存写入
type PriceSnapshot struct {
	ID        uint64
	Value     decimal.Decimal
	Version   uint64
	UpdatedAt time.Time
}
