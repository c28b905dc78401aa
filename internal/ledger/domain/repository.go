package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// TxManager 工作单元边界，fn 内的仓储调用共享同一事务
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AccountRepository 账户仓储接口
type AccountRepository interface {
	// Create 开户（注册流程与国库初始化使用）
	Create(ctx context.Context, account *Account) error
	// Get 无锁读取，不存在返回 ErrAccountNotFound
	Get(ctx context.Context, id uint64) (*Account, error)
	// GetByEmail 按收款标识读取，不存在返回 ErrAccountNotFound
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// LockByID 在当前事务内加排他行锁并重新读取
	LockByID(ctx context.Context, id uint64) (*Account, error)
	// UpdateBalances 写回两种余额
	UpdateBalances(ctx context.Context, account *Account) error
	// SumTokenExcluding 全量汇总代币余额，排除 excludeID
	SumTokenExcluding(ctx context.Context, excludeID uint64) (decimal.Decimal, error)
}

// AggregateRepository 单行聚合表仓储：手续费池、流通量、价格
type AggregateRepository interface {
	// EnsureSingletons 创建缺失的单行记录，返回流通量行是否新建
	EnsureSingletons(ctx context.Context) (supplyCreated bool, err error)

	GetCommissionPool(ctx context.Context) (*CommissionPool, error)
	LockCommissionPool(ctx context.Context) (*CommissionPool, error)
	SaveCommissionPool(ctx context.Context, pool *CommissionPool) error

	GetCirculatingSupply(ctx context.Context) (*CirculatingSupply, error)
	LockCirculatingSupply(ctx context.Context) (*CirculatingSupply, error)
	SaveCirculatingSupply(ctx context.Context, supply *CirculatingSupply) error

	// GetPrice 与 LockPrice 在价格行不存在时返回 nil, nil
	GetPrice(ctx context.Context) (*PriceSnapshot, error)
	LockPrice(ctx context.Context) (*PriceSnapshot, error)
	// SavePrice 写入 value 与 version，行不存在时创建
	SavePrice(ctx context.Context, price *PriceSnapshot) error
}

// AuditRepository 审计记录仓储，只追加
type AuditRepository interface {
	SaveTransfer(ctx context.Context, record *TransferRecord) error
	SaveNotification(ctx context.Context, n *Notification) error
	SaveExchange(ctx context.Context, record *ExchangeRecord) error

	ListTransfers(ctx context.Context, accountID uint64, direction TransferDirection, page Page) ([]*TransferRecord, int64, error)
	ListNotifications(ctx context.Context, receiverID uint64, page Page) ([]*Notification, int64, error)
	ListExchanges(ctx context.Context, accountID uint64, page Page) ([]*ExchangeRecord, int64, error)
}

// PriceCache 价格读缓存。Set 只在 snapshot.Version 比缓存中的版本新时生效，
// 提交顺序与缓存写入顺序不一致时缓存仍收敛到最新提交
type PriceCache interface {
	Get(ctx context.Context) (decimal.Decimal, bool, error)
	Set(ctx context.Context, snapshot PriceSnapshot) error
}
