// Package persistence 账本的 GORM 持久化实现
package persistence

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/money"
)

// AccountModel 账户表
type AccountModel struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Email        *string         `gorm:"column:email;type:varchar(255);uniqueIndex"`
	TokenBalance decimal.Decimal `gorm:"column:token_balance;type:decimal(20,2);default:0;not null"`
	FiatBalance  decimal.Decimal `gorm:"column:fiat_balance;type:decimal(20,2);default:0;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (AccountModel) TableName() string { return "accounts" }

// CommissionPoolModel 手续费池（单行）
type CommissionPoolModel struct {
	ID        uint64          `gorm:"column:id;primaryKey"`
	Total     decimal.Decimal `gorm:"column:total;type:decimal(20,2);default:0;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (CommissionPoolModel) TableName() string { return "commission_pool" }

// CirculatingSupplyModel 流通量（单行）
type CirculatingSupplyModel struct {
	ID        uint64          `gorm:"column:id;primaryKey"`
	Total     decimal.Decimal `gorm:"column:total;type:decimal(20,2);default:0;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (CirculatingSupplyModel) TableName() string { return "circulating_supply" }

// PriceModel 价格缓存（单行）
type PriceModel struct {
	ID        uint64          `gorm:"column:id;primaryKey"`
	Value     decimal.Decimal `gorm:"column:value;type:decimal(20,8);default:0;not null"`
	Version   uint64          `gorm:"column:version;default:0;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (PriceModel) TableName() string { return "srds_value" }

// TransferModel 转账历史
type TransferModel struct {
	ID         uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	TransferNo string          `gorm:"column:transfer_no;type:varchar(32);uniqueIndex;not null"`
	SenderID   uint64          `gorm:"column:sender_id;index:idx_transfer_sender_created,priority:1;not null"`
	ReceiverID uint64          `gorm:"column:receiver_id;index:idx_transfer_receiver_created,priority:1;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	Fee        decimal.Decimal `gorm:"column:fee;type:decimal(20,2);not null"`
	Message    string          `gorm:"column:message;type:varchar(500)"`
	CreatedAt  time.Time       `gorm:"column:created_at;index:idx_transfer_sender_created,priority:2;index:idx_transfer_receiver_created,priority:2"`
}

func (TransferModel) TableName() string { return "transfer_history" }

// NotificationModel 收款通知
type NotificationModel struct {
	ID         uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	SenderID   uint64          `gorm:"column:sender_id;not null"`
	ReceiverID uint64          `gorm:"column:receiver_id;index;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	Message    string          `gorm:"column:message;type:varchar(255)"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (NotificationModel) TableName() string { return "notifications" }

// ExchangeModel 买卖历史
type ExchangeModel struct {
	ID         uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	ExchangeNo string          `gorm:"column:exchange_no;type:varchar(32);uniqueIndex;not null"`
	AccountID  uint64          `gorm:"column:account_id;index;not null"`
	Side       string          `gorm:"column:side;type:varchar(8);not null"`
	FiatAmount decimal.Decimal `gorm:"column:fiat_amount;type:decimal(20,2);not null"`
	GrossToken decimal.Decimal `gorm:"column:gross_token;type:decimal(20,2);not null"`
	NetToken   decimal.Decimal `gorm:"column:net_token;type:decimal(20,2);not null"`
	Fee        decimal.Decimal `gorm:"column:fee;type:decimal(20,2);not null"`
	Price      decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (ExchangeModel) TableName() string { return "exchange_history" }

// AutoMigrate 建表，仅用于开发环境与测试，生产环境由外部迁移工具负责
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&CommissionPoolModel{},
		&CirculatingSupplyModel{},
		&PriceModel{},
		&TransferModel{},
		&NotificationModel{},
		&ExchangeModel{},
	)
}

func toAccountModel(a *domain.Account) *AccountModel {
	m := &AccountModel{
		ID:           a.ID,
		TokenBalance: money.Amount(a.TokenBalance),
		FiatBalance:  money.Amount(a.FiatBalance),
	}
	if a.Email != "" {
		email := domain.NormalizeEmail(a.Email)
		m.Email = &email
	}
	return m
}

// 从库中读出的数值统一量化，部分驱动以浮点返回 DECIMAL
func toAccount(m *AccountModel) *domain.Account {
	a := &domain.Account{
		ID:           m.ID,
		TokenBalance: money.Amount(m.TokenBalance),
		FiatBalance:  money.Amount(m.FiatBalance),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Email != nil {
		a.Email = *m.Email
	}
	return a
}

func toTransfer(m *TransferModel) *domain.TransferRecord {
	return &domain.TransferRecord{
		ID:         m.ID,
		TransferNo: m.TransferNo,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Amount:     money.Amount(m.Amount),
		Fee:        money.Amount(m.Fee),
		Message:    m.Message,
		CreatedAt:  m.CreatedAt,
	}
}

func toNotification(m *NotificationModel) *domain.Notification {
	return &domain.Notification{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Amount:     money.Amount(m.Amount),
		Message:    m.Message,
		CreatedAt:  m.CreatedAt,
	}
}

func toExchange(m *ExchangeModel) *domain.ExchangeRecord {
	return &domain.ExchangeRecord{
		ID:         m.ID,
		ExchangeNo: m.ExchangeNo,
		AccountID:  m.AccountID,
		Side:       domain.ExchangeSide(m.Side),
		FiatAmount: money.Amount(m.FiatAmount),
		GrossToken: money.Amount(m.GrossToken),
		NetToken:   money.Amount(m.NetToken),
		Fee:        money.Amount(m.Fee),
		Price:      money.Price(m.Price),
		CreatedAt:  m.CreatedAt,
	}
}

func toPrice(m *PriceModel) *domain.PriceSnapshot {
	return &domain.PriceSnapshot{
		ID:        m.ID,
		Value:     money.Price(m.Value),
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
}
