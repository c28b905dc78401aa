package application

import (
	"github.com/shopspring/decimal"
)

// TransferCommand 转账命令，金额已由输入层校验
type TransferCommand struct {
	SenderID   uint64
	ReceiverID uint64
	Amount     decimal.Decimal
	Message    string
}

// TransferByEmailCommand 按收款标识转账
type TransferByEmailCommand struct {
	SenderID uint64
	Email    string
	Amount   decimal.Decimal
	Message  string
}

// BuyCommand 用法币买入代币
type BuyCommand struct {
	BuyerID    uint64
	FiatAmount decimal.Decimal
}

// SellCommand 卖出代币换取法币
type SellCommand struct {
	SellerID    uint64
	TokenAmount decimal.Decimal
}

// TransferResult 转账结果
type TransferResult struct {
	TransferNo string          `json:"transfer_no"`
	ReceiverID uint64          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	Price      decimal.Decimal `json:"price"`
}

// BuyResult 买入结果
type BuyResult struct {
	ExchangeNo    string          `json:"exchange_no"`
	FiatSpent     decimal.Decimal `json:"fiat_spent"`
	TokenReceived decimal.Decimal `json:"token_received"`
	Fee           decimal.Decimal `json:"fee"`
	ExecPrice     decimal.Decimal `json:"exec_price"`
	Price         decimal.Decimal `json:"price"`
}

// SellResult 卖出结果
type SellResult struct {
	ExchangeNo   string          `json:"exchange_no"`
	TokenSold    decimal.Decimal `json:"token_sold"`
	FiatReceived decimal.Decimal `json:"fiat_received"`
	Fee          decimal.Decimal `json:"fee"`
	ExecPrice    decimal.Decimal `json:"exec_price"`
	Price        decimal.Decimal `json:"price"`
}

// AccountDTO 账户视图
type AccountDTO struct {
	ID           uint64          `json:"id"`
	Email        string          `json:"email,omitempty"`
	TokenBalance decimal.Decimal `json:"token_balance"`
	FiatBalance  decimal.Decimal `json:"fiat_balance"`
}

// StatsDTO 全局统计
type StatsDTO struct {
	Price             decimal.Decimal `json:"price"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	CommissionPool    decimal.Decimal `json:"commission_pool"`
	TreasuryFiat      decimal.Decimal `json:"treasury_fiat"`
	TreasuryToken     decimal.Decimal `json:"treasury_token"`
}

// PageResult 分页结果
type PageResult[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}
