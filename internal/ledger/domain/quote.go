package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/srdsledger/pkg/money"
)

// FeeSchedule 手续费规则
type FeeSchedule struct {
	// 买卖手续费率
	ExchangeRate decimal.Decimal
	// 转账手续费除数，fee = round(amount / divisor, 2)
	TransferDivisor decimal.Decimal
}

// DefaultFeeSchedule 0.2% 手续费
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		ExchangeRate:    decimal.RequireFromString("0.002"),
		TransferDivisor: decimal.NewFromInt(500),
	}
}

// NewFeeSchedule 从配置构造手续费规则
func NewFeeSchedule(rate string, divisor int64) (FeeSchedule, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("invalid fee rate %q: %w", rate, err)
	}
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeSchedule{}, fmt.Errorf("fee rate out of range: %s", rate)
	}
	if divisor <= 0 {
		return FeeSchedule{}, fmt.Errorf("transfer fee divisor must be positive: %d", divisor)
	}
	return FeeSchedule{ExchangeRate: r, TransferDivisor: decimal.NewFromInt(divisor)}, nil
}

// TransferQuote 转账报价
type TransferQuote struct {
	Amount decimal.Decimal
	Fee    decimal.Decimal
	// 发送方实际扣款 = Amount + Fee
	Debit decimal.Decimal
}

// QuoteTransfer 计算转账手续费
func (f FeeSchedule) QuoteTransfer(amount decimal.Decimal) (TransferQuote, error) {
	amount = money.Amount(amount)
	if !amount.IsPositive() {
		return TransferQuote{}, ErrInvalidAmount
	}
	fee := money.Div(amount, f.TransferDivisor, money.AmountPlaces)
	return TransferQuote{
		Amount: amount,
		Fee:    fee,
		Debit:  money.Add(amount, fee),
	}, nil
}

// BuyQuote 买入报价
type BuyQuote struct {
	Fiat  decimal.Decimal
	Price decimal.Decimal
	// 国库付出的代币
	Gross decimal.Decimal
	Fee   decimal.Decimal
	// 买方到账代币 = Gross - Fee
	Net decimal.Decimal
}

// QuoteBuy 按价格 price 用 fiat 法币买入代币
func (f FeeSchedule) QuoteBuy(fiat, price decimal.Decimal) (BuyQuote, error) {
	fiat = money.Amount(fiat)
	if !fiat.IsPositive() {
		return BuyQuote{}, ErrInvalidAmount
	}
	if !price.IsPositive() {
		return BuyQuote{}, ErrPriceUnavailable
	}
	gross := money.Div(fiat, price, money.AmountPlaces)
	fee := money.Mul(gross, f.ExchangeRate)
	net := money.Sub(gross, fee)
	if !net.IsPositive() {
		return BuyQuote{}, ErrInvalidAmount
	}
	return BuyQuote{Fiat: fiat, Price: price, Gross: gross, Fee: fee, Net: net}, nil
}

// SellQuote 卖出报价
type SellQuote struct {
	Token decimal.Decimal
	Price decimal.Decimal
	Fee   decimal.Decimal
	// 回到国库的代币 = Token - Fee
	Net decimal.Decimal
	// 卖方到账法币 = round(Net * Price, 2)
	FiatOut decimal.Decimal
}

// QuoteSell 按价格 price 卖出 token 代币
func (f FeeSchedule) QuoteSell(token, price decimal.Decimal) (SellQuote, error) {
	token = money.Amount(token)
	if !token.IsPositive() {
		return SellQuote{}, ErrInvalidAmount
	}
	if !price.IsPositive() {
		return SellQuote{}, ErrPriceUnavailable
	}
	fee := money.Mul(token, f.ExchangeRate)
	net := money.Sub(token, fee)
	if !net.IsPositive() {
		return SellQuote{}, ErrInvalidAmount
	}
	return SellQuote{
		Token:   token,
		Price:   price,
		Fee:     fee,
		Net:     net,
		FiatOut: money.Mul(net, price),
	}, nil
}

// ComputePrice 价格 = 国库法币储备 / 流通量，流通量为零（或负）时为零
func ComputePrice(treasuryFiat, supply decimal.Decimal) decimal.Decimal {
	if !supply.IsPositive() {
		return decimal.Zero
	}
	return money.Div(treasuryFiat, supply, money.PricePlaces)
}
