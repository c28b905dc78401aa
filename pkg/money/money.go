// Package money 提供账本统一的定点数运算工具。
// 所有金额在每一步运算之后立即量化，舍入规则只有一条：四舍五入（远离零方向），
// 以保证链式计算在任何实现上逐位可复现。
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountPlaces 余额、手续费、交易金额的小数位数
	AmountPlaces int32 = 2
	// PricePlaces 价格（法币/代币）的小数位数
	PricePlaces int32 = 8
)

// ErrMalformed 金额字符串无法解析
var ErrMalformed = errors.New("malformed decimal amount")

// Amount 将 d 量化到金额精度
func Amount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountPlaces)
}

// Price 将 d 量化到价格精度
func Price(d decimal.Decimal) decimal.Decimal {
	return d.Round(PricePlaces)
}

// Add 金额相加并量化
func Add(a, b decimal.Decimal) decimal.Decimal {
	return Amount(a.Add(b))
}

// Sub 金额相减并量化
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return Amount(a.Sub(b))
}

// Mul 金额相乘并量化到金额精度
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return Amount(a.Mul(b))
}

// Div 精确相除并一次性舍入到 places 位，避免先按默认精度截断再舍入造成的二次舍入。
// 除数为零时返回零。
func Div(a, b decimal.Decimal, places int32) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, places)
}

// Parse 解析外部输入的金额并量化到金额精度
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrMalformed
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrMalformed
	}
	return Amount(d), nil
}

// MustParse 用于常量与测试数据
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format 以固定两位小数输出
func Format(d decimal.Decimal) string {
	return d.StringFixed(AmountPlaces)
}

// FormatPrice 以固定八位小数输出
func FormatPrice(d decimal.Decimal) string {
	return d.StringFixed(PricePlaces)
}
