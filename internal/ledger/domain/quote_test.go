package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestQuoteTransfer(t *testing.T) {
	fees := DefaultFeeSchedule()

	q, err := fees.QuoteTransfer(d("500.00"))
	require.NoError(t, err)
	assert.True(t, q.Fee.Equal(d("1.00")))
	assert.True(t, q.Debit.Equal(d("501.00")))

	// 0.75 / 500 = 0.0015 → 0.00
	q, err = fees.QuoteTransfer(d("0.75"))
	require.NoError(t, err)
	assert.True(t, q.Fee.IsZero())

	// 2.50 / 500 = 0.005 → 0.01，四舍五入
	q, err = fees.QuoteTransfer(d("2.50"))
	require.NoError(t, err)
	assert.True(t, q.Fee.Equal(d("0.01")))

	// 入口量化：123.456 → 123.46
	q, err = fees.QuoteTransfer(d("123.456"))
	require.NoError(t, err)
	assert.True(t, q.Amount.Equal(d("123.46")))
}

func TestQuoteTransferRejectsNonPositive(t *testing.T) {
	fees := DefaultFeeSchedule()
	for _, s := range []string{"0", "-1", "0.004"} {
		_, err := fees.QuoteTransfer(d(s))
		assert.ErrorIs(t, err, ErrInvalidAmount, s)
	}
}

func TestQuoteBuy(t *testing.T) {
	fees := DefaultFeeSchedule()
	price := ComputePrice(d("10000.00"), d("100000.00"))
	assert.Equal(t, "0.10000000", price.StringFixed(8))

	q, err := fees.QuoteBuy(d("100.00"), price)
	require.NoError(t, err)
	assert.True(t, q.Gross.Equal(d("1000.00")))
	assert.True(t, q.Fee.Equal(d("2.00")))
	assert.True(t, q.Net.Equal(d("998.00")))
}

func TestQuoteBuyErrors(t *testing.T) {
	fees := DefaultFeeSchedule()

	_, err := fees.QuoteBuy(d("100"), decimal.Zero)
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = fees.QuoteBuy(d("0"), d("0.1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// 0.01 / 100 = 0.0001 → 0.00 代币
	_, err = fees.QuoteBuy(d("0.01"), d("100"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestQuoteSell(t *testing.T) {
	fees := DefaultFeeSchedule()

	q, err := fees.QuoteSell(d("1000.00"), d("0.10000000"))
	require.NoError(t, err)
	assert.True(t, q.Fee.Equal(d("2.00")))
	assert.True(t, q.Net.Equal(d("998.00")))
	assert.True(t, q.FiatOut.Equal(d("99.80")))

	// 0.01 * 0.002 = 0.00002 → 0.00 手续费
	q, err = fees.QuoteSell(d("0.01"), d("1"))
	require.NoError(t, err)
	assert.True(t, q.Fee.IsZero())
	assert.True(t, q.Net.Equal(d("0.01")))

	_, err = fees.QuoteSell(d("10"), decimal.Zero)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestComputePrice(t *testing.T) {
	assert.True(t, ComputePrice(d("100"), decimal.Zero).IsZero())
	assert.Equal(t, "0.33333333", ComputePrice(d("1"), d("3")).StringFixed(8))
	assert.Equal(t, "0.66666667", ComputePrice(d("2"), d("3")).StringFixed(8))
}

func TestNewFeeSchedule(t *testing.T) {
	f, err := NewFeeSchedule("0.002", 500)
	require.NoError(t, err)
	assert.True(t, f.ExchangeRate.Equal(d("0.002")))

	_, err = NewFeeSchedule("abc", 500)
	assert.Error(t, err)
	_, err = NewFeeSchedule("1.5", 500)
	assert.Error(t, err)
	_, err = NewFeeSchedule("0.002", 0)
	assert.Error(t, err)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "çok", TruncateRunes("çok güzel", 3))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestPageNormalize(t *testing.T) {
	p := Page{}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
	assert.Equal(t, 0, p.Offset())

	p = Page{Page: 3, PageSize: 1000}.Normalize()
	assert.Equal(t, MaxPageSize, p.PageSize)
	assert.Equal(t, 200, p.Offset())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ali@example.com", NormalizeEmail("  Ali@Example.COM "))
}
