package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
)

func TestTransferScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "alice@example.com", "1000.00", "0")
	bob := h.openAccount(t, "bob@example.com", "0", "0")
	require.Equal(t, "1000.00", h.circulating(t))

	res, err := h.ledger.Transfer(ctx, TransferCommand{
		SenderID:   alice.ID,
		ReceiverID: bob.ID,
		Amount:     dec("500.00"),
		Message:    "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, "500.00", res.Amount.StringFixed(2))
	assert.Equal(t, "1.00", res.Fee.StringFixed(2))
	assert.NotEmpty(t, res.TransferNo)

	assert.Equal(t, "499.00", tokenOf(h.account(t, alice.ID)))
	assert.Equal(t, "500.00", tokenOf(h.account(t, bob.ID)))
	assert.Equal(t, "1.00", h.pool(t))
	assert.Equal(t, "999.00", h.circulating(t))
	assert.Equal(t, "10.01001001", h.storedPrice(t))
	assert.Equal(t, "10.01001001", res.Price.StringFixed(8))
	h.requireConsistent(t)

	transfers, err := h.query.ListTransfers(ctx, alice.ID, domain.DirectionSent, domain.Page{})
	require.NoError(t, err)
	require.EqualValues(t, 1, transfers.Total)
	assert.Equal(t, "rent", transfers.Items[0].Message)
	assert.Equal(t, "1.00", transfers.Items[0].Fee.StringFixed(2))

	notes, err := h.query.ListNotifications(ctx, bob.ID, domain.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, notes.Total)

	events := h.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTransferCompleted, events[0].Type)
	assert.Equal(t, res.TransferNo, events[0].ReferenceNo)
	assert.Equal(t, alice.ID, events[0].AccountID)

	cached, ok, _ := h.cache.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, "10.01001001", cached.StringFixed(8))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OperationsTotal.WithLabelValues(opTransfer, "success")))
}

func TestTransferRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "alice@example.com", "100.00", "0")
	bob := h.openAccount(t, "", "0", "0")

	cases := []struct {
		name string
		cmd  TransferCommand
		want error
	}{
		{"self", TransferCommand{SenderID: alice.ID, ReceiverID: alice.ID, Amount: dec("1")}, domain.ErrSelfOperation},
		{"zero", TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("0")}, domain.ErrInvalidAmount},
		{"negative", TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("-5")}, domain.ErrInvalidAmount},
		{"receiver missing", TransferCommand{SenderID: alice.ID, ReceiverID: 9999, Amount: dec("1")}, domain.ErrCounterpartyNotFound},
		{"sender missing", TransferCommand{SenderID: 9999, ReceiverID: bob.ID, Amount: dec("1")}, domain.ErrAccountNotFound},
		// 100.00 + 0.20 > 100.00
		{"insufficient", TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("100.00")}, domain.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		_, err := h.ledger.Transfer(ctx, tc.cmd)
		assert.ErrorIs(t, err, tc.want, tc.name)
	}

	assert.Equal(t, "100.00", tokenOf(h.account(t, alice.ID)))
	assert.Equal(t, "0.00", tokenOf(h.account(t, bob.ID)))
	assert.Equal(t, "0.00", h.pool(t))
	assert.Equal(t, "100.00", h.circulating(t))
	h.requireConsistent(t)

	page, err := h.query.ListTransfers(ctx, alice.ID, domain.DirectionAll, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, h.publisher.all())

	// 扣款恰好等于余额时允许
	_, err = h.ledger.Transfer(ctx, TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("99.80")})
	require.NoError(t, err)
	assert.Equal(t, "0.00", tokenOf(h.account(t, alice.ID)))
	h.requireConsistent(t)
}

func TestTransferByEmail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "alice@example.com", "50.00", "0")
	bob := h.openAccount(t, "bob@example.com", "0", "0")

	res, err := h.ledger.TransferByEmail(ctx, TransferByEmailCommand{
		SenderID: alice.ID,
		Email:    "  BOB@Example.com ",
		Amount:   dec("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, bob.ID, res.ReceiverID)
	assert.Equal(t, "0.02", res.Fee.StringFixed(2))
	assert.Equal(t, "39.98", tokenOf(h.account(t, alice.ID)))

	_, err = h.ledger.TransferByEmail(ctx, TransferByEmailCommand{SenderID: alice.ID, Email: "nobody@example.com", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrCounterpartyNotFound)

	_, err = h.ledger.TransferByEmail(ctx, TransferByEmailCommand{SenderID: alice.ID, Email: "Alice@example.com", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrSelfOperation)
}

func TestTransferMessageTruncation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "0", "0")
	alice := h.openAccount(t, "", "10", "0")
	bob := h.openAccount(t, "", "0", "0")

	_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("1"), Message: strings.Repeat("ş", 700)})
	require.NoError(t, err)

	transfers, err := h.query.ListTransfers(ctx, bob.ID, domain.DirectionReceived, domain.Page{})
	require.NoError(t, err)
	assert.Len(t, []rune(transfers.Items[0].Message), domain.MaxTransferMessageLen)
	notes, err := h.query.ListNotifications(ctx, bob.ID, domain.Page{})
	require.NoError(t, err)
	assert.Len(t, []rune(notes.Items[0].Message), domain.MaxNotificationMessageLen)
}

func TestTransfersInvolvingTreasuryKeepSupplyExact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "5000.00", "1000.00")
	alice := h.openAccount(t, "", "100.00", "0")

	_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: treasuryID, ReceiverID: alice.ID, Amount: dec("500")})
	require.NoError(t, err)
	assert.Equal(t, "600.00", h.circulating(t))
	assert.Equal(t, "4499.00", tokenOf(h.account(t, treasuryID)))
	h.requireConsistent(t)

	_, err = h.ledger.Transfer(ctx, TransferCommand{SenderID: alice.ID, ReceiverID: treasuryID, Amount: dec("50")})
	require.NoError(t, err)
	assert.Equal(t, "549.90", h.circulating(t))
	assert.Equal(t, "1.10", h.pool(t))
	h.requireConsistent(t)
}

func TestBuyScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "", "100000.00", "100.00")

	price, err := h.query.CurrentPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.10000000", price.StringFixed(8))

	res, err := h.ledger.Buy(ctx, BuyCommand{BuyerID: alice.ID, FiatAmount: dec("100.00")})
	require.NoError(t, err)
	assert.Equal(t, "998.00", res.TokenReceived.StringFixed(2))
	assert.Equal(t, "2.00", res.Fee.StringFixed(2))
	assert.Equal(t, "0.10000000", res.ExecPrice.StringFixed(8))

	buyer := h.account(t, alice.ID)
	treasury := h.account(t, treasuryID)
	assert.Equal(t, "0.00", fiatOf(buyer))
	assert.Equal(t, "100998.00", tokenOf(buyer))
	assert.Equal(t, "10100.00", fiatOf(treasury))
	assert.Equal(t, "999000.00", tokenOf(treasury))
	assert.Equal(t, "2.00", h.pool(t))
	assert.Equal(t, "100998.00", h.circulating(t))
	assert.Equal(t, "0.10000198", h.storedPrice(t))
	h.requireConsistent(t)

	ex, err := h.query.ListExchanges(ctx, alice.ID, domain.Page{})
	require.NoError(t, err)
	require.EqualValues(t, 1, ex.Total)
	assert.Equal(t, domain.ExchangeSideBuy, ex.Items[0].Side)
	assert.Equal(t, "1000.00", ex.Items[0].GrossToken.StringFixed(2))

	events := h.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBuyCompleted, events[0].Type)
	assert.Equal(t, treasuryID, events[0].CounterpartyID)
}

func TestBuyRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "500.00", "10000.00")
	alice := h.openAccount(t, "", "100000.00", "100.00")

	// 价格 0.1，100 法币需要国库付出 1000 代币，国库只有 500
	_, err := h.ledger.Buy(ctx, BuyCommand{BuyerID: alice.ID, FiatAmount: dec("100.00")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.ledger.Buy(ctx, BuyCommand{BuyerID: alice.ID, FiatAmount: dec("100.01")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.ledger.Buy(ctx, BuyCommand{BuyerID: alice.ID, FiatAmount: dec("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.ledger.Buy(ctx, BuyCommand{BuyerID: treasuryID, FiatAmount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrSelfOperation)

	_, err = h.ledger.Buy(ctx, BuyCommand{BuyerID: 9999, FiatAmount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assert.Equal(t, "100.00", fiatOf(h.account(t, alice.ID)))
	assert.Equal(t, "500.00", tokenOf(h.account(t, treasuryID)))
	assert.Equal(t, "0.00", h.pool(t))
	h.requireConsistent(t)
}

func TestBuyWithoutSupplyIsPriceUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000.00", "1000.00")
	alice := h.openAccount(t, "", "0", "50.00")

	price, err := h.query.CurrentPrice(ctx)
	require.NoError(t, err)
	assert.True(t, price.IsZero())

	_, err = h.ledger.Buy(ctx, BuyCommand{BuyerID: alice.ID, FiatAmount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	_, err = h.ledger.Sell(ctx, SellCommand{SellerID: alice.ID, TokenAmount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestSellScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "", "100000.00", "100.00")

	res, err := h.ledger.Sell(ctx, SellCommand{SellerID: alice.ID, TokenAmount: dec("1000.00")})
	require.NoError(t, err)
	assert.Equal(t, "2.00", res.Fee.StringFixed(2))
	assert.Equal(t, "99.80", res.FiatReceived.StringFixed(2))

	seller := h.account(t, alice.ID)
	treasury := h.account(t, treasuryID)
	assert.Equal(t, "99000.00", tokenOf(seller))
	assert.Equal(t, "199.80", fiatOf(seller))
	assert.Equal(t, "1000998.00", tokenOf(treasury))
	assert.Equal(t, "9900.20", fiatOf(treasury))
	assert.Equal(t, "2.00", h.pool(t))
	// 全部卖出量离开流通
	assert.Equal(t, "99000.00", h.circulating(t))
	assert.Equal(t, "0.10000202", h.storedPrice(t))
	h.requireConsistent(t)

	events := h.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSellCompleted, events[0].Type)
}

func TestSellRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "50.00")
	alice := h.openAccount(t, "", "1000.00", "0")

	// 价格 0.05，卖 2000 超出余额
	_, err := h.ledger.Sell(ctx, SellCommand{SellerID: alice.ID, TokenAmount: dec("2000")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.ledger.Sell(ctx, SellCommand{SellerID: treasuryID, TokenAmount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrSelfOperation)

	_, err = h.ledger.Sell(ctx, SellCommand{SellerID: alice.ID, TokenAmount: dec("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	assert.Equal(t, "1000.00", tokenOf(h.account(t, alice.ID)))
	h.requireConsistent(t)

	// 全部卖出：fiatOut = 998.00 * 0.05 = 49.90，国库储备 50.00 足够
	res, err := h.ledger.Sell(ctx, SellCommand{SellerID: alice.ID, TokenAmount: dec("1000")})
	require.NoError(t, err)
	assert.Equal(t, "49.90", res.FiatReceived.StringFixed(2))
	assert.Equal(t, "0.00", h.circulating(t))
	assert.Equal(t, "0.00000000", h.storedPrice(t))
	h.requireConsistent(t)
}

func TestDriftedSupplyIsDetectedAndRepaired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10.00")
	alice := h.openAccount(t, "", "1000.00", "0")

	// 人为篡改流通量，价格被抬高到 0.1
	require.NoError(t, h.aggregates.SaveCirculatingSupply(ctx, &domain.CirculatingSupply{ID: domain.SingletonID, Total: dec("100.00")}))

	rec, err := h.supply.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, "-900.00", rec.Drift.StringFixed(2))
	assert.Equal(t, -900.0, testutil.ToFloat64(h.metrics.SupplyDrift))

	// 998.00 * 0.1 = 99.80 超出国库法币储备 10.00
	_, err = h.ledger.Sell(ctx, SellCommand{SellerID: alice.ID, TokenAmount: dec("1000")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, "10.00", fiatOf(h.account(t, treasuryID)))

	rec, err = h.supply.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100.00", rec.Tracked.StringFixed(2))
	assert.Equal(t, "1000.00", rec.Derived.StringFixed(2))
	assert.Equal(t, "1000.00", h.circulating(t))
	assert.Equal(t, "0.01000000", h.storedPrice(t))
	h.requireConsistent(t)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.SupplyDrift))
}

func TestConservationAcrossMixedOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "20000.00")
	users := []*domain.Account{
		h.openAccount(t, "", "5000.00", "300.00"),
		h.openAccount(t, "", "3000.00", "150.00"),
		h.openAccount(t, "", "0", "500.00"),
	}

	for i := 0; i < 12; i++ {
		from := users[i%3]
		to := users[(i+1)%3]
		_, _ = h.ledger.Transfer(ctx, TransferCommand{SenderID: from.ID, ReceiverID: to.ID, Amount: dec(fmt.Sprintf("%d.37", 10+i))})
		_, _ = h.ledger.Buy(ctx, BuyCommand{BuyerID: to.ID, FiatAmount: dec("12.34")})
		_, _ = h.ledger.Sell(ctx, SellCommand{SellerID: from.ID, TokenAmount: dec("7.77")})
		h.requireConsistent(t)
	}

	for _, u := range users {
		acc := h.account(t, u.ID)
		assert.False(t, acc.TokenBalance.IsNegative())
		assert.False(t, acc.FiatBalance.IsNegative())
	}
	treasury := h.account(t, treasuryID)
	assert.False(t, treasury.TokenBalance.IsNegative())
	assert.False(t, treasury.FiatBalance.IsNegative())

	// 代币守恒：初始总量 = 用户 + 国库 + 手续费池
	total := treasury.TokenBalance
	for _, u := range users {
		total = total.Add(h.account(t, u.ID).TokenBalance)
	}
	pool, err := h.aggregates.GetCommissionPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1008000.00", total.Add(pool.Total).StringFixed(2))

	// 法币守恒：用户 + 国库
	fiat := treasury.FiatBalance
	for _, u := range users {
		fiat = fiat.Add(h.account(t, u.ID).FiatBalance)
	}
	assert.Equal(t, "20950.00", fiat.StringFixed(2))
}

func TestConcurrentTransfersNoDoubleSpend(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")

	const n = 10
	// 每笔 10.00 + 0.02，初始余额比 n 笔所需少 0.01
	sender := h.openAccount(t, "", "100.19", "0")
	receiver := h.openAccount(t, "", "0", "0")

	var (
		wg           sync.WaitGroup
		ok, rejected atomic.Int32
		unexpected   = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: sender.ID, ReceiverID: receiver.ID, Amount: dec("10.00")})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientBalance):
				rejected.Add(1)
			default:
				unexpected <- err
			}
		}()
	}
	wg.Wait()
	close(unexpected)
	for err := range unexpected {
		t.Fatalf("unexpected error: %v", err)
	}

	assert.EqualValues(t, n-1, ok.Load())
	assert.EqualValues(t, 1, rejected.Load())
	assert.Equal(t, "10.01", tokenOf(h.account(t, sender.ID)))
	assert.Equal(t, "90.00", tokenOf(h.account(t, receiver.ID)))
	assert.Equal(t, "0.18", h.pool(t))
	h.requireConsistent(t)
}

func TestOppositeDirectionTransfersConcurrently(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	a := h.openAccount(t, "", "1000.00", "0")
	b := h.openAccount(t, "", "1000.00", "0")

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: a.ID, ReceiverID: b.ID, Amount: dec("5")})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: b.ID, ReceiverID: a.ID, Amount: dec("5")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, "999.80", tokenOf(h.account(t, a.ID)))
	assert.Equal(t, "999.80", tokenOf(h.account(t, b.ID)))
	assert.Equal(t, "0.40", h.pool(t))
	h.requireConsistent(t)
}

// conflictTx 前 failures 次直接返回锁冲突
type conflictTx struct {
	inner    domain.TxManager
	failures int32
	calls    atomic.Int32
}

func (c *conflictTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.calls.Add(1) <= c.failures {
		return fmt.Errorf("%w: deadlock found when trying to get lock", domain.ErrConcurrencyConflict)
	}
	return c.inner.Transaction(ctx, fn)
}

func TestRetryOnConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "", "100.00", "0")
	bob := h.openAccount(t, "", "0", "0")

	tx := &conflictTx{inner: h.tx, failures: 2}
	h.wire(tx, 3)

	_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("10")})
	require.NoError(t, err)
	assert.EqualValues(t, 3, tx.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.OperationRetries.WithLabelValues(opTransfer)))
	assert.Equal(t, "89.98", tokenOf(h.account(t, alice.ID)))
}

func TestRetryGivesUpWithTypedError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "", "100.00", "0")
	bob := h.openAccount(t, "", "0", "0")

	tx := &conflictTx{inner: h.tx, failures: 100}
	h.wire(tx, 2)

	_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.EqualValues(t, 2, tx.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OperationsTotal.WithLabelValues(opTransfer, "conflict")))
	assert.Equal(t, "100.00", tokenOf(h.account(t, alice.ID)))
}

func TestBusinessErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "", "1.00", "0")
	bob := h.openAccount(t, "", "0", "0")

	tx := &conflictTx{inner: h.tx}
	h.wire(tx, 5)

	_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.EqualValues(t, 1, tx.calls.Load())
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1000000.00", "10000.00")
	alice := h.openAccount(t, "", "100.00", "0")
	bob := h.openAccount(t, "", "0", "0")
	h.publisher.err = errors.New("broker unavailable")

	_, err := h.ledger.Transfer(ctx, TransferCommand{SenderID: alice.ID, ReceiverID: bob.ID, Amount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, "10.00", tokenOf(h.account(t, bob.ID)))
}
