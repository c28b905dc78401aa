package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/metrics"
	"github.com/wyfcoding/srdsledger/pkg/money"
)

// Reconciliation 流通量对账结果
type Reconciliation struct {
	// 增量维护的值
	Tracked decimal.Decimal `json:"tracked"`
	// 按账户余额全量汇总的值
	Derived    decimal.Decimal `json:"derived"`
	Drift      decimal.Decimal `json:"drift"`
	Consistent bool            `json:"consistent"`
}

// SupplyTracker 流通量的全量重算与对账
type SupplyTracker struct {
	tx         domain.TxManager
	accounts   domain.AccountRepository
	aggregates domain.AggregateRepository
	oracle     *PriceOracle
	metrics    *metrics.Metrics
	treasuryID uint64
	logger     *slog.Logger
}

func NewSupplyTracker(
	tx domain.TxManager,
	accounts domain.AccountRepository,
	aggregates domain.AggregateRepository,
	oracle *PriceOracle,
	m *metrics.Metrics,
	treasuryID uint64,
	logger *slog.Logger,
) *SupplyTracker {
	return &SupplyTracker{
		tx:         tx,
		accounts:   accounts,
		aggregates: aggregates,
		oracle:     oracle,
		metrics:    m,
		treasuryID: treasuryID,
		logger:     logger.With("module", "supply_tracker"),
	}
}

// Reconcile 比较增量值与全量汇总值，不做修改。
// 持有流通量行锁期间汇总，账本操作无法在两次读取之间提交。
func (t *SupplyTracker) Reconcile(ctx context.Context) (*Reconciliation, error) {
	var rec *Reconciliation
	err := t.tx.Transaction(ctx, func(ctx context.Context) error {
		supply, err := t.aggregates.LockCirculatingSupply(ctx)
		if err != nil {
			return err
		}
		derived, err := t.accounts.SumTokenExcluding(ctx, t.treasuryID)
		if err != nil {
			return err
		}
		rec = newReconciliation(supply.Total, derived)
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.metrics.SetDrift(rec.Drift)
	if !rec.Consistent {
		t.logger.ErrorContext(ctx, "circulating supply drift detected",
			"tracked", money.Format(rec.Tracked), "derived", money.Format(rec.Derived), "drift", money.Format(rec.Drift))
	}
	return rec, nil
}

// Recompute 用全量汇总值覆盖流通量并同步刷新价格，返回覆盖前的对账结果
func (t *SupplyTracker) Recompute(ctx context.Context) (*Reconciliation, error) {
	var (
		rec   *Reconciliation
		price *domain.PriceSnapshot
	)
	err := t.tx.Transaction(ctx, func(ctx context.Context) error {
		treasury, err := t.accounts.LockByID(ctx, t.treasuryID)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				return fmt.Errorf("treasury account %d: %w", t.treasuryID, domain.ErrCounterpartyNotFound)
			}
			return err
		}
		supply, err := t.aggregates.LockCirculatingSupply(ctx)
		if err != nil {
			return err
		}
		derived, err := t.accounts.SumTokenExcluding(ctx, t.treasuryID)
		if err != nil {
			return err
		}
		rec = newReconciliation(supply.Total, derived)

		supply.Total = derived
		if err := t.aggregates.SaveCirculatingSupply(ctx, supply); err != nil {
			return err
		}
		price, err = t.oracle.recompute(ctx, treasury.FiatBalance, derived)
		return err
	})
	if err != nil {
		return nil, err
	}

	t.oracle.storeCache(ctx, price)
	t.metrics.SetDrift(decimal.Zero)
	t.metrics.CirculatingSupply.Set(rec.Derived.InexactFloat64())
	t.metrics.Price.Set(price.Value.InexactFloat64())
	t.logger.InfoContext(ctx, "circulating supply recomputed",
		"previous", money.Format(rec.Tracked), "current", money.Format(rec.Derived), "price", money.FormatPrice(price.Value))
	return rec, nil
}

func newReconciliation(tracked, derived decimal.Decimal) *Reconciliation {
	drift := money.Sub(tracked, derived)
	return &Reconciliation{
		Tracked:    tracked,
		Derived:    derived,
		Drift:      drift,
		Consistent: drift.IsZero(),
	}
}
