// Package application 账本应用服务：转账、买卖、价格、流通量对账、查询与启动初始化
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/metrics"
)

// PriceOracle 价格 = 国库法币储备 / 流通量。
// 数据库价格行是权威值，Redis 只做读缓存。
type PriceOracle struct {
	tx         domain.TxManager
	accounts   domain.AccountRepository
	aggregates domain.AggregateRepository
	cache      domain.PriceCache
	metrics    *metrics.Metrics
	treasuryID uint64
	logger     *slog.Logger
}

// NewPriceOracle cache 为 nil 时不使用缓存
func NewPriceOracle(
	tx domain.TxManager,
	accounts domain.AccountRepository,
	aggregates domain.AggregateRepository,
	cache domain.PriceCache,
	m *metrics.Metrics,
	treasuryID uint64,
	logger *slog.Logger,
) *PriceOracle {
	if cache == nil {
		cache = noopPriceCache{}
	}
	return &PriceOracle{
		tx:         tx,
		accounts:   accounts,
		aggregates: aggregates,
		cache:      cache,
		metrics:    m,
		treasuryID: treasuryID,
		logger:     logger.With("module", "price_oracle"),
	}
}

// CurrentPrice 读取当前价格：缓存 → 价格行 → 行缺失时重新计算
func (o *PriceOracle) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	if v, ok, err := o.cache.Get(ctx); err != nil {
		o.logger.WarnContext(ctx, "price cache read failed", "error", err)
	} else if ok {
		return v, nil
	}

	snap, err := o.aggregates.GetPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if snap == nil {
		return o.Refresh(ctx)
	}
	o.storeCache(ctx, snap)
	return snap.Value, nil
}

// Refresh 从持久化状态重新推导价格并写回，无中间变更时重复调用结果相同
func (o *PriceOracle) Refresh(ctx context.Context) (decimal.Decimal, error) {
	var snap *domain.PriceSnapshot
	err := o.tx.Transaction(ctx, func(ctx context.Context) error {
		treasury, err := o.accounts.LockByID(ctx, o.treasuryID)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				return fmt.Errorf("treasury account %d: %w", o.treasuryID, domain.ErrCounterpartyNotFound)
			}
			return err
		}
		supply, err := o.aggregates.LockCirculatingSupply(ctx)
		if err != nil {
			return err
		}
		snap, err = o.recompute(ctx, treasury.FiatBalance, supply.Total)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	o.storeCache(ctx, snap)
	o.metrics.Price.Set(snap.Value.InexactFloat64())
	return snap.Value, nil
}

// recompute 在调用方事务内写入价格行并递增版本。
// 调用方须已按顺序锁住国库账户与流通量，价格行在这里加锁（同一事务内重复加锁无副作用）
func (o *PriceOracle) recompute(ctx context.Context, treasuryFiat, supply decimal.Decimal) (*domain.PriceSnapshot, error) {
	current, err := o.aggregates.LockPrice(ctx)
	if err != nil {
		return nil, err
	}
	next := &domain.PriceSnapshot{
		ID:      domain.SingletonID,
		Value:   domain.ComputePrice(treasuryFiat, supply),
		Version: 1,
	}
	if current != nil {
		next.Version = current.Version + 1
	}
	if err := o.aggregates.SavePrice(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// storeCache 提交后写缓存，版本不新于缓存时被丢弃，失败只记录日志
func (o *PriceOracle) storeCache(ctx context.Context, snap *domain.PriceSnapshot) {
	if err := o.cache.Set(ctx, *snap); err != nil {
		o.logger.WarnContext(ctx, "price cache write failed", "version", snap.Version, "error", err)
	}
}

type noopPriceCache struct{}

func (noopPriceCache) Get(context.Context) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (noopPriceCache) Set(context.Context, domain.PriceSnapshot) error { return nil }
