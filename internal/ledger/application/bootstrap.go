package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/money"
)

// BootstrapOptions 启动初始化参数
type BootstrapOptions struct {
	TreasuryID           uint64
	TreasuryInitialToken decimal.Decimal
	TreasuryInitialFiat  decimal.Decimal
	// Migrate 非空时先建表
	Migrate func(ctx context.Context) error
}

// Bootstrapper 服务启动时保证单行聚合表与国库账户存在，流通量首次创建时全量计算
type Bootstrapper struct {
	tx         domain.TxManager
	accounts   domain.AccountRepository
	aggregates domain.AggregateRepository
	supply     *SupplyTracker
	oracle     *PriceOracle
	opts       BootstrapOptions
	logger     *slog.Logger
}

func NewBootstrapper(
	tx domain.TxManager,
	accounts domain.AccountRepository,
	aggregates domain.AggregateRepository,
	supply *SupplyTracker,
	oracle *PriceOracle,
	opts BootstrapOptions,
	logger *slog.Logger,
) *Bootstrapper {
	return &Bootstrapper{
		tx:         tx,
		accounts:   accounts,
		aggregates: aggregates,
		supply:     supply,
		oracle:     oracle,
		opts:       opts,
		logger:     logger.With("module", "bootstrap"),
	}
}

// Run 可重复执行
func (b *Bootstrapper) Run(ctx context.Context) error {
	if b.opts.Migrate != nil {
		if err := b.opts.Migrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	var supplyCreated bool
	err := b.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		if supplyCreated, err = b.aggregates.EnsureSingletons(ctx); err != nil {
			return err
		}
		return b.ensureTreasury(ctx)
	})
	if err != nil {
		return fmt.Errorf("ensure ledger rows: %w", err)
	}

	if supplyCreated {
		rec, err := b.supply.Recompute(ctx)
		if err != nil {
			return fmt.Errorf("initialise circulating supply: %w", err)
		}
		b.logger.InfoContext(ctx, "circulating supply initialised", "total", money.Format(rec.Derived))
		return nil
	}

	rec, err := b.supply.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile circulating supply: %w", err)
	}
	if !rec.Consistent {
		b.logger.WarnContext(ctx, "circulating supply inconsistent at startup, run recompute to repair",
			"drift", money.Format(rec.Drift))
	}

	price, err := b.oracle.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh price: %w", err)
	}
	b.logger.InfoContext(ctx, "ledger bootstrap completed", "price", money.FormatPrice(price))
	return nil
}

func (b *Bootstrapper) ensureTreasury(ctx context.Context) error {
	_, err := b.accounts.Get(ctx, b.opts.TreasuryID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return err
	}

	treasury := &domain.Account{
		ID:           b.opts.TreasuryID,
		TokenBalance: money.Amount(b.opts.TreasuryInitialToken),
		FiatBalance:  money.Amount(b.opts.TreasuryInitialFiat),
	}
	if err := b.accounts.Create(ctx, treasury); err != nil {
		return fmt.Errorf("create treasury account: %w", err)
	}
	b.logger.InfoContext(ctx, "treasury account created",
		"account_id", treasury.ID,
		"token", money.Format(treasury.TokenBalance),
		"fiat", money.Format(treasury.FiatBalance))
	return nil
}
