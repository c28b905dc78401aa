package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
)

// QueryService 只读查询：账户、审计记录、全局统计。不加锁，可能读到略旧的数据
type QueryService struct {
	accounts   domain.AccountRepository
	aggregates domain.AggregateRepository
	audit      domain.AuditRepository
	oracle     *PriceOracle
	treasuryID uint64
}

func NewQueryService(
	accounts domain.AccountRepository,
	aggregates domain.AggregateRepository,
	audit domain.AuditRepository,
	oracle *PriceOracle,
	treasuryID uint64,
) *QueryService {
	return &QueryService{
		accounts:   accounts,
		aggregates: aggregates,
		audit:      audit,
		oracle:     oracle,
		treasuryID: treasuryID,
	}
}

// GetAccount 获取账户余额
func (q *QueryService) GetAccount(ctx context.Context, id uint64) (*AccountDTO, error) {
	acc, err := q.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AccountDTO{
		ID:           acc.ID,
		Email:        acc.Email,
		TokenBalance: acc.TokenBalance,
		FiatBalance:  acc.FiatBalance,
	}, nil
}

// ListTransfers 转账历史，按时间倒序
func (q *QueryService) ListTransfers(ctx context.Context, accountID uint64, direction domain.TransferDirection, page domain.Page) (*PageResult[*domain.TransferRecord], error) {
	page = page.Normalize()
	items, total, err := q.audit.ListTransfers(ctx, accountID, direction, page)
	if err != nil {
		return nil, err
	}
	return &PageResult[*domain.TransferRecord]{Items: items, Total: total, Page: page.Page, PageSize: page.PageSize}, nil
}

// ListNotifications 收款通知，按时间倒序
func (q *QueryService) ListNotifications(ctx context.Context, receiverID uint64, page domain.Page) (*PageResult[*domain.Notification], error) {
	page = page.Normalize()
	items, total, err := q.audit.ListNotifications(ctx, receiverID, page)
	if err != nil {
		return nil, err
	}
	return &PageResult[*domain.Notification]{Items: items, Total: total, Page: page.Page, PageSize: page.PageSize}, nil
}

// ListExchanges 买卖历史，按时间倒序
func (q *QueryService) ListExchanges(ctx context.Context, accountID uint64, page domain.Page) (*PageResult[*domain.ExchangeRecord], error) {
	page = page.Normalize()
	items, total, err := q.audit.ListExchanges(ctx, accountID, page)
	if err != nil {
		return nil, err
	}
	return &PageResult[*domain.ExchangeRecord]{Items: items, Total: total, Page: page.Page, PageSize: page.PageSize}, nil
}

// CurrentPrice 当前价格
func (q *QueryService) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	return q.oracle.CurrentPrice(ctx)
}

// Stats 全局统计：价格、流通量、手续费池、国库储备
func (q *QueryService) Stats(ctx context.Context) (*StatsDTO, error) {
	price, err := q.oracle.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	supply, err := q.aggregates.GetCirculatingSupply(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := q.aggregates.GetCommissionPool(ctx)
	if err != nil {
		return nil, err
	}
	treasury, err := q.accounts.Get(ctx, q.treasuryID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, fmt.Errorf("treasury account %d: %w", q.treasuryID, domain.ErrCounterpartyNotFound)
		}
		return nil, err
	}
	return &StatsDTO{
		Price:             price,
		CirculatingSupply: supply.Total,
		CommissionPool:    pool.Total,
		TreasuryFiat:      treasury.FiatBalance,
		TreasuryToken:     treasury.TokenBalance,
	}, nil
}
