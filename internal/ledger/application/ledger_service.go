package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/idgen"
	"github.com/wyfcoding/srdsledger/pkg/metrics"
	"github.com/wyfcoding/srdsledger/pkg/money"
)

// 操作名，用作指标标签
const (
	opTransfer = "transfer"
	opBuy      = "buy"
	opSell     = "sell"
)

// LedgerOptions 账本引擎参数
type LedgerOptions struct {
	TreasuryID uint64
	Fees       domain.FeeSchedule
	// 锁冲突时整个工作单元的最大尝试次数
	MaxAttempts int
	// 单次操作超时，含锁等待与重试
	Timeout time.Duration
}

// LedgerService 账本引擎，账户余额、手续费池与流通量的唯一写入方。
//
// 每个操作是一个工作单元：按规范顺序加锁（非国库账户按 ID 升序 → 国库账户 → 手续费池
// → 流通量 → 价格行），锁内重新读取、校验、修改、追加审计记录并在同一事务内刷新价格。
// 任一步失败整体回滚。
type LedgerService struct {
	tx         domain.TxManager
	accounts   domain.AccountRepository
	aggregates domain.AggregateRepository
	audit      domain.AuditRepository
	oracle     *PriceOracle
	publisher  domain.EventPublisher
	metrics    *metrics.Metrics
	opts       LedgerOptions
	logger     *slog.Logger
}

func NewLedgerService(
	tx domain.TxManager,
	accounts domain.AccountRepository,
	aggregates domain.AggregateRepository,
	audit domain.AuditRepository,
	oracle *PriceOracle,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	opts LedgerOptions,
	logger *slog.Logger,
) *LedgerService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &LedgerService{
		tx:         tx,
		accounts:   accounts,
		aggregates: aggregates,
		audit:      audit,
		oracle:     oracle,
		publisher:  publisher,
		metrics:    m,
		opts:       opts,
		logger:     logger.With("module", "ledger_engine"),
	}
}

// Transfer 转账：发送方扣 amount+fee，接收方得 amount，手续费进池，流通量减少 fee
func (s *LedgerService) Transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, cmd)
	s.finish(ctx, opTransfer, start, err, "sender_id", cmd.SenderID, "receiver_id", cmd.ReceiverID, "amount", cmd.Amount.String())
	return res, err
}

// TransferByEmail 按收款标识解析接收方后转账
func (s *LedgerService) TransferByEmail(ctx context.Context, cmd TransferByEmailCommand) (*TransferResult, error) {
	start := time.Now()
	email := domain.NormalizeEmail(cmd.Email)

	receiver, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrAccountNotFound) {
		err = fmt.Errorf("receiver %q: %w", email, domain.ErrCounterpartyNotFound)
	}
	if err != nil {
		s.finish(ctx, opTransfer, start, err, "sender_id", cmd.SenderID, "receiver_email", email)
		return nil, err
	}
	return s.Transfer(ctx, TransferCommand{
		SenderID:   cmd.SenderID,
		ReceiverID: receiver.ID,
		Amount:     cmd.Amount,
		Message:    cmd.Message,
	})
}

func (s *LedgerService) transfer(ctx context.Context, cmd TransferCommand) (*TransferResult, error) {
	if cmd.SenderID == cmd.ReceiverID {
		return nil, domain.ErrSelfOperation
	}
	quote, err := s.opts.Fees.QuoteTransfer(cmd.Amount)
	if err != nil {
		return nil, err
	}

	var (
		result *TransferResult
		state  *postCommit
	)
	err = s.run(ctx, opTransfer, func(ctx context.Context) error {
		set, err := s.lock(ctx, cmd.SenderID, cmd.ReceiverID)
		if err != nil {
			return err
		}
		sender, receiver := set.accounts[cmd.SenderID], set.accounts[cmd.ReceiverID]

		if !sender.CanDebitToken(quote.Debit) {
			return domain.ErrInsufficientBalance
		}
		sender.TokenBalance = money.Sub(sender.TokenBalance, quote.Debit)
		receiver.TokenBalance = money.Add(receiver.TokenBalance, quote.Amount)

		state, err = s.apply(ctx, set, quote.Fee)
		if err != nil {
			return err
		}

		record := &domain.TransferRecord{
			TransferNo: idgen.WithPrefix("TRF"),
			SenderID:   cmd.SenderID,
			ReceiverID: cmd.ReceiverID,
			Amount:     quote.Amount,
			Fee:        quote.Fee,
			Message:    cmd.Message,
		}
		if err := s.audit.SaveTransfer(ctx, record); err != nil {
			return err
		}
		if err := s.audit.SaveNotification(ctx, &domain.Notification{
			SenderID:   cmd.SenderID,
			ReceiverID: cmd.ReceiverID,
			Amount:     quote.Amount,
			Message:    cmd.Message,
		}); err != nil {
			return err
		}

		result = &TransferResult{
			TransferNo: record.TransferNo,
			ReceiverID: cmd.ReceiverID,
			Amount:     quote.Amount,
			Fee:        quote.Fee,
			Price:      state.price.Value,
		}
		state.event = domain.LedgerEvent{
			Type:           domain.EventTransferCompleted,
			ReferenceNo:    record.TransferNo,
			AccountID:      cmd.SenderID,
			CounterpartyID: cmd.ReceiverID,
			Amount:         quote.Amount,
			Fee:            quote.Fee,
			Price:          state.price.Value,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, state)
	return result, nil
}

// Buy 买入：买方付 fiat，国库付 gross 代币，买方得 gross-fee，手续费进池，流通量减少 fee
func (s *LedgerService) Buy(ctx context.Context, cmd BuyCommand) (*BuyResult, error) {
	start := time.Now()
	res, err := s.buy(ctx, cmd)
	s.finish(ctx, opBuy, start, err, "buyer_id", cmd.BuyerID, "fiat_amount", cmd.FiatAmount.String())
	return res, err
}

func (s *LedgerService) buy(ctx context.Context, cmd BuyCommand) (*BuyResult, error) {
	if cmd.BuyerID == s.opts.TreasuryID {
		return nil, domain.ErrSelfOperation
	}
	if !money.Amount(cmd.FiatAmount).IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var (
		result *BuyResult
		state  *postCommit
	)
	err := s.run(ctx, opBuy, func(ctx context.Context) error {
		set, err := s.lock(ctx, cmd.BuyerID)
		if err != nil {
			return err
		}
		buyer, treasury := set.accounts[cmd.BuyerID], set.treasury

		quote, err := s.opts.Fees.QuoteBuy(cmd.FiatAmount, set.price())
		if err != nil {
			return err
		}
		if !buyer.CanDebitFiat(quote.Fiat) {
			return domain.ErrInsufficientBalance
		}
		if !treasury.CanDebitToken(quote.Gross) {
			return fmt.Errorf("treasury token reserve: %w", domain.ErrInsufficientBalance)
		}

		buyer.FiatBalance = money.Sub(buyer.FiatBalance, quote.Fiat)
		treasury.FiatBalance = money.Add(treasury.FiatBalance, quote.Fiat)
		treasury.TokenBalance = money.Sub(treasury.TokenBalance, quote.Gross)
		buyer.TokenBalance = money.Add(buyer.TokenBalance, quote.Net)

		state, err = s.apply(ctx, set, quote.Fee)
		if err != nil {
			return err
		}

		record := &domain.ExchangeRecord{
			ExchangeNo: idgen.WithPrefix("BUY"),
			AccountID:  cmd.BuyerID,
			Side:       domain.ExchangeSideBuy,
			FiatAmount: quote.Fiat,
			GrossToken: quote.Gross,
			NetToken:   quote.Net,
			Fee:        quote.Fee,
			Price:      quote.Price,
		}
		if err := s.audit.SaveExchange(ctx, record); err != nil {
			return err
		}

		result = &BuyResult{
			ExchangeNo:    record.ExchangeNo,
			FiatSpent:     quote.Fiat,
			TokenReceived: quote.Net,
			Fee:           quote.Fee,
			ExecPrice:     quote.Price,
			Price:         state.price.Value,
		}
		state.event = domain.LedgerEvent{
			Type:           domain.EventBuyCompleted,
			ReferenceNo:    record.ExchangeNo,
			AccountID:      cmd.BuyerID,
			CounterpartyID: s.opts.TreasuryID,
			Amount:         quote.Net,
			Fee:            quote.Fee,
			Price:          quote.Price,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, state)
	return result, nil
}

// Sell 卖出：卖方付 token，国库收回 token-fee 并付出法币，手续费进池，流通量减少 token
func (s *LedgerService) Sell(ctx context.Context, cmd SellCommand) (*SellResult, error) {
	start := time.Now()
	res, err := s.sell(ctx, cmd)
	s.finish(ctx, opSell, start, err, "seller_id", cmd.SellerID, "token_amount", cmd.TokenAmount.String())
	return res, err
}

func (s *LedgerService) sell(ctx context.Context, cmd SellCommand) (*SellResult, error) {
	if cmd.SellerID == s.opts.TreasuryID {
		return nil, domain.ErrSelfOperation
	}
	if !money.Amount(cmd.TokenAmount).IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	var (
		result *SellResult
		state  *postCommit
	)
	err := s.run(ctx, opSell, func(ctx context.Context) error {
		set, err := s.lock(ctx, cmd.SellerID)
		if err != nil {
			return err
		}
		seller, treasury := set.accounts[cmd.SellerID], set.treasury

		quote, err := s.opts.Fees.QuoteSell(cmd.TokenAmount, set.price())
		if err != nil {
			return err
		}
		if !seller.CanDebitToken(quote.Token) {
			return domain.ErrInsufficientBalance
		}
		if !treasury.CanDebitFiat(quote.FiatOut) {
			return fmt.Errorf("treasury fiat reserve: %w", domain.ErrInsufficientBalance)
		}

		seller.TokenBalance = money.Sub(seller.TokenBalance, quote.Token)
		treasury.TokenBalance = money.Add(treasury.TokenBalance, quote.Net)
		seller.FiatBalance = money.Add(seller.FiatBalance, quote.FiatOut)
		treasury.FiatBalance = money.Sub(treasury.FiatBalance, quote.FiatOut)

		state, err = s.apply(ctx, set, quote.Fee)
		if err != nil {
			return err
		}

		record := &domain.ExchangeRecord{
			ExchangeNo: idgen.WithPrefix("SEL"),
			AccountID:  cmd.SellerID,
			Side:       domain.ExchangeSideSell,
			FiatAmount: quote.FiatOut,
			GrossToken: quote.Token,
			NetToken:   quote.Net,
			Fee:        quote.Fee,
			Price:      quote.Price,
		}
		if err := s.audit.SaveExchange(ctx, record); err != nil {
			return err
		}

		result = &SellResult{
			ExchangeNo:   record.ExchangeNo,
			TokenSold:    quote.Token,
			FiatReceived: quote.FiatOut,
			Fee:          quote.Fee,
			ExecPrice:    quote.Price,
			Price:        state.price.Value,
		}
		state.event = domain.LedgerEvent{
			Type:           domain.EventSellCompleted,
			ReferenceNo:    record.ExchangeNo,
			AccountID:      cmd.SellerID,
			CounterpartyID: s.opts.TreasuryID,
			Amount:         quote.Token,
			Fee:            quote.Fee,
			Price:          quote.Price,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, state)
	return result, nil
}

// lockSet 当前工作单元已加锁的行
type lockSet struct {
	// 按加锁顺序排列的账户 ID，国库在最后
	order    []uint64
	accounts map[uint64]*domain.Account
	// 加锁时读到的代币余额，用于计算流通量增量
	tokenBefore map[uint64]decimal.Decimal
	treasury    *domain.Account
	pool        *domain.CommissionPool
	supply      *domain.CirculatingSupply
}

// price 由锁内的国库储备与流通量推导，与价格行一致且不受并发提交影响
func (l *lockSet) price() decimal.Decimal {
	return domain.ComputePrice(l.treasury.FiatBalance, l.supply.Total)
}

// lock 按规范顺序加锁：非国库账户 ID 升序 → 国库账户 → 手续费池 → 流通量 → 价格行。
// initiator 缺失报 ErrAccountNotFound，其余账户缺失报 ErrCounterpartyNotFound。
func (s *LedgerService) lock(ctx context.Context, initiator uint64, others ...uint64) (*lockSet, error) {
	treasuryID := s.opts.TreasuryID
	ids := make([]uint64, 0, len(others)+1)
	for _, id := range append([]uint64{initiator}, others...) {
		if id != treasuryID && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	set := &lockSet{
		order:       append(ids, treasuryID),
		accounts:    make(map[uint64]*domain.Account, len(ids)+1),
		tokenBefore: make(map[uint64]decimal.Decimal, len(ids)+1),
	}
	for _, id := range set.order {
		acc, err := s.accounts.LockByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				if id == initiator {
					return nil, fmt.Errorf("account %d: %w", id, domain.ErrAccountNotFound)
				}
				return nil, fmt.Errorf("account %d: %w", id, domain.ErrCounterpartyNotFound)
			}
			return nil, err
		}
		set.accounts[id] = acc
		set.tokenBefore[id] = acc.TokenBalance
	}
	set.treasury = set.accounts[treasuryID]

	var err error
	if set.pool, err = s.aggregates.LockCommissionPool(ctx); err != nil {
		return nil, err
	}
	if set.supply, err = s.aggregates.LockCirculatingSupply(ctx); err != nil {
		return nil, err
	}
	if _, err = s.aggregates.LockPrice(ctx); err != nil {
		return nil, err
	}
	return set, nil
}

// postCommit 提交后才对外可见的副作用
type postCommit struct {
	pool   decimal.Decimal
	supply decimal.Decimal
	price  *domain.PriceSnapshot
	event  domain.LedgerEvent
}

// apply 写回已修改的余额，手续费进池，按非国库账户代币增量更新流通量，并刷新价格行
func (s *LedgerService) apply(ctx context.Context, set *lockSet, fee decimal.Decimal) (*postCommit, error) {
	delta := decimal.Zero
	for _, id := range set.order {
		acc := set.accounts[id]
		if acc.TokenBalance.IsNegative() || acc.FiatBalance.IsNegative() {
			return nil, fmt.Errorf("refusing to persist negative balance on account %d", id)
		}
		if err := s.accounts.UpdateBalances(ctx, acc); err != nil {
			return nil, err
		}
		if id != s.opts.TreasuryID {
			delta = money.Add(delta, money.Sub(acc.TokenBalance, set.tokenBefore[id]))
		}
	}

	set.pool.Total = money.Add(set.pool.Total, fee)
	if err := s.aggregates.SaveCommissionPool(ctx, set.pool); err != nil {
		return nil, err
	}
	set.supply.Total = money.Add(set.supply.Total, delta)
	if err := s.aggregates.SaveCirculatingSupply(ctx, set.supply); err != nil {
		return nil, err
	}

	price, err := s.oracle.recompute(ctx, set.treasury.FiatBalance, set.supply.Total)
	if err != nil {
		return nil, err
	}
	return &postCommit{pool: set.pool.Total, supply: set.supply.Total, price: price}, nil
}

// run 以工作单元执行 fn，锁冲突时指数退避重试整个事务
func (s *LedgerService) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.tx.Transaction(ctx, fn)
		if err == nil || errors.Is(err, domain.ErrConcurrencyConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.metrics.ObserveRetry(op)
			s.logger.WarnContext(ctx, "ledger operation conflicted, retrying", "operation", op, "wait", wait, "error", err)
		}),
	)
	return err
}

// afterCommit 覆盖价格缓存、更新指标、投递事件，失败只记录日志
func (s *LedgerService) afterCommit(ctx context.Context, state *postCommit) {
	s.oracle.storeCache(ctx, state.price)
	s.metrics.SetAggregates(state.pool, state.supply, state.price.Value)

	state.event.OccurredAt = time.Now()
	if err := s.publisher.Publish(ctx, state.event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish ledger event",
			"type", state.event.Type, "reference_no", state.event.ReferenceNo, "error", err)
	}
}

// finish 记录指标与结果日志
func (s *LedgerService) finish(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil:
	case domain.IsBusinessError(err):
		outcome = metrics.OutcomeRejected
	case errors.Is(err, domain.ErrConcurrencyConflict):
		outcome = metrics.OutcomeConflict
	default:
		outcome = metrics.OutcomeError
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))

	attrs = append(attrs, "operation", op, "outcome", outcome, "duration", time.Since(start))
	switch outcome {
	case metrics.OutcomeSuccess:
		s.logger.InfoContext(ctx, "ledger operation completed", attrs...)
	case metrics.OutcomeRejected, metrics.OutcomeConflict:
		s.logger.WarnContext(ctx, "ledger operation rejected", append(attrs, "error", err)...)
	default:
		s.logger.ErrorContext(ctx, "ledger operation failed", append(attrs, "error", err)...)
	}
}
