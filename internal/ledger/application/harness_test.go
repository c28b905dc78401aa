package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/internal/ledger/infrastructure/persistence"
	"github.com/wyfcoding/srdsledger/pkg/config"
	"github.com/wyfcoding/srdsledger/pkg/db"
	"github.com/wyfcoding/srdsledger/pkg/metrics"
)

const treasuryID uint64 = 1

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) all() []domain.LedgerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LedgerEvent(nil), p.events...)
}

// memPriceCache 与 Redis 实现相同的版本比较写入
type memPriceCache struct {
	mu      sync.Mutex
	value   decimal.Decimal
	version uint64
	ok      bool
	// beforeSet 非空时在每次写入前调用，用于制造写入乱序
	beforeSet func(domain.PriceSnapshot)
}

func (c *memPriceCache) Get(context.Context) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.ok, nil
}

func (c *memPriceCache) Set(_ context.Context, snap domain.PriceSnapshot) error {
	if c.beforeSet != nil {
		c.beforeSet(snap)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok && c.version >= snap.Version {
		return nil
	}
	c.value, c.version, c.ok = snap.Value, snap.Version, true
	return nil
}

type harness struct {
	db         *gorm.DB
	tx         domain.TxManager
	accounts   domain.AccountRepository
	aggregates domain.AggregateRepository
	audit      domain.AuditRepository
	cache      *memPriceCache
	publisher  *recordingPublisher
	metrics    *metrics.Metrics
	oracle     *PriceOracle
	supply     *SupplyTracker
	ledger     *LedgerService
	query      *QueryService
	bootstrap  *Bootstrapper

	treasuryToken decimal.Decimal
	treasuryFiat  decimal.Decimal
}

// newHarness 内存 SQLite 单连接，事务天然串行，等价于行锁下的串行化
func newHarness(t *testing.T, treasuryToken, treasuryFiat string) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	h := &harness{
		db:         gdb,
		tx:         persistence.NewTxManager(gdb),
		accounts:   persistence.NewAccountRepository(gdb),
		aggregates: persistence.NewAggregateRepository(gdb),
		audit:      persistence.NewAuditRepository(gdb),
		cache:      &memPriceCache{},
		publisher:  &recordingPublisher{},
		metrics:    metrics.New("ledger_test"),

		treasuryToken: dec(treasuryToken),
		treasuryFiat:  dec(treasuryFiat),
	}
	h.wire(h.tx, 3)

	require.NoError(t, h.bootstrap.Run(context.Background()))
	return h
}

// wire 组装服务，tx 可被测试替换
func (h *harness) wire(tx domain.TxManager, attempts int) {
	logger := slog.Default()
	h.oracle = NewPriceOracle(tx, h.accounts, h.aggregates, h.cache, h.metrics, treasuryID, logger)
	h.supply = NewSupplyTracker(tx, h.accounts, h.aggregates, h.oracle, h.metrics, treasuryID, logger)
	h.ledger = NewLedgerService(tx, h.accounts, h.aggregates, h.audit, h.oracle, h.publisher, h.metrics, LedgerOptions{
		TreasuryID:  treasuryID,
		Fees:        domain.DefaultFeeSchedule(),
		MaxAttempts: attempts,
	}, logger)
	h.query = NewQueryService(h.accounts, h.aggregates, h.audit, h.oracle, treasuryID)
	h.bootstrap = NewBootstrapper(tx, h.accounts, h.aggregates, h.supply, h.oracle, BootstrapOptions{
		TreasuryID:           treasuryID,
		TreasuryInitialToken: h.treasuryToken,
		TreasuryInitialFiat:  h.treasuryFiat,
		Migrate: func(context.Context) error {
			return persistence.AutoMigrate(h.db)
		},
	}, logger)
}

// openAccount 模拟注册流程直接写入带余额的账户，再全量重算流通量
func (h *harness) openAccount(t *testing.T, email, token, fiat string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	acc := &domain.Account{Email: email, TokenBalance: dec(token), FiatBalance: dec(fiat)}
	require.NoError(t, h.accounts.Create(ctx, acc))
	_, err := h.supply.Recompute(ctx)
	require.NoError(t, err)
	return acc
}

func (h *harness) account(t *testing.T, id uint64) *domain.Account {
	t.Helper()
	acc, err := h.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func (h *harness) pool(t *testing.T) string {
	t.Helper()
	p, err := h.aggregates.GetCommissionPool(context.Background())
	require.NoError(t, err)
	return p.Total.StringFixed(2)
}

func (h *harness) circulating(t *testing.T) string {
	t.Helper()
	s, err := h.aggregates.GetCirculatingSupply(context.Background())
	require.NoError(t, err)
	return s.Total.StringFixed(2)
}

func (h *harness) storedPrice(t *testing.T) string {
	t.Helper()
	p, err := h.aggregates.GetPrice(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Value.StringFixed(8)
}

func (h *harness) requireConsistent(t *testing.T) {
	t.Helper()
	rec, err := h.supply.Reconcile(context.Background())
	require.NoError(t, err)
	require.True(t, rec.Consistent, "tracked %s derived %s", rec.Tracked, rec.Derived)
}

func tokenOf(a *domain.Account) string { return a.TokenBalance.StringFixed(2) }
func fiatOf(a *domain.Account) string  { return a.FiatBalance.StringFixed(2) }
