package persistence

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/db"
	"github.com/wyfcoding/srdsledger/pkg/money"
)

// accountRepository 账户仓储实现
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository 创建账户仓储
func NewAccountRepository(gdb *gorm.DB) domain.AccountRepository {
	return &accountRepository{db: gdb}
}

func (r *accountRepository) conn(ctx context.Context) *gorm.DB {
	return db.Conn(ctx, r.db)
}

func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	m := toAccountModel(account)
	if err := r.conn(ctx).Create(m).Error; err != nil {
		return classify(err)
	}
	account.ID = m.ID
	account.CreatedAt = m.CreatedAt
	account.UpdatedAt = m.UpdatedAt
	return nil
}

func (r *accountRepository) Get(ctx context.Context, id uint64) (*domain.Account, error) {
	var m AccountModel
	if err := r.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound)
	}
	return toAccount(&m), nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var m AccountModel
	if err := r.conn(ctx).Where("email = ?", domain.NormalizeEmail(email)).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound)
	}
	return toAccount(&m), nil
}

// LockByID SELECT ... FOR UPDATE，必须在事务内调用
func (r *accountRepository) LockByID(ctx context.Context, id uint64) (*domain.Account, error) {
	var m AccountModel
	err := r.conn(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound)
	}
	return toAccount(&m), nil
}

func (r *accountRepository) UpdateBalances(ctx context.Context, account *domain.Account) error {
	result := r.conn(ctx).Model(&AccountModel{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"token_balance": money.Amount(account.TokenBalance),
			"fiat_balance":  money.Amount(account.FiatBalance),
		})
	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) SumTokenExcluding(ctx context.Context, excludeID uint64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.conn(ctx).Model(&AccountModel{}).
		Select("COALESCE(SUM(token_balance), 0)").
		Where("id <> ?", excludeID).
		Row().
		Scan(&sum)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return money.Amount(sum), nil
}
