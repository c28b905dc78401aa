package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/db"
	"github.com/wyfcoding/srdsledger/pkg/money"
)

// errSingletonMissing 单行记录缺失说明未执行启动初始化
var errSingletonMissing = errors.New("ledger singleton row missing, bootstrap has not run")

// aggregateRepository 单行聚合表仓储
type aggregateRepository struct {
	db *gorm.DB
}

// NewAggregateRepository 创建聚合表仓储
func NewAggregateRepository(gdb *gorm.DB) domain.AggregateRepository {
	return &aggregateRepository{db: gdb}
}

func (r *aggregateRepository) conn(ctx context.Context) *gorm.DB {
	return db.Conn(ctx, r.db)
}

func (r *aggregateRepository) locked(ctx context.Context) *gorm.DB {
	return r.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

// EnsureSingletons 使用 ON CONFLICT DO NOTHING 插入缺失的单行，可重复执行
func (r *aggregateRepository) EnsureSingletons(ctx context.Context) (bool, error) {
	if err := r.insertIgnore(ctx, &CommissionPoolModel{ID: domain.SingletonID}).Error; err != nil {
		return false, classify(err)
	}
	res := r.insertIgnore(ctx, &CirculatingSupplyModel{ID: domain.SingletonID})
	if res.Error != nil {
		return false, classify(res.Error)
	}
	if err := r.insertIgnore(ctx, &PriceModel{ID: domain.SingletonID}).Error; err != nil {
		return false, classify(err)
	}
	return res.RowsAffected > 0, nil
}

// insertIgnore 每次插入使用新的语句链，gorm 链式实例在执行后不可复用
func (r *aggregateRepository) insertIgnore(ctx context.Context, row any) *gorm.DB {
	return r.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
}

func (r *aggregateRepository) GetCommissionPool(ctx context.Context) (*domain.CommissionPool, error) {
	return r.loadPool(r.conn(ctx))
}

func (r *aggregateRepository) LockCommissionPool(ctx context.Context) (*domain.CommissionPool, error) {
	return r.loadPool(r.locked(ctx))
}

func (r *aggregateRepository) loadPool(q *gorm.DB) (*domain.CommissionPool, error) {
	var m CommissionPoolModel
	if err := q.Where("id = ?", domain.SingletonID).First(&m).Error; err != nil {
		return nil, notFound(err, errSingletonMissing)
	}
	return &domain.CommissionPool{ID: m.ID, Total: money.Amount(m.Total), UpdatedAt: m.UpdatedAt}, nil
}

func (r *aggregateRepository) SaveCommissionPool(ctx context.Context, pool *domain.CommissionPool) error {
	err := r.conn(ctx).Model(&CommissionPoolModel{}).
		Where("id = ?", domain.SingletonID).
		Update("total", money.Amount(pool.Total)).Error
	return classify(err)
}

func (r *aggregateRepository) GetCirculatingSupply(ctx context.Context) (*domain.CirculatingSupply, error) {
	return r.loadSupply(r.conn(ctx))
}

func (r *aggregateRepository) LockCirculatingSupply(ctx context.Context) (*domain.CirculatingSupply, error) {
	return r.loadSupply(r.locked(ctx))
}

func (r *aggregateRepository) loadSupply(q *gorm.DB) (*domain.CirculatingSupply, error) {
	var m CirculatingSupplyModel
	if err := q.Where("id = ?", domain.SingletonID).First(&m).Error; err != nil {
		return nil, notFound(err, errSingletonMissing)
	}
	return &domain.CirculatingSupply{ID: m.ID, Total: money.Amount(m.Total), UpdatedAt: m.UpdatedAt}, nil
}

func (r *aggregateRepository) SaveCirculatingSupply(ctx context.Context, supply *domain.CirculatingSupply) error {
	err := r.conn(ctx).Model(&CirculatingSupplyModel{}).
		Where("id = ?", domain.SingletonID).
		Update("total", money.Amount(supply.Total)).Error
	return classify(err)
}

func (r *aggregateRepository) GetPrice(ctx context.Context) (*domain.PriceSnapshot, error) {
	return r.loadPrice(r.conn(ctx))
}

func (r *aggregateRepository) LockPrice(ctx context.Context) (*domain.PriceSnapshot, error) {
	return r.loadPrice(r.locked(ctx))
}

func (r *aggregateRepository) loadPrice(q *gorm.DB) (*domain.PriceSnapshot, error) {
	var m PriceModel
	if err := q.Where("id = ?", domain.SingletonID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return toPrice(&m), nil
}

// SavePrice 写入价格与版本，行不存在时创建
func (r *aggregateRepository) SavePrice(ctx context.Context, price *domain.PriceSnapshot) error {
	m := PriceModel{ID: domain.SingletonID, Value: money.Price(price.Value), Version: price.Version}
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "version", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return classify(err)
	}
	price.UpdatedAt = m.UpdatedAt
	return nil
}
