package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/db"
)

// txManager 在 db.TxManager 之上对提交阶段的锁冲突做分类
type txManager struct {
	inner *db.TxManager
}

// NewTxManager 创建账本工作单元
func NewTxManager(gdb *gorm.DB) domain.TxManager {
	return &txManager{inner: db.NewTxManager(gdb)}
}

func (m *txManager) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return classify(m.inner.Transaction(ctx, fn))
}
