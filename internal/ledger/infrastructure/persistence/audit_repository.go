package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/db"
)

// auditRepository 审计记录仓储，只有插入与分页查询
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建审计仓储
func NewAuditRepository(gdb *gorm.DB) domain.AuditRepository {
	return &auditRepository{db: gdb}
}

func (r *auditRepository) conn(ctx context.Context) *gorm.DB {
	return db.Conn(ctx, r.db)
}

func (r *auditRepository) SaveTransfer(ctx context.Context, record *domain.TransferRecord) error {
	m := &TransferModel{
		TransferNo: record.TransferNo,
		SenderID:   record.SenderID,
		ReceiverID: record.ReceiverID,
		Amount:     record.Amount,
		Fee:        record.Fee,
		Message:    domain.TruncateRunes(record.Message, domain.MaxTransferMessageLen),
	}
	if err := r.conn(ctx).Create(m).Error; err != nil {
		return classify(err)
	}
	record.ID = m.ID
	record.CreatedAt = m.CreatedAt
	return nil
}

func (r *auditRepository) SaveNotification(ctx context.Context, n *domain.Notification) error {
	m := &NotificationModel{
		SenderID:   n.SenderID,
		ReceiverID: n.ReceiverID,
		Amount:     n.Amount,
		Message:    domain.TruncateRunes(n.Message, domain.MaxNotificationMessageLen),
	}
	if err := r.conn(ctx).Create(m).Error; err != nil {
		return classify(err)
	}
	n.ID = m.ID
	n.CreatedAt = m.CreatedAt
	return nil
}

func (r *auditRepository) SaveExchange(ctx context.Context, record *domain.ExchangeRecord) error {
	m := &ExchangeModel{
		ExchangeNo: record.ExchangeNo,
		AccountID:  record.AccountID,
		Side:       string(record.Side),
		FiatAmount: record.FiatAmount,
		GrossToken: record.GrossToken,
		NetToken:   record.NetToken,
		Fee:        record.Fee,
		Price:      record.Price,
	}
	if err := r.conn(ctx).Create(m).Error; err != nil {
		return classify(err)
	}
	record.ID = m.ID
	record.CreatedAt = m.CreatedAt
	return nil
}

func (r *auditRepository) ListTransfers(ctx context.Context, accountID uint64, direction domain.TransferDirection, page domain.Page) ([]*domain.TransferRecord, int64, error) {
	page = page.Normalize()
	q := r.conn(ctx).Model(&TransferModel{})
	switch direction {
	case domain.DirectionSent:
		q = q.Where("sender_id = ?", accountID)
	case domain.DirectionReceived:
		q = q.Where("receiver_id = ?", accountID)
	default:
		q = q.Where("sender_id = ? OR receiver_id = ?", accountID, accountID)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	var models []*TransferModel
	if err := q.Order("created_at DESC, id DESC").Limit(page.PageSize).Offset(page.Offset()).Find(&models).Error; err != nil {
		return nil, 0, classify(err)
	}
	records := make([]*domain.TransferRecord, len(models))
	for i, m := range models {
		records[i] = toTransfer(m)
	}
	return records, total, nil
}

func (r *auditRepository) ListNotifications(ctx context.Context, receiverID uint64, page domain.Page) ([]*domain.Notification, int64, error) {
	page = page.Normalize()
	q := r.conn(ctx).Model(&NotificationModel{}).Where("receiver_id = ?", receiverID).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	var models []*NotificationModel
	if err := q.Order("created_at DESC, id DESC").Limit(page.PageSize).Offset(page.Offset()).Find(&models).Error; err != nil {
		return nil, 0, classify(err)
	}
	items := make([]*domain.Notification, len(models))
	for i, m := range models {
		items[i] = toNotification(m)
	}
	return items, total, nil
}

func (r *auditRepository) ListExchanges(ctx context.Context, accountID uint64, page domain.Page) ([]*domain.ExchangeRecord, int64, error) {
	page = page.Normalize()
	q := r.conn(ctx).Model(&ExchangeModel{}).Where("account_id = ?", accountID).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	var models []*ExchangeModel
	if err := q.Order("created_at DESC, id DESC").Limit(page.PageSize).Offset(page.Offset()).Find(&models).Error; err != nil {
		return nil, 0, classify(err)
	}
	records := make([]*domain.ExchangeRecord, len(models))
	for i, m := range models {
		records[i] = toExchange(m)
	}
	return records, total, nil
}
