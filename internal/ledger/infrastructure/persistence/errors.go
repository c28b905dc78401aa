package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
)

// MySQL 锁等待超时与死锁
const (
	mysqlLockWaitTimeout uint16 = 1205
	mysqlDeadlock        uint16 = 1213
)

// Postgres 串行化失败、死锁、NOWAIT 加锁失败
var pgConflictCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
}

// classify 把锁冲突类驱动错误转换为 domain.ErrConcurrencyConflict，
// 其余错误原样返回
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := pgConflictCodes[pgErr.Code]
		return ok
	}

	// modernc sqlite 的错误类型不在依赖中，按消息识别 SQLITE_BUSY / SQLITE_LOCKED
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return classify(err)
}
