package domain

import "errors"

// 账本操作的类型化失败。出现任何一种时，整个工作单元已回滚。
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrCounterpartyNotFound = errors.New("counterparty not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrSelfOperation        = errors.New("self operation rejected")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
)

// IsBusinessError 判断是否为可预期的业务失败（非存储故障）
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInsufficientBalance,
		ErrCounterpartyNotFound,
		ErrAccountNotFound,
		ErrInvalidAmount,
		ErrPriceUnavailable,
		ErrSelfOperation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
