// Package http 账本的 HTTP 适配层。身份由鉴权网关通过 X-User-ID 注入
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/srdsledger/internal/ledger/application"
	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	"github.com/wyfcoding/srdsledger/pkg/logger"
	"github.com/wyfcoding/srdsledger/pkg/middleware"
	"github.com/wyfcoding/srdsledger/pkg/money"
	"github.com/wyfcoding/srdsledger/pkg/response"
)

const callerKey = "caller_id"

// Handler HTTP 处理器
type Handler struct {
	ledger *application.LedgerService
	query  *application.QueryService
	logger *slog.Logger
}

// NewHandler 创建 HTTP 处理器
func NewHandler(ledger *application.LedgerService, query *application.QueryService, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		query:  query,
		logger: logger.With("module", "http_handler"),
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/price", h.GetPrice)
	router.GET("/stats", h.GetStats)

	authed := router.Group("", h.requireCaller)
	{
		authed.GET("/accounts/me", h.GetMyAccount)
		authed.POST("/transfers", h.Transfer)
		authed.GET("/transfers", h.ListTransfers)
		authed.GET("/notifications", h.ListNotifications)
		authed.POST("/exchange/buy", h.Buy)
		authed.POST("/exchange/sell", h.Sell)
		authed.GET("/exchanges", h.ListExchanges)
	}
}

// requireCaller 读取网关注入的调用方身份
func (h *Handler) requireCaller(c *gin.Context) {
	id, err := strconv.ParseUint(c.GetHeader(middleware.HeaderUserID), 10, 64)
	if err != nil || id == 0 {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "unauthenticated", "")
		return
	}
	c.Set(callerKey, id)
	c.Next()
}

func caller(c *gin.Context) uint64 {
	return c.GetUint64(callerKey)
}

// TransferRequest 转账请求，to_account_id 与 to_email 二选一
type TransferRequest struct {
	ToAccountID uint64 `json:"to_account_id"`
	ToEmail     string `json:"to_email"`
	Amount      string `json:"amount" binding:"required"`
	Message     string `json:"message"`
}

// Transfer 转账
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		h.fail(c, domain.ErrInvalidAmount)
		return
	}

	ctx := c.Request.Context()
	var res *application.TransferResult
	switch {
	case req.ToAccountID != 0:
		res, err = h.ledger.Transfer(ctx, application.TransferCommand{
			SenderID:   caller(c),
			ReceiverID: req.ToAccountID,
			Amount:     amount,
			Message:    req.Message,
		})
	case req.ToEmail != "":
		res, err = h.ledger.TransferByEmail(ctx, application.TransferByEmailCommand{
			SenderID: caller(c),
			Email:    req.ToEmail,
			Amount:   amount,
			Message:  req.Message,
		})
	default:
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", "to_account_id or to_email is required")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Created(c, gin.H{
		"transfer_no": res.TransferNo,
		"receiver_id": res.ReceiverID,
		"amount":      money.Format(res.Amount),
		"fee":         money.Format(res.Fee),
		"price":       money.FormatPrice(res.Price),
	})
}

// BuyRequest 买入请求
type BuyRequest struct {
	AmountTRY string `json:"amount_try" binding:"required"`
}

// Buy 用法币买入代币
func (h *Handler) Buy(c *gin.Context) {
	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	amount, err := money.Parse(req.AmountTRY)
	if err != nil {
		h.fail(c, domain.ErrInvalidAmount)
		return
	}

	res, err := h.ledger.Buy(c.Request.Context(), application.BuyCommand{BuyerID: caller(c), FiatAmount: amount})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{
		"exchange_no":    res.ExchangeNo,
		"fiat_spent":     money.Format(res.FiatSpent),
		"token_received": money.Format(res.TokenReceived),
		"fee":            money.Format(res.Fee),
		"exec_price":     money.FormatPrice(res.ExecPrice),
		"price":          money.FormatPrice(res.Price),
	})
}

// SellRequest 卖出请求
type SellRequest struct {
	AmountSRDS string `json:"amount_srds" binding:"required"`
}

// Sell 卖出代币
func (h *Handler) Sell(c *gin.Context) {
	var req SellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	amount, err := money.Parse(req.AmountSRDS)
	if err != nil {
		h.fail(c, domain.ErrInvalidAmount)
		return
	}

	res, err := h.ledger.Sell(c.Request.Context(), application.SellCommand{SellerID: caller(c), TokenAmount: amount})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{
		"exchange_no":   res.ExchangeNo,
		"token_sold":    money.Format(res.TokenSold),
		"fiat_received": money.Format(res.FiatReceived),
		"fee":           money.Format(res.Fee),
		"exec_price":    money.FormatPrice(res.ExecPrice),
		"price":         money.FormatPrice(res.Price),
	})
}

// GetPrice 当前价格
func (h *Handler) GetPrice(c *gin.Context) {
	price, err := h.query.CurrentPrice(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"price": money.FormatPrice(price)})
}

// GetStats 全局统计
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.query.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"price":              money.FormatPrice(stats.Price),
		"circulating_supply": money.Format(stats.CirculatingSupply),
		"commission_pool":    money.Format(stats.CommissionPool),
		"treasury_fiat":      money.Format(stats.TreasuryFiat),
		"treasury_token":     money.Format(stats.TreasuryToken),
	})
}

// GetMyAccount 调用方的账户余额
func (h *Handler) GetMyAccount(c *gin.Context) {
	acc, err := h.query.GetAccount(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"id":            acc.ID,
		"email":         acc.Email,
		"token_balance": money.Format(acc.TokenBalance),
		"fiat_balance":  money.Format(acc.FiatBalance),
	})
}

// ListTransfers 转账历史，direction: sent | received | all
func (h *Handler) ListTransfers(c *gin.Context) {
	direction, ok := domain.ParseTransferDirection(c.Query("direction"))
	if !ok {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request", "direction must be sent, received or all")
		return
	}
	page, err := h.query.ListTransfers(c.Request.Context(), caller(c), direction, pageOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]gin.H, len(page.Items))
	for i, r := range page.Items {
		items[i] = gin.H{
			"transfer_no": r.TransferNo,
			"sender_id":   r.SenderID,
			"receiver_id": r.ReceiverID,
			"amount":      money.Format(r.Amount),
			"fee":         money.Format(r.Fee),
			"message":     r.Message,
			"created_at":  r.CreatedAt,
		}
	}
	response.Success(c, gin.H{"items": items, "total": page.Total, "page": page.Page, "page_size": page.PageSize})
}

// ListNotifications 收款通知
func (h *Handler) ListNotifications(c *gin.Context) {
	page, err := h.query.ListNotifications(c.Request.Context(), caller(c), pageOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]gin.H, len(page.Items))
	for i, n := range page.Items {
		items[i] = gin.H{
			"sender_id":  n.SenderID,
			"amount":     money.Format(n.Amount),
			"message":    n.Message,
			"created_at": n.CreatedAt,
		}
	}
	response.Success(c, gin.H{"items": items, "total": page.Total, "page": page.Page, "page_size": page.PageSize})
}

// ListExchanges 买卖历史
func (h *Handler) ListExchanges(c *gin.Context) {
	page, err := h.query.ListExchanges(c.Request.Context(), caller(c), pageOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]gin.H, len(page.Items))
	for i, r := range page.Items {
		items[i] = gin.H{
			"exchange_no": r.ExchangeNo,
			"side":        string(r.Side),
			"fiat_amount": money.Format(r.FiatAmount),
			"gross_token": money.Format(r.GrossToken),
			"net_token":   money.Format(r.NetToken),
			"fee":         money.Format(r.Fee),
			"price":       money.FormatPrice(r.Price),
			"created_at":  r.CreatedAt,
		}
	}
	response.Success(c, gin.H{"items": items, "total": page.Total, "page": page.Page, "page_size": page.PageSize})
}

func pageOf(c *gin.Context) domain.Page {
	p, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	return domain.Page{Page: p, PageSize: size}
}

// fail 类型化失败映射为固定文案，其余错误只返回通用 500
func (h *Handler) fail(c *gin.Context, err error) {
	status, message := statusOf(err)
	if status == http.StatusInternalServerError {
		ctx := c.Request.Context()
		logger.Attach(ctx, h.logger).ErrorContext(ctx, "request failed", "path", c.FullPath(), "error", err)
	}
	response.ErrorWithStatus(c, status, message, "")
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient balance"
	case errors.Is(err, domain.ErrCounterpartyNotFound):
		return http.StatusNotFound, "receiver not found"
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, "price unavailable"
	case errors.Is(err, domain.ErrSelfOperation):
		return http.StatusBadRequest, "cannot transfer to yourself"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
