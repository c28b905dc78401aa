// Package middleware 提供 Gin 与 gRPC 的通用中间件（日志、trace、panic recover、指标、限流）
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wyfcoding/srdsledger/pkg/logger"
	"github.com/wyfcoding/srdsledger/pkg/metrics"
	"github.com/wyfcoding/srdsledger/pkg/ratelimit"
)

const (
	// HeaderTraceID 上游透传的 trace id
	HeaderTraceID = "X-Trace-ID"
	// HeaderRequestID 返回给客户端的 request id
	HeaderRequestID = "X-Request-ID"
	// HeaderUserID 鉴权网关注入的调用方身份
	HeaderUserID = "X-User-ID"
)

// GinLogging 生成 request id、透传 trace id，并记录请求日志
func GinLogging(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.ContextWithTrace(c.Request.Context(), traceID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)

		start := time.Now()
		c.Next()

		logger.Attach(ctx, log).InfoContext(ctx, "HTTP request completed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status_code", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}

// GinRecovery panic 恢复，返回不含内部细节的 500
func GinRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				ctx := c.Request.Context()
				logger.Attach(ctx, log).ErrorContext(ctx, "HTTP request panicked", "panic", fmt.Sprint(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "internal error"})
			}
		}()
		c.Next()
	}
}

// GinMetrics 记录请求计数与耗时，path 使用路由模板避免标签爆炸
func GinMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// GinRateLimit 按调用方限流，没有身份时按客户端 IP；限流器故障时放行
func GinRateLimit(limiter ratelimit.RateLimiter, limit ratelimit.Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:ip:" + c.ClientIP()
		if uid := c.GetHeader(HeaderUserID); uid != "" {
			key = "ratelimit:user:" + uid
		}

		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second)+1, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "message": "too many requests"})
			return
		}
		c.Next()
	}
}

// GRPCLogging gRPC 日志拦截器
func GRPCLogging(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = logger.ContextWithTrace(ctx, uuid.NewString(), uuid.NewString())
		start := time.Now()

		resp, err := handler(ctx, req)

		l := logger.Attach(ctx, log)
		if err != nil {
			st, _ := status.FromError(err)
			l.WarnContext(ctx, "gRPC request failed",
				"method", info.FullMethod,
				"error_code", st.Code().String(),
				"duration", time.Since(start),
			)
		} else {
			l.DebugContext(ctx, "gRPC request completed", "method", info.FullMethod, "duration", time.Since(start))
		}
		return resp, err
	}
}

// GRPCRecovery gRPC panic 恢复拦截器
func GRPCRecovery(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "gRPC request panicked", "method", info.FullMethod, "panic", fmt.Sprint(r))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
