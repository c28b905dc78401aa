package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/wyfcoding/srdsledger/internal/ledger/application"
	"github.com/wyfcoding/srdsledger/internal/ledger/domain"
	ledgercache "github.com/wyfcoding/srdsledger/internal/ledger/infrastructure/cache"
	"github.com/wyfcoding/srdsledger/internal/ledger/infrastructure/messaging"
	"github.com/wyfcoding/srdsledger/internal/ledger/infrastructure/persistence"
	httpserver "github.com/wyfcoding/srdsledger/internal/ledger/interfaces/http"
	"github.com/wyfcoding/srdsledger/pkg/cache"
	"github.com/wyfcoding/srdsledger/pkg/config"
	"github.com/wyfcoding/srdsledger/pkg/db"
	"github.com/wyfcoding/srdsledger/pkg/idgen"
	"github.com/wyfcoding/srdsledger/pkg/logger"
	"github.com/wyfcoding/srdsledger/pkg/metrics"
	"github.com/wyfcoding/srdsledger/pkg/middleware"
	"github.com/wyfcoding/srdsledger/pkg/mq"
	"github.com/wyfcoding/srdsledger/pkg/ratelimit"
	"github.com/wyfcoding/srdsledger/pkg/response"
)

var configPath = flag.String("config", "configs/ledger.toml", "config file path")

func main() {
	flag.Parse()
	if err := run(); err != nil {
		slog.Error("ledger service exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. 配置与日志
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log, err := logger.Init(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	log = log.With("service", cfg.ServiceName, "env", cfg.Environment)

	if err := idgen.Init(cfg.NodeID); err != nil {
		return err
	}

	fees, err := domain.NewFeeSchedule(cfg.Ledger.FeeRate, cfg.Ledger.TransferFeeDivisor)
	if err != nil {
		return err
	}
	initialToken, err := decimal.NewFromString(cfg.Ledger.TreasuryInitialToken)
	if err != nil {
		return fmt.Errorf("invalid ledger.treasury_initial_token: %w", err)
	}
	initialFiat, err := decimal.NewFromString(cfg.Ledger.TreasuryInitialFiat)
	if err != nil {
		return fmt.Errorf("invalid ledger.treasury_initial_fiat: %w", err)
	}

	// 2. 指标
	m := metrics.New("srds")
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// 3. 基础设施
	gdb, err := db.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()

	var (
		priceCache domain.PriceCache
		limiter    ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter()
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(cfg.Redis, log)
		if err != nil {
			return err
		}
		defer func() { _ = redisCache.Close() }()
		priceCache = ledgercache.NewRedisPriceCache(redisCache, time.Duration(cfg.Redis.PriceTTL)*time.Second)
		limiter = ratelimit.NewRedisRateLimiter(redisCache.Client())
	}

	var publisher domain.EventPublisher = messaging.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer := mq.NewProducer(cfg.Kafka, log)
		defer func() { _ = producer.Close() }()
		publisher = messaging.NewKafkaPublisher(producer, cfg.Kafka.Topic, log)
	}

	// 4. 仓储与应用服务
	treasuryID := cfg.Ledger.TreasuryAccountID
	tx := persistence.NewTxManager(gdb)
	accounts := persistence.NewAccountRepository(gdb)
	aggregates := persistence.NewAggregateRepository(gdb)
	audit := persistence.NewAuditRepository(gdb)

	oracle := application.NewPriceOracle(tx, accounts, aggregates, priceCache, m, treasuryID, log)
	supply := application.NewSupplyTracker(tx, accounts, aggregates, oracle, m, treasuryID, log)
	ledger := application.NewLedgerService(tx, accounts, aggregates, audit, oracle, publisher, m, application.LedgerOptions{
		TreasuryID:  treasuryID,
		Fees:        fees,
		MaxAttempts: cfg.Ledger.MaxRetries,
		Timeout:     cfg.Ledger.OperationTimeoutDuration(),
	}, log)
	query := application.NewQueryService(accounts, aggregates, audit, oracle, treasuryID)

	bootOpts := application.BootstrapOptions{
		TreasuryID:           treasuryID,
		TreasuryInitialToken: initialToken,
		TreasuryInitialFiat:  initialFiat,
	}
	if cfg.Database.AutoMigrate {
		bootOpts.Migrate = func(ctx context.Context) error {
			return persistence.AutoMigrate(gdb.WithContext(ctx))
		}
	}
	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = application.NewBootstrapper(tx, accounts, aggregates, supply, oracle, bootOpts, log).Run(bootCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ledger bootstrap failed: %w", err)
	}

	// 5. 接口层
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCRecovery(log),
		middleware.GRPCLogging(log),
	))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecovery(log), middleware.GinLogging(log), middleware.GinMetrics(m))
	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := gdb.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			response.ErrorWithStatus(c, http.StatusServiceUnavailable, "unhealthy", "")
			return
		}
		response.Success(c, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.GinRateLimit(limiter, ratelimit.Limit{
			Rate:   cfg.RateLimit.QPS,
			Period: time.Second,
			Burst:  cfg.RateLimit.Burst,
		}))
	}
	httpserver.NewHandler(ledger, query, log).RegisterRoutes(api)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(prometheus.DefaultGatherer))
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
	}

	// 6. 启动
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		log.Info("gRPC server starting", "addr", addr)
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		log.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			log.Info("metrics server starting", "addr", metricsSrv.Addr, "path", cfg.Metrics.Path)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if interval := time.Duration(cfg.Ledger.ReconcileInterval) * time.Second; interval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := supply.Reconcile(ctx); err != nil {
						log.Warn("periodic reconciliation failed", "error", err)
					}
				}
			}
		})
	}

	// 7. 优雅关闭
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down servers...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}
