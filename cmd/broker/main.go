package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fundingapp "github.com/davinsptra/cryptobroker/internal/funding/application"
	fundingdomain "github.com/davinsptra/cryptobroker/internal/funding/domain"
	fundingmysql "github.com/davinsptra/cryptobroker/internal/funding/infrastructure/persistence/mysql"
	fundinghttp "github.com/davinsptra/cryptobroker/internal/funding/interfaces/http"
	ledgerapp "github.com/davinsptra/cryptobroker/internal/ledger/application"
	ledgerdomain "github.com/davinsptra/cryptobroker/internal/ledger/domain"
	ledgermysql "github.com/davinsptra/cryptobroker/internal/ledger/infrastructure/persistence/mysql"
	ledgerhttp "github.com/davinsptra/cryptobroker/internal/ledger/interfaces/http"
	marketdataapp "github.com/davinsptra/cryptobroker/internal/marketdata/application"
	marketdatahttp "github.com/davinsptra/cryptobroker/internal/marketdata/interfaces/http"
	"github.com/davinsptra/cryptobroker/internal/notification"
	orderapp "github.com/davinsptra/cryptobroker/internal/order/application"
	orderdomain "github.com/davinsptra/cryptobroker/internal/order/domain"
	ordermysql "github.com/davinsptra/cryptobroker/internal/order/infrastructure/persistence/mysql"
	orderhttp "github.com/davinsptra/cryptobroker/internal/order/interfaces/http"
	"github.com/davinsptra/cryptobroker/internal/provider/oxapay"
	referralapp "github.com/davinsptra/cryptobroker/internal/referral/application"
	referraldomain "github.com/davinsptra/cryptobroker/internal/referral/domain"
	referralmysql "github.com/davinsptra/cryptobroker/internal/referral/infrastructure/persistence/mysql"
	referralhttp "github.com/davinsptra/cryptobroker/internal/referral/interfaces/http"
	settlementapp "github.com/davinsptra/cryptobroker/internal/settlement/application"
	settlementhttp "github.com/davinsptra/cryptobroker/internal/settlement/interfaces/http"
	"github.com/davinsptra/cryptobroker/pkg/cache"
	"github.com/davinsptra/cryptobroker/pkg/config"
	"github.com/davinsptra/cryptobroker/pkg/db"
	"github.com/davinsptra/cryptobroker/pkg/logger"
	"github.com/davinsptra/cryptobroker/pkg/mq"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/config.toml", "config file path")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	ctx := context.Background()

	// 基础设施
	database, err := db.Init(db.Config{
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to connect database", "error", err)
	}
	defer database.Close()

	// AutoMigrate 仅用于开发方便，线上走迁移脚本
	if cfg.Environment == "dev" {
		if err := database.AutoMigrate(
			&ledgerdomain.Balance{},
			&ledgerdomain.Transaction{},
			&orderdomain.CryptoOrder{},
			&orderdomain.CoinSetting{},
			&fundingdomain.Deposit{},
			&fundingdomain.Withdrawal{},
			&referraldomain.Referral{},
			&referraldomain.Setting{},
		); err != nil {
			logger.Error(ctx, "failed to migrate database", "error", err)
		}
	}

	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", "error", err)
	}
	defer redisCache.Close()

	var events notification.Publisher = notification.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := mq.NewProducer(mq.Config{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		defer producer.Close()
		events = notification.NewKafkaPublisher(producer)
	}

	gateway := oxapay.New(oxapay.Config{
		BaseURL:        cfg.Oxapay.BaseURL,
		MerchantAPIKey: cfg.Oxapay.MerchantAPIKey,
		PayoutAPIKey:   cfg.Oxapay.PayoutAPIKey,
		WebhookSecret:  cfg.Oxapay.WebhookSecret,
		RequestTimeout: cfg.Oxapay.RequestTimeout,
	})

	// 应用服务
	ledgerSvc := ledgerapp.NewService(
		ledgermysql.NewBalanceRepository(database.DB),
		ledgermysql.NewTransactionRepository(database.DB),
		database,
	)

	marketdataSvc := marketdataapp.NewService(gateway, redisCache, marketdataapp.Config{
		FiatPerUSD: mustDecimal(ctx, "broker.fiat_per_usd", cfg.Broker.FiatPerUSD),
		CacheTTL:   time.Duration(cfg.Broker.RateCacheTTL) * time.Second,
	})

	referralSvc := referralapp.NewService(
		referralmysql.NewReferralRepository(database.DB),
		referralmysql.NewSettingRepository(database.DB),
		ledgerSvc,
	)

	orderSvc := orderapp.NewService(
		ordermysql.NewOrderRepository(database.DB),
		ordermysql.NewCoinSettingRepository(database.DB),
		ledgerSvc,
		marketdataSvc,
		gateway,
		events,
		orderapp.Config{
			MinBuyAmount:      mustDecimal(ctx, "broker.min_buy_amount", cfg.Broker.MinBuyAmount),
			MinSellProceeds:   mustDecimal(ctx, "broker.min_sell_proceeds", cfg.Broker.MinSellProceeds),
			DefaultMarginPct:  mustDecimal(ctx, "broker.default_margin_pct", cfg.Broker.DefaultMarginPct),
			SellDepositWindow: time.Duration(cfg.Broker.SellDepositWindow) * time.Second,
			BuyOrderLifetime:  time.Duration(cfg.Broker.BuyOrderLifetime) * time.Second,
			CallbackURL:       cfg.Oxapay.CallbackURL,
		},
	).WithBonusPayer(referralSvc)

	fundingSvc := fundingapp.NewService(
		fundingmysql.NewDepositRepository(database.DB),
		fundingmysql.NewWithdrawalRepository(database.DB),
		ledgerSvc,
		events,
		fundingapp.Config{
			MinDepositAmount:    mustDecimal(ctx, "broker.min_deposit_amount", cfg.Broker.MinDepositAmount),
			MinWithdrawalAmount: mustDecimal(ctx, "broker.min_withdrawal_amount", cfg.Broker.MinWithdrawalAmount),
		},
	)

	reconciler := settlementapp.NewReconciler(gateway, orderSvc, fundingSvc)

	// 接口层
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName, "currency": cfg.Broker.FiatCurrency})
	})
	settlementhttp.NewHandler(reconciler).RegisterRoutes(r)

	api := r.Group("/api/v1")
	ledgerhttp.NewHandler(ledgerSvc).RegisterRoutes(api)
	orderHandler := orderhttp.NewHandler(orderSvc)
	orderHandler.RegisterRoutes(api)
	fundingHandler := fundinghttp.NewHandler(fundingSvc)
	fundingHandler.RegisterRoutes(api)
	marketdatahttp.NewHandler(marketdataSvc).RegisterRoutes(api)
	referralHandler := referralhttp.NewHandler(referralSvc)
	referralHandler.RegisterRoutes(api)

	admin := r.Group("/api/v1/admin")
	orderHandler.RegisterAdminRoutes(admin)
	fundingHandler.RegisterAdminRoutes(admin)
	referralHandler.RegisterAdminRoutes(admin)

	// 启动
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.Info(gctx, "http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		orderSvc.RunExpirySweep(gctx, time.Duration(cfg.Broker.ExpirySweepInterval)*time.Second)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
}

func mustDecimal(ctx context.Context, key, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		logger.Fatal(ctx, "invalid decimal config value", "key", key, "value", value)
	}
	return d
}
