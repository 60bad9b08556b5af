package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/peiko-en/exchange/internal/matching/application"
	"github.com/peiko-en/exchange/internal/matching/infrastructure"
	"github.com/peiko-en/exchange/internal/matching/interfaces"
	"github.com/peiko-en/exchange/pkg/cache"
	"github.com/peiko-en/exchange/pkg/config"
	"github.com/peiko-en/exchange/pkg/db"
	"github.com/peiko-en/exchange/pkg/idgen"
	"github.com/peiko-en/exchange/pkg/logging"
	"github.com/peiko-en/exchange/pkg/mq"
)

var configPath = flag.String("config", "configs/matching/config.toml", "config file path")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	logger := logging.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	kafkaCfg := mq.Config{
		Brokers:      cfg.Kafka.Brokers,
		GroupID:      cfg.Kafka.GroupID,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	}
	producer, err := mq.NewProducer(kafkaCfg)
	if err != nil {
		logger.Error("failed to create kafka producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumer, err := mq.NewConsumer(kafkaCfg, cfg.Kafka.OrderTopic)
	if err != nil {
		logger.Error("failed to create kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// 仓储
	gormDB := database.DB
	orderRepo := infrastructure.NewGormOrderRepository(gormDB)
	dealRepo := infrastructure.NewGormDealRepository(gormDB)
	userRepo := infrastructure.NewGormUserRepository(gormDB)
	pairRepo := infrastructure.NewGormPairRepository(gormDB)
	walletRepo := infrastructure.NewGormWalletRepository(gormDB)
	feeRepo := infrastructure.NewGormFeeScheduleRepository(gormDB)
	feeLedgerRepo := infrastructure.NewGormFeeLedgerRepository(gormDB)
	priceRepo := infrastructure.NewGormPriceHistoryRepository(gormDB)
	orderIndex := infrastructure.NewHybridOrderIndex(gormDB, redisCache)
	botStorage := infrastructure.NewRedisBotOrderStorage(redisCache)
	txManager := infrastructure.NewTransactionManager(gormDB)
	rewards := infrastructure.NewGormRewardProgram(gormDB, decimal.NewFromFloat(cfg.Matching.RewardRate))

	aggregator, err := infrastructure.NewDepthAggregator(cfg.Matching.AggregationBackend, gormDB, redisCache, logger)
	if err != nil {
		logger.Error("failed to create depth aggregator", "error", err)
		os.Exit(1)
	}

	gen, err := idgen.NewSnowflake(cfg.Matching.NodeID)
	if err != nil {
		logger.Error("failed to create id generator", "error", err)
		os.Exit(1)
	}
	publisher := infrastructure.NewKafkaEventPublisher(
		producer, gen, cfg.Kafka.MarketDataTopic, cfg.Kafka.ExternalOrderTopic, logger)

	// 应用服务
	feeManager := application.NewFeeManager(feeRepo, logger)
	settlement := application.NewSettlement(
		dealRepo, walletRepo, orderRepo, feeLedgerRepo, rewards,
		publisher, txManager, cfg.Matching.ExchangeTrading, logger)
	orderBook := application.NewOrderBook(orderIndex, orderRepo, logger)
	trading := application.NewTrading(
		orderBook, aggregator, settlement, feeManager,
		orderRepo, userRepo, pairRepo, walletRepo, priceRepo, publisher, logger)
	botCloser := application.NewBotOrderCloser(trading, orderRepo, botStorage, logger)
	rebuilder := application.NewBookRebuilder(
		aggregator, orderIndex, orderRepo, dealRepo, pairRepo, botStorage,
		cfg.Matching.LiquidityBotID, logger)

	dispatcher := interfaces.NewDispatcher(
		consumer, trading, botCloser, rebuilder, orderRepo, pairRepo, logger)

	logger.Info("matching service started",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"depth_backend", cfg.Matching.AggregationBackend)

	if err := dispatcher.Run(ctx); err != nil {
		logger.Error("dispatcher stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("matching service stopped")
}
