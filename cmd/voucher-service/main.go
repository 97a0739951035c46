// cmd/voucher-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"flashdeal/internal/pkg/bootstrap"
	"flashdeal/internal/pkg/cache"
	"flashdeal/internal/pkg/idgen"
	"flashdeal/internal/pkg/logger"
	"flashdeal/internal/pkg/mq"
	"flashdeal/internal/pkg/redis"
	"flashdeal/internal/pkg/redlock"
	"flashdeal/internal/service/voucher/application"
	"flashdeal/internal/service/voucher/infrastructure"
	"flashdeal/internal/service/voucher/infrastructure/adapter"
	"flashdeal/internal/service/voucher/interfaces"
)

const serviceName = "voucher-service"

// main 是应用的组装根：创建并组装所有依赖项，然后启动服务。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	// --- 基础设施 ---
	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	db, err := gorm.Open(mysql.Open(cfg.Infra.Mysql.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	if err := db.AutoMigrate(&infrastructure.SeckillVoucherModel{}, &infrastructure.VoucherOrderModel{}); err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	kafkaWriter := mq.NewWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.OrderEventsTopic)

	// --- 共享原语 ---
	locks := redlock.NewManager(redisClient)
	ids := idgen.NewWorker(redisClient)
	rebuildPool := cache.NewRebuildPool(cfg.Seckill.CacheRebuildWorkers)
	cacheClient := cache.NewClient(redisClient, locks, rebuildPool)

	// --- 出站适配器 ---
	admission, err := adapter.NewSeckillRedisAdapter(redisClient, cfg.Seckill.OrderStream)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize seckill adapter")
	}
	orderLog, err := adapter.NewOrderStreamAdapter(redisClient, cfg.Seckill.OrderStream)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize order stream")
	}
	voucherRepo := infrastructure.NewGormVoucherRepository(db)
	orderStore := infrastructure.NewGormOrderStore(db)
	events := adapter.NewOrderKafkaAdapter(kafkaWriter)

	// --- 应用层 ---
	tracer := otel.Tracer(serviceName)
	seckillService := application.NewSeckillService(ids, admission, voucherRepo, cacheClient, tracer)
	orderWorker := application.NewOrderWorker(orderLog, orderStore, locks, events)
	handler := interfaces.NewVoucherHandler(seckillService)

	// 持久化 worker 是单消费者的长任务，随服务启动
	orderWorker.Start(context.Background())

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			orderWorker.Stop()
			rebuildPool.Close()
			if err := kafkaWriter.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("error closing kafka writer")
			}
			if err := redisClient.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("error closing redis client")
			}
		},
	})
}
