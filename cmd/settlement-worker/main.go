package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/cup-betting-engine/internal/bet-service/producer"
	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
	"github.com/radieske/cup-betting-engine/internal/settlement"
	"github.com/radieske/cup-betting-engine/internal/settlement-worker/consumer"
	sharedcache "github.com/radieske/cup-betting-engine/internal/shared/cache"
	"github.com/radieske/cup-betting-engine/internal/shared/config"
	"github.com/radieske/cup-betting-engine/internal/shared/db"
	"github.com/radieske/cup-betting-engine/internal/shared/kafka"
	"github.com/radieske/cup-betting-engine/internal/shared/logger"
	"github.com/radieske/cup-betting-engine/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("settlement-worker", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Inicializa dependências: Postgres e Redis
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()
	if err := ledger.Migrate(ctx, pg); err != nil {
		log.Fatal("ledger migrate", zap.Error(err))
	}
	store := ledger.NewPostgres(pg)

	redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka: consome market_results, publica market_settled e a DLQ
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicMarketResults, cfg.ConsumerGroup)
	defer reader.Close()
	settledWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketSettled)
	defer settledWriter.Close()
	var dlq consumer.Writer
	if cfg.TopicMarketResultsDLQ != "" {
		w := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketResultsDLQ)
		defer w.Close()
		dlq = w
	}

	// Métricas Prometheus para monitoramento da liquidação
	results := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_results_consumed_total", Help: "resultados do oráculo por desfecho"}, []string{"result"})
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlements_total", Help: "liquidações por resultado"}, []string{"result"})
	settleDur := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "settlement_duration_seconds", Help: "duração da liquidação", Buckets: prometheus.DefBuckets})
	residual := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_rounding_residual_units_total", Help: "resíduo de arredondamento enviado ao bucket da plataforma"})
	treasury := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_treasury_delta_units_total", Help: "valor coberto pelo tesouro em mercados de odds fixas"})
	recovered := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_recovered_total", Help: "mercados recuperados de settling"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(results, settled, settleDur, residual, treasury, recovered, errorsBy)

	settle := settlement.NewEngine(store, log)
	settle.Treasury = settlement.NewTreasuryClient(cfg.TreasuryURL)
	settle.Publisher = producer.NewKafkaPublisher(nil, settledWriter)
	settle.Locker = sharedcache.NewLocker(redisClient)
	settle.OnSettled = func(rec ledger.SettlementRecord, took time.Duration) {
		result := "settled"
		if rec.Voided {
			result = "voided"
		}
		settled.WithLabelValues(result).Inc()
		settleDur.Observe(took.Seconds())
		residual.Add(float64(rec.RoundingResidual))
		if rec.TreasuryDelta > 0 {
			treasury.Add(float64(rec.TreasuryDelta))
		}
	}
	settle.OnRecovered = func(string) { recovered.Inc() }
	settle.OnError = func(stage string) { errorsBy.WithLabelValues(stage).Inc() }

	markets := market.NewEngine(store, log)
	markets.Voider = settle
	markets.OnError = func(stage string) { errorsBy.WithLabelValues("market_" + stage).Inc() }

	proc := consumer.NewProcessor(reader, dlq, markets, settle, log)
	proc.OnProcessed = func(result string) { results.WithLabelValues(result).Inc() }

	// Servidor de métricas e health check
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, metrics.All(
		pg.PingContext,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	))
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	log.Info("settlement-worker started",
		zap.String("consume", cfg.TopicMarketResults),
		zap.String("publish", cfg.TopicMarketSettled),
		zap.Duration("stale_after", cfg.SettlementStaleAfter))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error {
		return settle.RunRecovery(gctx, cfg.SettlementRecoveryInterval, cfg.SettlementStaleAfter)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("settlement-worker stopped with error", zap.Error(err))
	}
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = metricsSrv.Shutdown(sctx)
	log.Info("settlement-worker stopped")
}
