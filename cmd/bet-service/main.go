package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/cup-betting-engine/internal/auth"
	"github.com/radieske/cup-betting-engine/internal/bet-service/cache"
	"github.com/radieske/cup-betting-engine/internal/bet-service/fixtures"
	httpapi "github.com/radieske/cup-betting-engine/internal/bet-service/http"
	"github.com/radieske/cup-betting-engine/internal/bet-service/producer"
	"github.com/radieske/cup-betting-engine/internal/bet-service/pubsub"
	"github.com/radieske/cup-betting-engine/internal/bet-service/ws"
	"github.com/radieske/cup-betting-engine/internal/betting"
	"github.com/radieske/cup-betting-engine/internal/ledger"
	"github.com/radieske/cup-betting-engine/internal/market"
	"github.com/radieske/cup-betting-engine/internal/settlement"
	sharedcache "github.com/radieske/cup-betting-engine/internal/shared/cache"
	"github.com/radieske/cup-betting-engine/internal/shared/config"
	"github.com/radieske/cup-betting-engine/internal/shared/db"
	"github.com/radieske/cup-betting-engine/internal/shared/kafka"
	"github.com/radieske/cup-betting-engine/internal/shared/logger"
	"github.com/radieske/cup-betting-engine/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("bet-service", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "bet-service"), zap.String("env", cfg.Env))

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	local := cfg.Env == "local"

	// Métricas Prometheus
	betsPlaced := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bets_placed_total", Help: "apostas gravadas por mercado"}, []string{"market_id"})
	betsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bets_rejected_total", Help: "apostas rejeitadas por código"}, []string{"reason"})
	stakeVolume := prometheus.NewCounter(prometheus.CounterOpts{Name: "bets_stake_units_total", Help: "volume apostado (unidades mínimas)"})
	marketsOpened := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "markets_opened_total", Help: "mercados abertos"}, []string{"kind"})
	marketsLocked := prometheus.NewCounter(prometheus.CounterOpts{Name: "markets_locked_total", Help: "mercados travados (manual ou auto-lock)"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlements_total", Help: "liquidações por resultado"}, []string{"result"})
	settleDur := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "settlement_duration_seconds", Help: "duração da liquidação", Buckets: prometheus.DefBuckets})
	residual := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_rounding_residual_units_total", Help: "resíduo de arredondamento enviado ao bucket da plataforma"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bet_service_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(betsPlaced, betsRejected, stakeVolume, marketsOpened, marketsLocked, settlements, settleDur, residual, errorsBy)

	// Persistência, sessões e broadcast: memória em ENV=local, Postgres/Redis/Kafka nos demais
	var (
		store     ledger.Store
		sessions  auth.Sessions
		verifier  auth.Verifier
		viewCache httpapi.ViewCache
		bcast     pubsub.Broadcaster
		invalid   pubsub.Invalidator
		publisher *producer.KafkaPublisher
		pg        *sql.DB
		rdb       *redis.Client
	)
	hub := ws.NewHub(allowOrigin(cfg.AllowedOrigins), log)

	if local {
		store = ledger.NewMemory()
		sessions = auth.NewMemorySessions()
		verifier = auth.AllowAll{}
		bcast = ws.LocalBroadcaster{Hub: hub}
		log.Warn("local mode: in-memory ledger and unverified signatures")
	} else {
		pg, err = db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connect", zap.Error(err))
		}
		defer pg.Close()
		if err := ledger.Migrate(ctx, pg); err != nil {
			log.Fatal("ledger migrate", zap.Error(err))
		}
		store = ledger.NewPostgres(pg)

		rdb, err = sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer rdb.Close()
		sessions = auth.NewRedisSessions(rdb)
		mc := cache.New(rdb, cfg.MarketCacheTTL)
		viewCache, invalid = mc, mc
		bcast = pubsub.NewRedisBroadcaster(rdb)
		ws.StartRedisSubscriber(ctx, rdb, cfg.RedisPubSubChannel, hub, log)

		if cfg.IdentityURL == "" {
			log.Fatal("IDENTITY_URL is required outside local env")
		}
		verifier = auth.NewHTTPVerifier(cfg.IdentityURL)

		betWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetPlaced)
		defer betWriter.Close()
		settledWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketSettled)
		defer settledWriter.Close()
		publisher = producer.NewKafkaPublisher(betWriter, settledWriter)
	}
	notifier := pubsub.NewNotifier(invalid, bcast, cfg.RedisPubSubChannel)

	gate := auth.NewGate(verifier, sessions, cfg.SessionTTL, log)

	// Settlement engine (liquidação disparada pelo operador; o worker cobre os resultados do oráculo)
	settle := settlement.NewEngine(store, log)
	settle.Treasury = settlement.NewTreasuryClient(cfg.TreasuryURL)
	if publisher != nil {
		settle.Publisher = publisher
	}
	if rdb != nil {
		// mesmo lease do settlement-worker: só um processo recupera cada mercado
		settle.Locker = sharedcache.NewLocker(rdb)
	}
	settle.OnSettled = func(rec ledger.SettlementRecord, took time.Duration) {
		result := "settled"
		if rec.Voided {
			result = "voided"
		}
		settlements.WithLabelValues(result).Inc()
		settleDur.Observe(took.Seconds())
		residual.Add(float64(rec.RoundingResidual))
	}
	settle.OnError = func(stage string) { errorsBy.WithLabelValues("settlement_" + stage).Inc() }

	markets := market.NewEngine(store, log)
	markets.Voider = settle
	markets.DefaultFeePlatformBps = cfg.DefaultFeePlatformBps
	markets.DefaultFeeOracleBps = cfg.DefaultFeeOracleBps
	markets.OnOpened = func(m ledger.Market) { marketsOpened.WithLabelValues(string(m.Kind)).Inc() }
	markets.OnLocked = func(id string) {
		marketsLocked.Inc()
		nctx, ncancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer ncancel()
		if m, err := store.GetMarket(nctx, id); err == nil {
			if err := notifier.StatusChanged(nctx, m); err != nil {
				log.Warn("status notify failed", zap.String("market_id", id), zap.Error(err))
			}
		}
	}
	markets.OnError = func(stage string) { errorsBy.WithLabelValues("market_" + stage).Inc() }

	bets := betting.NewService(store, gate, log)
	if publisher != nil {
		bets.Publisher = publisher
	}
	bets.Notifier = notifier
	bets.OnPlaced = func(b ledger.Bet) {
		betsPlaced.WithLabelValues(b.MarketID).Inc()
		stakeVolume.Add(float64(b.Amount))
	}
	bets.OnRejected = func(reason string) { betsRejected.WithLabelValues(reason).Inc() }

	// Fixtures: sempre em local; nos demais só com FIXTURES_FILE
	if local || cfg.FixturesFile != "" {
		if err := seed(ctx, cfg.FixturesFile, markets, log); err != nil {
			log.Fatal("fixtures", zap.Error(err))
		}
	}

	api := &httpapi.Server{
		Log:        log,
		Store:      store,
		Markets:    markets,
		Bets:       bets,
		Settlement: settle,
		Gate:       gate,
		Cache:      viewCache,
		Notifier:   notifier,
		WS:         hub.HandleWS,
		AdminToken: cfg.AdminToken,
	}
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set: operator routes disabled")
	}

	// Servidor de métricas e health check
	health := metrics.All(
		func(ctx context.Context) error {
			if pg == nil {
				return nil
			}
			return pg.PingContext(ctx)
		},
		func(ctx context.Context) error {
			if rdb == nil {
				return nil
			}
			return rdb.Ping(ctx).Err()
		},
	)
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, health)
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort, // ex: 8083
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := markets.RunAutoLock(gctx, cfg.AutoLockInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	// mercados parados em settling (ex.: tesouraria fora do ar) voltam a ser liquidados
	g.Go(func() error {
		err := settle.RunRecovery(gctx, cfg.SettlementRecoveryInterval, cfg.SettlementStaleAfter)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = metricsSrv.Shutdown(sctx)
		return apiSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("bet-service stopped with error", zap.Error(err))
	}
	log.Info("bet-service stopped")
}

func seed(ctx context.Context, path string, markets *market.Engine, log *zap.Logger) error {
	f, err := fixtures.Load(path)
	if err != nil {
		return err
	}
	specs, err := f.Specs(time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := fixtures.Seed(ctx, markets, specs, log)
	if err != nil {
		return err
	}
	log.Info("fixtures loaded", zap.Int("opened", n), zap.Int("total", len(specs)))
	return nil
}

// allowOrigin aceita "*" ou uma lista separada por vírgula
func allowOrigin(allowed string) func(r *http.Request) bool {
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	set := map[string]bool{}
	for _, o := range strings.Split(allowed, ",") {
		set[strings.TrimSpace(o)] = true
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || set[o]
	}
}
