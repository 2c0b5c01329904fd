package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/cup-betting-engine/internal/shared/config"
	"github.com/radieske/cup-betting-engine/internal/shared/db"
	"github.com/radieske/cup-betting-engine/internal/shared/logger"
	"github.com/radieske/cup-betting-engine/internal/shared/metrics"
	thttp "github.com/radieske/cup-betting-engine/internal/treasury-service/http"
	trepo "github.com/radieske/cup-betting-engine/internal/treasury-service/repo"
)

func main() {
	cfg := config.Load()

	// Inicializa logger estruturado
	log, err := logger.New("treasury-service", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "treasury-service"), zap.String("env", cfg.Env))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Postgres fora de local; em local os aportes ficam em memória
	var (
		repo   thttp.Repo
		health metrics.HealthFunc
	)
	if cfg.Env == "local" {
		repo = trepo.NewMemory()
	} else {
		pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connect", zap.Error(err))
		}
		defer pg.Close()
		if err := trepo.Migrate(ctx, pg); err != nil {
			log.Fatal("treasury migrate", zap.Error(err))
		}
		repo = trepo.NewPostgres(pg)
		health = pg.PingContext
	}

	funded := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "treasury_fundings_total", Help: "aportes por status"}, []string{"status"})
	fundedUnits := prometheus.NewCounter(prometheus.CounterOpts{Name: "treasury_funded_units_total", Help: "valor aportado"})
	prometheus.MustRegister(funded, fundedUnits)

	api := thttp.NewServer(log, repo)
	api.OnFund = func(amount int64, created bool) {
		if !created {
			funded.WithLabelValues("duplicate").Inc()
			return
		}
		funded.WithLabelValues("funded").Inc()
		fundedUnits.Add(float64(amount))
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, health)
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort, // ex: 8084
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = metricsSrv.Shutdown(sctx)
		_ = apiSrv.Shutdown(sctx)
	}()

	log.Info("api listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("api srv", zap.Error(err))
	}
	log.Info("treasury-service stopped")
}
