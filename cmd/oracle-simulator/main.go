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

	ohttp "github.com/radieske/cup-betting-engine/internal/oracle-simulator/http"
	"github.com/radieske/cup-betting-engine/internal/shared/config"
	"github.com/radieske/cup-betting-engine/internal/shared/kafka"
	"github.com/radieske/cup-betting-engine/internal/shared/logger"
	"github.com/radieske/cup-betting-engine/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("oracle-simulator", cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Métricas Prometheus do simulador
	verifies := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "oracle_sim_verifications_total", Help: "verificações de assinatura"}, []string{"valid"})
	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "oracle_sim_results_published_total", Help: "resultados publicados"})
	prometheus.MustRegister(verifies, published)

	results := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketResults)
	defer results.Close()

	api := ohttp.NewServer(log, results)
	api.OnVerify = func(valid bool) {
		if valid {
			verifies.WithLabelValues("true").Inc()
			return
		}
		verifies.WithLabelValues("false").Inc()
	}
	api.OnPublish = published.Inc

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, nil)
	log.Info("oracle simulator (metrics) running", zap.String("addr", metricsSrv.Addr))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = metricsSrv.Shutdown(sctx)
		_ = srv.Shutdown(sctx)
	}()

	log.Info("oracle simulator (public) running",
		zap.String("addr", srv.Addr),
		zap.String("paths", "/verify,/oracle/results"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("public server error", zap.Error(err))
	}
}
