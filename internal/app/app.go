// Package app собирает сервис storefront: HTTP API, gRPC для дашборда,
// сервер метрик и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/config"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	httpapi "github.com/vladislavdragonenkov/storefront/internal/transport/http"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	gracefulStopTimeout = 5 * time.Second
	outboxDegradedAfter = 5 * time.Minute
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg config.Config) error {
	logger := log.WithField("component", "app")
	logger.WithFields(log.Fields(version.Fields())).Info("starting storefront")

	storefrontMetrics := metrics.NewStorefrontMetrics()
	deps, err := NewDependencies(ctx, cfg, storefrontMetrics, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	instance := instanceID()
	msg, err := initMessaging(cfg.Kafka, instance, deps.Ledger, logger)
	if err != nil {
		return err
	}
	defer msg.close(logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion(), logger.WithField("layer", "health"))
	if deps.Store != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", deps.Store.Ping))
	}
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.Outbox, outboxDegradedAfter))

	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}
	metricsLis, err := net.Listen("tcp", cfg.Metrics.Addr)
	if err != nil {
		_ = grpcLis.Close()
		_ = httpLis.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}

	grpcServer, healthServer := newGRPCServer(deps, logger)
	httpSrv := &http.Server{
		Handler: httpapi.NewRouter(
			httpapi.NewHandler(deps.Checkout, deps.Settlement, deps.Ledger, deps.Catalog, logger.WithField("layer", "http")),
			deps.Idempotency,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := startMetricsServer(ctx, metricsLis, logger, healthHandler)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg.Workers, deps, msg, logger)
	msg.start(workersCtx)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC server listening on %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API listening on %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthHandler.SetReady(false)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(httpSrv, cfg.HTTP.ShutdownTimeout, logger)
	stopGRPC(grpcServer, logger)
	stopWorkers()
	workers.Wait()
	shutdownHTTP(metricsSrv, gracefulStopTimeout, logger)
	logger.Info("storefront stopped")
	return runErr
}

// newGRPCServer регистрирует LedgerService, health и reflection.
func newGRPCServer(deps *Dependencies, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	grpcsvc.RegisterLedgerServer(grpcServer, grpcsvc.NewLedgerService(deps.Ledger, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

// startWorkers запускает outbox и очистку idempotency-ключей.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg config.Workers, deps *Dependencies, msg *messaging, logger *log.Entry) {
	outboxWorker := outbox.NewWorker(deps.Outbox, msg.publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(nil)),
		outbox.WithDLQPublisher(msg.dlq),
		outbox.WithPollInterval(cfg.OutboxInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
	)
	cleanup := idempotency.NewCleanupWorker(deps.Idempotency,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(nil)),
		idempotency.WithInterval(cfg.IdempotencyInterval),
		idempotency.WithBatchSize(cfg.IdempotencyBatchSize),
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(gracefulStopTimeout):
		logger.Warn("graceful stop timed out, forcing grpc shutdown")
		srv.Stop()
	}
}

// startMetricsServer отдаёт /metrics, /healthz, /livez и /readyz.
func startMetricsServer(ctx context.Context, lis net.Listener, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics available at %s/metrics", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, gracefulStopTimeout, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = gracefulStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
