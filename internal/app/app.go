// Package app собирает движок заказов, транспорты и фоновые воркеры в один процесс.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/orderengine/internal/health"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/orderengine/internal/service/grpc"
	"github.com/vladislavdragonenkov/orderengine/internal/service/httpapi"
	"github.com/vladislavdragonenkov/orderengine/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderengine/internal/tracing"
	"github.com/vladislavdragonenkov/orderengine/internal/version"
)

const grpcStopTimeout = 5 * time.Second

// ConfigureLogging настраивает глобальный logrus по уровню и формату из конфигурации.
func ConfigureLogging(cfg Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == LogFormatJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Run запускает gRPC, HTTP API, сервер метрик и воркеры; возвращается после отмены ctx
// или первой фатальной ошибки любого из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	tracer, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    version.ServiceName(),
		ServiceVersion: version.GetVersion(),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
	}, nil)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(tracer, logger)

	engineMetrics := metrics.NewEngineMetrics()
	outboxMetrics := metrics.NewOutboxMetrics()

	engine, err := newEngine(cfg, deps, engineMetrics, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithGuardLogger(logger.WithField("component", "idempotency")),
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithStatusCode(httpapi.StatusCodeOf),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if cfg.OutboxMaxPending > 0 {
		healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}

	grpcServer, grpcHealth := newGRPCServer(grpcsvc.NewOrderService(engine, guard, logger.WithField("layer", "grpc")), logger)
	apiServer := newAPIServer(httpapi.NewHandler(engine, guard, logger.WithField("layer", "http")).Routes())

	// Ошибка уже залогирована: без брокеров сервис работает, события копятся в outbox.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(producer, logger)

	g, gctx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := serveHTTP(apiServer, apiLis); err != nil {
			return fmt.Errorf("http api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(apiServer, logger)
		return nil
	})

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})

	if producer != nil {
		worker := newOutboxWorker(cfg, deps.outboxRepo, producer, outboxMetrics, logger)
		outboxCtx, cancelOutbox := context.WithCancel(gctx)
		outboxDone := make(chan struct{})
		g.Go(func() error {
			defer close(outboxDone)
			worker.Run(outboxCtx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownOutboxWorker(cancelOutbox, outboxDone, logger)
			return nil
		})

		consumer, err := startPaymentCallbackConsumer(gctx, cfg, engine, producer, outboxMetrics, logger)
		if err != nil {
			logger.WithError(err).Warn("payment callback consumer is disabled")
		} else {
			g.Go(func() error {
				<-gctx.Done()
				stopConsumer(consumer, logger)
				return nil
			})
		}
	} else {
		logger.Warn("kafka is not configured: outbox events stay pending, payment callbacks are not consumed")
	}

	err = g.Wait()
	shutdownHTTP(metricsSrv, logger)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// newGRPCServer регистрирует сервис заказов, health, reflection и prometheus-интерсепторы.
func newGRPCServer(orderService *grpcsvc.OrderService, logger *log.Entry) (*grpc.Server, *health.Server) {
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

	grpcLogger := logger.WithField("layer", "grpc")
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcsvc.UnaryRecoveryInterceptor(grpcLogger),
		grpcsvc.UnaryLoggingInterceptor(grpcLogger),
	))
	grpcsvc.RegisterOrderLifecycleServer(server, orderService)
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

// stopGRPC дожидается активных вызовов, но не дольше timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if timeout <= 0 {
		timeout = grpcStopTimeout
	}
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownOutboxWorker отменяет polling и ждёт завершения текущего батча.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info("outbox worker stopped")
	case <-time.After(grpcStopTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}

func shutdownTracing(provider *tracing.Provider, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := provider.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("failed to shutdown tracing")
	}
}
