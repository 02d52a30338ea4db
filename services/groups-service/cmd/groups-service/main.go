package main

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/groupchat/libs/broker"
	"github.com/md-rashed-zaman/groupchat/libs/config"
	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/grpcx"
	"github.com/md-rashed-zaman/groupchat/libs/httpx"
	otelx "github.com/md-rashed-zaman/groupchat/libs/otel"
	"github.com/md-rashed-zaman/groupchat/libs/outbox"
	"github.com/md-rashed-zaman/groupchat/libs/runtime"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/group"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/handlers"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/service"
	"github.com/md-rashed-zaman/groupchat/services/groups-service/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	serviceName := config.String("SERVICE_NAME", "groups-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_HEALTH_PORT", "9082")
	if err != nil {
		panic(err)
	}
	adminPort, err := config.Port("ADMIN_PORT", "8182")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(serviceName)

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		if err := grpcx.Probe(context.Background(), "127.0.0.1:"+grpcPort, serviceName); err != nil {
			logger.Error("healthcheck failed", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, storage.Migrations...); err != nil {
		logger.Error("db migration failed", "err", err)
		panic(err)
	}

	brokerCfg, err := broker.ConfigFromEnv(serviceName)
	if err != nil {
		panic(err)
	}
	msgBroker, err := broker.Open(brokerCfg, logger)
	if err != nil {
		logger.Error("broker setup failed", "err", err)
		panic(err)
	}
	defer func() { _ = msgBroker.Close() }()
	if err := msgBroker.Connect(ctx); err != nil {
		logger.Warn("broker not reachable at startup, will retry", "err", err)
	}

	pubCfg, err := outbox.PublisherConfigFromEnv(group.Exchange)
	if err != nil {
		panic(err)
	}
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(outboxRepo, msgBroker.Publisher(), logger, pubCfg)
	groups := service.New(outbox.NewUnitOfWork(pool, outboxRepo), storage.NewRepository(), logger)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		msgBroker.ReadyCheck(),
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(groups, logger).Register(mux)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpx.Ops(mux, logger), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	adminSrv := outbox.NewAdminServer(":"+adminPort, serviceName, outboxRepo, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		runtime.ServeHTTP(ctx, logger, adminSrv)
	}()
	go func() {
		defer wg.Done()
		outboxPublisher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := grpcx.NewHealthServer(serviceName, logger, checks...).ListenAndServe(ctx, ":"+grpcPort); err != nil {
			logger.Error("grpc health server error", "err", err)
		}
	}()

	runtime.ServeHTTP(ctx, logger, srv)
	wg.Wait()
}
