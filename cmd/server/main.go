// Command server runs the custodial multisig wallet service: HTTP API,
// audit outbox worker and the backing Postgres/Redis/Kafka connections.
// All backends are optional; without them the service runs on in-memory
// stores, which is the test and development mode.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	"custodia/internal/jwt_token"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/kafka"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/postgres"
	"custodia/internal/platform/redis"
	httptransport "custodia/internal/transport/http"
	"custodia/internal/wallet/cache"
	walletHandler "custodia/internal/wallet/handler"
	walletMetrics "custodia/internal/wallet/metrics"
	walletService "custodia/internal/wallet/service"
	walletStore "custodia/internal/wallet/store"
	txcontext "custodia/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	kafkaClient, err := kafka.New(ctx, cfg.KafkaBrokers, cfg.KafkaAuditTopic)
	if err != nil {
		log.Error("kafka unavailable", "error", err)
		os.Exit(1)
	}
	defer kafkaClient.Close()

	// Stores and the unit-of-work runner: Postgres when configured,
	// in-memory otherwise.
	var (
		wallets       walletStore.WalletStore
		ledger        walletStore.LedgerStore
		confirmations walletStore.ConfirmationStore
		auditStore    audit.Store
		runner        txcontext.Runner = txcontext.NopRunner{}
	)
	if db != nil {
		wallets = walletStore.NewPostgresWallets(db)
		ledger = walletStore.NewPostgresLedger(db)
		confirmations = walletStore.NewPostgresConfirmations(db)
		auditStore = audit.NewPostgresStore(db)
		runner = txcontext.SQLRunner{DB: db}
	} else {
		memory := walletStore.NewInMemoryStore()
		wallets = memory.Wallets()
		ledger = memory.Ledger()
		confirmations = memory.Confirmations()
		auditStore = audit.NewMemoryStore()
	}

	auditor := audit.NewPublisher(auditStore, audit.WithLogger(log))
	service := walletService.NewService(wallets, ledger, confirmations,
		walletService.WithRunner(runner),
		walletService.WithAuditor(auditor),
		walletService.WithMetrics(walletMetrics.New()),
		walletService.WithSnapshotCache(cache.New(redisClient, config.SnapshotCacheTTL)),
		walletService.WithLogger(log),
	)

	router := httptransport.NewRouter(httptransport.Dependencies{
		Wallet:    walletHandler.New(service, log),
		Validator: jwttoken.NewJWTService(cfg.JWTSigningKey),
		Logger:    log,
		DB:        db,
		Redis:     redisClient,
	})
	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting custodia", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if kafkaClient != nil {
		worker := audit.NewWorker(auditStore, kafkaClient, cfg.KafkaAuditTopic, log)
		group.Go(func() error {
			err := worker.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
