package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fundflow/internal/cache"
	"fundflow/internal/config"
	"fundflow/internal/domain"
	"fundflow/internal/event"
	"fundflow/internal/gateway"
	handler "fundflow/internal/handler/http"
	"fundflow/internal/logger"
	"fundflow/internal/port"
	"fundflow/internal/repository/memory"
	"fundflow/internal/repository/migration"
	"fundflow/internal/repository/postgresql"
	"fundflow/internal/service"

	_ "github.com/lib/pq"
)

type repositories struct {
	tx          port.Transactor
	campaigns   port.CampaignRepository
	donations   port.DonationRepository
	votes       port.VoteRepository
	withdrawals port.WithdrawalRepository
	batches     port.RefundBatchRepository
}

type gateways struct {
	kyc     port.KYCProvider
	payouts port.PayoutGateway
	refunds port.RefundGateway
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	logger := logger.New(cfg.Logger.LoggerLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, closeDB, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	threshold, err := domain.ParseMoney(cfg.Voting.Threshold)
	if err != nil {
		return fmt.Errorf("parse voting.threshold: %w", err)
	}

	var batchCache port.BatchCache
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		batchCache = cache.NewRedisBatchCache(client, cfg.Redis.CacheTTL)
		logger.Info("refund batch cache enabled")
	}

	var events port.EventPublisher = event.NewLogPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := event.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		events = publisher
		logger.Info("publishing events to kafka", "topic", cfg.Kafka.Topic)
	}

	gw := buildGateways(cfg, logger)

	refunds := service.NewRefundService(service.RefundDeps{
		Tx:          repos.tx,
		Batches:     repos.batches,
		Donations:   repos.donations,
		Withdrawals: repos.withdrawals,
		Gateway:     gw.refunds,
		Cache:       batchCache,
		Events:      events,
		Logger:      logger,
	}, service.RefundConfig{
		MaxAttempts: cfg.Refund.MaxAttempts,
		Concurrency: cfg.Refund.Concurrency,
		CallTimeout: cfg.Refund.CallTimeout,
		StaleAfter:  cfg.Refund.StaleAfter,
	})
	campaigns := service.NewCampaignService(service.CampaignDeps{
		Campaigns:       repos.campaigns,
		Donations:       repos.donations,
		Votes:           repos.votes,
		Events:          events,
		Logger:          logger,
		VotingThreshold: threshold,
	})
	voting := service.NewVotingService(service.VotingDeps{
		Campaigns: repos.campaigns,
		Donations: repos.donations,
		Votes:     repos.votes,
		Events:    events,
		Logger:    logger,
	})
	withdrawals := service.NewWithdrawalService(service.WithdrawalDeps{
		Tx:          repos.tx,
		Campaigns:   repos.campaigns,
		Donations:   repos.donations,
		Withdrawals: repos.withdrawals,
		KYC:         gw.kyc,
		Payouts:     gw.payouts,
		Refunds:     refunds,
		Events:      events,
		Logger:      logger,
		PayoutGrace: cfg.Gateway.PayoutGrace,
	})

	tokens, err := handler.NewTokenVerifier(cfg.Token.JWTSecret, cfg.Token.Issuer)
	if err != nil {
		return err
	}
	h := handler.NewHandler(handler.Services{
		Campaigns:   campaigns,
		Voting:      voting,
		Withdrawals: withdrawals,
		Refunds:     refunds,
	}, tokens, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go recoverStaleTasks(ctx, refunds, cfg.Refund.RecoveryPeriod, logger)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	// In-flight refund calls settle before the stores close.
	refunds.Wait()
	return nil
}

func openRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories, func(), error) {
	if cfg.DB.Driver == "memory" {
		logger.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return repositories{
			tx:          store,
			campaigns:   memory.NewCampaignRepository(store),
			donations:   memory.NewDonationRepository(store),
			votes:       memory.NewVoteRepository(store),
			withdrawals: memory.NewWithdrawalRepository(store),
			batches:     memory.NewRefundBatchRepository(store),
		}, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DB.DatabaseURL)
	if err != nil {
		return repositories{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConnection)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConnection)
	db.SetConnMaxLifetime(cfg.DB.ConnectionLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return repositories{}, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migration.RunMigrations(ctx, db, cfg.DB.MigrationsPath, logger); err != nil {
		_ = db.Close()
		return repositories{}, nil, err
	}

	return repositories{
		tx:          postgresql.NewTransactor(db),
		campaigns:   postgresql.NewCampaignRepository(db),
		donations:   postgresql.NewDonationRepository(db),
		votes:       postgresql.NewVoteRepository(db),
		withdrawals: postgresql.NewWithdrawalRepository(db),
		batches:     postgresql.NewRefundBatchRepository(db),
	}, func() { _ = db.Close() }, nil
}

func buildGateways(cfg *config.Config, logger *slog.Logger) gateways {
	if cfg.Gateway.Mode == "simulated" {
		logger.Warn("using simulated payment gateways")
		return gateways{
			kyc:     &gateway.SimulatedKYC{},
			payouts: gateway.NewSimulatedPayouts(),
			refunds: gateway.NewSimulatedRefunds(nil),
		}
	}

	gc := gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	}
	kycURL := cfg.Gateway.KYCURL
	if kycURL == "" {
		kycURL = cfg.Gateway.BaseURL
	}
	return gateways{
		kyc:     gateway.NewKYCClient(kycURL, gc),
		payouts: gateway.NewPayoutClient(gc),
		refunds: gateway.NewRefundClient(gc),
	}
}

func recoverStaleTasks(ctx context.Context, refunds *service.RefundService, period time.Duration, logger *slog.Logger) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := refunds.RecoverStale(ctx); err != nil {
				logger.Error("stale refund recovery failed", "error", err)
			}
		}
	}
}
