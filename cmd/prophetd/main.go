package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Prophet-Chain/internal/api"
	"Prophet-Chain/internal/auth"
	"Prophet-Chain/internal/config"
	xerrors "Prophet-Chain/internal/errors"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/observability/alerting"
	"Prophet-Chain/internal/observability/metrics"
	"Prophet-Chain/internal/oracle"
	"Prophet-Chain/internal/prophecy"
	"Prophet-Chain/internal/reconcile"
	storagemysql "Prophet-Chain/internal/storage/mysql"
	"Prophet-Chain/internal/web3/provider"
	"Prophet-Chain/pkg/logger"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// main 是 Prophet 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("prophetd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 只在本地开发时存在，缺失不算错误。
	_ = godotenv.Load()

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "prophet.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("prophetd")

	store, err := openLedger(ctx, cfg.Storage.Ledger)
	if err != nil {
		return err
	}
	defer store.Close()

	queue, err := reconcile.NewQueue(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer queue.Close()

	registry, err := provider.NewRegistry(ctx, cfg.Web3, prophecy.BindContracts)
	if err != nil {
		return err
	}
	defer registry.Close()

	network, err := registry.Default()
	if err != nil {
		return err
	}

	catalog, err := oracle.Load(cfg.Oracles.Source)
	if err != nil {
		return err
	}

	var dispatcher alerting.Dispatcher
	if cfg.Alerting.Enabled {
		dispatcher = alerting.NewFanout(
			alerting.LogNotifier{},
			alerting.NewWebhookNotifier(cfg.Alerting.Webhooks, time.Duration(cfg.Alerting.TimeoutSeconds)*time.Second),
		)
	}

	service := prophecy.NewService(network.Client, network.Client, prophecy.ContractsOf(network),
		prophecy.WithStore(store),
		prophecy.WithProducer(queue),
		prophecy.WithCatalog(catalog),
		prophecy.WithAlertDispatcher(dispatcher),
		prophecy.WithPolicy(prophecy.PolicyFromConfig(cfg.Guard)),
		prophecy.WithMaxAttempts(cfg.Storage.Ledger.MaxAttempts),
	)

	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}

	reconciler := reconcile.New(store, network.Client, queue, queue,
		reconcile.WithWorkerCount(cfg.Queue.Workers),
		reconcile.WithRetryDelay(time.Duration(cfg.Queue.RetryDelaySeconds)*time.Second),
		reconcile.WithExtractor(service.Extractor()),
		reconcile.WithAlertDispatcher(dispatcher),
	)
	// 进程重启后重新投递未结算的交易。
	resumed, err := reconciler.Resume(ctx)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		Owner:           network.Client.Account(),
	}, service, authSvc)

	lg.Info("prophetd 启动",
		"address", cfg.Server.Address,
		"network", network.Name,
		"account", network.Client.Account().Hex(),
		"ledger", cfg.Storage.Ledger.Driver,
		"queue", cfg.Queue.Driver,
		"auth", authSvc.Enabled(),
		"resumed", resumed,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(groupCtx)
	})
	group.Go(func() error {
		return reconciler.Start(groupCtx)
	})
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		group.Go(func() error {
			return metrics.StartServer(groupCtx, cfg.Metrics.Address, cfg.Metrics.Path)
		})
	}
	return group.Wait()
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewMemoryStore(), nil
	case "mysql":
		return ledger.NewMySQLStore(ctx, storagemysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的账本驱动", xerrors.WithMetadata("driver", cfg.Driver))
	}
}
