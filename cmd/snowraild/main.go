package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"SnowRail/internal/api"
	"SnowRail/internal/config"
	"SnowRail/internal/events"
	"SnowRail/internal/identity"
	"SnowRail/internal/metering"
	"SnowRail/internal/observability/alerting"
	"SnowRail/internal/observability/metrics"
	"SnowRail/internal/payroll"
	"SnowRail/internal/rail"
	"SnowRail/internal/settlement"
	"SnowRail/internal/settlement/evm"
	"SnowRail/internal/settlement/ledger"
	"SnowRail/internal/treasury"
	"SnowRail/pkg/logger"
)

// main 是 SnowRail 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("snowraild 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("加载 .env 失败: %v", err)
	}

	configPath := os.Getenv("SNOWRAIL_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "snowrail.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("snowraild")

	table, err := metering.LoadPriceTable(cfg.Metering.PriceTable)
	if err != nil {
		return err
	}
	gate, err := metering.NewGate(table, cfg.Network, cfg.Metering.SentinelToken)
	if err != nil {
		return err
	}

	ledgerSvc, closeSettlement, err := createSettlement(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSettlement()

	railClient := rail.NewMockClient(rail.MockConfig{
		MinLatency:  time.Duration(cfg.Rail.MinLatencyMillis) * time.Millisecond,
		MaxLatency:  time.Duration(cfg.Rail.MaxLatencyMillis) * time.Millisecond,
		FailureRate: cfg.Rail.FailureRate,
	})

	var store payroll.Store
	switch cfg.Storage.Driver {
	case "memory", "":
		store = payroll.NewMemoryStore()
	case "mysql":
		s, err := payroll.NewMySQLStore(ctx, payroll.MySQLConfig{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		store = s
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Warn("关闭工资单存储失败", slog.String("error", err.Error()))
		}
	}()

	queue, err := createQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			lg.Warn("关闭事件队列失败", slog.String("error", err.Error()))
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.Alerting.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url})
	}
	dispatcher := alerting.NewFanout(notifiers...)
	processor := events.NewProcessor(queue,
		events.WithWorkerCount(cfg.Events.Workers),
		events.WithAlertDispatcher(dispatcher),
		events.WithRecordReader(store),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("事件处理器异常退出", slog.String("error", err.Error()))
		}
	}()

	orchestrator, err := payroll.NewOrchestrator(store, ledgerSvc, railClient,
		payroll.WithPublisher(events.NewPublisher(queue)),
		payroll.WithStepObserver(func(step payroll.Step, success bool) {
			metrics.ObservePayrollStep(string(step), success)
		}),
		payroll.WithRailPolicy(payroll.RailPolicy(cfg.Orchestrator.RailPolicy)),
		payroll.WithDefaultPayee(cfg.Orchestrator.DefaultPayee),
		payroll.WithTimeouts(cfg.Settlement.CallTimeout(), cfg.Rail.CallTimeout(), cfg.Orchestrator.FlowTimeout()),
	)
	if err != nil {
		return err
	}

	runner := treasury.NewRunner(ledgerSvc, treasury.Options{
		TestPayee:   cfg.Orchestrator.DefaultPayee,
		CallTimeout: cfg.Settlement.CallTimeout(),
	})
	if schedule := strings.TrimSpace(cfg.Treasury.CheckSchedule); schedule != "" {
		var minBalance *big.Int
		if cfg.Treasury.MinBalance > 0 {
			minBalance = big.NewInt(cfg.Treasury.MinBalance)
		}
		monitor, err := treasury.NewMonitor(runner, treasury.MonitorOptions{
			Schedule:   schedule,
			MinBalance: minBalance,
			Dispatcher: dispatcher,
		})
		if err != nil {
			return err
		}
		go monitor.Start(ctx)
	}

	card := identity.NewBuilder(gate, identity.Settings{
		BaseURL:         cfg.Server.PublicBaseURL,
		TreasuryAddress: ledgerSvc.Account().Treasury,
		ChainID:         cfg.ChainID(),
		PersistentAudit: cfg.Storage.Driver == "mysql",
		StorageProtocol: cfg.Storage.Driver,
	})

	if addr := strings.TrimSpace(cfg.Server.MetricsAddress); addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	lg.Info("snowrail 启动",
		slog.String("network", cfg.Network),
		slog.String("settlement", cfg.Settlement.Driver),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("treasury", ledgerSvc.Account().Treasury))

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Gate:     gate,
		Payrolls: orchestrator,
		Records:  store,
		Treasury: runner,
		Identity: card,
		Network:  cfg.Network,
	})
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createSettlement(ctx context.Context, cfg *config.Config) (settlement.Service, func(), error) {
	sc := cfg.Settlement
	switch sc.Driver {
	case "memory", "":
		signer := sc.PayerAddress
		if signer == "" {
			signer = sc.ContractAddress
		}
		account := settlement.Account{
			Treasury:      sc.ContractAddress,
			Token:         sc.TokenAddress,
			Payer:         signer,
			Signer:        signer,
			TokenDecimals: sc.TokenDecimals,
		}
		l := ledger.New(account, ledger.WithBalance(sc.TokenAddress, big.NewInt(sc.InitialBalance)))
		return l, func() {}, nil
	case "evm":
		key := strings.TrimSpace(os.Getenv(sc.PrivateKeyEnv))
		if key == "" {
			return nil, nil, fmt.Errorf("环境变量 %s 未设置签名私钥", sc.PrivateKeyEnv)
		}
		client, err := evm.Dial(ctx, evm.Config{
			RPCURL:        sc.RPCURL,
			Contract:      sc.ContractAddress,
			Token:         sc.TokenAddress,
			Payer:         sc.PayerAddress,
			TokenDecimals: sc.TokenDecimals,
			PrivateKeyHex: key,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知的结算驱动: %s", sc.Driver)
	}
}

func createQueue(ctx context.Context, cfg *config.Config) (events.Queue, error) {
	ec := cfg.Events
	switch ec.Driver {
	case "memory", "":
		return events.NewMemoryQueue(1024), nil
	case "redis":
		queue, err := events.NewRedisQueue(ctx, events.RedisQueueConfig{
			Address:   ec.Redis.Address,
			Password:  ec.Redis.Password,
			DB:        ec.Redis.DB,
			Queue:     ec.Redis.Queue,
			BlockWait: time.Duration(ec.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := events.NewRabbitMQQueue(events.RabbitMQConfig{
			URL:        ec.RabbitMQ.URL,
			Queue:      ec.RabbitMQ.Queue,
			Prefetch:   ec.RabbitMQ.Prefetch,
			Durable:    ec.RabbitMQ.Durable,
			AutoDelete: ec.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的事件队列驱动: %s", ec.Driver)
	}
}
