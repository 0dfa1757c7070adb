package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/config"
	"stakeledger/core/events"
	"stakeledger/core/state"
	"stakeledger/native/bank"
	nativecommon "stakeledger/native/common"
	"stakeledger/native/staking"
	"stakeledger/observability/logging"
	telemetry "stakeledger/observability/otel"
	"stakeledger/services/stakingd/journal"
	"stakeledger/services/stakingd/server"
	"stakeledger/storage"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "stakingd.yaml", "path to stakingd config (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("stakingd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stakingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Enabled:     cfg.Telemetry.Enabled,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager, cfg.Bank.HolderAddress())
	ledger.SetFeeSink(cfg.Bank.FeeSinkAddress())
	for asset, bps := range cfg.Bank.FeesBps {
		if err := ledger.SetTransferFee(asset, bps); err != nil {
			log.Fatalf("configure %s transfer fee: %v", asset, err)
		}
	}

	emitters := events.Fanout{eventLogger{logger: logger}}
	var eventSource server.EventSource
	if cfg.Journal.Enabled() {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
		defer j.Close()
		emitters = append(emitters, j)
		eventSource = j
	}

	admins, err := cfg.Auth.AdminAddresses()
	if err != nil {
		log.Fatalf("parse admins: %v", err)
	}
	adminSet := server.NewAdminSet(admins)

	engine := staking.NewEngine()
	engine.SetState(manager)
	engine.SetTransfers(ledger)
	engine.SetEmitter(emitters)
	engine.SetPauses(nativecommon.StaticPauses{"staking": cfg.Staking.Paused})
	if len(admins) > 0 {
		engine.SetAuthority(adminSet)
	}
	if err := bootstrap(engine, admins, cfg.Staking.VersionTag, logger); err != nil {
		log.Fatalf("bootstrap ledger: %v", err)
	}

	secret, err := cfg.Auth.Secret()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	srv := server.New(server.Config{
		Ledger: engine,
		Bank:   ledger,
		Events: eventSource,
		Auth: server.NewAuthenticator(server.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}),
		RateLimit: server.NewRateLimiter(server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		}),
		Admins: adminSet,
		Faucet: cfg.Bank.Faucet,
		Logger: logger,
		Ready: func(context.Context) error {
			_, err := db.Has([]byte("staking/meta"))
			return err
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("stakingd listening", slog.String("addr", listener.Addr().String()), slog.String("storage", cfg.Storage.Backend))
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// bootstrap upgrades the store layout and records the administrator on first
// start.
func bootstrap(engine *staking.Engine, admins []common.Address, versionTag uint64, logger *slog.Logger) error {
	from, err := engine.Migrate()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if from != staking.CurrentSchemaVersion {
		logger.Info("ledger schema migrated", slog.Uint64("from", from), slog.Uint64("to", staking.CurrentSchemaVersion))
	}
	var admin common.Address
	if len(admins) > 0 {
		admin = admins[0]
	}
	err = engine.Initialize(admin, versionTag)
	if errors.Is(err, staking.ErrAlreadyInitialized) {
		return nil
	}
	return err
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.Path)
	default:
		return storage.NewLevelDB(cfg.Path)
	}
}

// eventLogger mirrors ledger events into the service log at debug level.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	l.logger.Debug("ledger event", slog.String("type", evt.EventType()))
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	cfgPath := fs.String("config", "stakingd.yaml", "path to stakingd config")
	subject := fs.String("subject", "", "caller address the token authenticates")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*subject) {
		return fmt.Errorf("subject %q is not a hex address", *subject)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secret, err := cfg.Auth.Secret()
	if err != nil {
		return err
	}
	token, err := server.IssueToken(server.AuthConfig{
		HMACSecret: secret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, common.HexToAddress(*subject), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
