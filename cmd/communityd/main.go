package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"communityledger/config"
	"communityledger/core/events"
	coretypes "communityledger/core/types"
	"communityledger/gateway"
	"communityledger/native/community"
	"communityledger/observability/logging"
	"communityledger/observability/metrics"
	"communityledger/rpc"
	statecommunity "communityledger/state/community"
	"communityledger/storage"
)

const shutdownGrace = 10 * time.Second

// logEmitter forwards engine events to structured logs.
type logEmitter struct {
	log *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	attrs := []any{"event", evt.EventType()}
	if conv, ok := evt.(interface{ Event() *coretypes.Event }); ok {
		for key, value := range conv.Event().Attributes {
			attrs = append(attrs, key, value)
		}
	}
	l.log.Info("ledger event", attrs...)
}

// poolVault derives the deterministic address that custodies reward pools.
func poolVault() [20]byte {
	hash := ethcrypto.Keccak256([]byte("communityledger/pool-vault"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("COMMUNITY_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("communityd", env, cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := statecommunity.NewManager(db)
	engine := community.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(logEmitter{log: logger})
	engine.SetPoolVault(poolVault())

	if err := bootstrap(cfg, manager, engine, logger); err != nil {
		logger.Error("Failed to bootstrap ledger state", slog.Any("error", err))
		os.Exit(1)
	}

	if current, err := engine.CurrentPeriodID(); err == nil {
		metrics.Community().SetCurrentPeriod(current)
	}

	rpcServer := rpc.NewServer(engine, logger)
	if strings.TrimSpace(os.Getenv(rpc.TokenEnv)) == "" {
		logger.Warn("No RPC bearer token configured, mutating methods will be rejected", "env", rpc.TokenEnv)
	}

	servers := []*http.Server{
		{Addr: cfg.RPCAddress, Handler: rpcServer.Handler(), ReadHeaderTimeout: 5 * time.Second},
		{Addr: cfg.GatewayAddress, Handler: gateway.New(engine, logger).Router(), ReadHeaderTimeout: 5 * time.Second},
		{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
	names := []string{"rpc", "gateway", "metrics"}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		logger.Info("Listening", "server", names[i], "addr", srv.Addr)
		go func(name string, srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}(names[i], srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for i, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown incomplete", "server", names[i], slog.Any("error", err))
		}
	}
	logger.Info("Shutdown complete")
}

// bootstrap initializes the ledger on first boot and seeds the admin account
// with its genesis balance. Subsequent boots leave existing state untouched.
func bootstrap(cfg *config.Config, manager *statecommunity.Manager, engine *community.Engine, logger *slog.Logger) error {
	ready, err := engine.Initialized()
	if err != nil {
		return err
	}
	if ready {
		logger.Info("Resuming existing ledger state", "dataDir", cfg.DataDir)
		return nil
	}

	admin, err := cfg.Admin()
	if err != nil {
		return fmt.Errorf("resolve admin address: %w", err)
	}
	if err := engine.Initialize(cfg.CommunityName, cfg.CommunityDescription, [20]byte(admin)); err != nil {
		return err
	}
	balance, err := cfg.GenesisBalance()
	if err != nil {
		return fmt.Errorf("resolve genesis balance: %w", err)
	}
	if balance.Sign() > 0 {
		account := &coretypes.Account{Balance: new(big.Int).Set(balance)}
		if err := manager.PutAccount(admin.Bytes(), account); err != nil {
			return fmt.Errorf("seed admin balance: %w", err)
		}
	}
	logger.Info("Initialized ledger",
		"community", cfg.CommunityName,
		"admin", admin.String(),
		"genesisBalance", balance.String(),
	)
	return nil
}
