package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pledgepool/config"
	"pledgepool/native/oracle"
	"pledgepool/native/pledge"
	"pledgepool/native/router"
	"pledgepool/native/token"
	"pledgepool/observability/logging"
	"pledgepool/rpc"
	"pledgepool/storage"
)

const (
	envNameEnv  = "PLEDGE_ENV"
	rpcTokenEnv = "PLEDGE_RPC_TOKEN"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envNameEnv))
	logger := logging.Setup("pledged", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	admin := common.HexToAddress(cfg.AdminAddress)
	vault := common.HexToAddress(cfg.VaultAddress)

	registry := token.NewRegistry()
	for _, tc := range cfg.Tokens {
		owner := common.HexToAddress(tc.Owner)
		tok := token.New(common.HexToAddress(tc.Address), owner, tc.Name, tc.Symbol)
		registry.Register(tok)
		// The engine mints receipt tokens and burns them on withdrawal from
		// the vault account, so every registered ledger allowlists it.
		if err := tok.AddMinter(owner, vault); err != nil {
			panic(fmt.Sprintf("Failed to allowlist vault on token %s: %v", tc.Symbol, err))
		}
		logger.Info("registered token", slog.String("symbol", tc.Symbol), slog.String("address", tc.Address))
	}

	ora := oracle.New(admin)
	swap := router.NewPairRouter(registry, common.HexToAddress(cfg.RouterAddress))

	engine := pledge.NewEngine(vault, admin)
	engine.SetState(pledge.NewStateStore(db))
	engine.SetTokens(registry)
	engine.SetOracle(ora)
	engine.SetRouter(swap)

	feeAddress := vault
	if cfg.FeeAddress != "" {
		feeAddress = common.HexToAddress(cfg.FeeAddress)
	}
	engine.SetFees(big.NewInt(cfg.LendFee), big.NewInt(cfg.BorrowFee), feeAddress)

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		authToken = cfg.RPCToken
	}
	if authToken == "" {
		logger.Warn("RPC auth token not configured; admin methods are disabled")
	}

	server := rpc.NewServer(engine, ora, registry, authToken, logger)
	logger.Info("pledged started",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("dataDir", cfg.DataDir),
		slog.Int("tokens", len(cfg.Tokens)),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
