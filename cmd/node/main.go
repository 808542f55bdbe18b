package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/minidex/params"
	"github.com/uhyunpark/minidex/pkg/api"
	"github.com/uhyunpark/minidex/pkg/exchange"
	"github.com/uhyunpark/minidex/pkg/storage"
	"github.com/uhyunpark/minidex/pkg/token"
	"github.com/uhyunpark/minidex/pkg/util"
)

// Custody address of the devnet exchange on the in-process token ledger.
var exchangeAddr = common.HexToAddress("0xE8c4A66E00000000000000000000000000000000")

// Devnet accounts, pre-funded with the demo tokens at startup.
var (
	deployer = common.HexToAddress("0xDe01000000000000000000000000000000000000")
	alice    = common.HexToAddress("0xA11c000000000000000000000000000000000000")
	bob      = common.HexToAddress("0xB0b0000000000000000000000000000000000000")
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Token ledger: two demo tokens, users funded by the deployer ----
	tokens := token.NewRegistry()
	dapp := token.NewToken("Dapp Token", "DAPP", 1_000_000_000, deployer)
	mdai := token.NewToken("Mock Dai", "MDAI", 2_000_000_000, deployer)
	tokens.Add(dapp)
	tokens.Add(mdai)

	if err := dapp.Transfer(deployer, alice, 100_000_000); err != nil {
		log.Fatalf("fund alice: %v", err)
	}
	if err := mdai.Transfer(deployer, bob, 100_000_000); err != nil {
		log.Fatalf("fund bob: %v", err)
	}
	sugar.Infow("tokens_deployed",
		"dapp", dapp.Address().Hex(), "mdai", mdai.Address().Hex(),
		"alice", alice.Hex(), "bob", bob.Hex())

	// ---- Persistence ----
	store, err := storage.Open(cfg.Node.DBPath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	// ---- Exchange ----
	ex, err := exchange.New(exchange.Config{
		Address:    exchangeAddr,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Tokens:     tokens,
		Clock:      util.RealClock{},
		Log:        sugar,
		Store:      store,
	})
	if err != nil {
		log.Fatalf("exchange: %v", err)
	}

	snap, err := store.Load()
	if err != nil {
		log.Fatalf("load state: %v", err)
	}
	if err := ex.Restore(snap); err != nil {
		log.Fatalf("restore state: %v", err)
	}
	sugar.Infow("exchange_ready",
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"orders", ex.OrdersCount(), "events", len(ex.Events()))

	// ---- API ----
	server := api.NewServer(ex)
	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil {
			log.Fatalf("api: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("shutting_down")
}
