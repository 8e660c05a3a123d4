package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skoll/internal/api"
	"skoll/internal/asset"
	"skoll/internal/book"
	"skoll/internal/config"
	"skoll/internal/engine"
	"skoll/internal/ledger"
	"skoll/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to TOML config file (optional)")
	flag.Parse()

	// Errors bubble up here so deferred cleanup (the state store in
	// particular) runs before the process exits.
	if err := run(*cfgPath); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the matching engine and its collaborators.
	registry := asset.NewRegistry(cfg.Market.QuoteAsset)
	for _, symbol := range cfg.Market.Assets {
		if err := registry.Register(symbol); err != nil {
			return fmt.Errorf("registering asset %s: %w", symbol, err)
		}
	}

	led := ledger.New()
	eng := engine.New(registry, led)
	eng.SetMaxFills(cfg.Engine.MaxFillsPerOrder)
	eng.SetFaucet(cfg.Faucet.Enabled, cfg.Faucet.MaxAmount)

	if cfg.Storage.DataDir != "" {
		st, err := store.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening state store: %w", err)
		}
		defer st.Close()

		if err := restore(st, led, eng); err != nil {
			return fmt.Errorf("restoring state: %w", err)
		}
		eng.SetStore(st)
		log.Info().Str("dir", cfg.Storage.DataDir).Msg("state store open")
	}

	srv := api.New(cfg.Server.ListenAddr, cfg.Server.AllowedOrigins, eng)
	eng.SetReporter(srv.Hub())

	return srv.Run(ctx)
}

// restore replays persisted assets, accounts and resting orders before
// the engine starts serving. Assets registered at runtime in a previous
// run come back first so their orders find an open market.
func restore(st *store.Store, led *ledger.Ledger, eng *engine.Engine) error {
	var assets, accounts, orders int

	err := st.Assets(func(symbol string) error {
		if err := eng.RegisterAsset(symbol); err != nil && !errors.Is(err, asset.ErrAlreadyRegistered) {
			return err
		}
		assets++
		return nil
	})
	if err != nil {
		return err
	}

	err = st.Accounts(func(trader, symbol string, acct ledger.Account) error {
		led.Restore(trader, symbol, acct)
		accounts++
		return nil
	})
	if err != nil {
		return err
	}

	err = st.Orders(func(o book.Order) error {
		orders++
		return eng.RestoreOrder(o)
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("assets", assets).
		Int("accounts", accounts).
		Int("orders", orders).
		Msg("state restored")
	return nil
}
