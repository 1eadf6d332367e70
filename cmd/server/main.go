package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/yurifrl/budgetimport/pkg/config"
	"github.com/yurifrl/budgetimport/pkg/server"
	"github.com/yurifrl/budgetimport/pkg/store"
)

func main() {
	flags := pflag.NewFlagSet("budgetimport-server", pflag.ExitOnError)
	cfgFile := flags.StringP("config", "c", "", "Config file (default is config.yaml)")
	flags.String("server.addr", "", "Listen address")
	flags.String("store.path", "", "Ledger database path")
	flags.String("log.level", "", "Log level")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Build(*cfgFile, flags)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Prefix:          "budgetimport",
		Level:           cfg.LogLevel(),
	})

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		logger.Fatal("failed to open store", "err", err)
	}
	defer st.Close()

	imp, err := cfg.NewImporter(logger)
	if err != nil {
		logger.Fatal("invalid import config", "err", err)
	}

	srv := server.New(cfg, logger, imp, store.NewLedger(st))
	logger.Info("starting server", "addr", cfg.Server.Addr, "store", cfg.Store.Path)
	if err := srv.Start(cfg.Server.Addr); err != nil {
		logger.Fatal("server error", "err", err)
	}
}
