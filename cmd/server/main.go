package main

import (
	"context"

	"github.com/OFFIS-RIT/tvkpi/internal/config"
	"github.com/OFFIS-RIT/tvkpi/internal/server"
	"github.com/OFFIS-RIT/tvkpi/internal/storage"
	"github.com/OFFIS-RIT/tvkpi/internal/util"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	s, closeStore, err := storage.Open(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Could not open result store", "backend", cfg.Storage, "err", err)
	}
	defer closeStore()

	server.Init(s, cfg.ServerPort)
}
