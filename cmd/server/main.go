package main

import (
	"github.com/OFFIS-RIT/deepresearch/internal/config"
	"github.com/OFFIS-RIT/deepresearch/internal/server"
	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		config.LogConfig{}.InitLogger("server")
		logger.Fatal("Invalid configuration", "err", err)
	}
	cfg.Log.InitLogger("server")

	server.Init(cfg)
}
