package main

import (
	"time"

	"chatserver/internal/config"
	"chatserver/internal/db"
	clog "chatserver/internal/log"
	"chatserver/internal/presence"
	"chatserver/internal/server"
	"chatserver/internal/store"
	"chatserver/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	st := store.NewDBStore(gdb)
	hub := ws.NewHub()
	tracker := presence.NewTracker(hub, time.Duration(cfg.TypingIdleSeconds)*time.Second)
	defer tracker.Stop()

	r := server.SetupRouter(cfg, st, hub, tracker)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
