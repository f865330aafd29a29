package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 初始化全局 logger：dev 环境人类可读并开 debug 级别，
// 其余环境输出 JSON。所有日志行带 service 字段，方便聚合检索。
func Init(env string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).Level(zerolog.DebugLevel).
			With().Timestamp().Str("service", "chatserver").Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).Level(zerolog.InfoLevel).
		With().Timestamp().Str("service", "chatserver").Logger()
}
