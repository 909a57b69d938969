// Command devbackend runs a local wallet backend and price oracle for development.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinsafe/pkg/devserver"
	"coinsafe/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/ilyakaznacheev/cleanenv"
)

type settings struct {
	Addr       string        `env:"DEVBACKEND_ADDR" env-default:":8000"`
	Secret     string        `env:"DEVBACKEND_SECRET" env-default:"coinsafe-dev-secret"`
	AccessTTL  time.Duration `env:"DEVBACKEND_ACCESS_TTL" env-default:"1m"`
	RefreshTTL time.Duration `env:"DEVBACKEND_REFRESH_TTL" env-default:"24h"`
	LogLevel   string        `env:"DEVBACKEND_LOG_LEVEL" env-default:"debug"`
}

func main() {
	var s settings
	if err := cleanenv.ReadEnv(&s); err != nil {
		log := logging.Console("error")
		log.Fatal().Err(err).Msg("invalid environment")
	}
	flag.StringVar(&s.Addr, "addr", s.Addr, "listen address")
	flag.DurationVar(&s.AccessTTL, "access-ttl", s.AccessTTL, "lifetime of issued access tokens")
	flag.Parse()

	log := logging.Console(s.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	cfg := devserver.DefaultConfig()
	cfg.Secret = []byte(s.Secret)
	cfg.AccessTTL = s.AccessTTL
	cfg.RefreshTTL = s.RefreshTTL
	cfg.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := devserver.New(cfg).Run(ctx, s.Addr); err != nil {
		log.Fatal().Err(err).Msg("dev backend failed")
	}
}
