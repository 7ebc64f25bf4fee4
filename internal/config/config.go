package config

import (
	"log"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV,notEmpty"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	ExtractorURL  string `env:"EXTRACTOR_URL,notEmpty"`
	ExtractorKey  string `env:"EXTRACTOR_API_KEY"`
	StorageDir    string `env:"STORAGE_DIR" envDefault:"/var/lib/intake/blobs"`
	Workers       int    `env:"WORKER_COUNT" envDefault:"8"`
	WatchdogTick  int    `env:"WATCHDOG_TICK_SEC" envDefault:"30"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
