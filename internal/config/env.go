package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// Env holds the daemon settings taken from the environment.
type Env struct {
	Addr       string `env:"CLEARCORE_ADDR" envDefault:"127.0.0.1:8503"`
	CtlAddr    string `env:"CLEARCORE_CTL_ADDR" envDefault:"127.0.0.1:4533"`
	ConfigFile string `env:"CLEARCORE_CONFIG" envDefault:"clearcore.yaml"`
}

// LoggerEnv holds the telemetry logger settings.
type LoggerEnv struct {
	InfluxServer string `env:"INFLUX_SERVER" envDefault:"http://localhost:9999"`
	InfluxToken  string `env:"INFLUX_TOKEN"`
	InfluxOrg    string `env:"INFLUX_ORG" envDefault:"clearcore"`
	InfluxBucket string `env:"INFLUX_BUCKET" envDefault:"clearcore.raw"`
	Address      string `env:"CLEARCORE_ADDRESS" envDefault:"ws://localhost:8503/api/ws"`
}

func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parsing environment: %w", err)
	}
	return e, nil
}

func LoadLoggerEnv() (LoggerEnv, error) {
	var e LoggerEnv
	if err := env.Parse(&e); err != nil {
		return LoggerEnv{}, fmt.Errorf("parsing environment: %w", err)
	}
	return e, nil
}
