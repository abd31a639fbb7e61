package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const Prefix = "ESFIXTURE_"

type Config struct {
	Home          string        `env:"HOME,expand" envDefault:"./target/elasticsearch-test"`
	HealthTimeout time.Duration `env:"HEALTH_TIMEOUT" envDefault:"60s"`
	Logger        Logger        `envPrefix:"LOGGER_"`
}

type Logger struct {
	Level int `env:"LEVEL" envDefault:"0"`
}

func Parse() (*Config, error) {
	conf, err := env.ParseAsWithOptions[Config](env.Options{
		Prefix: Prefix,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &conf, nil
}
