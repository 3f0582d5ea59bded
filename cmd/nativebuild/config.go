package main

import (
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/k11v/nativebuild/internal/apiclient"
	"github.com/k11v/nativebuild/internal/build"
	"github.com/k11v/nativebuild/internal/buildevent"
	"github.com/k11v/nativebuild/internal/upload"
)

// config holds the application configuration.
type config struct {
	LogLevel slog.Level         `env:"NATIVEBUILD_LOG_LEVEL"` // default: "INFO"
	API      apiclient.Config   `envPrefix:"NATIVEBUILD_API_"`
	Upload   upload.Config      `envPrefix:"NATIVEBUILD_UPLOAD_"`
	Poll     build.WaiterConfig `envPrefix:"NATIVEBUILD_POLL_"`
	Events   eventsConfig       `envPrefix:"NATIVEBUILD_EVENTS_"`
}

type eventsConfig struct {
	AMQP amqpConfig `envPrefix:"AMQP_"`
}

type amqpConfig struct {
	ConnectionString string `env:"CONNECTION_STRING"` // optional, events are only logged without it
	Queue            string `env:"QUEUE"`             // default: buildevent.DefaultQueue
}

func (c *amqpConfig) queue() string {
	if c.Queue == "" {
		return buildevent.DefaultQueue
	}
	return c.Queue
}

// parseConfig parses the application configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
