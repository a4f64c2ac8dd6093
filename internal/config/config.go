// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"io"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/vertti/bgzchunk/internal/inflate"
	"github.com/vertti/bgzchunk/internal/source"
)

// Prefix is prepended to every environment variable, e.g. BGZCHUNK_LOG_LEVEL.
const Prefix = "bgzchunk"

// log formats as defined by LOG_FORMAT env variable
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

type LogConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

type Config struct {
	InflateBackend  string `envconfig:"INFLATE_BACKEND" default:"batched"`
	InflateWorkers  int    `envconfig:"INFLATE_WORKERS" default:"0"`
	InitialReadSize int    `envconfig:"INITIAL_READ_SIZE" default:"16777216"`
	LogConfig
}

// Load reads the configuration from BGZCHUNK_* environment variables.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	if c.InitialReadSize <= 0 {
		return Config{}, fmt.Errorf("INITIAL_READ_SIZE must be positive, got %d", c.InitialReadSize)
	}
	return c, nil
}

// Backend builds the configured inflate backend.
func (c Config) Backend() (inflate.Backend, error) {
	return inflate.New(c.InflateBackend, c.InflateWorkers)
}

// SourceOptions builds reader options from the configuration.
func (c Config) SourceOptions(log logrus.FieldLogger) (*source.Options, error) {
	backend, err := c.Backend()
	if err != nil {
		return nil, err
	}
	return &source.Options{
		Backend:         backend,
		InitialReadSize: c.InitialReadSize,
		Logger:          log,
	}, nil
}

// NewLogger builds a logger writing to out at the configured level and format.
func (c Config) NewLogger(out io.Writer) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(out)

	logger := log.WithFields(logrus.Fields{})

	// Format and level come from LOG_FORMAT and LOG_LEVEL.
	if c.LogConfig.LogFormat == LogFormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	logLevel, err := logrus.ParseLevel(c.LogConfig.LogLevel)
	if err != nil {
		logger.Error("Invalid Log Level: ", c.LogConfig.LogLevel)
	} else {
		log.SetLevel(logLevel)
	}

	return logger
}
