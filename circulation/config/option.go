package config

import (
	"go.uber.org/zap/zapcore"
)

type Option func(cfg *Config)

func WithLogLevel(level zapcore.Level) Option {
	return func(cfg *Config) {
		cfg.Log.LogLevel = level
	}
}

func WithStore(store string) Option {
	return func(cfg *Config) {
		if store != "" {
			cfg.Store = store
		}
	}
}
