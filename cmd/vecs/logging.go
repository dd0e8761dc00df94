package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vecs/pkg/config"
)

// configureLogger creates a logger with the level given by --log-level.
// Without the flag the logger is silent for normal operations.
func configureLogger(cmd *cobra.Command) (*logrus.Logger, error) {
	logLevel := logrus.PanicLevel

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}

// loadConfig resolves the application config from --config and --settings.
// A log_level set in the config file applies only when --log-level is absent.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	logger, err := configureLogger(cmd)
	if err != nil {
		return nil, nil, err
	}

	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, nil, err
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl == "" {
			logger.SetLevel(cfg.LogLevel)
		}
	}
	if path, _ := cmd.Flags().GetString("settings"); path != "" {
		cfg.SettingsPath = path
	}

	logger.WithFields(logrus.Fields{
		"settings": cfg.SettingsPath,
		"product":  cfg.ProductName,
	}).Debug("Configuration loaded")
	return cfg, logger, nil
}
