package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFileName = "kittyctl"
	configFileType = "yaml"
	envPrefix      = "KITTYCTL"

	cfgKeyAccount      = "account"
	cfgKeyStake        = "stake"
	cfgKeyBalancesFile = "balances_file"
	cfgKeySeed         = "seed"
	cfgKeyListen       = "listen"
	cfgKeyLogLevel     = "log.level"
	cfgKeyLogFormat    = "log.format"
	cfgKeyAuditLog     = "audit_log"
	cfgKeyTraceFile    = "trace_file"
	cfgKeyEventsLog    = "events_log"

	defaultBalancesFile = "balances.yaml"
	defaultListen       = ":8080"
)

// flagBindings maps command-line flags onto config keys so that a flag set on
// the command line beats the config file and the environment.
var flagBindings = map[string]string{
	"as":            cfgKeyAccount,
	"stake":         cfgKeyStake,
	"balances-file": cfgKeyBalancesFile,
	"seed":          cfgKeySeed,
	"log-level":     cfgKeyLogLevel,
	"log-format":    cfgKeyLogFormat,
	"listen":        cfgKeyListen,
	"audit-log":     cfgKeyAuditLog,
	"trace-file":    cfgKeyTraceFile,
	"events-log":    cfgKeyEventsLog,
}

// loadConfig reads kittyctl.yaml from configDir. A missing file is not an
// error. KITTYCTL_* variables override file values, e.g. KITTYCTL_LOG_LEVEL
// for log.level.
func loadConfig(cmd *cobra.Command, configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyStake, 10)
	v.SetDefault(cfgKeyBalancesFile, defaultBalancesFile)
	v.SetDefault(cfgKeyListen, defaultListen)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyLogFormat, "text")

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flag, key := range flagBindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind %s: %w", flag, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// newLogger builds the slog logger described by log.level and log.format.
func newLogger(w io.Writer, v *viper.Viper) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(cfgKeyLogLevel))); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format := strings.ToLower(v.GetString(cfgKeyLogFormat)); format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
