package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipdeck/clipd/internal/logging"
	"github.com/clipdeck/clipd/internal/store"
)

const defaultHistoryLimit = 25

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPD_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPD_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clipd/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/clipd", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPD")
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addDataFlag adds the shared --data-dir flag to a command.
func addDataFlag(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", defaultDataDir(), "shared data directory (history store + cursor state)")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "clipd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "clipd")
	}
	return "clipd-data"
}

// defaultInstance names this process's durable cursor. One serve process per
// host is the common case; run more with explicit --instance names.
func defaultInstance() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "default"
}

func openStore(dataDir string) (*store.Store, error) {
	s, err := store.Open(filepath.Join(dataDir, "clipd.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}
