package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/zenmigration/zenmigrate/config"
	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/factory"
	"github.com/zenmigration/zenmigrate/internal/protocol"
	"github.com/zenmigration/zenmigrate/internal/token"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "zenmigrate",
	Short: "Migrate EON and ZEND balances into the capped ZEN token",
	Long: `zenmigrate prepares the EON and ZEND balance snapshots, computes their
checkpoint hashes, and runs the migration: it deploys the token, both ledgers
and the vesting schedules, uploads the snapshots in verified batches and
distributes the EON balances. The serve command keeps the result online so
ZEND holders can claim.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (.toml or .json), defaults to config/config.toml when present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup configures logging and loads the config. Environment variables
// override the file, flags override both.
func setup(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		configPath = os.Getenv("ZENMIGRATE_CONFIG")
	}

	var err error
	switch {
	case configPath != "":
		cfg, err = config.Load(configPath)
	default:
		if cfg, err = config.LoadDefault(); errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.Default(), nil
		}
	}
	if err != nil {
		return err
	}
	applyEnv(cfg)
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	lvl, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return nil
}

// parseLevel accepts the geth level names plus anything slog understands,
// such as "warn" or "info+2".
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.LevelTrace, nil
	case "crit":
		return log.LevelCrit, nil
	case "eror":
		return log.LevelError, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

func applyEnv(c *config.Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := os.Getenv("LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ZEN_NETWORK"); v != "" {
		c.Network = v
	}
	if v := os.Getenv("EON_SNAPSHOT"); v != "" {
		c.EONSnapshot = v
	}
	if v := os.Getenv("ZEND_SNAPSHOT"); v != "" {
		c.ZENDSnapshot = v
	}
}

// migrationParams maps the config onto the factory parameters.
func migrationParams(c *config.Config) (factory.Params, common.Address, error) {
	network, err := claim.NetworkByName(c.Network)
	if err != nil {
		return factory.Params{}, common.Address{}, err
	}
	operator := c.Admin
	if operator == (common.Address{}) {
		return factory.Params{}, common.Address{}, fmt.Errorf("%w: admin must be set", config.ErrInvalidConfig)
	}
	p := factory.DefaultParams(c.TokenName, c.TokenSymbol, c.DAO, c.Foundation)
	p.Admin = operator
	p.DAOPercent = c.DAOPercent
	p.ImmediatePercent = c.ImmediatePercent
	p.DAOSchedule = factory.Schedule{IntervalLength: c.DAOSchedule.IntervalLength, Intervals: c.DAOSchedule.Intervals}
	p.FoundationSchedule = factory.Schedule{IntervalLength: c.FoundationSchedule.IntervalLength, Intervals: c.FoundationSchedule.Intervals}
	p.Network = network
	p.Phrase = c.Phrase
	return p, operator, nil
}

func zen(amount *uint256.Int) string {
	return protocol.NewAmount(amount, token.Decimals).Value + " ZEN"
}
