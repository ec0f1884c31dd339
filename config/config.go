package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultBatchSize        = 500
	DefaultDistributeCount  = 500
	DefaultDAOPercent       = 75
	DefaultImmediatePercent = 25
	DefaultPhrase           = "CLAIM"
	DefaultListen           = ":8080"

	// DefaultInterval is a 30 day vesting interval, DefaultIntervals of them
	// make four years.
	DefaultInterval  = 30 * 24 * 3600
	DefaultIntervals = 48
)

var ErrInvalidConfig = errors.New("invalid config")

// Schedule is a vesting schedule in seconds per interval and interval count.
type Schedule struct {
	IntervalLength uint64 `json:"interval_length" toml:"interval_length"`
	Intervals      uint64 `json:"intervals" toml:"intervals"`
}

// Config holds all configurable parameters for the application
type Config struct {
	// StorageDir holds the leveldb state. Empty keeps state in memory.
	StorageDir string `json:"storage_dir" toml:"storage_dir"`
	Listen     string `json:"listen" toml:"listen"`
	LogLevel   string `json:"log_level" toml:"log_level"`

	TokenName   string `json:"token_name" toml:"token_name"`
	TokenSymbol string `json:"token_symbol" toml:"token_symbol"`

	Admin      common.Address `json:"admin" toml:"admin"`
	DAO        common.Address `json:"dao" toml:"dao"`
	Foundation common.Address `json:"foundation" toml:"foundation"`

	DAOPercent         uint64   `json:"dao_percent" toml:"dao_percent"`
	ImmediatePercent   uint64   `json:"immediate_percent" toml:"immediate_percent"`
	DAOSchedule        Schedule `json:"dao_schedule" toml:"dao_schedule"`
	FoundationSchedule Schedule `json:"foundation_schedule" toml:"foundation_schedule"`

	// Network selects the zen address prefixes, "mainnet" or "testnet".
	Network string `json:"network" toml:"network"`
	Phrase  string `json:"phrase" toml:"phrase"`

	BatchSize       int    `json:"batch_size" toml:"batch_size"`
	DistributeCount uint64 `json:"distribute_count" toml:"distribute_count"`

	EONSnapshot  string `json:"eon_snapshot" toml:"eon_snapshot"`
	ZENDSnapshot string `json:"zend_snapshot" toml:"zend_snapshot"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Listen:             DefaultListen,
		LogLevel:           "info",
		TokenName:          "Horizen",
		TokenSymbol:        "ZEN",
		DAOPercent:         DefaultDAOPercent,
		ImmediatePercent:   DefaultImmediatePercent,
		DAOSchedule:        Schedule{IntervalLength: DefaultInterval, Intervals: DefaultIntervals},
		FoundationSchedule: Schedule{IntervalLength: DefaultInterval, Intervals: DefaultIntervals},
		Network:            "mainnet",
		Phrase:             DefaultPhrase,
		BatchSize:          DefaultBatchSize,
		DistributeCount:    DefaultDistributeCount,
	}
}

// Load reads and parses a TOML or JSON config file, chosen by extension.
// Keys missing from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the default config from config/config.toml in the current directory
func LoadDefault() (*Config, error) {
	return Load("config/config.toml")
}

// Validate checks the values a migration cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.TokenSymbol == "":
		return fmt.Errorf("%w: token_symbol is empty", ErrInvalidConfig)
	case c.DAOPercent > 100 || c.ImmediatePercent > 100:
		return fmt.Errorf("%w: percentages must not exceed 100", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.DAOSchedule.Intervals == 0 || c.FoundationSchedule.Intervals == 0:
		return fmt.Errorf("%w: vesting intervals must be positive", ErrInvalidConfig)
	case c.DAOSchedule.IntervalLength == 0 || c.FoundationSchedule.IntervalLength == 0:
		return fmt.Errorf("%w: vesting interval length must be positive", ErrInvalidConfig)
	}
	return nil
}
