// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Every tunable is a named, typed field with a documented default.
// - New() builds a Config with defaults; Load layers file and env on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory submission queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of evaluation workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the intake deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// IntakePath names a JSON-lines file of submissions to process at startup.
	IntakePath string `koanf:"intake_path"`

	Database   DatabaseConfig   `koanf:"database"`
	Archive    ArchiveConfig    `koanf:"archive"`
	Evaluator  EvaluatorConfig  `koanf:"evaluator"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Similarity SimilarityConfig `koanf:"similarity"`
	Epochs     EpochsConfig     `koanf:"epochs"`
	Pools      PoolsConfig      `koanf:"pools"`
}

// DatabaseConfig selects the ledger store.
type DatabaseConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver          string        `koanf:"driver"`
	Path            string        `koanf:"path"` // sqlite file
	URL             string        `koanf:"url"`  // postgres DSN
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns the connection string for the selected driver.
func (c DatabaseConfig) DSN() string {
	if c.Driver == DriverPostgres {
		return c.URL
	}
	return c.Path
}

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ArchiveConfig selects where archived submissions live.
type ArchiveConfig struct {
	// Backend is store (same as the ledger store) or qdrant.
	Backend    string `koanf:"backend"`
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	APIKey     string `koanf:"api_key"`
	UseTLS     bool   `koanf:"use_tls"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// Archive backends.
const (
	ArchiveStore  = "store"
	ArchiveQdrant = "qdrant"
)

// EvaluatorConfig selects the evaluator oracle.
type EvaluatorConfig struct {
	// Mode is simulated or http.
	Mode       string        `koanf:"mode"`
	URL        string        `koanf:"url"`
	APIKey     string        `koanf:"api_key"`
	Timeout    time.Duration `koanf:"timeout"`
	RetryCount int           `koanf:"retry_count"`
	LatencyMin time.Duration `koanf:"latency_min"`
	LatencyMax time.Duration `koanf:"latency_max"`
}

// Evaluator modes.
const (
	EvaluatorSimulated = "simulated"
	EvaluatorHTTP      = "http"
)

// ScoringConfig holds multipliers, toggles and overlap policy.
type ScoringConfig struct {
	SeedMultiplier  float64 `koanf:"seed_multiplier"`
	EdgeMultiplier  float64 `koanf:"edge_multiplier"`
	EnableSeed      bool    `koanf:"enable_seed"`
	EnableEdge      bool    `koanf:"enable_edge"`
	EnableOverlap   bool    `koanf:"enable_overlap"`
	SweetSpotLow    float64 `koanf:"sweet_spot_low"`
	SweetSpotHigh   float64 `koanf:"sweet_spot_high"`
	SweetSpotBonus  float64 `koanf:"sweet_spot_bonus"`
	ExcessThreshold float64 `koanf:"excess_threshold"`
	MaxPenalty      float64 `koanf:"max_penalty"`
}

// SimilarityConfig tunes the archive scan.
type SimilarityConfig struct {
	TopK              int     `koanf:"top_k"`
	VectorWeight      float64 `koanf:"vector_weight"`
	TextWeight        float64 `koanf:"text_weight"`
	FormulaWeight     float64 `koanf:"formula_weight"`
	ConstantWeight    float64 `koanf:"constant_weight"`
	ParallelThreshold int     `koanf:"parallel_threshold"`
	MaxParallel       int     `koanf:"max_parallel"`
	MaxAbstract       int     `koanf:"max_abstract"`
}

// EpochConfig is one tier's threshold and genesis supply.
type EpochConfig struct {
	Threshold float64 `koanf:"threshold"`
	Supply    int64   `koanf:"supply"`
}

// EpochsConfig lists the tiers in order.
type EpochsConfig struct {
	Founder   EpochConfig `koanf:"founder"`
	Pioneer   EpochConfig `koanf:"pioneer"`
	Community EpochConfig `koanf:"community"`
	Ecosystem EpochConfig `koanf:"ecosystem"`
}

// PoolsConfig splits each tier's supply across metals.
type PoolsConfig struct {
	GoldShare      float64 `koanf:"gold_share"`
	SilverShare    float64 `koanf:"silver_share"`
	CopperShare    float64 `koanf:"copper_share"`
	DepletionFloor int64   `koanf:"depletion_floor"`
	RewardPerPoint float64 `koanf:"reward_per_point"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		Addr:        ":9080",
		QueueSize:   10_000,
		WorkerCount: runtime.NumCPU() * 2,
		DedupeSize:  100_000,
		Database: DatabaseConfig{
			Driver:          DriverMemory,
			Path:            "data/assay.db",
			MaxIdleConns:    2,
			MaxOpenConns:    10,
			ConnMaxLifetime: time.Hour,
			AutoMigrate:     true,
		},
		Archive: ArchiveConfig{
			Backend:    ArchiveStore,
			Host:       "localhost",
			Port:       6334,
			Collection: "assay_archive",
			VectorSize: 3,
		},
		Evaluator: EvaluatorConfig{
			Mode:       EvaluatorSimulated,
			Timeout:    30 * time.Second,
			RetryCount: 2,
			LatencyMin: 80 * time.Millisecond,
			LatencyMax: 150 * time.Millisecond,
		},
		Scoring: ScoringConfig{
			SeedMultiplier:  1.15,
			EdgeMultiplier:  1.12,
			EnableSeed:      true,
			EnableEdge:      true,
			EnableOverlap:   true,
			SweetSpotLow:    9.2,
			SweetSpotHigh:   19.2,
			SweetSpotBonus:  200,
			ExcessThreshold: 50,
			MaxPenalty:      1000,
		},
		Similarity: SimilarityConfig{
			TopK:              9,
			VectorWeight:      0.5,
			TextWeight:        0.3,
			FormulaWeight:     0.1,
			ConstantWeight:    0.1,
			ParallelThreshold: 512,
			MaxParallel:       8,
			MaxAbstract:       1000,
		},
		Epochs: EpochsConfig{
			Founder:   EpochConfig{Threshold: 8000, Supply: 45_000_000_000_000},
			Pioneer:   EpochConfig{Threshold: 6000, Supply: 22_500_000_000_000},
			Community: EpochConfig{Threshold: 5000, Supply: 11_250_000_000_000},
			Ecosystem: EpochConfig{Threshold: 4000, Supply: 11_250_000_000_000},
		},
		Pools: PoolsConfig{
			GoldShare:      0.5,
			SilverShare:    0.25,
			CopperShare:    0.25,
			DepletionFloor: 1000,
			RewardPerPoint: 1_000_000,
		},
	}
}
