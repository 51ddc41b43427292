// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases and artifacts (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	Backend    *BackendConfig
	Solver     *SolverConfig
	Mitigation *MitigationConfig
	Subspace   *SubspaceConfig
	Archive    *ArchiveConfig
}

// BackendConfig holds execution-backend configuration. The simulator runs
// in-process; the qruntime backend is a remote HTTP service.
type BackendConfig struct {
	Kind            string // "simulator" or "qruntime"
	RuntimeURL      string // base URL of the remote runtime service
	RuntimeBackend  string // backend identifier passed to the remote runtime
	Shots           int
	Seed            int64
	RequestTimeout  time.Duration // per-call timeout for backend execution
	MaxRetries      int           // bounded retries before ErrBackendUnavailable
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ReadoutError    float64 // simulator per-qubit readout flip probability at scale 1
	MemoryCeilingMB uint64  // simulator refuses statevectors above this footprint
}

// SolverConfig holds the solver loop parameters. Thresholds the physics
// leaves open are surfaced here with defaults instead of being buried as
// literals in the modules.
type SolverConfig struct {
	MappingScheme     string // "parity" or "jordan-wigner"
	TwoQubitReduction bool   // parity-mapping sector tapering
	Optimizer         string // "nelder-mead" or "bfgs"
	FuncEvaluations   int    // objective-evaluation budget per optimization
	MaxIterations     int    // ADAPT outer-loop cap
	GradientTolerance float64
	EnergyTolerance   float64
	EnergyWindow      int // trailing window width for the uncertainty estimate
	SnapshotDepth     int // time-evolution snapshots fed to the subspace
	ScoringWorkers    int // 0 means one worker per CPU
	MaxConcurrentRuns int // work processor bound
}

// MitigationConfig holds the error-mitigation pipeline parameters.
type MitigationConfig struct {
	ReadoutEnabled    bool
	ZNEEnabled        bool
	SymmetryEnabled   bool
	ConditionCeiling  float64   // confusion matrices above this are unusable
	NoiseScales       []float64 // ZNE scale points, 1.0 first
	ZNEMaxDegree      int       // polynomial degree cap for extrapolation
	SymmetryMode      string    // "drop" or "reweight"
	SymmetryYieldMin  float64   // surviving shot fraction below this flags the record
	CalibrationMaxAge time.Duration
}

// SubspaceConfig holds the sampled-subspace diagonalization parameters.
type SubspaceConfig struct {
	Enabled           bool // default when a submission leaves subspace_enabled unset
	MaxBasisStates    int
	SupportFloor      float64 // configurations below this shot fraction are ignored
	RegularizationEps float64 // relative eigenvalue cutoff for the overlap pseudo-inverse
	MinBasisSupport   float64 // ground eigenvector max component below this marks the estimate unstable
}

// ArchiveConfig holds S3-compatible artifact archival configuration.
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	KeepMin         int // newest archives preserved during rotation
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check QERP_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("QERP_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:    absDataDir,
		Port:       getEnvAsInt("QERP_PORT", 8080),
		DevMode:    getEnvAsBool("DEV_MODE", false),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Backend:    loadBackendConfig(),
		Solver:     loadSolverConfig(),
		Mitigation: loadMitigationConfig(),
		Subspace:   loadSubspaceConfig(),
		Archive:    loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadBackendConfig() *BackendConfig {
	return &BackendConfig{
		Kind:            getEnv("QERP_BACKEND", "simulator"),
		RuntimeURL:      getEnv("QERP_RUNTIME_URL", "http://localhost:9000"),
		RuntimeBackend:  getEnv("QERP_RUNTIME_BACKEND", ""),
		Shots:           getEnvAsInt("QERP_SHOTS", 4096),
		Seed:            int64(getEnvAsInt("QERP_SEED", 0)),
		RequestTimeout:  time.Duration(getEnvAsInt("QERP_BACKEND_TIMEOUT_SECONDS", 60)) * time.Second,
		MaxRetries:      getEnvAsInt("QERP_BACKEND_MAX_RETRIES", 3),
		RetryBaseDelay:  time.Duration(getEnvAsInt("QERP_BACKEND_RETRY_BASE_MS", 100)) * time.Millisecond,
		RetryMaxDelay:   time.Duration(getEnvAsInt("QERP_BACKEND_RETRY_MAX_SECONDS", 30)) * time.Second,
		ReadoutError:    getEnvAsFloat("QERP_SIM_READOUT_ERROR", 0),
		MemoryCeilingMB: uint64(getEnvAsInt("QERP_SIM_MEMORY_CEILING_MB", 2048)),
	}
}

func loadSolverConfig() *SolverConfig {
	return &SolverConfig{
		MappingScheme:     getEnv("QERP_MAPPING", "parity"),
		TwoQubitReduction: getEnvAsBool("QERP_TWO_QUBIT_REDUCTION", true),
		Optimizer:         getEnv("QERP_OPTIMIZER", "nelder-mead"),
		FuncEvaluations:   getEnvAsInt("QERP_FUNC_EVALUATIONS", 200),
		MaxIterations:     getEnvAsInt("QERP_MAX_ITERATIONS", 30),
		GradientTolerance: getEnvAsFloat("QERP_GRADIENT_TOLERANCE", 1e-3),
		EnergyTolerance:   getEnvAsFloat("QERP_ENERGY_TOLERANCE", 1e-6),
		EnergyWindow:      getEnvAsInt("QERP_ENERGY_WINDOW", 5),
		SnapshotDepth:     getEnvAsInt("QERP_SNAPSHOT_DEPTH", 6),
		ScoringWorkers:    getEnvAsInt("QERP_SCORING_WORKERS", 0),
		MaxConcurrentRuns: getEnvAsInt("QERP_MAX_CONCURRENT_RUNS", 2),
	}
}

func loadMitigationConfig() *MitigationConfig {
	return &MitigationConfig{
		ReadoutEnabled:    getEnvAsBool("QERP_MITIGATION_READOUT", true),
		ZNEEnabled:        getEnvAsBool("QERP_MITIGATION_ZNE", true),
		SymmetryEnabled:   getEnvAsBool("QERP_MITIGATION_SYMMETRY", true),
		ConditionCeiling:  getEnvAsFloat("QERP_CONDITION_CEILING", 1e6),
		NoiseScales:       getEnvAsFloats("QERP_ZNE_SCALES", []float64{1.0, 2.0, 3.0}),
		ZNEMaxDegree:      getEnvAsInt("QERP_ZNE_MAX_DEGREE", 2),
		SymmetryMode:      getEnv("QERP_SYMMETRY_MODE", "drop"),
		SymmetryYieldMin:  getEnvAsFloat("QERP_SYMMETRY_YIELD_MIN", 0.05),
		CalibrationMaxAge: time.Duration(getEnvAsInt("QERP_CALIBRATION_MAX_AGE_HOURS", 24)) * time.Hour,
	}
}

func loadSubspaceConfig() *SubspaceConfig {
	return &SubspaceConfig{
		Enabled:           getEnvAsBool("QERP_SUBSPACE_ENABLED", true),
		MaxBasisStates:    getEnvAsInt("QERP_MAX_BASIS_STATES", 512),
		SupportFloor:      getEnvAsFloat("QERP_SUPPORT_FLOOR", 1e-4),
		RegularizationEps: getEnvAsFloat("QERP_OVERLAP_EPSILON", 1e-10),
		MinBasisSupport:   getEnvAsFloat("QERP_MIN_BASIS_SUPPORT", 1e-3),
	}
}

func loadArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Enabled:         getEnvAsBool("QERP_ARCHIVE_ENABLED", false),
		Endpoint:        getEnv("QERP_ARCHIVE_ENDPOINT", ""),
		Region:          getEnv("QERP_ARCHIVE_REGION", "auto"),
		Bucket:          getEnv("QERP_ARCHIVE_BUCKET", ""),
		AccessKeyID:     getEnv("QERP_ARCHIVE_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("QERP_ARCHIVE_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("QERP_ARCHIVE_PREFIX", "qerp"),
		KeepMin:         getEnvAsInt("QERP_ARCHIVE_KEEP_MIN", 3),
	}
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Backend.Kind {
	case "simulator", "qruntime":
	default:
		return fmt.Errorf("unknown backend kind: %q", c.Backend.Kind)
	}
	if c.Backend.Shots <= 0 {
		return fmt.Errorf("shot count must be positive, got %d", c.Backend.Shots)
	}
	if c.Backend.Kind == "qruntime" && c.Backend.RuntimeURL == "" {
		return fmt.Errorf("QERP_RUNTIME_URL required for qruntime backend")
	}
	if c.Backend.ReadoutError < 0 || c.Backend.ReadoutError >= 0.5 {
		return fmt.Errorf("readout error must be in [0, 0.5), got %v", c.Backend.ReadoutError)
	}

	switch c.Solver.MappingScheme {
	case "parity", "jordan-wigner":
	default:
		return fmt.Errorf("unknown mapping scheme: %q", c.Solver.MappingScheme)
	}
	switch c.Solver.Optimizer {
	case "nelder-mead", "bfgs":
	default:
		return fmt.Errorf("unknown optimizer: %q", c.Solver.Optimizer)
	}
	if c.Solver.FuncEvaluations <= 0 {
		return fmt.Errorf("function evaluation budget must be positive, got %d", c.Solver.FuncEvaluations)
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", c.Solver.MaxIterations)
	}
	if c.Solver.SnapshotDepth < 0 {
		return fmt.Errorf("snapshot depth must be non-negative, got %d", c.Solver.SnapshotDepth)
	}

	if len(c.Mitigation.NoiseScales) == 0 {
		return fmt.Errorf("at least one noise scale required")
	}
	for _, s := range c.Mitigation.NoiseScales {
		if s < 1.0 {
			return fmt.Errorf("noise scales must be >= 1.0, got %v", s)
		}
	}
	switch c.Mitigation.SymmetryMode {
	case "drop", "reweight":
	default:
		return fmt.Errorf("unknown symmetry mode: %q", c.Mitigation.SymmetryMode)
	}

	if c.Subspace.MaxBasisStates <= 0 {
		return fmt.Errorf("max basis states must be positive, got %d", c.Subspace.MaxBasisStates)
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("QERP_ARCHIVE_BUCKET required when archival is enabled")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsFloats parses a comma-separated list of floats. Malformed entries
// invalidate the whole value and the default is kept.
func getEnvAsFloats(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}
