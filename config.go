package callsync

import (
	"fmt"
	"time"
)

// LimiterConfig controls the shared token bucket.
//
// Every outbound sink call spends tokens: single writes cost 1, grouped
// flushes cost FlushCost, and the poller's read phase costs ReadCost. The
// bucket refills continuously at RefillPerSecond up to Capacity.
type LimiterConfig struct {
	// Capacity is the maximum token count (burst size).
	Capacity float64 `yaml:"capacity"`

	// RefillPerSecond is the sustained token refill rate.
	RefillPerSecond float64 `yaml:"refillPerSecond"`
}

// BatchConfig controls the per-sink-key batch accumulator.
type BatchConfig struct {
	// Size is the operation count that triggers an immediate flush.
	Size int `yaml:"size"`

	// Timeout flushes a partially filled batch that has been waiting this long.
	Timeout time.Duration `yaml:"timeout"`

	// ImmediateThreshold is the token level above which a non-batchable
	// operation bypasses the accumulator and executes right away.
	ImmediateThreshold float64 `yaml:"immediateThreshold"`

	// FlushCost is the token cost of one grouped flush.
	FlushCost float64 `yaml:"flushCost"`
}

// RetryConfig controls the bounded retry queue for throttled operations.
type RetryConfig struct {
	// MaxRetries is the replay attempt ceiling per operation. An operation
	// that fails MaxRetries times is dropped with a terminal-drop log,
	// metric and hook.
	MaxRetries int `yaml:"maxRetries"`

	// BatchSize bounds how many queued operations one loop pass replays.
	BatchSize int `yaml:"batchSize"`

	// LowWaterMark is the token level below which the loop backs off
	// instead of replaying.
	LowWaterMark float64 `yaml:"lowWaterMark"`

	// BaseDelay is the backoff floor when tokens are scarce.
	BaseDelay time.Duration `yaml:"baseDelay"`

	// PerItemDelay extends the backoff proportionally to queue depth.
	PerItemDelay time.Duration `yaml:"perItemDelay"`

	// MaxDelay caps the backoff.
	MaxDelay time.Duration `yaml:"maxDelay"`

	// InterItemDelay spaces consecutive replays inside one pass.
	InterItemDelay time.Duration `yaml:"interItemDelay"`
}

// PollConfig controls the reconciliation poller.
type PollConfig struct {
	// Interval is the time between reconciliation cycles. The first cycle
	// runs one interval after Start.
	Interval time.Duration `yaml:"interval"`

	// PageSize bounds one store query for records needing refresh.
	PageSize int `yaml:"pageSize"`

	// SubBatchSize bounds concurrency: records are refreshed in sub-batches
	// of this size, members of a sub-batch concurrently.
	SubBatchSize int `yaml:"subBatchSize"`

	// SubBatchDelay spreads load between consecutive sub-batches.
	SubBatchDelay time.Duration `yaml:"subBatchDelay"`

	// TokenFloor is the token level a cycle waits for before starting.
	TokenFloor float64 `yaml:"tokenFloor"`

	// ReadCost is the token cost of the cycle's read-heavy phase.
	ReadCost float64 `yaml:"readCost"`

	// FallbackScanRows bounds the degraded sink scan used when the call
	// store is unreachable.
	FallbackScanRows int `yaml:"fallbackScanRows"`
}

// SinkConfig names the sink destination the poller writes refreshed
// records to. The batch accumulator itself is destination-agnostic; these
// values only shape the operations the poller emits.
type SinkConfig struct {
	// Key is the batch stream key for poller-emitted operations.
	Key string `yaml:"key"`

	// Tab is the sink tab holding call rows, used for in-place updates.
	Tab string `yaml:"tab"`

	// AppendSection is the sink section for records without a known row.
	AppendSection string `yaml:"appendSection"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// Limiter controls the shared token bucket.
	Limiter LimiterConfig `yaml:"limiter"`

	// Batch controls the accumulator and flush triggers.
	Batch BatchConfig `yaml:"batch"`

	// Retry controls the bounded retry queue.
	Retry RetryConfig `yaml:"retry"`

	// Poll controls the reconciliation poller.
	Poll PollConfig `yaml:"poll"`

	// Sink names the poller's sink destination.
	Sink SinkConfig `yaml:"sink"`

	// OperationTimeout bounds one outbound sink or store call.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout bounds the graceful shutdown drain.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// The limiter defaults model a sink quota of 60 requests per minute:
// capacity 60 with a refill of one token per second.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Limiter: LimiterConfig{
			Capacity:        60,
			RefillPerSecond: 1,
		},
		Batch: BatchConfig{
			Size:               20,
			Timeout:            10 * time.Second,
			ImmediateThreshold: 5,
			FlushCost:          2,
		},
		Retry: RetryConfig{
			MaxRetries:     4,
			BatchSize:      5,
			LowWaterMark:   2,
			BaseDelay:      5 * time.Second,
			PerItemDelay:   500 * time.Millisecond,
			MaxDelay:       15 * time.Second,
			InterItemDelay: time.Second,
		},
		Poll: PollConfig{
			Interval:         60 * time.Second,
			PageSize:         100,
			SubBatchSize:     5,
			SubBatchDelay:    2 * time.Second,
			TokenFloor:       10,
			ReadCost:         5,
			FallbackScanRows: 50,
		},
		Sink: SinkConfig{
			Key:           "calls",
			Tab:           "Calls",
			AppendSection: "Calls!A:F",
		},
		OperationTimeout: 10 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Limiter.Capacity == 0 {
		cfg.Limiter.Capacity = defaults.Limiter.Capacity
	}
	if cfg.Limiter.RefillPerSecond == 0 {
		cfg.Limiter.RefillPerSecond = defaults.Limiter.RefillPerSecond
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = defaults.Batch.Size
	}
	if cfg.Batch.Timeout == 0 {
		cfg.Batch.Timeout = defaults.Batch.Timeout
	}
	if cfg.Batch.ImmediateThreshold == 0 {
		cfg.Batch.ImmediateThreshold = defaults.Batch.ImmediateThreshold
	}
	if cfg.Batch.FlushCost == 0 {
		cfg.Batch.FlushCost = defaults.Batch.FlushCost
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = defaults.Retry.MaxRetries
	}
	if cfg.Retry.BatchSize == 0 {
		cfg.Retry.BatchSize = defaults.Retry.BatchSize
	}
	if cfg.Retry.LowWaterMark == 0 {
		cfg.Retry.LowWaterMark = defaults.Retry.LowWaterMark
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if cfg.Retry.PerItemDelay == 0 {
		cfg.Retry.PerItemDelay = defaults.Retry.PerItemDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = defaults.Retry.MaxDelay
	}
	if cfg.Retry.InterItemDelay == 0 {
		cfg.Retry.InterItemDelay = defaults.Retry.InterItemDelay
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = defaults.Poll.Interval
	}
	if cfg.Poll.PageSize == 0 {
		cfg.Poll.PageSize = defaults.Poll.PageSize
	}
	if cfg.Poll.SubBatchSize == 0 {
		cfg.Poll.SubBatchSize = defaults.Poll.SubBatchSize
	}
	if cfg.Poll.SubBatchDelay == 0 {
		cfg.Poll.SubBatchDelay = defaults.Poll.SubBatchDelay
	}
	if cfg.Poll.TokenFloor == 0 {
		cfg.Poll.TokenFloor = defaults.Poll.TokenFloor
	}
	if cfg.Poll.ReadCost == 0 {
		cfg.Poll.ReadCost = defaults.Poll.ReadCost
	}
	if cfg.Poll.FallbackScanRows == 0 {
		cfg.Poll.FallbackScanRows = defaults.Poll.FallbackScanRows
	}
	if cfg.Sink.Key == "" {
		cfg.Sink.Key = defaults.Sink.Key
	}
	if cfg.Sink.Tab == "" {
		cfg.Sink.Tab = defaults.Sink.Tab
	}
	if cfg.Sink.AppendSection == "" {
		cfg.Sink.AppendSection = defaults.Sink.AppendSection
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - Capacity > 0 and RefillPerSecond > 0 (the limiter must make progress)
//   - ImmediateThreshold < Capacity (the immediate path must be reachable)
//   - FlushCost <= Capacity and ReadCost <= Capacity (acquirable costs)
//   - LowWaterMark < Capacity (retry backoff must be escapable)
//   - TokenFloor <= Capacity (the poll floor must be reachable)
//   - Batch Size > 0, Timeout > 0
//   - MaxRetries >= 1, retry BatchSize > 0
//   - Poll Interval > 0, PageSize > 0, SubBatchSize > 0
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.Limiter.Capacity <= 0 {
		return fmt.Errorf("Limiter.Capacity must be > 0, got %v", cfg.Limiter.Capacity)
	}
	if cfg.Limiter.RefillPerSecond <= 0 {
		return fmt.Errorf("Limiter.RefillPerSecond must be > 0, got %v", cfg.Limiter.RefillPerSecond)
	}
	if cfg.Batch.ImmediateThreshold >= cfg.Limiter.Capacity {
		return fmt.Errorf(
			"Batch.ImmediateThreshold (%v) must be < Limiter.Capacity (%v), otherwise no operation ever executes immediately",
			cfg.Batch.ImmediateThreshold, cfg.Limiter.Capacity,
		)
	}
	if cfg.Batch.FlushCost > cfg.Limiter.Capacity {
		return fmt.Errorf(
			"Batch.FlushCost (%v) must be <= Limiter.Capacity (%v), otherwise flushes can never acquire tokens",
			cfg.Batch.FlushCost, cfg.Limiter.Capacity,
		)
	}
	if cfg.Poll.ReadCost > cfg.Limiter.Capacity {
		return fmt.Errorf(
			"Poll.ReadCost (%v) must be <= Limiter.Capacity (%v), otherwise poll cycles can never acquire tokens",
			cfg.Poll.ReadCost, cfg.Limiter.Capacity,
		)
	}
	if cfg.Retry.LowWaterMark >= cfg.Limiter.Capacity {
		return fmt.Errorf(
			"Retry.LowWaterMark (%v) must be < Limiter.Capacity (%v), otherwise the retry loop backs off forever",
			cfg.Retry.LowWaterMark, cfg.Limiter.Capacity,
		)
	}
	if cfg.Poll.TokenFloor > cfg.Limiter.Capacity {
		return fmt.Errorf(
			"Poll.TokenFloor (%v) must be <= Limiter.Capacity (%v)",
			cfg.Poll.TokenFloor, cfg.Limiter.Capacity,
		)
	}
	if cfg.Batch.Size <= 0 {
		return fmt.Errorf("Batch.Size must be > 0, got %v", cfg.Batch.Size)
	}
	if cfg.Batch.Timeout <= 0 {
		return fmt.Errorf("Batch.Timeout must be > 0, got %v", cfg.Batch.Timeout)
	}
	if cfg.Retry.MaxRetries < 1 {
		return fmt.Errorf("Retry.MaxRetries must be >= 1, got %v", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BatchSize <= 0 {
		return fmt.Errorf("Retry.BatchSize must be > 0, got %v", cfg.Retry.BatchSize)
	}
	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("Poll.Interval must be > 0, got %v", cfg.Poll.Interval)
	}
	if cfg.Poll.PageSize <= 0 {
		return fmt.Errorf("Poll.PageSize must be > 0, got %v", cfg.Poll.PageSize)
	}
	if cfg.Poll.SubBatchSize <= 0 {
		return fmt.Errorf("Poll.SubBatchSize must be > 0, got %v", cfg.Poll.SubBatchSize)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in NewManager() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	// Very short batch timeouts defeat batching and burn tokens
	if cfg.Batch.Timeout < time.Second {
		logger.Warn(
			"Batch.Timeout is very short, may cause frequent small flushes",
			"timeout", cfg.Batch.Timeout,
			"recommended", "10s or higher",
		)
	}

	// Retry delays below refill rate just spin against an empty bucket
	minUseful := time.Duration(cfg.Retry.LowWaterMark / cfg.Limiter.RefillPerSecond * float64(time.Second))
	if cfg.Retry.BaseDelay < minUseful {
		logger.Warn(
			"Retry.BaseDelay is below the time needed to refill to the low-water mark",
			"baseDelay", cfg.Retry.BaseDelay,
			"refillTime", minUseful,
		)
	}

	if cfg.Poll.TokenFloor > cfg.Limiter.Capacity/2 {
		logger.Warn(
			"Poll.TokenFloor exceeds half the bucket capacity, poll cycles may be delayed often",
			"tokenFloor", cfg.Poll.TokenFloor,
			"capacity", cfg.Limiter.Capacity,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are 10-100x faster than production defaults to enable
// rapid iteration without sacrificing test coverage. Use DefaultConfig()
// for production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := callsync.TestConfig()
//	cfg.Sink.Key = "test-calls"
//	mgr, err := callsync.NewManager(&cfg, client, store, provider)
func TestConfig() Config {
	cfg := DefaultConfig()

	// Fast timings for test execution (10-100x faster)
	cfg.Limiter.RefillPerSecond = 100 // 100x faster
	cfg.Batch.Timeout = 100 * time.Millisecond
	cfg.Retry.BaseDelay = 50 * time.Millisecond
	cfg.Retry.PerItemDelay = 5 * time.Millisecond
	cfg.Retry.MaxDelay = 150 * time.Millisecond
	cfg.Retry.InterItemDelay = 10 * time.Millisecond
	cfg.Poll.Interval = 200 * time.Millisecond
	cfg.Poll.SubBatchDelay = 20 * time.Millisecond
	cfg.OperationTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second

	return cfg
}
