package callsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/callsync/internal/logger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 60.0, cfg.Limiter.Capacity)
	require.Equal(t, 1.0, cfg.Limiter.RefillPerSecond)
	require.Equal(t, 20, cfg.Batch.Size)
	require.Equal(t, 10*time.Second, cfg.Batch.Timeout)
	require.Equal(t, 5.0, cfg.Batch.ImmediateThreshold)
	require.Equal(t, 2.0, cfg.Batch.FlushCost)
	require.Equal(t, 4, cfg.Retry.MaxRetries)
	require.Equal(t, 5, cfg.Retry.BatchSize)
	require.Equal(t, 2.0, cfg.Retry.LowWaterMark)
	require.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
	require.Equal(t, 15*time.Second, cfg.Retry.MaxDelay)
	require.Equal(t, 60*time.Second, cfg.Poll.Interval)
	require.Equal(t, 100, cfg.Poll.PageSize)
	require.Equal(t, 5, cfg.Poll.SubBatchSize)
	require.Equal(t, 2*time.Second, cfg.Poll.SubBatchDelay)
	require.Equal(t, 10.0, cfg.Poll.TokenFloor)
	require.Equal(t, 5.0, cfg.Poll.ReadCost)
	require.Equal(t, 50, cfg.Poll.FallbackScanRows)
	require.Equal(t, 10*time.Second, cfg.OperationTimeout)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, 60.0, cfg.Limiter.Capacity)
		require.Equal(t, 20, cfg.Batch.Size)
		require.Equal(t, 4, cfg.Retry.MaxRetries)
		require.Equal(t, 60*time.Second, cfg.Poll.Interval)
		require.Equal(t, "calls", cfg.Sink.Key)
		require.NoError(t, cfg.Validate())
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			Limiter: LimiterConfig{Capacity: 300, RefillPerSecond: 5},
			Batch:   BatchConfig{Size: 50, Timeout: 30 * time.Second, ImmediateThreshold: 20, FlushCost: 3},
			Retry:   RetryConfig{MaxRetries: 8, BatchSize: 10, LowWaterMark: 5},
			Poll:    PollConfig{Interval: 5 * time.Minute, PageSize: 500},
			Sink:    SinkConfig{Key: "sheet-42", Tab: "Log", AppendSection: "Log!A:F"},
		}
		SetDefaults(&cfg)

		require.Equal(t, 300.0, cfg.Limiter.Capacity)
		require.Equal(t, 5.0, cfg.Limiter.RefillPerSecond)
		require.Equal(t, 50, cfg.Batch.Size)
		require.Equal(t, 30*time.Second, cfg.Batch.Timeout)
		require.Equal(t, 8, cfg.Retry.MaxRetries)
		require.Equal(t, 5*time.Minute, cfg.Poll.Interval)
		require.Equal(t, 500, cfg.Poll.PageSize)
		require.Equal(t, "sheet-42", cfg.Sink.Key)

		// Unset fields still get defaults
		require.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
		require.Equal(t, 5, cfg.Poll.SubBatchSize)
		require.Equal(t, 10*time.Second, cfg.OperationTimeout)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config { return DefaultConfig() }

	t.Run("default config is valid", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, cfg.Validate())
	})

	t.Run("rejects zero capacity", func(t *testing.T) {
		cfg := valid()
		cfg.Limiter.Capacity = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects zero refill rate", func(t *testing.T) {
		cfg := valid()
		cfg.Limiter.RefillPerSecond = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects immediate threshold at capacity", func(t *testing.T) {
		cfg := valid()
		cfg.Batch.ImmediateThreshold = cfg.Limiter.Capacity
		require.ErrorContains(t, cfg.Validate(), "ImmediateThreshold")
	})

	t.Run("rejects flush cost above capacity", func(t *testing.T) {
		cfg := valid()
		cfg.Batch.FlushCost = cfg.Limiter.Capacity + 1
		require.ErrorContains(t, cfg.Validate(), "FlushCost")
	})

	t.Run("rejects read cost above capacity", func(t *testing.T) {
		cfg := valid()
		cfg.Poll.ReadCost = cfg.Limiter.Capacity + 1
		require.ErrorContains(t, cfg.Validate(), "ReadCost")
	})

	t.Run("rejects low-water mark at capacity", func(t *testing.T) {
		cfg := valid()
		cfg.Retry.LowWaterMark = cfg.Limiter.Capacity
		require.ErrorContains(t, cfg.Validate(), "LowWaterMark")
	})

	t.Run("rejects token floor above capacity", func(t *testing.T) {
		cfg := valid()
		cfg.Poll.TokenFloor = cfg.Limiter.Capacity + 1
		require.ErrorContains(t, cfg.Validate(), "TokenFloor")
	})

	t.Run("rejects non-positive batch size", func(t *testing.T) {
		cfg := valid()
		cfg.Batch.Size = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("rejects zero max retries", func(t *testing.T) {
		cfg := valid()
		cfg.Retry.MaxRetries = 0
		require.ErrorContains(t, cfg.Validate(), "MaxRetries")
	})

	t.Run("rejects non-positive poll interval", func(t *testing.T) {
		cfg := valid()
		cfg.Poll.Interval = 0
		require.Error(t, cfg.Validate())
	})
}

func TestValidateWithWarnings(t *testing.T) {
	// Warnings must never panic even with edge-case values; the test logger
	// surfaces them in verbose output for manual inspection.
	cfg := DefaultConfig()
	cfg.Batch.Timeout = 100 * time.Millisecond
	cfg.Retry.BaseDelay = 10 * time.Millisecond
	cfg.Poll.TokenFloor = cfg.Limiter.Capacity - 1

	cfg.ValidateWithWarnings(logger.NewTest(t))
}

// TestConfig_YAML demonstrates that time.Duration works directly with YAML unmarshaling
func TestConfig_YAML(t *testing.T) {
	yamlConfig := `
limiter:
  capacity: 120
  refillPerSecond: 2
batch:
  size: 40
  timeout: 30s
  immediateThreshold: 10
  flushCost: 2
retry:
  maxRetries: 6
  batchSize: 8
  lowWaterMark: 3
  baseDelay: 10s
  perItemDelay: 250ms
  maxDelay: 30s
  interItemDelay: 2s
poll:
  interval: 2m
  pageSize: 250
  subBatchSize: 10
  subBatchDelay: 5s
  tokenFloor: 15
  readCost: 5
  fallbackScanRows: 100
sink:
  key: "sheet-abc"
  tab: "Calls"
  appendSection: "Calls!A:F"
operationTimeout: 15s
shutdownTimeout: 20s
`

	var cfg Config
	err := yaml.Unmarshal([]byte(yamlConfig), &cfg)
	require.NoError(t, err)

	require.Equal(t, 120.0, cfg.Limiter.Capacity)
	require.Equal(t, 2.0, cfg.Limiter.RefillPerSecond)
	require.Equal(t, 40, cfg.Batch.Size)
	require.Equal(t, 30*time.Second, cfg.Batch.Timeout)
	require.Equal(t, 6, cfg.Retry.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.PerItemDelay)
	require.Equal(t, 2*time.Minute, cfg.Poll.Interval)
	require.Equal(t, 250, cfg.Poll.PageSize)
	require.Equal(t, "sheet-abc", cfg.Sink.Key)
	require.Equal(t, 15*time.Second, cfg.OperationTimeout)
	require.Equal(t, 20*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

// TestConfig_DefaultsWithPartialYAML demonstrates using SetDefaults with partial config
func TestConfig_DefaultsWithPartialYAML(t *testing.T) {
	yamlConfig := `
sink:
  key: "sheet-partial"
poll:
  interval: 30s
`

	var cfg Config
	err := yaml.Unmarshal([]byte(yamlConfig), &cfg)
	require.NoError(t, err)

	SetDefaults(&cfg)

	// Custom values preserved
	require.Equal(t, "sheet-partial", cfg.Sink.Key)
	require.Equal(t, 30*time.Second, cfg.Poll.Interval)

	// Defaults applied
	require.Equal(t, 60.0, cfg.Limiter.Capacity)
	require.Equal(t, 20, cfg.Batch.Size)
	require.Equal(t, 4, cfg.Retry.MaxRetries)
	require.NoError(t, cfg.Validate())
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()

	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.Batch.Timeout, DefaultConfig().Batch.Timeout)
	require.Less(t, cfg.Retry.BaseDelay, DefaultConfig().Retry.BaseDelay)
	require.Less(t, cfg.Poll.Interval, DefaultConfig().Poll.Interval)
	require.Greater(t, cfg.Limiter.RefillPerSecond, DefaultConfig().Limiter.RefillPerSecond)
}
