package callsync

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	hooks := &callsync.Hooks{
//	    OnOperationDropped: func(ctx context.Context, op callsync.Operation, attempts int, err error) error {
//	        return deadLetter(op, err)
//	    },
//	}
//	mgr, _ := callsync.NewManager(&cfg, client, store, provider, callsync.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	collector := myPrometheusCollector
//	mgr, _ := callsync.NewManager(&cfg, client, store, provider, callsync.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (a thin adapter over log/slog works well)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	logger := mySlogAdapter
//	mgr, _ := callsync.NewManager(&cfg, client, store, provider, callsync.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}
