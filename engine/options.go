package engine

import "time"

// Options configures a new [Engine]. Construct via [NewOptions] so
// zero-value fields always get sane defaults.
type Options struct {
	// DataDir is the root directory for keys/, db/, and cache files.
	DataDir string
	// WorkerCount sizes the background task pool that drains listen
	// callbacks, retry sweeps, and rotation heartbeats.
	WorkerCount int
	// DHTRetryBudget bounds retries of failed sends (§7: failed
	// messages re-queue until retry_count reaches this). Each
	// RetryPendingMessages call retries every eligible message once;
	// there is no backoff between attempts.
	DHTRetryBudget int
	// ListenTokenCap bounds concurrent DHT listen registrations; beyond
	// the cap the engine falls back to polling only.
	ListenTokenCap int
	// GEKRotationCheckInterval is how often the daily-rotation
	// heartbeat runs (the reference value is 4 minutes; rotation
	// itself still only happens when a GEK's age exceeds 24h).
	GEKRotationCheckInterval time.Duration
	// NetworkTimeout bounds a single DHT operation.
	NetworkTimeout time.Duration
}

// Option mutates an Options under construction.
type Option func(*Options)

// WithDataDir overrides the default platform data directory.
func WithDataDir(dir string) Option {
	return func(o *Options) { o.DataDir = dir }
}

// WithWorkerCount overrides the default worker pool size.
func WithWorkerCount(n int) Option {
	return func(o *Options) { o.WorkerCount = n }
}

// WithDHTRetryBudget overrides the default retry budget.
func WithDHTRetryBudget(n int) Option {
	return func(o *Options) { o.DHTRetryBudget = n }
}

// WithListenTokenCap overrides the default listen-token cap.
func WithListenTokenCap(n int) Option {
	return func(o *Options) { o.ListenTokenCap = n }
}

// WithGEKRotationCheckInterval overrides the default rotation-heartbeat
// interval.
func WithGEKRotationCheckInterval(d time.Duration) Option {
	return func(o *Options) { o.GEKRotationCheckInterval = d }
}

// WithNetworkTimeout overrides the default DHT operation timeout.
func WithNetworkTimeout(d time.Duration) Option {
	return func(o *Options) { o.NetworkTimeout = d }
}

// NewOptions builds an Options with reference defaults (4 workers, 10
// retries, 1024 listen tokens, 4-minute rotation heartbeat, 30s network
// timeout), applying opts on top.
func NewOptions(opts ...Option) Options {
	o := Options{
		DataDir:                  defaultDataDir(),
		WorkerCount:              4,
		DHTRetryBudget:           10,
		ListenTokenCap:           1024,
		GEKRotationCheckInterval: 4 * time.Minute,
		NetworkTimeout:           30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// defaultDataDir returns a conservative fallback; callers embedding the
// engine in a platform app normally override it via [WithDataDir].
func defaultDataDir() string {
	return "./dna-messenger-data"
}
