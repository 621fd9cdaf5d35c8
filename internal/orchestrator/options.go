package orchestrator

import (
	"time"

	"github.com/ShayCichocki/delve/internal/api"
	"github.com/ShayCichocki/delve/internal/config"
	"github.com/ShayCichocki/delve/internal/metrics"
	"github.com/ShayCichocki/delve/internal/search"
)

// Defaults for a research run.
const (
	DefaultMaxConcurrent = 3
	DefaultMaxRounds     = 6
	DefaultMaxSearches   = 5
	DefaultMaxResults    = 3
)

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Generator is used for every role without a dedicated generator.
	Generator api.Generator
	// Searcher runs the researchers' web searches.
	Searcher search.Searcher
}

// Roles holds per-role generators. Nil fields fall back to RequiredConfig.Generator.
type Roles struct {
	Supervisor  api.Generator
	Researcher  api.Generator
	Compression api.Generator
	Writer      api.Generator
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxConcurrent  int
	maxRounds      int
	maxSearches    int
	maxResults     int
	overflowPolicy string
	tokenBudget    int64
	timeouts       config.TimeoutsConfig
	retryAttempts  int
	retryBackoff   time.Duration
	roles          Roles
	logger         *DebugLogger
	metrics        *metrics.Recorder
	notifications  *api.NotificationManager
	now            func() time.Time
	eventBuffer    int

	// Injectable dependencies for testing
	worker Worker
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		maxConcurrent:  DefaultMaxConcurrent,
		maxRounds:      DefaultMaxRounds,
		maxSearches:    DefaultMaxSearches,
		maxResults:     DefaultMaxResults,
		overflowPolicy: config.OverflowTruncate,
		timeouts:       config.Default().Timeouts,
		retryAttempts:  3,
		retryBackoff:   2 * time.Second,
		now:            time.Now,
		eventBuffer:    256,
	}
}

// WithMaxConcurrent sets the maximum number of researchers per round.
func WithMaxConcurrent(n int) Option {
	return func(o *orchestratorOptions) { o.maxConcurrent = n }
}

// WithMaxRounds sets the maximum number of supervisor rounds.
func WithMaxRounds(n int) Option {
	return func(o *orchestratorOptions) { o.maxRounds = n }
}

// WithMaxSearches caps the search budget of every directive.
func WithMaxSearches(n int) Option {
	return func(o *orchestratorOptions) { o.maxSearches = n }
}

// WithMaxResults sets the number of results per web search.
func WithMaxResults(n int) Option {
	return func(o *orchestratorOptions) { o.maxResults = n }
}

// WithOverflowPolicy sets how delegation batches larger than max concurrent are handled.
func WithOverflowPolicy(p string) Option {
	return func(o *orchestratorOptions) { o.overflowPolicy = p }
}

// WithTokenBudget stops delegation once the run has used n tokens (0 = unlimited).
func WithTokenBudget(n int64) Option {
	return func(o *orchestratorOptions) { o.tokenBudget = n }
}

// WithTimeouts sets the per-call and run timeouts. Zero fields keep their defaults.
func WithTimeouts(t config.TimeoutsConfig) Option {
	return func(o *orchestratorOptions) {
		if t.Generate > 0 {
			o.timeouts.Generate = t.Generate
		}
		if t.Search > 0 {
			o.timeouts.Search = t.Search
		}
		if t.Worker > 0 {
			o.timeouts.Worker = t.Worker
		}
		if t.Run > 0 {
			o.timeouts.Run = t.Run
		}
		if t.Synthesis > 0 {
			o.timeouts.Synthesis = t.Synthesis
		}
	}
}

// WithRetry sets how often a failed generation call is attempted.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(o *orchestratorOptions) {
		o.retryAttempts = attempts
		o.retryBackoff = backoff
	}
}

// WithRoles sets per-role generators.
func WithRoles(r Roles) Option {
	return func(o *orchestratorOptions) { o.roles = r }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithMetrics records run counters.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *orchestratorOptions) { o.metrics = r }
}

// WithNotifications stops the supervisor when a stop signal arrives.
func WithNotifications(n *api.NotificationManager) Option {
	return func(o *orchestratorOptions) { o.notifications = n }
}

// WithClock sets the clock used for dates in prompts and files.
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) { o.now = now }
}

// WithEventBuffer sets the size of the event channel buffer.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}

// WithWorker replaces the researcher (mainly for testing).
func WithWorker(w Worker) Option {
	return func(o *orchestratorOptions) { o.worker = w }
}

// FromConfig returns the options described by cfg.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithMaxConcurrent(cfg.Research.MaxConcurrent),
		WithMaxRounds(cfg.Research.MaxRounds),
		WithMaxSearches(cfg.Research.MaxSearches),
		WithMaxResults(cfg.Search.MaxResults),
		WithOverflowPolicy(cfg.Research.OverflowPolicy),
		WithTokenBudget(cfg.Research.TokenBudget),
		WithTimeouts(cfg.Timeouts),
	}
}
