package model

import "time"

// Config is the full run configuration. It is loaded once at process start,
// snapshotted per analysis run, and passed by value into every stage so that
// concurrent stages never observe a changing configuration mid-run.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http" mapstructure:"http"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Oracle      OracleConfig      `yaml:"oracle" mapstructure:"oracle"`
	Research    ResearchConfig    `yaml:"research" mapstructure:"research"`
	Boundary    BoundaryConfig    `yaml:"boundary" mapstructure:"boundary"`
	Debate      DebateConfig      `yaml:"debate" mapstructure:"debate"`
	Aggregate   AggregateConfig   `yaml:"aggregate" mapstructure:"aggregate"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// HTTPConfig controls outbound document fetching
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS  bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	HTTPProxy    string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy      string        `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// CacheConfig controls the layered document/score cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// SearchConfig configures the web-search collaborator
type SearchConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey        string  `yaml:"api_key" mapstructure:"api_key"`
	MaxResults    int     `yaml:"max_results" mapstructure:"max_results"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
}

// ModelRef names a provider/model pair
type ModelRef struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Model    string `yaml:"model" mapstructure:"model"`
}

// ProviderConfig holds per-provider credentials and endpoints
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LLMConfig configures the model call gateway. Resolution priority for a call
// is: explicit per-call override, then the role entry, then Default.
type LLMConfig struct {
	Default     ModelRef                  `yaml:"default" mapstructure:"default"`
	Fallback    ModelRef                  `yaml:"fallback" mapstructure:"fallback"` // cheaper model used on capacity signals
	Roles       map[string]ModelRef       `yaml:"roles" mapstructure:"roles"`
	Providers   map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	MaxRetries  int                       `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBase time.Duration             `yaml:"backoff_base" mapstructure:"backoff_base"`
	MaxTokens   int                       `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OracleConfig configures the batched similarity/classification oracle
type OracleConfig struct {
	ChunkSize      int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	DedupThreshold float64 `yaml:"dedup_threshold" mapstructure:"dedup_threshold"`
}

// ResearchConfig bounds the evidence research orchestrator
type ResearchConfig struct {
	MaxIterations          int           `yaml:"max_iterations" mapstructure:"max_iterations"`
	ContrarianIterations   int           `yaml:"contrarian_iterations" mapstructure:"contrarian_iterations"`
	QueriesPerClaim        int           `yaml:"queries_per_claim" mapstructure:"queries_per_claim"`
	MaxSourcesPerIteration int           `yaml:"max_sources_per_iteration" mapstructure:"max_sources_per_iteration"`
	SufficiencyCount       int           `yaml:"sufficiency_count" mapstructure:"sufficiency_count"`
	MinProbativeValue      float64       `yaml:"min_probative_value" mapstructure:"min_probative_value"`
	TimeBudget             time.Duration `yaml:"time_budget" mapstructure:"time_budget"`
	MaxDocChars            int           `yaml:"max_doc_chars" mapstructure:"max_doc_chars"`
}

// BoundaryConfig bounds the clustering engine
type BoundaryConfig struct {
	MaxBoundaries int `yaml:"max_boundaries" mapstructure:"max_boundaries"`
}

// SpreadBucket maps a self-consistency spread ceiling (percentage points) to a
// confidence multiplier. Buckets are evaluated in order; the last bucket's
// multiplier applies above every ceiling.
type SpreadBucket struct {
	MaxSpread  float64 `yaml:"max_spread" mapstructure:"max_spread"`
	Multiplier float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// DebateConfig configures the verdict debate engine
type DebateConfig struct {
	SelfConsistencyCalls       int            `yaml:"self_consistency_calls" mapstructure:"self_consistency_calls"` // 0 or 2
	SelfConsistencyTemperature float64        `yaml:"self_consistency_temperature" mapstructure:"self_consistency_temperature"`
	HarmConfidenceFloor        float64        `yaml:"harm_confidence_floor" mapstructure:"harm_confidence_floor"`
	SpreadBuckets              []SpreadBucket `yaml:"spread_buckets" mapstructure:"spread_buckets"`
	OverflowMultiplier         float64        `yaml:"overflow_multiplier" mapstructure:"overflow_multiplier"`
	StageTimeout               time.Duration  `yaml:"stage_timeout" mapstructure:"stage_timeout"`
}

// AggregateConfig configures the aggregation engine
type AggregateConfig struct {
	BalanceSkewThreshold   float64 `yaml:"balance_skew_threshold" mapstructure:"balance_skew_threshold"`
	MinDirectionalItems    int     `yaml:"min_directional_items" mapstructure:"min_directional_items"`
	BudgetConfidenceFactor float64 `yaml:"budget_confidence_factor" mapstructure:"budget_confidence_factor"`
}

// ConcurrencyConfig bounds worker parallelism
type ConcurrencyConfig struct {
	DebateWorkers int `yaml:"debate_workers" mapstructure:"debate_workers"`
	FetchWorkers  int `yaml:"fetch_workers" mapstructure:"fetch_workers"`
}

// OutputConfig controls rendering
type OutputConfig struct {
	Verbose       bool `yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool `yaml:"include_footer" mapstructure:"include_footer"`
}

// DefaultConfig returns the documented defaults for every threshold
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "Claimlens/0.2 (+https://github.com/claimlens/claimlens)",
			MaxBodyBytes: 2_000_000,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 30 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Search: SearchConfig{
			MaxResults:    8,
			RatePerSecond: 1.0,
			Burst:         3,
		},
		LLM: LLMConfig{
			Default:     ModelRef{Provider: "openai", Model: "gpt-4o"},
			Fallback:    ModelRef{Provider: "openai", Model: "gpt-4o-mini"},
			Roles:       map[string]ModelRef{},
			Providers:   map[string]ProviderConfig{},
			MaxRetries:  3,
			BackoffBase: 500 * time.Millisecond,
			MaxTokens:   2000,
		},
		Oracle: OracleConfig{
			ChunkSize:      20,
			DedupThreshold: 0.85,
		},
		Research: ResearchConfig{
			MaxIterations:          10,
			ContrarianIterations:   2,
			QueriesPerClaim:        3,
			MaxSourcesPerIteration: 5,
			SufficiencyCount:       4,
			MinProbativeValue:      0.3,
			TimeBudget:             8 * time.Minute,
			MaxDocChars:            12_000,
		},
		Boundary: BoundaryConfig{
			MaxBoundaries: 5,
		},
		Debate: DebateConfig{
			SelfConsistencyCalls:       2,
			SelfConsistencyTemperature: 0.9,
			HarmConfidenceFloor:        40,
			SpreadBuckets: []SpreadBucket{
				{MaxSpread: 5, Multiplier: 1.0},
				{MaxSpread: 12, Multiplier: 0.9},
				{MaxSpread: 20, Multiplier: 0.7},
			},
			OverflowMultiplier: 0.4,
			StageTimeout:       2 * time.Minute,
		},
		Aggregate: AggregateConfig{
			BalanceSkewThreshold:   0.8,
			MinDirectionalItems:    3,
			BudgetConfidenceFactor: 0.85,
		},
		Concurrency: ConcurrencyConfig{
			DebateWorkers: 2,
			FetchWorkers:  4,
		},
		Output: OutputConfig{
			IncludeFooter: true,
		},
	}
}
