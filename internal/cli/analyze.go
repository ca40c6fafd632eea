package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/pipeline"
)

var (
	outJSON       string
	outMD         string
	metricsPath   string
	timeout       time.Duration
	searchBaseURL string
	noCache       bool
	noFooter      bool
	insecureTLS   bool
	provider      string
	modelName     string
	fallbackModel string
	maxIterations int
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <claimset.json>",
	Short: "Research and verify a claim set, producing an overall assessment",
	Long: `Analyze reads a claim set (thesis + atomic claims, optionally seed
evidence) from a JSON file and:
- Reassesses the harm potential of each claim
- Runs the budgeted evidence research loop over web sources
- Clusters evidence into claim boundaries
- Debates every claim through the advocate/challenger protocol
- Aggregates per-claim verdicts into one calibrated assessment

Example:
  claimlens analyze claims.json
  claimlens analyze claims.json --json result.json --md report.md
  claimlens analyze claims.json --provider anthropic --model claude-sonnet-4-5`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	// Output flags
	analyzeCmd.Flags().StringVar(&outJSON, "json", "assessment.json", "output JSON path")
	analyzeCmd.Flags().StringVar(&outMD, "md", "", "output Markdown path (optional)")
	analyzeCmd.Flags().StringVar(&metricsPath, "metrics", "", "write call/stage metrics as JSONL (optional)")

	// Run flags
	analyzeCmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "overall analysis timeout")
	analyzeCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override research iteration budget (0 = config default)")
	analyzeCmd.Flags().StringVar(&searchBaseURL, "search-url", "", "search collaborator base URL (default: CLAIMLENS_SEARCH_BASE_URL)")
	analyzeCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable document/score cache")
	analyzeCmd.Flags().BoolVar(&noFooter, "no-footer", false, "disable footer in Markdown reports")
	analyzeCmd.Flags().BoolVar(&insecureTLS, "insecure", false, "skip TLS certificate verification (use for self-signed certs)")

	// Model flags
	analyzeCmd.Flags().StringVar(&provider, "provider", "", "default model provider (openai, anthropic, ollama)")
	analyzeCmd.Flags().StringVar(&modelName, "model", "", "default model name")
	analyzeCmd.Flags().StringVar(&fallbackModel, "fallback-model", "", "cheaper model substituted on capacity errors")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	set, err := readClaimSet(path)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Analyzing: %s\n", path)
		fmt.Fprintf(os.Stderr, "Thesis: %s\n", set.Thesis)
		fmt.Fprintf(os.Stderr, "Claims: %d\n", len(set.Claims))
		fmt.Fprintf(os.Stderr, "Timeout: %v\n", timeout)
		fmt.Fprintln(os.Stderr)
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	assessment := p.Analyze(ctx, *set)

	if verbose {
		fmt.Fprintf(os.Stderr, "✓ Gathered %d evidence items (research %s)\n", assessment.EvidenceCount, assessment.ResearchState)
		fmt.Fprintf(os.Stderr, "✓ Identified %d claim boundaries\n", len(assessment.ClaimBoundaries))
		fmt.Fprintf(os.Stderr, "✓ Debated %d claims\n", len(assessment.ClaimVerdicts))
		fmt.Fprintln(os.Stderr)
	}

	if err := p.RenderAssessment(assessment, outJSON, outMD, verbose); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	if metricsPath != "" {
		if err := writeMetrics(p, metricsPath); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote metrics: %s\n", metricsPath)
		}
	}

	return nil
}

// readClaimSet loads and shape-checks the stage-1 extraction artifact
func readClaimSet(path string) (*model.ClaimSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read claim set: %w", err)
	}
	var set model.ClaimSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse claim set: %w", err)
	}
	if set.Thesis == "" {
		return nil, fmt.Errorf("claim set has no thesis")
	}
	if len(set.Claims) == 0 {
		return nil, fmt.Errorf("claim set has no claims")
	}
	seen := make(map[string]bool, len(set.Claims))
	for i := range set.Claims {
		c := &set.Claims[i]
		if c.ID == "" || c.Statement == "" {
			return nil, fmt.Errorf("claim %d is missing id or statement", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate claim id %q", c.ID)
		}
		seen[c.ID] = true
	}
	return &set, nil
}

// buildConfig layers defaults, config file, environment, and flags
func buildConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}

	cfg.HTTP.InsecureTLS = cfg.HTTP.InsecureTLS || insecureTLS
	cfg.Cache.Enabled = cfg.Cache.Enabled && !noCache
	cfg.Output.Verbose = verbose
	cfg.Output.IncludeFooter = !noFooter
	if maxIterations > 0 {
		cfg.Research.MaxIterations = maxIterations
	}
	if searchBaseURL != "" {
		cfg.Search.BaseURL = searchBaseURL
	}
	if cfg.Search.BaseURL == "" {
		cfg.Search.BaseURL = os.Getenv("CLAIMLENS_SEARCH_BASE_URL")
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = os.Getenv("CLAIMLENS_SEARCH_API_KEY")
	}
	if cfg.Search.BaseURL == "" {
		return cfg, fmt.Errorf("no search collaborator configured (set --search-url or CLAIMLENS_SEARCH_BASE_URL)")
	}
	if cfg.Cache.Enabled && cfg.Cache.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Cache.Dir = home + "/.claimlens/cache"
		}
	}

	if provider != "" {
		cfg.LLM.Default.Provider = provider
	}
	if modelName != "" {
		cfg.LLM.Default.Model = modelName
	}
	if fallbackModel != "" {
		cfg.LLM.Fallback = model.ModelRef{Provider: cfg.LLM.Default.Provider, Model: fallbackModel}
	}

	applyProviderEnv(&cfg)
	return cfg, nil
}

// applyProviderEnv fills in provider credentials from the conventional
// environment variables when the config file left them empty
func applyProviderEnv(cfg *model.Config) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]model.ProviderConfig{}
	}
	set := func(name, apiKey, baseURL string) {
		pc := cfg.LLM.Providers[name]
		if pc.APIKey == "" {
			pc.APIKey = apiKey
		}
		if pc.BaseURL == "" {
			pc.BaseURL = baseURL
		}
		cfg.LLM.Providers[name] = pc
	}
	set("openai", os.Getenv("OPENAI_API_KEY"), "")
	set("anthropic", os.Getenv("ANTHROPIC_API_KEY"), "")
	set("ollama", "", os.Getenv("OLLAMA_BASE_URL"))
}

func writeMetrics(p *pipeline.Pipeline, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close metrics file: %w", closeErr)
		}
	}()
	if err := p.Recorder().WriteJSONL(f); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
