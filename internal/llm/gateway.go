package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/claimlens/claimlens/internal/metrics"
	"github.com/claimlens/claimlens/internal/model"
)

// gatewaySleep is the sleep function used between retries (injectable for tests)
var gatewaySleep = time.Sleep

// FailureClass classifies why a gateway call failed after all retries
type FailureClass string

const (
	FailureMalformed    FailureClass = "malformed"
	FailureCapacity     FailureClass = "capacity"
	FailureTimeout      FailureClass = "timeout"
	FailureProvider     FailureClass = "provider_error"
	FailureUnconfigured FailureClass = "unconfigured"
)

// Failure is the typed terminal outcome of a gateway call that exhausted its
// retries. It is a value, never a panic; callers degrade and continue.
type Failure struct {
	Class     FailureClass
	Stage     string
	PromptKey string
	Provider  string
	Model     string
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s call %s/%s on %s/%s failed: %v", f.Class, f.Stage, f.PromptKey, f.Provider, f.Model, f.Err)
}

// Unwrap exposes the underlying error
func (f *Failure) Unwrap() error {
	return f.Err
}

// CallRequest describes one structured model call
type CallRequest struct {
	// Stage is the pipeline stage issuing the call (for metrics and failures)
	Stage string

	// PromptKey identifies the prompt being run
	PromptKey string

	// Role selects the configured provider/tier (advocate, challenger, ...)
	Role string

	// System and Prompt are the call text
	System string
	Prompt string

	// Out receives the JSON-decoded structured result
	Out any

	// Validate optionally checks the decoded result; a validation error is
	// treated like malformed output and retried
	Validate func() error

	// Override forces a provider/model for this call only
	Override *ModelOverride

	// Temperature for sampling; 0 uses the provider default
	Temperature float64

	// MaxTokens limits the response; 0 uses the gateway default
	MaxTokens int
}

// Gateway wraps single requests to LLM providers with tier/provider selection,
// retry, backoff, capacity fallback, and schema validation. All analytical
// failures surface as *Failure values; the gateway never aborts the run.
type Gateway struct {
	providers map[string]Provider
	resolver  ModelResolver
	cfg       model.LLMConfig
	recorder  *metrics.Recorder
	warnings  *model.WarningLog
}

// NewGateway builds a gateway from configuration. It is a fatal configuration
// error if the default provider cannot be constructed; everything downstream
// degrades instead of failing.
func NewGateway(cfg model.LLMConfig, httpCfg model.HTTPConfig, rec *metrics.Recorder, warnings *model.WarningLog) (*Gateway, error) {
	if cfg.Default.Provider == "" {
		return nil, fmt.Errorf("no default LLM provider configured")
	}

	providers := buildProviders(cfg, httpCfg)
	if _, ok := providers[cfg.Default.Provider]; !ok {
		return nil, fmt.Errorf("default provider %q is not usable (missing credentials?)", cfg.Default.Provider)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}

	return &Gateway{
		providers: providers,
		resolver:  NewConfigResolver(cfg),
		cfg:       cfg,
		recorder:  rec,
		warnings:  warnings,
	}, nil
}

// Call performs one structured model call. On success req.Out holds the
// decoded result and Call returns nil; otherwise a typed *Failure.
func (g *Gateway) Call(ctx context.Context, req CallRequest) *Failure {
	choice := g.resolver.Resolve(req.Role, req.Override)

	provider, ok := g.providers[choice.Provider]
	if !ok {
		return &Failure{
			Class:     FailureUnconfigured,
			Stage:     req.Stage,
			PromptKey: req.PromptKey,
			Provider:  choice.Provider,
			Model:     choice.Model,
			Err:       fmt.Errorf("provider %q not configured", choice.Provider),
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.cfg.MaxTokens
	}

	var lastErr error
	lastClass := FailureProvider
	usedFallback := false

	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			g.backoff(attempt)
		}
		if err := ctx.Err(); err != nil {
			return &Failure{
				Class: FailureTimeout, Stage: req.Stage, PromptKey: req.PromptKey,
				Provider: choice.Provider, Model: choice.Model, Err: err,
			}
		}

		start := time.Now()
		resp, err := provider.Complete(ctx, CompletionRequest{
			Model:       choice.Model,
			System:      req.System,
			Prompt:      req.Prompt,
			Temperature: req.Temperature,
			MaxTokens:   maxTokens,
		})
		latency := time.Since(start)

		if err != nil {
			lastErr = err
			lastClass = classifyError(err)
			g.record(req, choice, latency, string(lastClass), attempt)

			// Capacity signals substitute the cheaper fallback model for
			// this call only, fail-open instead of fail-closed.
			if lastClass == FailureCapacity && !usedFallback && g.cfg.Fallback.Model != "" {
				if fb, ok := g.providers[g.cfg.Fallback.Provider]; ok {
					usedFallback = true
					provider = fb
					choice = ModelChoice{Provider: g.cfg.Fallback.Provider, Model: g.cfg.Fallback.Model}
					g.record(req, choice, 0, "capacity_fallback", attempt)
					if g.warnings != nil {
						g.warnings.Add(model.Warning{
							Type:    model.WarnCapacityFallback,
							Stage:   req.Stage,
							Message: fmt.Sprintf("capacity signal on %s; substituted %s/%s for prompt %s", err, choice.Provider, choice.Model, req.PromptKey),
							Data:    map[string]any{"prompt_key": req.PromptKey},
						})
					}
				}
			}
			continue
		}

		if err := decodeInto(resp.Text, req.Out); err != nil {
			lastErr = err
			lastClass = FailureMalformed
			g.record(req, choice, latency, string(FailureMalformed), attempt)
			continue
		}

		if req.Validate != nil {
			if err := req.Validate(); err != nil {
				lastErr = err
				lastClass = FailureMalformed
				g.record(req, choice, latency, string(FailureMalformed), attempt)
				continue
			}
		}

		g.record(req, choice, latency, "ok", attempt)
		return nil
	}

	return &Failure{
		Class:     lastClass,
		Stage:     req.Stage,
		PromptKey: req.PromptKey,
		Provider:  choice.Provider,
		Model:     choice.Model,
		Err:       lastErr,
	}
}

// backoff sleeps for an exponentially growing interval with small jitter
func (g *Gateway) backoff(attempt int) {
	base := g.cfg.BackoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(g.cfg.BackoffBase)/2 + 1))
	gatewaySleep(base + jitter)
}

func (g *Gateway) record(req CallRequest, choice ModelChoice, latency time.Duration, outcome string, attempt int) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordCall(metrics.CallRecord{
		Stage:     req.Stage,
		PromptKey: req.PromptKey,
		Role:      req.Role,
		Provider:  choice.Provider,
		Model:     choice.Model,
		Latency:   latency,
		Outcome:   outcome,
		Attempt:   attempt,
	})
}

// classifyError maps a provider error to a failure class
func classifyError(err error) FailureClass {
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		return FailureCapacity
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTimeout
	}
	return FailureProvider
}

// decodeInto strips markdown fences and decodes the completion text into out
func decodeInto(text string, out any) error {
	if out == nil {
		return nil
	}
	cleaned := stripFences(text)
	if cleaned == "" {
		return fmt.Errorf("empty completion")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}

// stripFences removes surrounding ```json fences and any prose outside the
// outermost JSON value
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Trim prose around the outermost object or array
	objStart := strings.IndexAny(s, "{[")
	if objStart < 0 {
		return s
	}
	var objEnd int
	if s[objStart] == '{' {
		objEnd = strings.LastIndex(s, "}")
	} else {
		objEnd = strings.LastIndex(s, "]")
	}
	if objEnd > objStart {
		return s[objStart : objEnd+1]
	}
	return s
}
