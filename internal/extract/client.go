// Package extract calls the extraction service for one content unit and
// turns its answer into contacts and competitor hints.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/analysis"
	"github.com/protocol-education/school-intel/internal/config"
	"github.com/protocol-education/school-intel/internal/cost"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/resilience"
	"github.com/protocol-education/school-intel/pkg/anthropic"
)

const defaultCallTimeout = 90 * time.Second

// Result is what one extraction produced. CostUSD and Usage are filled
// whenever the service answered, including when the answer was rejected.
type Result struct {
	Contacts []model.ContactRecord
	Hints    []analysis.Hint
	Findings []string
	Tier     model.Tier
	Model    string
	Usage    model.TokenUsage
	CostUSD  float64
	Attempts int
}

// Client runs extractions against the AI service.
type Client struct {
	ai       anthropic.Client
	calc     *cost.Calculator
	retry    resilience.RetryConfig
	breakers *resilience.Breakers
	timeout  time.Duration
	cacheTTL string
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry policy for throttled and transient failures.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithBreakers sets the per-model circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(c *Client) { c.breakers = b }
}

// WithCallTimeout bounds each individual call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPromptCacheTTL sets the TTL of the cached system prompt ("5m" or "1h").
func WithPromptCacheTTL(ttl string) Option {
	return func(c *Client) { c.cacheTTL = ttl }
}

// New creates a Client.
func New(ai anthropic.Client, calc *cost.Calculator, opts ...Option) *Client {
	c := &Client{
		ai:       ai,
		calc:     calc,
		retry:    resilience.DefaultRetryConfig(),
		breakers: resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig()),
		timeout:  defaultCallTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("anthropic", "extract")
	return c
}

// FromConfig creates a Client using the anthropic config section.
func FromConfig(ai anthropic.Client, calc *cost.Calculator, cfg config.AnthropicConfig) *Client {
	opts := []Option{
		WithRetry(resilience.RetryFromConfig(cfg)),
		WithBreakers(resilience.NewBreakers(resilience.BreakerFromConfig(cfg))),
	}
	if cfg.TimeoutSecs > 0 {
		opts = append(opts, WithCallTimeout(time.Duration(cfg.TimeoutSecs)*time.Second))
	}
	if cfg.PromptCacheTTL != "" {
		opts = append(opts, WithPromptCacheTTL(cfg.PromptCacheTTL))
	}
	return New(ai, calc, opts...)
}

// Breakers exposes the per-model breakers for status reporting.
func (c *Client) Breakers() *resilience.Breakers { return c.breakers }

// Extract runs one extraction of unit at tier. Errors are *ExtractionError,
// *RateLimitError, *ServiceError or a configuration problem. The Result is
// non-nil even on error so the caller can charge what was spent.
func (c *Client) Extract(ctx context.Context, school string, unit model.ContentUnit, tier model.Tier) (*Result, error) {
	res := &Result{Tier: tier}

	rate, ok := c.calc.Rate(tier)
	if !ok || rate.Model == "" {
		return res, eris.Errorf("extract: no model configured for tier %q", tier)
	}
	res.Model = rate.Model

	msg, err := buildMessage(school, unit)
	if err != nil {
		return res, err
	}

	maxTokens := int64(rate.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       rate.Model,
		MaxTokens:   maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(systemText, c.cacheTTL),
		Messages:    []anthropic.Message{msg},
		Temperature: &temp,
	}

	resp, err := c.call(ctx, tier, req, res)
	if err != nil {
		return res, err
	}

	res.Usage = model.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CacheWrite:   resp.Usage.CacheCreationInputTokens,
		CacheRead:    resp.Usage.CacheReadInputTokens,
	}
	res.CostUSD = c.calc.Actual(tier, res.Usage)
	resp.Usage.LogCost(rate.Model, "extract:"+string(unit.Class), res.CostUSD)

	if resp.StopReason == "max_tokens" {
		return res, &ExtractionError{Tier: tier, Class: unit.Class, Reason: "response truncated at max_tokens"}
	}

	p, reason, err := decode(unit.Class, resp.Text())
	if reason != "" {
		return res, &ExtractionError{Tier: tier, Class: unit.Class, Reason: reason, Err: err}
	}

	res.Contacts = toContacts(p.contacts(), unit, tier)
	res.Hints = toHints(p, unit.URL)
	res.Findings = p.findings()

	zap.L().Debug("extract: unit extracted",
		zap.String("url", unit.URL),
		zap.String("tier", string(tier)),
		zap.Int("contacts", len(res.Contacts)),
		zap.Int("hints", len(res.Hints)),
	)
	return res, nil
}

// call sends req through the model's breaker with retries. Each attempt has
// its own timeout.
func (c *Client) call(ctx context.Context, tier model.Tier, req anthropic.MessageRequest, res *Result) (*anthropic.MessageResponse, error) {
	breaker := c.breakers.Get(req.Model)

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		res.Attempts++
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			resp, err := c.ai.CreateMessage(callCtx, req)
			if err != nil {
				return nil, c.classify(ctx, tier, err)
			}
			return resp, nil
		})
	})
	if err == nil {
		return resp, nil
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		rl.Attempts = res.Attempts
		return nil, rl
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &ServiceError{Tier: tier, Err: err}
	}
	return nil, err
}

// classify maps a raw client error onto the package's error types.
func (c *Client) classify(parent context.Context, tier model.Tier, err error) error {
	if anthropic.IsRateLimit(err) {
		return &RateLimitError{After: anthropic.RetryAfter(err), Err: err}
	}
	status := anthropic.StatusCode(err)
	// A per-call timeout is transient; a cancelled parent is not.
	timedOut := errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
	return &ServiceError{
		Tier:      tier,
		Status:    status,
		transient: timedOut || resilience.RetryableStatus(status) || (status == 0 && resilience.IsRetryable(err)),
		Err:       err,
	}
}
