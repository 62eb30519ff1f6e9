// Package gateway is the single boundary between the analysis pipeline and the
// external language model. It renders the fixed prompt for a kind, calls the
// provider with retry, backoff and a per-call timeout, and validates the reply
// against the requested JSON shape before decoding it.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonathan/labelscan/internal/cache"
	"github.com/jonathan/labelscan/internal/llm"
	"github.com/jonathan/labelscan/internal/prompts"
	"github.com/jonathan/labelscan/internal/schemas"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PromptKind selects a fixed instruction template.
type PromptKind string

// Prompt kinds
const (
	KindNormalizeLabel PromptKind = "normalize-label"
	KindSummarizeRisk  PromptKind = "summarize-risk"
	KindAnswerChat     PromptKind = "answer-chat"
)

// Vars is the structured input substituted into a prompt template.
type Vars map[string]string

// Constraints bound a single generation.
type Constraints struct {
	MaxOutputTokens int
	// Shape names the schema the reply must satisfy (see schemas.Shape*).
	Shape string
}

// Generator is what the pipeline components depend on. Tests substitute a
// deterministic stand-in.
type Generator interface {
	Generate(ctx context.Context, kind PromptKind, input Vars, constraints Constraints, out any) error
}

// Config holds retry and throttling policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
	// RequestsPerSecond limits outbound calls; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
	// CacheTTL applies to cached normalize-label replies.
	CacheTTL time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          8 * time.Second,
		CallTimeout:       30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
		CacheTTL:          24 * time.Hour,
	}
}

type kindSettings struct {
	tier        llm.ModelTier
	temperature float32
	cacheable   bool
}

var kinds = map[PromptKind]kindSettings{
	KindNormalizeLabel: {tier: llm.TierStandard, temperature: 0.1, cacheable: true},
	KindSummarizeRisk:  {tier: llm.TierStandard, temperature: 0.2},
	KindAnswerChat:     {tier: llm.TierLite, temperature: 0.2},
}

// Gateway implements Generator on top of an llm.Client.
type Gateway struct {
	client  llm.Client
	cfg     Config
	limiter *rate.Limiter
	cache   cache.Store
	logger  *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache enables response caching for cacheable prompt kinds.
func WithCache(store cache.Store) Option {
	return func(g *Gateway) { g.cache = store }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// New creates a Gateway. Zero-valued config fields take their defaults.
func New(client llm.Client, cfg Config, opts ...Option) *Gateway {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	g := &Gateway{
		client: client,
		cfg:    cfg,
		logger: zap.NewNop(),
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate renders the prompt for kind, calls the provider and decodes the
// validated reply into out.
func (g *Gateway) Generate(ctx context.Context, kind PromptKind, input Vars, constraints Constraints, out any) error {
	settings, ok := kinds[kind]
	if !ok {
		return fmt.Errorf("unknown prompt kind %q", kind)
	}
	tmpl, err := prompts.GetTemplate(prompts.LabelsFile, string(kind))
	if err != nil {
		return err
	}
	system, user := tmpl.Render(input)

	req := llm.Request{
		System:          system,
		Prompt:          user,
		Tier:            settings.tier,
		MaxOutputTokens: constraints.MaxOutputTokens,
		Temperature:     settings.temperature,
		JSON:            true,
	}

	var cacheKey string
	if settings.cacheable && g.cache != nil {
		cacheKey = responseKey(kind, system, user)
		if raw, err := g.cache.Get(ctx, cacheKey); err == nil {
			if err := g.decode(kind, constraints.Shape, raw, out); err == nil {
				g.logger.Debug("gateway cache hit", zap.String("kind", string(kind)))
				return nil
			}
			_ = g.cache.Delete(ctx, cacheKey)
		}
	}

	raw, err := g.call(ctx, kind, req)
	if err != nil {
		return err
	}

	if err := g.decode(kind, constraints.Shape, raw, out); err != nil {
		g.logger.Warn("gateway reply rejected",
			zap.String("kind", string(kind)),
			zap.String("shape", constraints.Shape),
			zap.Error(err),
		)
		return err
	}

	if cacheKey != "" {
		if err := g.cache.Set(ctx, cacheKey, raw, g.cfg.CacheTTL); err != nil {
			g.logger.Warn("gateway cache write failed", zap.Error(err))
		}
	}
	return nil
}

// call runs the retry loop and returns the cleaned JSON text of the first
// reply that decodes as JSON.
func (g *Gateway) call(ctx context.Context, kind PromptKind, req llm.Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", fmt.Errorf("rate limiter: %w", err)
			}
		}

		start := time.Now()
		text, err := g.attempt(ctx, req)
		if err == nil {
			g.logger.Debug("gateway call succeeded",
				zap.String("kind", string(kind)),
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", time.Since(start)),
			)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		g.logger.Warn("gateway call failed",
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.cfg.MaxAttempts),
			zap.Error(err),
		)

		if attempt < g.cfg.MaxAttempts {
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return "", err
			}
		}
	}

	return "", &UpstreamUnavailableError{
		Kind:       kind,
		Attempts:   g.cfg.MaxAttempts,
		Last:       lastErr,
		RetryAfter: g.cfg.MaxDelay,
	}
}

func (g *Gateway) attempt(ctx context.Context, req llm.Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	text, err := g.client.Generate(callCtx, req)
	if err != nil {
		return "", err
	}
	text = llm.CleanJSONBlock(text)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	if !json.Valid([]byte(text)) {
		return "", fmt.Errorf("reply is not valid JSON: %.80q", text)
	}
	return text, nil
}

func (g *Gateway) decode(kind PromptKind, shape, raw string, out any) error {
	if shape != "" {
		if err := schemas.ValidateShape(shape, raw); err != nil {
			var ve *schemas.ValidationError
			if errors.As(err, &ve) {
				return &MalformedResponseError{Kind: kind, Shape: shape, Raw: raw, Cause: err}
			}
			return err
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &MalformedResponseError{Kind: kind, Shape: shape, Raw: raw, Cause: err}
	}
	return nil
}

// backoff returns a full-jitter delay for the given attempt (1-based).
func (g *Gateway) backoff(attempt int) time.Duration {
	ceiling := g.cfg.BaseDelay << (attempt - 1)
	if ceiling <= 0 || ceiling > g.cfg.MaxDelay {
		ceiling = g.cfg.MaxDelay
	}
	return time.Duration(g.jitter() * float64(ceiling))
}

func responseKey(kind PromptKind, system, user string) string {
	sum := sha256.Sum256([]byte(system + "\x00" + user))
	return "gateway:" + string(kind) + ":" + hex.EncodeToString(sum[:])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
