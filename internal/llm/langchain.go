package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/themeagent/internal/config"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
)

const defaultBaseBackoff = 1 * time.Second

// LangChain adapts a langchaingo model to Provider with rate limiting and
// retries.
type LangChain struct {
	model       llms.Model
	backend     string
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	timeout     time.Duration
	maxTokens   int
	temperature float64
	logger      *logging.Logger
}

// New builds the provider named in cfg ("anthropic" or "openai").
func New(cfg config.LLMConfig, logger *logging.Logger) (*LangChain, error) {
	if !cfg.APIKey.IsSet() {
		return nil, ErrMissingAPIKey
	}
	var (
		model llms.Model
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey.Value())}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey.Value())}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}
	return NewFromModel(model, cfg, logger), nil
}

// NewFromModel wraps an existing langchaingo model.
func NewFromModel(model llms.Model, cfg config.LLMConfig, logger *logging.Logger) *LangChain {
	if logger == nil {
		logger = logging.NewNop()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &LangChain{
		model:       model,
		backend:     strings.ToLower(cfg.Provider),
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
		timeout:     cfg.Timeout.Duration(),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.Named("llm"),
	}
}

// Complete sends messages to the model named in opts.
func (l *LangChain) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if len(messages) == 0 {
		return Completion{}, ErrNoMessages
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("rate limiter error: %w", err)
	}

	content := toMessageContent(messages)
	callOpts := l.callOptions(opts)

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := l.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			}
		}

		c, err := l.generate(ctx, content, callOpts)
		if err == nil {
			c.Model = opts.Model
			return c, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return Completion{}, err
		}
		l.logger.Warn(ctx, "completion failed, retrying",
			zap.String("model", opts.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return Completion{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (l *LangChain) generate(ctx context.Context, content []llms.MessageContent, opts []llms.CallOption) (Completion, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	resp, err := l.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return Completion{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	return Completion{Content: choice.Content, Usage: usageFrom(choice.GenerationInfo)}, nil
}

func (l *LangChain) callOptions(opts Options) []llms.CallOption {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = l.maxTokens
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = l.temperature
	}
	out := []llms.CallOption{llms.WithTemperature(temp)}
	if opts.Model != "" {
		out = append(out, llms.WithModel(opts.Model))
	}
	if maxTokens > 0 {
		out = append(out, llms.WithMaxTokens(maxTokens))
	}
	return out
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

// usageFrom reads token counts from generation info. Anthropic and OpenAI
// report them under different keys.
func usageFrom(info map[string]any) Usage {
	return Usage{
		InputTokens:  firstInt(info, "InputTokens", "PromptTokens"),
		OutputTokens: firstInt(info, "OutputTokens", "CompletionTokens"),
	}
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// isRetryable reports whether err looks transient.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"429", "rate limit", "overloaded", "timeout", "500", "502", "503", "529", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
