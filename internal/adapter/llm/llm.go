package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campusbot/config"
	"campusbot/internal/port"
)

var ErrEmptyResponse = errors.New("model returned an empty response")

// New builds the generator selected by cfg.Provider, wrapped with the
// configured timeout. Provider "none" returns a nil LLM.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.LLM, error) {
	var (
		model port.LLM
		err   error
	)
	switch cfg.LLM.Provider {
	case "none", "":
		return nil, nil
	case "gemini":
		model, err = NewGemini(ctx, cfg.LLM.APIKeyEnv, cfg.LLM.Model)
	case "openai":
		model, err = NewOpenAI(cfg.LLM.APIKeyEnv, cfg.LLM.Model, cfg.LLM.BaseURL)
	case "ollama":
		model = NewOllama(cfg.LLM.Model, cfg.LLM.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(model, cfg.LLMTimeout(), logger), nil
}

// Timeout bounds every Generate call of the wrapped model.
type Timeout struct {
	next    port.LLM
	timeout time.Duration
	logger  *zap.Logger
}

func WithTimeout(next port.LLM, timeout time.Duration, logger *zap.Logger) *Timeout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeout{next: next, timeout: timeout, logger: logger.Named("llm")}
}

func (t *Timeout) Generate(ctx context.Context, prompt string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := t.next.Generate(ctx, prompt)
	if err != nil {
		t.logger.Warn("generation failed",
			zap.String("model", t.next.ModelName()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}
	t.logger.Debug("generation complete",
		zap.String("model", t.next.ModelName()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)))
	return text, nil
}

func (t *Timeout) ModelName() string { return t.next.ModelName() }
