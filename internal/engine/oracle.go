package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yangwenmai/oracle-avs/internal/config"
	"github.com/yangwenmai/oracle-avs/internal/metrics"
	"github.com/yangwenmai/oracle-avs/internal/model"
)

// Oracle roles.
const (
	RolePerformer = config.RolePerformer
	RoleValidator = config.RoleValidator
)

// Judgment is one oracle answer. Result is the normalized reply; Raw is
// what the provider returned.
type Judgment struct {
	Result string
	Raw    string
}

// Judger produces a judgment for an input string.
type Judger interface {
	Judge(ctx context.Context, input string) (Judgment, error)
}

var _ Judger = (*Oracle)(nil)

// Oracle wraps a ModelClient with a role's fixed system instruction.
type Oracle struct {
	role   string
	system string
	client ModelClient
	logger *slog.Logger
}

// NewOracle creates an oracle for role ("performer" or "validator").
func NewOracle(role string, client ModelClient, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		role:   role,
		system: SystemPromptFor(role),
		client: client,
		logger: logger.With("oracle", role),
	}
}

// Judge asks the model about input and normalizes the reply with trim and
// lowercase. Any reply, including an empty one, is a valid result. Failures
// wrap model.ErrOracleUnavailable and are not retried.
func (o *Oracle) Judge(ctx context.Context, input string) (Judgment, error) {
	start := time.Now()
	raw, err := o.client.Complete(ctx, o.system, input)
	metrics.OracleLatency.WithLabelValues(o.role).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleCalls.WithLabelValues(o.role, "error").Inc()
		return Judgment{}, fmt.Errorf("%w: %v", model.ErrOracleUnavailable, err)
	}
	metrics.OracleCalls.WithLabelValues(o.role, "ok").Inc()

	j := Judgment{Result: Normalize(raw), Raw: raw}
	o.logger.Debug("judgment", "result", j.Result, "elapsed", time.Since(start))
	return j, nil
}

// Normalize trims and lowercases a raw model reply.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NewModelClient builds the provider client described by cfg.
func NewModelClient(cfg config.ModelConfig) ModelClient {
	if cfg.UseStub() {
		return &StubModelClient{}
	}
	switch cfg.Provider {
	case "claude":
		opts := []ClaudeOption{}
		if cfg.Model != "" {
			opts = append(opts, WithClaudeModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithClaudeBaseURL(cfg.BaseURL))
		}
		return NewClaudeClient(cfg.APIKey, opts...)
	case "gemini":
		opts := []GeminiOption{}
		if cfg.Model != "" {
			opts = append(opts, WithGeminiModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithGeminiBaseURL(cfg.BaseURL))
		}
		return NewGeminiClient(cfg.APIKey, opts...)
	case "ollama":
		opts := []OllamaOption{}
		if cfg.Model != "" {
			opts = append(opts, WithOllamaModel(cfg.Model))
		}
		return NewOllamaClient(cfg.BaseURL, opts...)
	default:
		opts := []OpenAIOption{}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		return NewOpenAIClient(cfg.APIKey, opts...)
	}
}
