package generation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/snapquant/services/shared/metrics"
	"github.com/snapquant/services/shared/retry"
)

// ErrorPrefix marks a generation failure rendered in place of code.
const ErrorPrefix = "// error: "

// ErrNoBackend is reported when no generator is configured.
var ErrNoBackend = errors.New("no AI generation backend is configured")

// Client wraps a Generator with retries and never fails: exhausted attempts become a sentinel string.
type Client struct {
	gen      Generator
	policy   retry.Policy
	recorder metrics.Recorder
	logger   *slog.Logger
}

// NewClient builds a Client. A nil gen makes every call return the sentinel.
func NewClient(gen Generator, policy retry.Policy, recorder metrics.Recorder, logger *slog.Logger) *Client {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = retry.Default().MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = retry.Default().BaseDelay
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gen: gen, policy: policy, recorder: recorder, logger: logger}
}

// Generate returns the model response or ErrorPrefix followed by the last failure.
func (c *Client) Generate(ctx context.Context, req Request) string {
	messages, err := req.Conversation()
	if err != nil {
		return errorText(err)
	}
	if c.gen == nil {
		c.recorder.GenerationAttempt("unconfigured")
		return errorText(ErrNoBackend)
	}
	for i := range messages {
		if messages[i].Role == RoleUser {
			messages[i].Content = Sanitize(messages[i].Content)
		}
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("generation attempt failed",
			slog.String("backend", c.gen.Name()),
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", policy.MaxAttempts),
			slog.Duration("retryIn", delay),
			slog.Any("error", err))
	}

	var output string
	err = policy.Do(ctx, func(ctx context.Context, _ int) error {
		out, err := c.gen.Complete(ctx, messages)
		if err != nil {
			c.recorder.GenerationAttempt("error")
			return err
		}
		c.recorder.GenerationAttempt("success")
		output = out
		return nil
	})
	if err != nil {
		c.recorder.GenerationAttempt("exhausted")
		c.logger.Error("generation failed", slog.String("backend", c.gen.Name()), slog.Any("error", err))
		return errorText(err)
	}
	return output
}

// IsError reports whether text is a failure sentinel.
func IsError(text string) bool {
	return strings.HasPrefix(text, ErrorPrefix)
}

func errorText(err error) string {
	return ErrorPrefix + strings.ReplaceAll(err.Error(), "\n", " ")
}
