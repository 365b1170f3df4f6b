package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"tvcast/internal/metrics"
	"tvcast/pkg/retry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minTokenLength = 32

var (
	ErrTokenUnregistered = errors.New("device token is no longer registered")
	ErrInvalidToken      = errors.New("invalid device token")
	ErrPushDisabled      = errors.New("push delivery is not configured")
)

type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushSender is the provider client. FCMService is the production implementation.
type PushSender interface {
	Send(ctx context.Context, token string, msg *PushMessage) error
	// SendEach returns one error slot per token; the second value reports a failed request.
	SendEach(ctx context.Context, tokens []string, msg *PushMessage) ([]error, error)
}

// ValidateToken checks the shape of a device token before it is stored or sent.
func ValidateToken(token string) error {
	if len(token) < minTokenLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidToken, minTokenLength)
	}
	if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: contains whitespace", ErrInvalidToken)
	}
	return nil
}

type PushResult struct {
	Submitted    int      `json:"submitted"`
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	Invalid      []string `json:"invalid,omitempty"`
	Unregistered []string `json:"unregistered,omitempty"`
}

type PushGatewayConfig struct {
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
	Policy      retry.Policy
}

type PushGateway struct {
	sender PushSender
	cfg    PushGatewayConfig
	log    *zap.Logger
}

// NewPushGateway wraps sender. A nil sender yields a gateway that fails every push.
func NewPushGateway(sender PushSender, cfg PushGatewayConfig, log *zap.Logger) *PushGateway {
	if sender == nil {
		sender = disabledSender{}
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 500 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &PushGateway{sender: sender, cfg: cfg, log: log}
}

// SendBatch delivers msg to every valid token. Per-token failures are counted, not returned;
// the error is set only when no chunk could be submitted.
func (g *PushGateway) SendBatch(ctx context.Context, tokens []string, msg *PushMessage) (*PushResult, error) {
	res := &PushResult{}
	valid := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		if ValidateToken(tok) != nil {
			res.Invalid = append(res.Invalid, tok)
			continue
		}
		valid = append(valid, tok)
	}
	metrics.PushMessages.WithLabelValues("invalid").Add(float64(len(res.Invalid)))
	if len(valid) == 0 {
		return res, nil
	}

	var (
		mu           sync.Mutex
		failedChunks int
		lastErr      error
	)
	chunks := chunk(valid, g.cfg.BatchSize)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for _, batch := range chunks {
		eg.Go(func() error {
			var results []error
			_, err := g.cfg.Policy.Do(egCtx, func(ctx context.Context, _ int) error {
				callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
				defer cancel()
				r, err := g.sender.SendEach(callCtx, batch, msg)
				if errors.Is(err, ErrPushDisabled) {
					return retry.Permanent(err)
				}
				results = r
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failedChunks++
				lastErr = err
				res.Failed += len(batch)
				metrics.PushMessages.WithLabelValues("failed").Add(float64(len(batch)))
				g.log.Warn("push chunk failed", zap.Int("tokens", len(batch)), zap.Error(err))
				return nil
			}
			res.Submitted += len(batch)
			for i, tok := range batch {
				var tokErr error
				if i < len(results) {
					tokErr = results[i]
				}
				switch {
				case tokErr == nil:
					res.Sent++
					metrics.PushMessages.WithLabelValues("sent").Inc()
				case errors.Is(tokErr, ErrTokenUnregistered):
					res.Failed++
					res.Unregistered = append(res.Unregistered, tok)
					metrics.PushMessages.WithLabelValues("unregistered").Inc()
				default:
					res.Failed++
					metrics.PushMessages.WithLabelValues("failed").Inc()
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	if failedChunks == len(chunks) {
		return res, fmt.Errorf("send push batch: %w", lastErr)
	}
	return res, nil
}

// SendOne delivers to a single token, retrying transient failures.
func (g *PushGateway) SendOne(ctx context.Context, token string, msg *PushMessage) error {
	if err := ValidateToken(token); err != nil {
		return err
	}
	_, err := g.cfg.Policy.Do(ctx, func(ctx context.Context, _ int) error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		err := g.sender.Send(callCtx, token, msg)
		if errors.Is(err, ErrTokenUnregistered) || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrPushDisabled) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.PushMessages.WithLabelValues("failed").Inc()
		return fmt.Errorf("send push: %w", err)
	}
	metrics.PushMessages.WithLabelValues("sent").Inc()
	return nil
}

func chunk(tokens []string, size int) [][]string {
	var out [][]string
	for len(tokens) > size {
		out = append(out, tokens[:size])
		tokens = tokens[size:]
	}
	if len(tokens) > 0 {
		out = append(out, tokens)
	}
	return out
}

type disabledSender struct{}

func (disabledSender) Send(context.Context, string, *PushMessage) error { return ErrPushDisabled }

func (disabledSender) SendEach(context.Context, []string, *PushMessage) ([]error, error) {
	return nil, ErrPushDisabled
}
