package notify

import (
	"context"
	"log/slog"
	"time"

	"certifier/pkg/platform/circuit"
)

// DefaultPrimaryTimeout bounds a single primary delivery attempt.
const DefaultPrimaryTimeout = 5 * time.Second

// FallbackNotifier sends through the primary notifier while its breaker is
// closed. Once the breaker opens, messages go straight to the fallback and
// the primary only sees the breaker's periodic trial calls.
type FallbackNotifier struct {
	primary  Notifier
	fallback Notifier
	breaker  *circuit.Breaker
	logger   *slog.Logger
	timeout  time.Duration
}

type FallbackOption func(*FallbackNotifier)

// WithPrimaryTimeout bounds each primary attempt.
func WithPrimaryTimeout(d time.Duration) FallbackOption {
	return func(n *FallbackNotifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func NewFallbackNotifier(primary, fallback Notifier, breaker *circuit.Breaker, logger *slog.Logger, opts ...FallbackOption) *FallbackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &FallbackNotifier{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   logger,
		timeout:  DefaultPrimaryTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *FallbackNotifier) Notify(ctx context.Context, msg Message) error {
	if !n.breaker.AllowTrial() {
		return n.fallback.Notify(ctx, msg)
	}

	primaryCtx, cancel := context.WithTimeout(ctx, n.timeout)
	err := n.primary.Notify(primaryCtx, msg)
	cancel()
	if err == nil {
		if _, change := n.breaker.RecordSuccess(); change.Closed {
			n.logger.InfoContext(ctx, "notifier recovered", "breaker", n.breaker.Name())
		}
		return nil
	}

	useFallback, change := n.breaker.RecordFailure()
	if change.Opened {
		n.logger.WarnContext(ctx, "notifier circuit opened, using fallback",
			"breaker", n.breaker.Name(),
			"error", err,
		)
	}
	if !useFallback {
		return err
	}
	return n.fallback.Notify(ctx, msg)
}
