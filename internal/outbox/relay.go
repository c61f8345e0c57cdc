package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Store is the persistence the relay drains. ClaimBatch must not hand the
// same pending message to two concurrent relays.
type Store interface {
	ClaimBatch(ctx context.Context, now time.Time, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	Reschedule(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkDeadLetter(ctx context.Context, id string, lastError string) error
}

// Dispatcher delivers one message to its destination transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// RelayConfig tunes the background delivery loop.
type RelayConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRelayConfig returns conservative production defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:   500 * time.Millisecond,
		BatchSize:      100,
		MaxAttempts:    8,
		InitialBackoff: time.Second,
		MaxBackoff:     2 * time.Minute,
	}
}

// Relay is the background dispatcher: it polls the outbox for due pending
// messages, delivers them, and marks them sent. Transient delivery failures
// are retried with exponential backoff; a message that exhausts its attempts
// is parked in the dead-letter state and surfaced to operators, never
// silently dropped.
type Relay struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        RelayConfig
	now        func() time.Time
}

// NewRelay constructs a relay over the given store and dispatcher.
func NewRelay(store Store, dispatcher Dispatcher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRelayConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRelayConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultRelayConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultRelayConfig().MaxBackoff
	}
	return &Relay{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run drains the outbox until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				r.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce claims and delivers one batch. Exposed for tests and for the
// composition root to flush on shutdown.
func (r *Relay) DrainOnce(ctx context.Context) error {
	now := r.now()
	messages, err := r.store.ClaimBatch(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := r.dispatcher.Dispatch(ctx, msg); err != nil {
			r.handleFailure(ctx, msg, err)
			continue
		}
		if err := r.store.MarkSent(ctx, msg.ID, r.now()); err != nil {
			r.logger.Error("failed to mark outbox message sent",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}
		r.logger.DebugContext(ctx, "outbox message delivered",
			"message_id", msg.ID,
			"order_id", msg.OrderID,
			"kind", string(msg.Kind),
			"destination", string(msg.Destination),
		)
	}
	return nil
}

func (r *Relay) handleFailure(ctx context.Context, msg Message, dispatchErr error) {
	attempts := msg.Attempts + 1

	if attempts >= r.cfg.MaxAttempts {
		if err := r.store.MarkDeadLetter(ctx, msg.ID, dispatchErr.Error()); err != nil {
			r.logger.Error("failed to dead-letter outbox message", "message_id", msg.ID, "error", err)
			return
		}
		// Operator-facing alert path: the saga for this order needs manual
		// investigation, especially if the parked message was a compensation.
		r.logger.ErrorContext(ctx, "outbox message dead-lettered",
			"message_id", msg.ID,
			"order_id", msg.OrderID,
			"kind", string(msg.Kind),
			"destination", string(msg.Destination),
			"attempts", attempts,
			"error", dispatchErr,
		)
		return
	}

	next := r.now().Add(r.backoffDelay(attempts))
	if err := r.store.Reschedule(ctx, msg.ID, attempts, next, dispatchErr.Error()); err != nil {
		r.logger.Error("failed to reschedule outbox message", "message_id", msg.ID, "error", err)
		return
	}
	r.logger.WarnContext(ctx, "outbox delivery failed, rescheduled",
		"message_id", msg.ID,
		"order_id", msg.OrderID,
		"kind", string(msg.Kind),
		"attempt", attempts,
		"next_attempt_at", next,
		"error", dispatchErr,
	)
}

// backoffDelay walks the exponential schedule up to the given attempt count.
func (r *Relay) backoffDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff

	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
