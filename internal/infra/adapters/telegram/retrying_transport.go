package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/infra/metrics"
	"telegram-channel-access/internal/infra/retry"
)

var (
	_ adapter.MessagingTransport = (*RetryingTransport)(nil)
	_ adapter.StateReporter      = (*RetryingTransport)(nil)
)

// RetryingTransport wraps every outbound call with a per-call timeout and the
// retry policy. Transient failures are retried; fatal and conflict failures
// move the transport to Stopped, after which every call fails fast until the
// process restarts.
type RetryingTransport struct {
	inner       adapter.MessagingTransport
	policy      retry.Policy
	callTimeout time.Duration
	log         *zerolog.Logger

	mu       sync.Mutex
	state    adapter.TransportState
	stopOnce sync.Once
	stopped  chan struct{}
	stopErr  error
	onStop   func(err error)
}

func NewRetryingTransport(inner adapter.MessagingTransport, policy retry.Policy, callTimeout time.Duration, logger *zerolog.Logger) *RetryingTransport {
	l := logger.With().Str("component", "RetryingTransport").Logger()
	t := &RetryingTransport{
		inner:       inner,
		policy:      policy,
		callTimeout: callTimeout,
		log:         &l,
		stopped:     make(chan struct{}),
	}
	t.state = adapter.TransportActive
	metrics.SetTransportState(string(adapter.TransportActive))
	return t
}

// OnStop registers fn to run once when the transport stops.
func (t *RetryingTransport) OnStop(fn func(err error)) {
	t.onStop = fn
}

func (t *RetryingTransport) State() adapter.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stopped is closed once the transport reaches Stopped.
func (t *RetryingTransport) Stopped() <-chan struct{} {
	return t.stopped
}

// Err returns the failure that stopped the transport, if any.
func (t *RetryingTransport) Err() error {
	select {
	case <-t.stopped:
		return t.stopErr
	default:
		return nil
	}
}

// Stop moves the transport to Stopped. Only the first call has any effect.
func (t *RetryingTransport) Stop(err error) {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopErr = err
		t.state = adapter.TransportStopped
		metrics.SetTransportState(string(adapter.TransportStopped))
		t.mu.Unlock()
		close(t.stopped)
		t.log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("transport stopped; restart required")
		if t.onStop != nil {
			t.onStop(err)
		}
	})
}

// transition moves from -> to atomically. Stopped is never left.
func (t *RetryingTransport) transition(from, to adapter.TransportState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return false
	}
	t.state = to
	metrics.SetTransportState(string(to))
	return true
}

func (t *RetryingTransport) stoppedErr(op string) error {
	metrics.IncTransportCall(op, string(domain.FailureStopped))
	return domain.NewTransportError(domain.FailureStopped, op, t.stopErr)
}

func (t *RetryingTransport) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func (t *RetryingTransport) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if t.isStopped() {
		return t.stoppedErr(op)
	}

	attempt := func(ctx context.Context) error {
		// another call may have stopped the transport while this one waited
		if t.isStopped() {
			return t.stoppedErr(op)
		}
		if t.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
			defer cancel()
		}
		err := fn(ctx)
		if err != nil {
			metrics.IncTransportCall(op, string(domain.KindOf(err)))
		} else {
			metrics.IncTransportCall(op, "ok")
		}
		return err
	}
	onRetry := func(n int, err error, wait time.Duration) {
		t.transition(adapter.TransportActive, adapter.TransportRetrying)
		metrics.IncTransportRetry(op)
		t.log.Warn().Err(err).Str("op", op).Int("retry", n).Dur("wait", wait).Msg("transient transport failure; retrying")
	}

	err := retry.Do(ctx, t.policy, retryable, attempt, onRetry)
	if err == nil {
		t.transition(adapter.TransportRetrying, adapter.TransportActive)
		return nil
	}

	switch domain.KindOf(err) {
	case domain.FailureFatal, domain.FailureConflict:
		t.Stop(err)
	case domain.FailureTransient:
		// exhausted; later calls may still succeed
		t.transition(adapter.TransportRetrying, adapter.TransportActive)
	}
	return err
}

func retryable(err error) retry.Decision {
	if domain.KindOf(err) == domain.FailureTransient {
		return retry.Retry
	}
	return retry.Abort
}

func (t *RetryingTransport) SendMessage(ctx context.Context, chatID int64, text string, opts *adapter.SendOptions) error {
	return t.call(ctx, "sendMessage", func(ctx context.Context) error {
		return t.inner.SendMessage(ctx, chatID, text, opts)
	})
}

func (t *RetryingTransport) ApproveJoin(ctx context.Context, channelID, userID int64) error {
	return t.call(ctx, "approveJoin", func(ctx context.Context) error {
		return t.inner.ApproveJoin(ctx, channelID, userID)
	})
}

func (t *RetryingTransport) Ban(ctx context.Context, channelID, userID int64) error {
	return t.call(ctx, "ban", func(ctx context.Context) error {
		return t.inner.Ban(ctx, channelID, userID)
	})
}

func (t *RetryingTransport) Unban(ctx context.Context, channelID, userID int64) error {
	return t.call(ctx, "unban", func(ctx context.Context) error {
		return t.inner.Unban(ctx, channelID, userID)
	})
}

func (t *RetryingTransport) GetMembershipStatus(ctx context.Context, channelID, userID int64) (model.MemberStatus, error) {
	var status model.MemberStatus
	err := t.call(ctx, "getMembershipStatus", func(ctx context.Context) error {
		s, err := t.inner.GetMembershipStatus(ctx, channelID, userID)
		status = s
		return err
	})
	return status, err
}
