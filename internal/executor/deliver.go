package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// deliver calls a channel collaborator under the configured timeout and retry
// policy. Transport errors and timeouts are retried; an explicit
// success=false receipt or a panic is final. Every failure comes back as a
// *models.ChannelError.
func (e *Executor) deliver(ctx context.Context, channel models.ActionType, send func(context.Context) (*contracts.DeliveryReceipt, error)) (*contracts.DeliveryReceipt, error) {
	ctx, span := tracer.Start(ctx, "channel."+string(channel))
	defer span.End()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.cfg.RetryInitial
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.cfg.RetryMaxAttempts-1)), ctx)

	var rc *contracts.DeliveryReceipt
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.ChannelTimeout)
		defer cancel()

		r, err := isolate(cctx, send)
		var pe *panicError
		switch {
		case errors.As(err, &pe):
			return backoff.Permanent(err)
		case err != nil:
			return err
		case r == nil:
			return backoff.Permanent(errors.New("channel returned no receipt"))
		case !r.Success:
			msg := r.Error
			if msg == "" {
				msg = "channel reported failure"
			}
			return backoff.Permanent(errors.New(msg))
		}
		rc = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		span.RecordError(err)
		return nil, &models.ChannelError{Channel: channel, Err: err}
	}
	return rc, nil
}

type panicError struct{ v interface{} }

func (p *panicError) Error() string { return fmt.Sprintf("channel handler panic: %v", p.v) }

// isolate runs send on its own goroutine so a collaborator that ignores
// cancellation cannot hold the agent's queue past the timeout.
func isolate(ctx context.Context, send func(context.Context) (*contracts.DeliveryReceipt, error)) (*contracts.DeliveryReceipt, error) {
	type result struct {
		rc  *contracts.DeliveryReceipt
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: &panicError{v: r}}
			}
		}()
		rc, err := send(ctx)
		ch <- result{rc, err}
	}()
	select {
	case r := <-ch:
		return r.rc, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("channel call: %w", ctx.Err())
	}
}
