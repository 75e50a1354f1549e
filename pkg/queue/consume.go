package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/chainetl/chainetl/pkg/retry"
	"go.uber.org/zap"
)

// Handler processes one unit with the consumer's private state. Returning an error leaves
// the unit unacknowledged so it is reclaimed later.
type Handler[S any] func(ctx context.Context, state S, startedAt time.Time, unit WorkUnit) error

type ConsumeOptions[S any] struct {
	Handler Handler[S]
	// Init builds per-consumer state; Deinit releases it. Both are optional.
	Init        func(ctx context.Context, consumer string) (S, error)
	Deinit      func(state S)
	Concurrency int
}

// Consume runs Concurrency workers and one reclaimer until ctx is done. Workers are
// isolated: a handler panic restarts only the worker it happened in.
func Consume[S any](ctx context.Context, q *Queue, opts ConsumeOptions[S]) error {
	if opts.Handler == nil {
		return errors.New("consume: handler is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		name := q.ConsumerName(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			supervise(ctx, q, name, func(ctx context.Context) error {
				return runWorker(ctx, q, name, opts)
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		name := q.ReclaimerName()
		supervise(ctx, q, name, func(ctx context.Context) error {
			return runReclaimer(ctx, q, name, opts)
		})
	}()

	q.logger.Info("Consuming",
		zap.String("group", q.Group()),
		zap.Int("workers", opts.Concurrency))
	wg.Wait()
	return ctx.Err()
}

// supervise restarts run until ctx is done.
func supervise(ctx context.Context, q *Queue, name string, run func(ctx context.Context) error) {
	for {
		err := protect(func() error { return run(ctx) })
		if ctx.Err() != nil {
			return
		}
		fields := []zap.Field{zap.String("consumer", name), zap.Duration("delay", q.cfg.RestartDelay), zap.Error(err)}
		var pe *panicError
		if errors.As(err, &pe) {
			fields = append(fields, zap.ByteString("stack", pe.stack))
		}
		q.logger.Error("Consumer crashed, restarting", fields...)
		if !retry.Sleep(ctx, q.cfg.RestartDelay) {
			return
		}
	}
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}

func initState[S any](ctx context.Context, name string, opts ConsumeOptions[S]) (S, func(), error) {
	var state S
	if opts.Init != nil {
		s, err := opts.Init(ctx, name)
		if err != nil {
			return state, nil, fmt.Errorf("init %s: %w", name, err)
		}
		state = s
	}
	release := func() {
		if opts.Deinit != nil {
			opts.Deinit(state)
		}
	}
	return state, release, nil
}

func runWorker[S any](ctx context.Context, q *Queue, name string, opts ConsumeOptions[S]) error {
	state, release, err := initState(ctx, name, opts)
	if err != nil {
		return err
	}
	defer release()

	for ctx.Err() == nil {
		msg, err := q.backend.Read(ctx, q.cfg.Stream, q.Group(), name, q.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if msg == nil {
			continue
		}
		if err := process(ctx, q, state, opts.Handler, WorkUnit{Message: *msg, Consumer: name}); err != nil {
			return err
		}
	}
	return nil
}

func runReclaimer[S any](ctx context.Context, q *Queue, name string, opts ConsumeOptions[S]) error {
	state, release, err := initState(ctx, name, opts)
	if err != nil {
		return err
	}
	defer release()

	cursor := "0-0"
	wait := q.cfg.ReclaimInterval
	for ctx.Err() == nil {
		msgs, next, err := q.backend.Claim(ctx, q.cfg.Stream, q.Group(), name, q.cfg.IdleTimeout, cursor, q.cfg.ReclaimBatch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("claim: %w", err)
		}
		cursor = next
		if cursor == "" {
			cursor = "0-0"
		}
		if len(msgs) == 0 && cursor != "0-0" {
			// Mid-scan of a long pending list; nothing idle in this page.
			continue
		}
		if len(msgs) == 0 {
			if !retry.Sleep(ctx, wait) {
				return nil
			}
			wait = min(wait*2, q.cfg.ReclaimMaxInterval)
			continue
		}
		wait = q.cfg.ReclaimInterval
		q.logger.Info("Reclaimed idle units", zap.String("consumer", name), zap.Int("count", len(msgs)))
		for _, msg := range msgs {
			if err := process(ctx, q, state, opts.Handler, WorkUnit{Message: msg, Consumer: name, Reclaimed: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

// process runs the handler once for a unit. Handler errors are logged and the unit is
// left pending; marker or ack failures, and panics, restart the worker.
func process[S any](ctx context.Context, q *Queue, state S, handler Handler[S], unit WorkUnit) error {
	marker := q.handledKey(unit.ID)
	handled, err := q.backend.IsHandled(ctx, marker)
	if err != nil {
		return fmt.Errorf("check handled %s: %w", unit.ID, err)
	}
	if handled {
		q.metrics.Handled(q.Group(), "duplicate")
		return q.ack(ctx, unit)
	}

	startedAt := time.Now()
	if err := handler(ctx, state, startedAt, unit); err != nil {
		q.metrics.Handled(q.Group(), "error")
		q.logger.Warn("Handler failed, unit left for reclaim",
			zap.String("consumer", unit.Consumer),
			zap.String("id", unit.ID),
			zap.String("key", unit.Key),
			zap.Error(err))
		return nil
	}

	if err := q.backend.MarkHandled(ctx, marker, q.cfg.HandledTTL); err != nil {
		return fmt.Errorf("mark handled %s: %w", unit.ID, err)
	}
	q.metrics.Handled(q.Group(), "ok")
	q.logger.Debug("Handled unit",
		zap.String("consumer", unit.Consumer),
		zap.String("id", unit.ID),
		zap.Bool("reclaimed", unit.Reclaimed),
		zap.Duration("took", time.Since(startedAt)))
	return q.ack(ctx, unit)
}

func (q *Queue) ack(ctx context.Context, unit WorkUnit) error {
	if err := q.backend.Ack(ctx, q.cfg.Stream, q.Group(), unit.ID); err != nil {
		return fmt.Errorf("ack %s: %w", unit.ID, err)
	}
	return nil
}
