package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/drywest/timsusofun/internal/chat"
	"github.com/drywest/timsusofun/internal/livechat"
	"github.com/drywest/timsusofun/internal/metrics"
)

// ErrNoSubscribers stops an engine whose stream has nobody left to serve.
var ErrNoSubscribers = errors.New("no subscribers")

// State is the engine lifecycle position.
type State int32

const (
	StateInitializing State = iota
	StatePolling
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Upstream is the chat transport an engine drives.
type Upstream interface {
	Init(ctx context.Context, broadcastID string) (*livechat.Session, error)
	Poll(ctx context.Context, sess *livechat.Session) (*livechat.Batch, error)
}

// Options tunes engines and their streams.
type Options struct {
	Pacing             Pacing
	BackoffInitial     time.Duration
	BackoffMultiplier  float64
	BackoffMax         time.Duration
	ErrorInterval      time.Duration
	DedupCeiling       int
	DedupEvictFraction float64
	QueueSize          int
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Pacing:             DefaultPacing(),
		BackoffInitial:     DefaultBackoffInitial,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		BackoffMax:         DefaultBackoffMax,
		ErrorInterval:      5 * time.Second,
		DedupCeiling:       chat.DefaultDedupCeiling,
		DedupEvictFraction: chat.DefaultEvictFraction,
		QueueSize:          256,
	}
}

// Engine polls one broadcast and pushes fresh messages onto its stream's
// queue. It runs until the session ends, its context is cancelled, or the
// stream has no subscribers at the top of a cycle.
type Engine struct {
	broadcastID string
	upstream    Upstream
	opts        Options
	out         chan<- chat.Message
	subscribers func() int
	logger      *zap.Logger

	state     atomic.Int32
	dedup     *chat.DedupWindow
	backoff   *backoff.ExponentialBackOff
	errorGate *rate.Sometimes
	sleep     func(context.Context, time.Duration) error
}

// NewEngine creates an engine for broadcastID. subscribers reports the
// current subscriber count of the owning stream.
func NewEngine(broadcastID string, up Upstream, out chan<- chat.Message, subscribers func() int, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		broadcastID: broadcastID,
		upstream:    up,
		opts:        opts,
		out:         out,
		subscribers: subscribers,
		logger:      logger.With(zap.String("broadcastID", broadcastID)),
		dedup:       chat.NewDedupWindow(opts.DedupCeiling, opts.DedupEvictFraction),
		backoff:     NewBackoff(opts.BackoffInitial, opts.BackoffMultiplier, opts.BackoffMax),
		errorGate:   &rate.Sometimes{Interval: opts.ErrorInterval},
		sleep:       sleepContext,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Run drives the engine to completion and returns why it stopped:
// an ErrSessionInit-wrapped error, ErrContinuationExhausted,
// ErrNoSubscribers, or the context error.
func (e *Engine) Run(ctx context.Context) error {
	defer e.setState(StateStopped)
	e.setState(StateInitializing)

	sess, err := e.upstream.Init(ctx, e.broadcastID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("chat session init failed", zap.Error(err))
		_ = e.emit(ctx, chat.ErrorMessage("chat session could not be started", err.Error()))
		return err
	}
	e.setState(StatePolling)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.subscribers() == 0 {
			return ErrNoSubscribers
		}

		start := time.Now()
		metrics.IncPolls()
		batch, err := e.upstream.Poll(ctx, sess)
		metrics.ObservePoll(start)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := e.failed(ctx, err); err != nil {
				return err
			}
			continue
		}

		emitted, err := e.deliver(ctx, batch.Actions)
		if err != nil {
			return err
		}

		if batch.Exhausted() {
			e.logger.Info("chat session ended upstream")
			return livechat.ErrContinuationExhausted
		}
		sess.Continuation = batch.Continuation
		e.backoff.Reset()

		if err := e.sleep(ctx, e.opts.Pacing.NextDelay(batch.TimeoutMs, emitted > 0)); err != nil {
			return err
		}
	}
}

// failed reports a transient poll failure and waits out the backoff.
func (e *Engine) failed(ctx context.Context, pollErr error) error {
	metrics.IncPollErrors()
	e.setState(StateBackoff)
	delay := e.backoff.NextBackOff()
	e.logger.Debug("poll failed", zap.Error(pollErr), zap.Duration("backoff", delay))

	var emitErr error
	e.errorGate.Do(func() {
		e.logger.Warn("upstream poll failing", zap.Error(pollErr))
		emitErr = e.emit(ctx, chat.ErrorMessage("chat upstream unavailable", pollErr.Error()))
	})
	if emitErr != nil {
		return emitErr
	}

	if err := e.sleep(ctx, delay); err != nil {
		return err
	}
	e.setState(StatePolling)
	return nil
}

// deliver normalizes and deduplicates actions and queues the fresh ones.
func (e *Engine) deliver(ctx context.Context, actions []json.RawMessage) (int, error) {
	emitted := 0
	for _, action := range actions {
		ev, err := chat.Normalize(action)
		if err != nil {
			if !errors.Is(err, chat.ErrNotChatItem) && !errors.Is(err, chat.ErrUnsupportedItem) {
				e.logger.Debug("skipping malformed chat item", zap.Error(err))
			}
			continue
		}
		if !e.dedup.Observe(ev.ID, ev.PostedAt()) {
			metrics.IncDuplicates()
			continue
		}
		if err := e.emit(ctx, chat.ChatMessage(ev)); err != nil {
			return emitted, err
		}
		emitted++
	}
	metrics.AddEvents(emitted)
	return emitted, nil
}

// emit blocks until the fanout accepts msg or ctx ends.
func (e *Engine) emit(ctx context.Context, msg chat.Message) error {
	select {
	case e.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
