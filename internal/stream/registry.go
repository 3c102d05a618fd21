package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/chat"
	"github.com/drywest/timsusofun/internal/live"
	"github.com/drywest/timsusofun/internal/livechat"
	"github.com/drywest/timsusofun/internal/metrics"
)

// ErrRegistryClosed is returned by Attach after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Reasons passed to Subscriber.Close.
const (
	ReasonBroadcastEnded  = "broadcast ended"
	ReasonChatUnavailable = "chat unavailable"
	ReasonSlowConsumer    = "subscriber too slow"
	ReasonShutdown        = "server shutting down"
	ReasonStopped         = "stream stopped"
)

// Subscriber receives the frames of one stream. Send must not block; a
// false return means the subscriber cannot keep up and will be dropped.
type Subscriber interface {
	ID() string
	Send(f *Frame) bool
	Close(reason string)
}

// Resolver turns a connection target into a live broadcast id.
type Resolver interface {
	WaitForLive(ctx context.Context, target live.Target) (string, error)
}

// Notifier is told about stream lifecycle transitions.
type Notifier interface {
	StreamStarted(broadcastID string)
	StreamStopped(broadcastID, reason string)
}

type noopNotifier struct{}

func (noopNotifier) StreamStarted(string)         {}
func (noopNotifier) StreamStopped(string, string) {}

// Info is a point-in-time view of one stream.
type Info struct {
	BroadcastID string    `json:"broadcastId"`
	Subscribers int       `json:"subscribers"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"startedAt"`
}

// Stream is the single polling loop for a broadcast plus its subscribers.
type Stream struct {
	broadcastID string
	engine      *Engine
	startedAt   time.Time
	queue       chan chat.Message
	cancel      context.CancelFunc
	done        chan struct{}
	stopErr     error // written before queue is closed

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// BroadcastID returns the broadcast this stream polls.
func (s *Stream) BroadcastID() string { return s.broadcastID }

// Done is closed once the stream has stopped and closed its subscribers.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Stream) snapshot() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// Registry owns every active stream, keyed by broadcast id.
type Registry struct {
	resolver Resolver
	upstream Upstream
	encoder  *zstd.Encoder
	notifier Notifier
	opts     Options
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	streams map[string]*Stream
	owners  map[string]*Stream // subscriber id -> stream
}

// NewRegistry creates a registry. encoder and notifier may be nil.
func NewRegistry(resolver Resolver, upstream Upstream, encoder *zstd.Encoder, notifier Notifier, opts Options, logger *zap.Logger) *Registry {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		resolver: resolver,
		upstream: upstream,
		encoder:  encoder,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		sleep:    sleepContext,
		ctx:      ctx,
		cancel:   cancel,
		streams:  make(map[string]*Stream),
		owners:   make(map[string]*Stream),
	}
}

// Attach waits until target is live, then joins sub to the broadcast's
// stream, creating and starting it if this is the first subscriber. It
// blocks for as long as the target is offline; cancel ctx to give up.
func (r *Registry) Attach(ctx context.Context, target live.Target, sub Subscriber) (*Stream, error) {
	// Closing the registry also abandons pending waits.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	broadcastID, err := r.resolver.WaitForLive(ctx, target)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, ErrRegistryClosed
		}
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	s, ok := r.streams[broadcastID]
	if ok {
		s.mu.Lock()
		s.subs[sub.ID()] = sub
		s.mu.Unlock()
	} else {
		s = r.startLocked(broadcastID, sub)
	}
	r.owners[sub.ID()] = s
	r.mu.Unlock()

	metrics.AddSubscribers(1)
	r.logger.Debug("subscriber attached",
		zap.String("broadcastID", broadcastID),
		zap.String("subscriber", sub.ID()),
	)
	return s, nil
}

// startLocked creates the stream for broadcastID with first already
// subscribed, then launches its engine and fanout. r.mu must be held.
func (r *Registry) startLocked(broadcastID string, first Subscriber) *Stream {
	ctx, cancel := context.WithCancel(r.ctx)
	s := &Stream{
		broadcastID: broadcastID,
		startedAt:   time.Now(),
		queue:       make(chan chat.Message, r.opts.QueueSize),
		cancel:      cancel,
		done:        make(chan struct{}),
		subs:        map[string]Subscriber{first.ID(): first},
	}
	s.engine = NewEngine(broadcastID, r.upstream, s.queue, s.count, r.opts, r.logger)
	s.engine.sleep = r.sleep
	r.streams[broadcastID] = s

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		s.stopErr = s.engine.Run(ctx)
		r.logger.Info("stream engine stopped",
			zap.String("broadcastID", broadcastID),
			zap.NamedError("reason", s.stopErr),
		)
		close(s.queue)
	}()
	go func() {
		defer r.wg.Done()
		r.fanout(s)
	}()

	metrics.AddStreams(1)
	r.notifier.StreamStarted(broadcastID)
	r.logger.Info("stream started", zap.String("broadcastID", broadcastID))
	return s
}

// fanout drains the stream queue until the engine closes it, then retires
// the stream.
func (r *Registry) fanout(s *Stream) {
	for msg := range s.queue {
		frame, err := NewFrame(msg, r.encoder)
		if err != nil {
			r.logger.Error("failed to encode frame", zap.Error(err))
			continue
		}
		for _, sub := range s.snapshot() {
			if !sub.Send(frame) {
				r.drop(sub)
			}
		}
	}
	r.retire(s)
}

// drop removes a subscriber that could not keep up.
func (r *Registry) drop(sub Subscriber) {
	if !r.detach(sub) {
		return
	}
	metrics.IncSubscribersDropped()
	r.logger.Warn("dropping slow subscriber", zap.String("subscriber", sub.ID()))
	sub.Close(ReasonSlowConsumer)
}

// Detach removes sub from its stream. The stream stops once its last
// subscriber leaves.
func (r *Registry) Detach(sub Subscriber) {
	r.detach(sub)
}

func (r *Registry) detach(sub Subscriber) bool {
	r.mu.Lock()
	s, ok := r.owners[sub.ID()]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.owners, sub.ID())

	s.mu.Lock()
	delete(s.subs, sub.ID())
	empty := len(s.subs) == 0
	s.mu.Unlock()

	if empty && r.streams[s.broadcastID] == s {
		delete(r.streams, s.broadcastID)
		s.cancel()
	}
	r.mu.Unlock()

	metrics.AddSubscribers(-1)
	r.logger.Debug("subscriber detached",
		zap.String("broadcastID", s.broadcastID),
		zap.String("subscriber", sub.ID()),
	)
	return true
}

// retire removes a stopped stream and closes whoever is still attached.
func (r *Registry) retire(s *Stream) {
	r.mu.Lock()
	if r.streams[s.broadcastID] == s {
		delete(r.streams, s.broadcastID)
	}
	s.mu.Lock()
	remaining := make([]Subscriber, 0, len(s.subs))
	for id, sub := range s.subs {
		remaining = append(remaining, sub)
		delete(s.subs, id)
		if r.owners[id] == s {
			delete(r.owners, id)
		}
	}
	s.mu.Unlock()
	shuttingDown := r.closed
	r.mu.Unlock()

	s.cancel()
	reason := stopReason(s.stopErr, shuttingDown)
	for _, sub := range remaining {
		sub.Close(reason)
	}
	metrics.AddSubscribers(-len(remaining))
	metrics.AddStreams(-1)
	r.notifier.StreamStopped(s.broadcastID, reason)
	r.logger.Info("stream retired",
		zap.String("broadcastID", s.broadcastID),
		zap.String("reason", reason),
		zap.Int("closedSubscribers", len(remaining)),
	)
	close(s.done)
}

func stopReason(err error, shuttingDown bool) string {
	switch {
	case shuttingDown:
		return ReasonShutdown
	case errors.Is(err, livechat.ErrContinuationExhausted):
		return ReasonBroadcastEnded
	case errors.Is(err, livechat.ErrSessionInit):
		return ReasonChatUnavailable
	default:
		return ReasonStopped
	}
}

// Streams returns a snapshot of the active streams ordered by broadcast id.
func (r *Registry) Streams() []Info {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(streams))
	for _, s := range streams {
		out = append(out, Info{
			BroadcastID: s.broadcastID,
			Subscribers: s.count(),
			State:       s.engine.State().String(),
			StartedAt:   s.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BroadcastID < out[j].BroadcastID })
	return out
}

// Close stops every stream, closes all subscribers and waits for the
// stream goroutines to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
