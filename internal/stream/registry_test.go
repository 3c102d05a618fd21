package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/chat"
	"github.com/drywest/timsusofun/internal/live"
	"github.com/drywest/timsusofun/internal/livechat"
)

// fakeResolver maps target values to broadcast ids and blocks on unknown
// targets until the caller gives up.
type fakeResolver map[string]string

func (f fakeResolver) WaitForLive(ctx context.Context, target live.Target) (string, error) {
	if id, ok := f[target.Value]; ok {
		return id, nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

type fakeSub struct {
	id     string
	reject bool

	mu     sync.Mutex
	frames []*Frame
	closed chan string
}

func newSub(id string) *fakeSub {
	return &fakeSub{id: id, closed: make(chan string, 1)}
}

func (s *fakeSub) ID() string { return s.id }

func (s *fakeSub) Send(f *Frame) bool {
	if s.reject {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return true
}

func (s *fakeSub) Close(reason string) {
	select {
	case s.closed <- reason:
	default:
	}
}

func (s *fakeSub) received() []*Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Frame(nil), s.frames...)
}

func (s *fakeSub) waitClosed(t *testing.T) string {
	t.Helper()
	select {
	case reason := <-s.closed:
		return reason
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber %s was not closed", s.id)
		return ""
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (n *recordingNotifier) StreamStarted(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, id)
}

func (n *recordingNotifier) StreamStopped(id, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, id+":"+reason)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Pacing = Pacing{Floor: time.Millisecond, Ceiling: 2 * time.Millisecond, Factor: DefaultPollFactor}
	return opts
}

var handleTarget = live.Target{Kind: live.KindHandle, Value: "streamer"}

func TestRegistry_ConcurrentAttachCreatesOneStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	up := &fakeUpstream{idle: &livechat.Batch{Continuation: "C"}}
	notifier := &recordingNotifier{}
	r := NewRegistry(fakeResolver{"streamer": "abcdefghijk"}, up, nil, notifier, testOptions(), zap.NewNop())
	defer r.Close()

	const n = 20
	subs := make([]*fakeSub, n)
	streams := make([]*Stream, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		subs[i] = newSub(fmt.Sprintf("sub-%d", i))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Attach(context.Background(), handleTarget, subs[i])
			assert.NoError(t, err)
			streams[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, streams[0], streams[i])
	}
	infos := r.Streams()
	require.Len(t, infos, 1)
	assert.Equal(t, "abcdefghijk", infos[0].BroadcastID)
	assert.Equal(t, n, infos[0].Subscribers)

	require.Eventually(t, func() bool { return len(up.polls()) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, up.initCount())

	for _, sub := range subs {
		r.Detach(sub)
	}
	select {
	case <-streams[0].Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept running after its last subscriber left")
	}
	assert.Empty(t, r.Streams())

	notifier.mu.Lock()
	assert.Equal(t, []string{"abcdefghijk"}, notifier.started)
	assert.Equal(t, []string{"abcdefghijk:" + ReasonStopped}, notifier.stopped)
	notifier.mu.Unlock()
}

func TestRegistry_FanoutThenBroadcastEnded(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	up := &fakeUpstream{release: release, steps: []step{
		batch("C1", 900, action("a1", "hello")),
		batch("", 0),
	}}
	r := NewRegistry(fakeResolver{"streamer": "abcdefghijk"}, up, nil, nil, testOptions(), zap.NewNop())
	defer r.Close()

	a, b := newSub("a"), newSub("b")
	s, err := r.Attach(context.Background(), handleTarget, a)
	require.NoError(t, err)
	_, err = r.Attach(context.Background(), handleTarget, b)
	require.NoError(t, err)
	close(release)

	assert.Equal(t, ReasonBroadcastEnded, a.waitClosed(t))
	assert.Equal(t, ReasonBroadcastEnded, b.waitClosed(t))
	<-s.Done()

	for _, sub := range []*fakeSub{a, b} {
		frames := sub.received()
		require.Len(t, frames, 1)
		assert.Equal(t, chat.TypeChat, frames[0].Type)
		assert.Contains(t, string(frames[0].JSON), `"id":"a1"`)
	}
	assert.Same(t, a.received()[0], b.received()[0], "frames are encoded once per message")
	assert.Empty(t, r.Streams())

	// Detach after the stream retired is a no-op.
	r.Detach(a)
}

func TestRegistry_DropsSlowSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	up := &fakeUpstream{release: release, steps: []step{
		batch("C1", 900, action("a1", "one")),
		batch("C2", 900, action("a2", "two")),
	}}
	r := NewRegistry(fakeResolver{"streamer": "abcdefghijk"}, up, nil, nil, testOptions(), zap.NewNop())

	slow, fast := newSub("slow"), newSub("fast")
	slow.reject = true
	_, err := r.Attach(context.Background(), handleTarget, slow)
	require.NoError(t, err)
	_, err = r.Attach(context.Background(), handleTarget, fast)
	require.NoError(t, err)
	close(release)

	assert.Equal(t, ReasonSlowConsumer, slow.waitClosed(t))
	require.Eventually(t, func() bool { return len(fast.received()) == 2 }, 2*time.Second, time.Millisecond)

	infos := r.Streams()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].Subscribers)

	r.Close()
	assert.Equal(t, ReasonShutdown, fast.waitClosed(t))

	_, err = r.Attach(context.Background(), handleTarget, newSub("late"))
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_InitFailureSurfacesOnceAndCloses(t *testing.T) {
	defer goleak.VerifyNone(t)

	up := &fakeUpstream{initErr: fmt.Errorf("%w: chat disabled", livechat.ErrSessionInit)}
	r := NewRegistry(fakeResolver{"streamer": "abcdefghijk"}, up, nil, nil, testOptions(), zap.NewNop())
	defer r.Close()

	sub := newSub("a")
	_, err := r.Attach(context.Background(), handleTarget, sub)
	require.NoError(t, err)

	assert.Equal(t, ReasonChatUnavailable, sub.waitClosed(t))
	frames := sub.received()
	require.Len(t, frames, 1)
	assert.Equal(t, chat.TypeError, frames[0].Type)
}

func TestRegistry_AttachGivesUpWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(fakeResolver{}, &fakeUpstream{}, nil, nil, testOptions(), zap.NewNop())
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Attach(ctx, handleTarget, newSub("a"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, r.Streams())
}

func TestRegistry_CloseAbandonsPendingAttach(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(fakeResolver{}, &fakeUpstream{}, nil, nil, testOptions(), zap.NewNop())

	errc := make(chan error, 1)
	go func() {
		_, err := r.Attach(context.Background(), handleTarget, newSub("a"))
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrRegistryClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("attach did not return after Close")
	}
}

func TestFrame_CompressedFallsBackToJSON(t *testing.T) {
	f, err := NewFrame(chat.ErrorMessage("x", ""), nil)
	require.NoError(t, err)
	assert.Equal(t, f.JSON, f.Compressed())

	enc, err := NewEncoder()
	require.NoError(t, err)
	defer enc.Close()

	f, err = NewFrame(chat.ErrorMessage("x", ""), enc)
	require.NoError(t, err)
	assert.NotEqual(t, f.JSON, f.Compressed())
	assert.Same(t, &f.Compressed()[0], &f.Compressed()[0])
}
