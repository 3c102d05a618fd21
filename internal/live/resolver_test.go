package live

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/api"
)

type fakeClient struct {
	mu    sync.Mutex
	pages map[string]*api.Page
	calls map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{pages: make(map[string]*api.Page), calls: make(map[string]int)}
}

func (f *fakeClient) set(key string, page *api.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[key] = page
}

func (f *fakeClient) GetPage(ctx context.Context, path string, query url.Values) (*api.Page, error) {
	key := path
	if len(query) > 0 {
		key += "?" + query.Encode()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if p, ok := f.pages[key]; ok {
		return p, nil
	}
	return nil, api.ErrNotFound
}

func (f *fakeClient) PostJSON(ctx context.Context, path string, query url.Values, body any) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func watchPage(body string) *api.Page {
	return &api.Page{URL: &url.URL{Path: "/watch"}, Body: body}
}

const liveWatchHTML = `<script>var ytInitialPlayerResponse = {"playabilityStatus":{"status":"OK"},"videoDetails":{"videoId":"abcdefghijk","isLive":true,"isLiveContent":true}};</script>`

func newTestResolver(client api.Client) *Resolver {
	logger, _ := zap.NewDevelopment()
	return NewResolver(client, 5*time.Millisecond, logger)
}

func TestResolveCandidate_FromRedirectURL(t *testing.T) {
	client := newFakeClient()
	client.set("/channel/UC123/live", &api.Page{
		URL:  &url.URL{Path: "/watch", RawQuery: "v=abcdefghijk"},
		Body: "<html></html>",
	})

	id, ok, err := newTestResolver(client).ResolveCandidate(context.Background(), Target{Kind: KindChannel, Value: "UC123"})
	if err != nil || !ok {
		t.Fatalf("expected candidate, got ok=%v err=%v", ok, err)
	}
	if id != "abcdefghijk" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestResolveCandidate_FromCanonicalLink(t *testing.T) {
	client := newFakeClient()
	client.set("/@someone/live", &api.Page{
		URL:  &url.URL{Path: "/@someone/live"},
		Body: `<head><link rel="canonical" href="https://www.youtube.com/watch?v=ZYXWVUTSRQP"></head>"videoId":"aaaaaaaaaaa"`,
	})

	id, ok, err := newTestResolver(client).ResolveCandidate(context.Background(), Target{Kind: KindHandle, Value: "someone"})
	if err != nil || !ok {
		t.Fatalf("expected candidate, got ok=%v err=%v", ok, err)
	}
	if id != "ZYXWVUTSRQP" {
		t.Errorf("expected canonical id to win, got %q", id)
	}
}

func TestResolveCandidate_NoneFound(t *testing.T) {
	client := newFakeClient()
	client.set("/channel/UC123/live", &api.Page{URL: &url.URL{Path: "/channel/UC123"}, Body: "offline"})

	_, ok, err := newTestResolver(client).ResolveCandidate(context.Background(), Target{Kind: KindChannel, Value: "UC123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no candidate")
	}
}

func TestIsLiveNow(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"explicit live flag", liveWatchHTML, true},
		{
			"microformat flag wins",
			`var ytInitialPlayerResponse = {"videoDetails":{"isLive":true},"microformat":{"playerMicroformatRenderer":{"liveBroadcastDetails":{"isLiveNow":false}}}};`,
			false,
		},
		{
			"fallback to live content and playable",
			`var ytInitialPlayerResponse = {"playabilityStatus":{"status":"OK"},"videoDetails":{"isLiveContent":true}};`,
			true,
		},
		{
			"live content but unplayable",
			`var ytInitialPlayerResponse = {"playabilityStatus":{"status":"LIVE_STREAM_OFFLINE"},"videoDetails":{"isLiveContent":true}};`,
			false,
		},
		{"no player response", `<html></html>`, false},
		{"broken player response", `var ytInitialPlayerResponse = {"videoDetails":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			client.set("/watch?v=abcdefghijk", watchPage(tt.body))

			got := newTestResolver(client).IsLiveNow(context.Background(), "abcdefghijk")
			if got != tt.want {
				t.Errorf("IsLiveNow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsLiveNow_FetchFailure(t *testing.T) {
	if newTestResolver(newFakeClient()).IsLiveNow(context.Background(), "abcdefghijk") {
		t.Error("fetch failure must count as not live")
	}
}

func TestWaitForLive_EventuallyLive(t *testing.T) {
	client := newFakeClient()
	client.set("/channel/UC123/live", &api.Page{
		URL:  &url.URL{Path: "/watch", RawQuery: "v=abcdefghijk"},
		Body: "",
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		client.set("/watch?v=abcdefghijk", watchPage(liveWatchHTML))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := newTestResolver(client).WaitForLive(ctx, Target{Kind: KindChannel, Value: "UC123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abcdefghijk" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestWaitForLive_ExplicitBroadcast(t *testing.T) {
	client := newFakeClient()
	client.set("/watch?v=abcdefghijk", watchPage(liveWatchHTML))

	id, err := newTestResolver(client).WaitForLive(context.Background(), Target{Kind: KindBroadcast, Value: "abcdefghijk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abcdefghijk" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestWaitForLive_Cancelled(t *testing.T) {
	client := newFakeClient()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := newTestResolver(client).WaitForLive(ctx, Target{Kind: KindChannel, Value: "UC404"})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForLive did not return after cancellation")
	}
}
