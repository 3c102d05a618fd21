// Package live finds the broadcast a channel is currently streaming and
// checks whether a given broadcast is live.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/api"
	"github.com/drywest/timsusofun/internal/htmldata"
)

// ErrNotLive means no live broadcast was found yet. It drives the wait loop
// and is never surfaced to subscribers.
var ErrNotLive = errors.New("no live broadcast found")

// DefaultRetryDelay is the pause between resolution attempts.
const DefaultRetryDelay = 300 * time.Millisecond

var (
	canonicalPattern     = regexp.MustCompile(`<link rel="canonical" href="[^"]*watch\?v=([A-Za-z0-9_-]{11})"`)
	streamabilityPattern = regexp.MustCompile(`"liveStreamabilityRenderer":\{"videoId":"([A-Za-z0-9_-]{11})"`)
	videoIDPattern       = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"`)
)

var playerResponseMarkers = []string{
	"var ytInitialPlayerResponse = ",
	`window["ytInitialPlayerResponse"] = `,
	"ytInitialPlayerResponse = ",
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		IsLive        *bool  `json:"isLive"`
		IsLiveContent bool   `json:"isLiveContent"`
	} `json:"videoDetails"`
	Microformat struct {
		PlayerMicroformatRenderer struct {
			LiveBroadcastDetails *struct {
				IsLiveNow *bool `json:"isLiveNow"`
			} `json:"liveBroadcastDetails"`
		} `json:"playerMicroformatRenderer"`
	} `json:"microformat"`
}

// Resolver maps targets to live broadcast ids.
type Resolver struct {
	client api.Client
	delay  time.Duration
	logger *zap.Logger
}

// NewResolver creates a Resolver. A non-positive delay selects DefaultRetryDelay.
func NewResolver(client api.Client, delay time.Duration, logger *zap.Logger) *Resolver {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Resolver{client: client, delay: delay, logger: logger}
}

// ResolveCandidate picks the broadcast id to confirm for target. Channels
// and handles prefer the busiest live item on their streams tab and fall
// back to the live landing page. ok is false when neither names one.
func (r *Resolver) ResolveCandidate(ctx context.Context, target Target) (string, bool, error) {
	if target.Kind == KindBroadcast {
		return target.Value, broadcastIDPattern.MatchString(target.Value), nil
	}

	id, ok, err := r.busiestLive(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		r.logger.Debug("streams tab fetch failed",
			zap.String("target", target.String()),
			zap.Error(err),
		)
	}
	if ok {
		return id, true, nil
	}
	return r.landingPage(ctx, target)
}

// landingPage fetches the target's live landing page and extracts the
// broadcast id it points at.
func (r *Resolver) landingPage(ctx context.Context, target Target) (string, bool, error) {
	var path string
	switch target.Kind {
	case KindHandle:
		path = "/@" + url.PathEscape(target.Value) + "/live"
	case KindChannel:
		path = "/channel/" + url.PathEscape(target.Value) + "/live"
	default:
		return "", false, fmt.Errorf("unknown target kind %q", target.Kind)
	}

	page, err := r.client.GetPage(ctx, path, nil)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetching live page: %w", err)
	}

	if page.URL != nil {
		if v := page.URL.Query().Get("v"); broadcastIDPattern.MatchString(v) {
			return v, true, nil
		}
	}
	for _, re := range []*regexp.Regexp{canonicalPattern, streamabilityPattern, videoIDPattern} {
		if m := re.FindStringSubmatch(page.Body); m != nil {
			return m[1], true, nil
		}
	}
	return "", false, nil
}

// IsLiveNow reports whether the broadcast is currently live. Any fetch or
// parse failure counts as not live.
func (r *Resolver) IsLiveNow(ctx context.Context, broadcastID string) bool {
	page, err := r.client.GetPage(ctx, "/watch", url.Values{"v": {broadcastID}})
	if err != nil {
		r.logger.Debug("watch page fetch failed",
			zap.String("broadcastID", broadcastID),
			zap.Error(err),
		)
		return false
	}

	var pr playerResponse
	if !htmldata.Decode(page.Body, &pr, playerResponseMarkers...) {
		return false
	}
	return isLive(&pr)
}

func isLive(pr *playerResponse) bool {
	if d := pr.Microformat.PlayerMicroformatRenderer.LiveBroadcastDetails; d != nil && d.IsLiveNow != nil {
		return *d.IsLiveNow
	}
	if pr.VideoDetails.IsLive != nil {
		return *pr.VideoDetails.IsLive
	}
	return pr.VideoDetails.IsLiveContent && pr.PlayabilityStatus.Status == "OK"
}

// WaitForLive polls until the target has a confirmed live broadcast and
// returns its id. It returns ctx.Err() as soon as ctx is done, which is how
// a disconnecting subscriber abandons the wait.
func (r *Resolver) WaitForLive(ctx context.Context, target Target) (string, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}

		id, err := r.resolveOnce(ctx, target)
		if err == nil {
			r.logger.Info("live broadcast resolved",
				zap.String("target", target.String()),
				zap.String("broadcastID", id),
				zap.Int("attempts", attempt),
			)
			return id, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == 1 || attempt%100 == 0 {
			r.logger.Debug("waiting for live broadcast",
				zap.String("target", target.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		timer.Reset(r.delay)
	}
}

func (r *Resolver) resolveOnce(ctx context.Context, target Target) (string, error) {
	id, ok, err := r.ResolveCandidate(ctx, target)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotLive
	}
	if !r.IsLiveNow(ctx, id) {
		return "", ErrNotLive
	}
	return id, nil
}
