package live

import (
	"context"
	"errors"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/api"
	"github.com/drywest/timsusofun/internal/htmldata"
)

var initialDataMarkers = []string{
	"var ytInitialData = ",
	`window["ytInitialData"] = `,
	"ytInitialData = ",
}

var compactNumberPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([kmb])?`)

// liveItem is a live entry on a channel's streams tab.
type liveItem struct {
	videoID string
	viewers int64
}

// busiestLive lists the channel's streams tab and returns the live item
// with the most concurrent viewers. ok is false when the tab is missing or
// shows nothing live.
func (r *Resolver) busiestLive(ctx context.Context, target Target) (string, bool, error) {
	var path string
	switch target.Kind {
	case KindHandle:
		path = "/@" + url.PathEscape(target.Value) + "/streams"
	case KindChannel:
		path = "/channel/" + url.PathEscape(target.Value) + "/streams"
	default:
		return "", false, nil
	}

	page, err := r.client.GetPage(ctx, path, nil)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	var data any
	if !htmldata.Decode(page.Body, &data, initialDataMarkers...) {
		return "", false, nil
	}
	items := liveItems(data)
	if len(items) == 0 {
		return "", false, nil
	}
	// Stable so equal counts keep page order.
	sort.SliceStable(items, func(i, j int) bool { return items[i].viewers > items[j].viewers })

	r.logger.Debug("streams tab lists live broadcasts",
		zap.String("target", target.String()),
		zap.Int("live", len(items)),
		zap.String("busiest", items[0].videoID),
		zap.Int64("viewers", items[0].viewers),
	)
	return items[0].videoID, true, nil
}

// liveItems collects every live videoRenderer below node. Object keys are
// visited in sorted order so the result is deterministic.
func liveItems(node any) []liveItem {
	var out []liveItem
	var walk func(any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			if vr, ok := v["videoRenderer"].(map[string]any); ok {
				if item, ok := asLiveItem(vr); ok {
					out = append(out, item)
				}
			}
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if k != "videoRenderer" {
					walk(v[k])
				}
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	return out
}

func asLiveItem(vr map[string]any) (liveItem, bool) {
	id, _ := vr["videoId"].(string)
	if !broadcastIDPattern.MatchString(id) {
		return liveItem{}, false
	}
	viewText := textOf(vr["viewCountText"])
	if viewText == "" {
		viewText = textOf(vr["shortViewCountText"])
	}
	if !hasLiveBadge(vr) && !strings.Contains(strings.ToLower(viewText), "watching") {
		return liveItem{}, false
	}
	return liveItem{videoID: id, viewers: parseCompactNumber(viewText)}, true
}

func hasLiveBadge(vr map[string]any) bool {
	if badges, ok := vr["badges"].([]any); ok {
		for _, b := range badges {
			if style(b, "metadataBadgeRenderer") == "BADGE_STYLE_TYPE_LIVE_NOW" {
				return true
			}
		}
	}
	if overlays, ok := vr["thumbnailOverlays"].([]any); ok {
		for _, o := range overlays {
			if style(o, "thumbnailOverlayTimeStatusRenderer") == "LIVE" {
				return true
			}
		}
	}
	return false
}

func style(node any, renderer string) string {
	m, _ := node.(map[string]any)
	inner, _ := m[renderer].(map[string]any)
	s, _ := inner["style"].(string)
	return s
}

// textOf flattens {simpleText} and {runs: [{text}]} text shapes.
func textOf(node any) string {
	m, ok := node.(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := m["simpleText"].(string); ok {
		return s
	}
	runs, _ := m["runs"].([]any)
	var sb strings.Builder
	for _, r := range runs {
		if rm, ok := r.(map[string]any); ok {
			s, _ := rm["text"].(string)
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// parseCompactNumber reads viewer counts such as "12,345 watching" or
// "7.8K". It returns -1 when s holds no number.
func parseCompactNumber(s string) int64 {
	m := compactNumberPattern.FindStringSubmatch(strings.ReplaceAll(s, ",", ""))
	if m == nil {
		return -1
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return -1
	}
	switch strings.ToLower(m[2]) {
	case "k":
		n *= 1e3
	case "m":
		n *= 1e6
	case "b":
		n *= 1e9
	}
	return int64(math.Round(n))
}
