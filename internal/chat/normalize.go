package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotChatItem marks actions that carry no chat item (deletions,
	// banners, tickers). They are skipped silently.
	ErrNotChatItem = errors.New("action carries no chat item")
	// ErrUnsupportedItem marks chat items of a kind that is not relayed.
	ErrUnsupportedItem = errors.New("unsupported chat item")
)

// Normalize converts one raw upstream action into an Event. The error
// identifies why an action produced nothing; callers skip the action and
// carry on with the batch.
func Normalize(action json.RawMessage) (*Event, error) {
	var a rawAction
	if err := json.Unmarshal(action, &a); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}
	if a.AddChatItemAction == nil {
		return nil, ErrNotChatItem
	}

	item := a.AddChatItemAction.Item
	var (
		kind Kind
		msg  *rawMessage
	)
	switch {
	case item.Text != nil:
		kind, msg = KindText, item.Text
	case item.Paid != nil:
		kind, msg = KindPaid, item.Paid
	case item.Membership != nil:
		kind, msg = KindMembership, item.Membership
	default:
		return nil, ErrUnsupportedItem
	}

	posted := parseUsec(msg.TimestampUsec)
	ev := &Event{
		ID:   msg.ID,
		Kind: kind,
		Author: Author{
			Name:      authorName(msg.AuthorName),
			ChannelID: msg.AuthorExternalChannelID,
		},
		Badges:    classifyBadges(msg.AuthorBadges),
		Timestamp: posted,
		posted:    posted,
	}
	if posted.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if msg.AuthorPhoto != nil {
		ev.Author.PhotoURL = bestThumbnail(msg.AuthorPhoto.Thumbnails)
	}

	text := msg.Message
	if text == nil && kind == KindMembership {
		text = msg.HeaderSubtext
	}
	ev.Runs = convertRuns(text)

	if kind == KindPaid {
		ev.Amount = msg.PurchaseAmountText.String()
	}
	return ev, nil
}

// authorName strips leading handle markers from the display name.
func authorName(t *rawText) string {
	return strings.TrimLeft(t.String(), "@")
}

func classifyBadges(badges []rawBadge) Badges {
	var out Badges
	for _, b := range badges {
		r := b.Renderer
		if r == nil {
			continue
		}
		label := strings.ToLower(r.Tooltip)
		if label == "" {
			label = strings.ToLower(r.Accessibility.AccessibilityData.Label)
		}
		icon := ""
		if r.Icon != nil {
			icon = strings.ToLower(r.Icon.IconType)
		}

		switch {
		case strings.Contains(label, "moderator") || strings.Contains(icon, "moderator"):
			out.Moderator = true
		case strings.Contains(label, "owner") || strings.Contains(icon, "owner"):
			out.Owner = true
		case strings.Contains(label, "verified") || strings.Contains(icon, "verified"):
			out.Verified = true
		case r.CustomThumbnail != nil && !out.Member:
			if url := bestThumbnail(r.CustomThumbnail.Thumbnails); url != "" {
				out.Member = true
				out.MemberBadgeURL = url
			}
		}
	}
	return out
}

func convertRuns(t *rawText) []Run {
	if t == nil {
		return []Run{}
	}
	if len(t.Runs) == 0 {
		if t.SimpleText == "" {
			return []Run{}
		}
		return []Run{{Type: RunText, Text: t.SimpleText}}
	}

	runs := make([]Run, 0, len(t.Runs))
	for _, r := range t.Runs {
		switch {
		case r.Text != nil:
			runs = append(runs, Run{Type: RunText, Text: *r.Text})
		case r.Emoji != nil:
			runs = append(runs, Run{
				Type: RunEmoji,
				URL:  bestThumbnail(r.Emoji.Image.Thumbnails),
				Alt:  emojiAlt(r.Emoji),
			})
		}
	}
	return runs
}

// emojiAlt falls back through shortcut, emoji id and accessibility label.
func emojiAlt(e *rawEmoji) string {
	if len(e.Shortcuts) > 0 && e.Shortcuts[0] != "" {
		return e.Shortcuts[0]
	}
	if e.EmojiID != "" {
		return e.EmojiID
	}
	return e.Image.Accessibility.AccessibilityData.Label
}

// bestThumbnail picks the largest thumbnail. Thumbnails without dimensions
// tie, in which case the last one wins.
func bestThumbnail(thumbs []rawThumbnail) string {
	best := ""
	bestArea := -1
	for _, th := range thumbs {
		if th.URL == "" {
			continue
		}
		if area := th.Width * th.Height; area >= bestArea {
			best, bestArea = th.URL, area
		}
	}
	if strings.HasPrefix(best, "//") {
		best = "https:" + best
	}
	return best
}

func parseUsec(s string) time.Time {
	usec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || usec <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(usec).UTC()
}
