package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textAction = `{
  "clickTrackingParams": "x",
  "addChatItemAction": {
    "item": {
      "liveChatTextMessageRenderer": {
        "id": "msg-1",
        "timestampUsec": "1700000000123456",
        "authorName": {"simpleText": "@@viewer"},
        "authorExternalChannelId": "UCviewer",
        "authorPhoto": {"thumbnails": [{"url": "//yt3.example/small", "width": 32, "height": 32}, {"url": "//yt3.example/big", "width": 64, "height": 64}]},
        "authorBadges": [
          {"liveChatAuthorBadgeRenderer": {"icon": {"iconType": "MODERATOR"}, "tooltip": "Moderator"}},
          {"liveChatAuthorBadgeRenderer": {"tooltip": "Member (6 months)", "customThumbnail": {"thumbnails": [{"url": "https://badge/16", "width": 16, "height": 16}, {"url": "https://badge/32", "width": 32, "height": 32}]}}},
          {"liveChatAuthorBadgeRenderer": {"tooltip": "Member (1 year)", "customThumbnail": {"thumbnails": [{"url": "https://badge/other"}]}}},
          {"liveChatAuthorBadgeRenderer": {"accessibility": {"accessibilityData": {"label": "Verified"}}}}
        ],
        "message": {"runs": [
          {"text": "hello "},
          {"emoji": {"emojiId": "UC/abc", "shortcuts": [":wave:"], "image": {"thumbnails": [{"url": "https://e/24", "width": 24, "height": 24}, {"url": "https://e/48", "width": 48, "height": 48}]}}},
          {"emoji": {"emojiId": "🔥", "image": {"thumbnails": [{"url": "https://e/fire"}]}}},
          {"emoji": {"image": {"thumbnails": [], "accessibility": {"accessibilityData": {"label": "party"}}}}},
          {"text": " bye"}
        ]}
      }
    }
  }
}`

func TestNormalize_TextMessage(t *testing.T) {
	ev, err := Normalize(json.RawMessage(textAction))
	require.NoError(t, err)

	assert.Equal(t, "msg-1", ev.ID)
	assert.Equal(t, KindText, ev.Kind)
	assert.Equal(t, "viewer", ev.Author.Name)
	assert.Equal(t, "UCviewer", ev.Author.ChannelID)
	assert.Equal(t, "https://yt3.example/big", ev.Author.PhotoURL)
	assert.Equal(t, time.UnixMicro(1700000000123456).UTC(), ev.Timestamp)
	assert.Equal(t, ev.Timestamp, ev.PostedAt())

	assert.True(t, ev.Badges.Moderator)
	assert.False(t, ev.Badges.Owner)
	assert.True(t, ev.Badges.Verified)
	assert.True(t, ev.Badges.Member)
	assert.Equal(t, "https://badge/32", ev.Badges.MemberBadgeURL, "first member badge wins, largest image")

	assert.Equal(t, []Run{
		{Type: RunText, Text: "hello "},
		{Type: RunEmoji, URL: "https://e/48", Alt: ":wave:"},
		{Type: RunEmoji, URL: "https://e/fire", Alt: "🔥"},
		{Type: RunEmoji, URL: "", Alt: "party"},
		{Type: RunText, Text: " bye"},
	}, ev.Runs)
}

func TestNormalize_OwnerByIcon(t *testing.T) {
	raw := `{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{"id":"m","authorName":{"simpleText":"Host"},
		"authorBadges":[{"liveChatAuthorBadgeRenderer":{"icon":{"iconType":"OWNER"}}}],
		"message":{"simpleText":"hi"}}}}}`

	ev, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.True(t, ev.Badges.Owner)
	assert.False(t, ev.Badges.Member)
	assert.Equal(t, []Run{{Type: RunText, Text: "hi"}}, ev.Runs)
}

func TestNormalize_PaidMessage(t *testing.T) {
	raw := `{"addChatItemAction":{"item":{"liveChatPaidMessageRenderer":{"id":"p1","authorName":{"simpleText":"Fan"},
		"purchaseAmountText":{"simpleText":"$5.00"},"message":{"runs":[{"text":"gg"}]}}}}}`

	ev, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, KindPaid, ev.Kind)
	assert.Equal(t, "$5.00", ev.Amount)
	assert.Equal(t, []Run{{Type: RunText, Text: "gg"}}, ev.Runs)
}

func TestNormalize_MembershipUsesHeaderSubtext(t *testing.T) {
	raw := `{"addChatItemAction":{"item":{"liveChatMembershipItemRenderer":{"id":"mem1","authorName":{"simpleText":"New"},
		"headerSubtext":{"runs":[{"text":"Welcome to "},{"text":"the club"}]}}}}}`

	ev, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, KindMembership, ev.Kind)
	assert.Equal(t, []Run{{Type: RunText, Text: "Welcome to "}, {Type: RunText, Text: "the club"}}, ev.Runs)
}

func TestNormalize_Skips(t *testing.T) {
	_, err := Normalize(json.RawMessage(`{"markChatItemAsDeletedAction":{"targetItemId":"x"}}`))
	assert.True(t, errors.Is(err, ErrNotChatItem))

	_, err = Normalize(json.RawMessage(`{"addChatItemAction":{"item":{"liveChatViewerEngagementMessageRenderer":{}}}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedItem))

	_, err = Normalize(json.RawMessage(`{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{"id":5}}}}`))
	assert.Error(t, err)
}

func TestMessageEnvelopeJSON(t *testing.T) {
	data, err := json.Marshal(ErrorMessage("upstream unavailable", "status 503"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","data":{"message":"upstream unavailable","details":"status 503"}}`, string(data))

	ev := &Event{ID: "x", Kind: KindText, Author: Author{Name: "a"}, Runs: []Run{{Type: RunText, Text: "t"}}, Timestamp: time.Unix(0, 0).UTC()}
	data, err = json.Marshal(ChatMessage(ev))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","data":{"id":"x","kind":"text","author":{"name":"a"},
		"badges":{"moderator":false,"owner":false,"verified":false,"member":false},
		"message":[{"type":"text","text":"t"}],"timestamp":"1970-01-01T00:00:00Z"}}`, string(data))
}

func TestNormalize_MissingTimestamp(t *testing.T) {
	ev, err := Normalize(json.RawMessage(`{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{
		"id":"m1","authorName":{"simpleText":"viewer"},"message":{"runs":[{"text":"hi"}]}}}}}`))
	require.NoError(t, err)
	assert.True(t, ev.PostedAt().IsZero())
	assert.False(t, ev.Timestamp.IsZero())
}
