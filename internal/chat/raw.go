package chat

import "strings"

// Raw upstream shapes. Only the fields the normalizer reads are declared.

type rawAction struct {
	AddChatItemAction *struct {
		Item rawItem `json:"item"`
	} `json:"addChatItemAction"`
}

type rawItem struct {
	Text       *rawMessage `json:"liveChatTextMessageRenderer"`
	Paid       *rawMessage `json:"liveChatPaidMessageRenderer"`
	Membership *rawMessage `json:"liveChatMembershipItemRenderer"`
}

type rawMessage struct {
	ID                      string     `json:"id"`
	TimestampUsec           string     `json:"timestampUsec"`
	AuthorName              *rawText   `json:"authorName"`
	AuthorExternalChannelID string     `json:"authorExternalChannelId"`
	AuthorPhoto             *rawImage  `json:"authorPhoto"`
	AuthorBadges            []rawBadge `json:"authorBadges"`
	Message                 *rawText   `json:"message"`
	PurchaseAmountText      *rawText   `json:"purchaseAmountText"`
	HeaderSubtext           *rawText   `json:"headerSubtext"`
}

type rawText struct {
	SimpleText string   `json:"simpleText"`
	Runs       []rawRun `json:"runs"`
}

// String flattens the text, rendering emoji by their fallback label.
func (t *rawText) String() string {
	if t == nil {
		return ""
	}
	if t.SimpleText != "" {
		return t.SimpleText
	}
	var sb strings.Builder
	for _, r := range t.Runs {
		switch {
		case r.Text != nil:
			sb.WriteString(*r.Text)
		case r.Emoji != nil:
			sb.WriteString(emojiAlt(r.Emoji))
		}
	}
	return sb.String()
}

type rawRun struct {
	Text  *string   `json:"text"`
	Emoji *rawEmoji `json:"emoji"`
}

type rawEmoji struct {
	EmojiID       string   `json:"emojiId"`
	Shortcuts     []string `json:"shortcuts"`
	Image         rawImage `json:"image"`
	IsCustomEmoji bool     `json:"isCustomEmoji"`
}

type rawImage struct {
	Thumbnails    []rawThumbnail   `json:"thumbnails"`
	Accessibility rawAccessibility `json:"accessibility"`
}

type rawThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type rawAccessibility struct {
	AccessibilityData struct {
		Label string `json:"label"`
	} `json:"accessibilityData"`
}

type rawBadge struct {
	Renderer *struct {
		Tooltip       string           `json:"tooltip"`
		Accessibility rawAccessibility `json:"accessibility"`
		Icon          *struct {
			IconType string `json:"iconType"`
		} `json:"icon"`
		CustomThumbnail *rawImage `json:"customThumbnail"`
	} `json:"liveChatAuthorBadgeRenderer"`
}
