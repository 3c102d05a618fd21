// Package chat defines the normalized chat event published to subscribers
// and the rules that turn raw upstream chat actions into it.
package chat

import "time"

// Kind distinguishes the chat item types that are relayed.
type Kind string

const (
	KindText       Kind = "text"
	KindPaid       Kind = "paid"
	KindMembership Kind = "membership"
)

// Event is one normalized chat message. Events are immutable once built.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Kind      Kind      `json:"kind"`
	Author    Author    `json:"author"`
	Badges    Badges    `json:"badges"`
	Runs      []Run     `json:"message"`
	Amount    string    `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	posted time.Time // upstream post time; zero when upstream sent none
}

// PostedAt returns the upstream post time, or the zero time when the item
// carried none.
func (e *Event) PostedAt() time.Time {
	return e.posted
}

type Author struct {
	Name      string `json:"name"`
	ChannelID string `json:"channelId,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
}

type Badges struct {
	Moderator      bool   `json:"moderator"`
	Owner          bool   `json:"owner"`
	Verified       bool   `json:"verified"`
	Member         bool   `json:"member"`
	MemberBadgeURL string `json:"memberBadgeUrl,omitempty"`
}

// RunType is either RunText or RunEmoji.
type RunType string

const (
	RunText  RunType = "text"
	RunEmoji RunType = "emoji"
)

// Run is one segment of message content: plain text, or an emoji image
// with a fallback label.
type Run struct {
	Type RunType `json:"type"`
	Text string  `json:"text,omitempty"`
	URL  string  `json:"url,omitempty"`
	Alt  string  `json:"alt,omitempty"`
}

// MessageType tags the envelope written to subscribers.
type MessageType string

const (
	TypeChat  MessageType = "chat"
	TypeError MessageType = "error"
)

// Message is the server-to-subscriber envelope.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ChatMessage wraps an event for delivery.
func ChatMessage(e *Event) Message {
	return Message{Type: TypeChat, Data: e}
}

// ErrorMessage builds an error envelope.
func ErrorMessage(message, details string) Message {
	return Message{Type: TypeError, Data: ErrorData{Message: message, Details: details}}
}
