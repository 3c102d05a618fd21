package live

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind identifies what a Target names.
type Kind string

const (
	KindChannel   Kind = "channel"
	KindHandle    Kind = "handle"
	KindBroadcast Kind = "broadcast"
)

// ErrNoTarget is returned when none of the connection parameters name a
// channel, handle or broadcast.
var ErrNoTarget = errors.New("one of videoId, channelId or handle is required")

// ErrInvalidBroadcastID is returned for a videoId that cannot name a
// broadcast.
var ErrInvalidBroadcastID = errors.New("videoId must be 11 characters of A-Z, a-z, 0-9, _ or -")

var broadcastIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Target is the immutable input used to resolve a broadcast id.
type Target struct {
	Kind  Kind
	Value string
}

// ParseTarget builds a Target from connection parameters. An explicit
// broadcast id wins over a channel; a channel id written with a leading
// "@" is treated as a handle.
func ParseTarget(broadcastID, channelID, handle string) (Target, error) {
	broadcastID = strings.TrimSpace(broadcastID)
	channelID = strings.TrimSpace(channelID)
	handle = strings.TrimSpace(handle)

	switch {
	case broadcastID != "":
		if !broadcastIDPattern.MatchString(broadcastID) {
			return Target{}, fmt.Errorf("%w: got %q", ErrInvalidBroadcastID, broadcastID)
		}
		return Target{Kind: KindBroadcast, Value: broadcastID}, nil
	case handle != "":
		return Target{Kind: KindHandle, Value: normalizeHandle(handle)}, nil
	case strings.HasPrefix(channelID, "@"):
		return Target{Kind: KindHandle, Value: normalizeHandle(channelID)}, nil
	case channelID != "":
		return Target{Kind: KindChannel, Value: channelID}, nil
	}
	return Target{}, ErrNoTarget
}

// TargetFromQuery reads the connection parameters shared by every
// subscriber transport. liveId is accepted as an alias of videoId.
func TargetFromQuery(q url.Values) (Target, error) {
	broadcastID := q.Get("videoId")
	if broadcastID == "" {
		broadcastID = q.Get("liveId")
	}
	return ParseTarget(broadcastID, q.Get("channelId"), q.Get("handle"))
}

// String renders the target the way it appears in upstream URLs.
func (t Target) String() string {
	switch t.Kind {
	case KindHandle:
		return "@" + t.Value
	case KindBroadcast:
		return "v=" + t.Value
	}
	return t.Value
}

func normalizeHandle(h string) string {
	return strings.TrimLeft(h, "@")
}
