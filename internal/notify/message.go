package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatStartedMessage creates the body sent when a broadcast starts streaming.
func FormatStartedMessage(broadcastID string, at time.Time) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Broadcast: %s\n", broadcastID))
	sb.WriteString(fmt.Sprintf("Started: %s", at.UTC().Format(time.RFC3339)))
	return sb.String()
}

// FormatStoppedMessage creates the body sent when a stream stops.
func FormatStoppedMessage(broadcastID, reason string, at time.Time) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Broadcast: %s\n", broadcastID))
	sb.WriteString(fmt.Sprintf("Stopped: %s", at.UTC().Format(time.RFC3339)))
	if reason != "" {
		sb.WriteString(fmt.Sprintf("\nReason: %s", reason))
	}
	return sb.String()
}
