package livechat

import "strings"

// Tab is one entry of the chat-mode picker ("Top chat", "Live chat").
type Tab struct {
	Title    string
	Selected bool
	Token    string
}

// Strategy is one named rule for choosing the initial continuation. chat is
// the liveChatRenderer object; tabs are the picker entries, possibly empty.
type Strategy struct {
	Name string
	Find func(chat map[string]any, tabs []Tab) (string, bool)
}

// Selector tries its strategies in order and returns the first token found.
type Selector struct {
	strategies []Strategy
}

// DefaultSelector returns the selector with the built-in precedence:
// the "live chat" tab, the tab opposite "top chat", the selected one of two
// tabs, the last tab carrying a continuation, and finally a continuation
// on the chat renderer itself.
func DefaultSelector() *Selector {
	return &Selector{strategies: []Strategy{
		{Name: "live-chat-label", Find: byLiveChatLabel},
		{Name: "other-than-top-chat", Find: otherThanTopChat},
		{Name: "selected-of-two", Find: selectedOfTwo},
		{Name: "last-with-continuation", Find: lastWithContinuation},
		{Name: "renderer-continuation", Find: rendererContinuation},
	}}
}

// With returns a copy of s with extra strategies appended after the
// existing ones.
func (s *Selector) With(extra ...Strategy) *Selector {
	strategies := make([]Strategy, 0, len(s.strategies)+len(extra))
	strategies = append(strategies, s.strategies...)
	strategies = append(strategies, extra...)
	return &Selector{strategies: strategies}
}

// Select finds the liveChatRenderer in initialData and picks the initial
// continuation. It returns the token and the name of the strategy that
// produced it.
func (s *Selector) Select(initialData any) (string, string, bool) {
	node, ok := deepFindKey(initialData, "liveChatRenderer")
	if !ok {
		return "", "", false
	}
	chat, ok := node.(map[string]any)
	if !ok {
		return "", "", false
	}
	tabs := tabsOf(chat)

	for _, st := range s.strategies {
		if token, ok := st.Find(chat, tabs); ok && token != "" {
			return token, st.Name, true
		}
	}
	return "", "", false
}

func tabsOf(chat map[string]any) []Tab {
	node, ok := deepFindKey(chat, "subMenuItems")
	if !ok {
		return nil
	}
	items, ok := node.([]any)
	if !ok {
		return nil
	}

	tabs := make([]Tab, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		tab := Tab{Title: textOf(m["title"])}
		tab.Selected, _ = m["selected"].(bool)
		if c, ok := m["continuation"]; ok {
			tab.Token, _ = tokenOf(c)
		}
		tabs = append(tabs, tab)
	}
	return tabs
}

func byLiveChatLabel(_ map[string]any, tabs []Tab) (string, bool) {
	for _, t := range tabs {
		if strings.EqualFold(strings.TrimSpace(t.Title), "live chat") && t.Token != "" {
			return t.Token, true
		}
	}
	for _, t := range tabs {
		if strings.Contains(strings.ToLower(t.Title), "live chat") && t.Token != "" {
			return t.Token, true
		}
	}
	return "", false
}

func otherThanTopChat(_ map[string]any, tabs []Tab) (string, bool) {
	if len(tabs) != 2 {
		return "", false
	}
	for i, t := range tabs {
		if strings.Contains(strings.ToLower(t.Title), "top chat") {
			other := tabs[1-i]
			return other.Token, other.Token != ""
		}
	}
	return "", false
}

func selectedOfTwo(_ map[string]any, tabs []Tab) (string, bool) {
	if len(tabs) != 2 {
		return "", false
	}
	for _, t := range tabs {
		if t.Selected && t.Token != "" {
			return t.Token, true
		}
	}
	return "", false
}

func lastWithContinuation(_ map[string]any, tabs []Tab) (string, bool) {
	for i := len(tabs) - 1; i >= 0; i-- {
		if tabs[i].Token != "" {
			return tabs[i].Token, true
		}
	}
	return "", false
}

func rendererContinuation(chat map[string]any, _ []Tab) (string, bool) {
	list, ok := chat["continuations"].([]any)
	if !ok {
		return "", false
	}
	for _, c := range list {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"reloadContinuationData", "timedContinuationData", "invalidationContinuationData"} {
			if data, ok := m[key].(map[string]any); ok {
				if token, ok := data["continuation"].(string); ok && token != "" {
					return token, true
				}
			}
		}
	}
	return "", false
}
