package livechat

import "sort"

// deepFind walks a decoded JSON tree depth-first and returns the first node
// accepted by match. Objects are tested before their children; object keys
// are visited in sorted order and arrays in index order, so the result is
// deterministic.
func deepFind(node any, match func(any) bool) (any, bool) {
	if match(node) {
		return node, true
	}
	switch n := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if found, ok := deepFind(n[k], match); ok {
				return found, true
			}
		}
	case []any:
		for _, child := range n {
			if found, ok := deepFind(child, match); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// deepFindKey returns the value stored under key in the first object that
// has it.
func deepFindKey(node any, key string) (any, bool) {
	found, ok := deepFind(node, func(n any) bool {
		m, isMap := n.(map[string]any)
		if !isMap {
			return false
		}
		_, has := m[key]
		return has
	})
	if !ok {
		return nil, false
	}
	return found.(map[string]any)[key], true
}

// tokenOf returns the first non-empty "continuation" string below node,
// which covers reload, timed and invalidation continuation data alike.
func tokenOf(node any) (string, bool) {
	found, ok := deepFind(node, func(n any) bool {
		m, isMap := n.(map[string]any)
		if !isMap {
			return false
		}
		s, isString := m["continuation"].(string)
		return isString && s != ""
	})
	if !ok {
		return "", false
	}
	return found.(map[string]any)["continuation"].(string), true
}

// textOf flattens the upstream text shapes: a plain string, {simpleText},
// or {runs: [{text}]}.
func textOf(node any) string {
	switch n := node.(type) {
	case string:
		return n
	case map[string]any:
		if s, ok := n["simpleText"].(string); ok {
			return s
		}
		if runs, ok := n["runs"].([]any); ok {
			var out string
			for _, r := range runs {
				if rm, ok := r.(map[string]any); ok {
					if s, ok := rm["text"].(string); ok {
						out += s
					}
				}
			}
			return out
		}
	}
	return ""
}
