// Package htmldata pulls JSON object literals out of server-rendered HTML.
//
// Pages embed their state as script assignments such as
// `ytcfg.set({...});` or `var ytInitialData = {...};`. Regular expressions
// cannot bound those objects reliably because they nest arbitrarily and
// their string values may contain braces, so the extractor walks the text
// with a small brace/string state machine instead.
package htmldata

import (
	"encoding/json"
	"strings"
)

// Extract returns the JSON object that follows the first occurrence of
// marker in page. It reports false when the marker is absent, the object is
// unterminated, or the balanced text is not valid JSON.
func Extract(page, marker string) (json.RawMessage, bool) {
	if marker == "" {
		return nil, false
	}
	idx := strings.Index(page, marker)
	if idx < 0 {
		return nil, false
	}
	obj, _, ok := objectAt(page, idx+len(marker))
	return obj, ok
}

// ExtractAll returns every object introduced by marker, in page order.
// Occurrences whose object cannot be parsed are skipped.
func ExtractAll(page, marker string) []json.RawMessage {
	if marker == "" {
		return nil
	}
	var out []json.RawMessage
	pos := 0
	for pos < len(page) {
		idx := strings.Index(page[pos:], marker)
		if idx < 0 {
			break
		}
		start := pos + idx + len(marker)
		obj, end, ok := objectAt(page, start)
		if ok {
			out = append(out, obj)
			pos = end
			continue
		}
		pos = start
	}
	return out
}

// First tries each marker in order and returns the first object found.
func First(page string, markers ...string) (json.RawMessage, bool) {
	for _, m := range markers {
		if obj, ok := Extract(page, m); ok {
			return obj, true
		}
	}
	return nil, false
}

// Decode is First followed by json.Unmarshal into v.
func Decode(page string, v any, markers ...string) bool {
	obj, ok := First(page, markers...)
	if !ok {
		return false
	}
	return json.Unmarshal(obj, v) == nil
}

// objectAt finds the first '{' at or after start and returns the balanced
// object beginning there together with the offset just past its closing
// brace.
func objectAt(page string, start int) (json.RawMessage, int, bool) {
	open := strings.IndexByte(page[start:], '{')
	if open < 0 {
		return nil, start, false
	}
	open += start

	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(page); i++ {
		c := page[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				raw := page[open : i+1]
				if !json.Valid([]byte(raw)) {
					return nil, i + 1, false
				}
				return json.RawMessage(raw), i + 1, true
			}
		}
	}
	return nil, len(page), false
}
