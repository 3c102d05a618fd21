package chat

import "time"

const (
	DefaultDedupCeiling  = 7000
	DefaultEvictFraction = 0.38
)

// DedupWindow remembers recently delivered event ids. Once it grows past
// its ceiling it drops the oldest fraction of entries by first-seen time in
// a single pass, and raises a watermark to the newest upstream timestamp it
// dropped. Events at or below the watermark are rejected even though their
// ids are no longer remembered. A window belongs to one polling loop and is
// not safe for concurrent use.
type DedupWindow struct {
	ceiling   int
	fraction  float64
	seen      map[string]dedupEntry
	order     []string // ids in first-seen order
	watermark time.Time
	now       func() time.Time
}

type dedupEntry struct {
	firstSeen time.Time
	postedAt  time.Time
}

// NewDedupWindow creates a window. Non-positive arguments select the defaults.
func NewDedupWindow(ceiling int, evictFraction float64) *DedupWindow {
	if ceiling <= 0 {
		ceiling = DefaultDedupCeiling
	}
	if evictFraction <= 0 || evictFraction >= 1 {
		evictFraction = DefaultEvictFraction
	}
	return &DedupWindow{
		ceiling:  ceiling,
		fraction: evictFraction,
		seen:     make(map[string]dedupEntry, ceiling),
		order:    make([]string, 0, ceiling),
		now:      time.Now,
	}
}

// Observe records id, posted upstream at postedAt, and reports whether it
// should be delivered. Empty ids are never recorded and always count as
// new. A zero postedAt skips the watermark check.
func (w *DedupWindow) Observe(id string, postedAt time.Time) bool {
	if id == "" {
		return true
	}
	if _, ok := w.seen[id]; ok {
		return false
	}
	if !postedAt.IsZero() && !w.watermark.IsZero() && !postedAt.After(w.watermark) {
		return false
	}
	w.seen[id] = dedupEntry{firstSeen: w.now(), postedAt: postedAt}
	w.order = append(w.order, id)
	if len(w.order) > w.ceiling {
		w.evict()
	}
	return true
}

// Contains reports whether id is currently remembered.
func (w *DedupWindow) Contains(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// FirstSeen returns when id was first observed.
func (w *DedupWindow) FirstSeen(id string) (time.Time, bool) {
	e, ok := w.seen[id]
	return e.firstSeen, ok
}

// Watermark returns the newest upstream timestamp evicted so far.
func (w *DedupWindow) Watermark() time.Time {
	return w.watermark
}

// Len returns the number of remembered ids.
func (w *DedupWindow) Len() int {
	return len(w.order)
}

func (w *DedupWindow) evict() {
	n := int(float64(len(w.order)) * w.fraction)
	if n < 1 {
		n = 1
	}
	for _, id := range w.order[:n] {
		if at := w.seen[id].postedAt; at.After(w.watermark) {
			w.watermark = at
		}
		delete(w.seen, id)
	}
	// Copy so the backing array does not keep growing from the front.
	rest := make([]string, len(w.order)-n, w.ceiling)
	copy(rest, w.order[n:])
	w.order = rest
}
