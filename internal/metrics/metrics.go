// Package metrics holds the Prometheus collectors for the relay. Collectors
// stay nil until Init is called, and every helper tolerates that, so packages
// can record unconditionally and tests need no registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	Polls              prometheus.Counter
	PollErrors         prometheus.Counter
	EventsEmitted      prometheus.Counter
	DuplicatesDropped  prometheus.Counter
	SubscribersDropped prometheus.Counter

	// Gauges
	ActiveStreams prometheus.Gauge
	Subscribers   prometheus.Gauge

	// Histograms (seconds)
	PollLatency prometheus.Observer
)

// Init registers the collectors with the default registry (idempotent).
func Init() {
	once.Do(func() {
		Polls = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_polls_total", Help: "Continuation polls sent upstream"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_poll_errors_total", Help: "Polls that failed to fetch or parse"})
		EventsEmitted = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_events_emitted_total", Help: "Chat events handed to subscribers"})
		DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_duplicates_dropped_total", Help: "Chat events dropped as already seen"})
		SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "livechat_subscribers_dropped_total", Help: "Subscribers closed because they could not keep up"})
		ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{Name: "livechat_active_streams", Help: "Broadcasts currently being polled"})
		Subscribers = promauto.NewGauge(prometheus.GaugeOpts{Name: "livechat_subscribers", Help: "Attached subscribers across all streams"})
		PollLatency = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livechat_poll_duration_seconds", Help: "Continuation poll round trip", Buckets: prometheus.DefBuckets})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func IncPolls()              { inc(Polls) }
func IncPollErrors()         { inc(PollErrors) }
func IncDuplicates()         { inc(DuplicatesDropped) }
func IncSubscribersDropped() { inc(SubscribersDropped) }

// AddEvents records n emitted events.
func AddEvents(n int) {
	if EventsEmitted != nil && n > 0 {
		EventsEmitted.Add(float64(n))
	}
}

// AddStreams moves the active stream gauge by delta.
func AddStreams(delta int) {
	if ActiveStreams != nil {
		ActiveStreams.Add(float64(delta))
	}
}

// AddSubscribers moves the subscriber gauge by delta.
func AddSubscribers(delta int) {
	if Subscribers != nil {
		Subscribers.Add(float64(delta))
	}
}

// ObservePoll records the duration since start.
func ObservePoll(start time.Time) {
	if PollLatency != nil {
		PollLatency.Observe(time.Since(start).Seconds())
	}
}
