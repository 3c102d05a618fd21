package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacing_NextDelay(t *testing.T) {
	p := DefaultPacing()
	tests := []struct {
		name      string
		timeoutMs int
		emitted   bool
		want      time.Duration
	}{
		{"idle long timeout hits ceiling", 900, false, 240 * time.Millisecond},
		{"idle short timeout hits floor", 100, false, 60 * time.Millisecond},
		{"idle in range", 500, false, 140 * time.Millisecond},
		{"floor of fractional ms", 501, false, 140 * time.Millisecond},
		{"zero timeout", 0, false, 60 * time.Millisecond},
		{"emitted wins", 900, true, 60 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.NextDelay(tt.timeoutMs, tt.emitted))
		})
	}
}

func TestBackoff_GrowsToCapAndResets(t *testing.T) {
	b := DefaultBackoff()

	prev := time.Duration(0)
	var seen []time.Duration
	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, prev, "backoff must not shrink")
		assert.LessOrEqual(t, d, DefaultBackoffMax)
		seen = append(seen, d)
		prev = d
	}
	assert.Equal(t, 130*time.Millisecond, seen[0])
	assert.Equal(t, time.Duration(float64(130*time.Millisecond)*1.25), seen[1])
	assert.Equal(t, time.Duration(float64(130*time.Millisecond)*1.25*1.25), seen[2])
	assert.Equal(t, DefaultBackoffMax, seen[len(seen)-1])

	b.Reset()
	assert.Equal(t, 130*time.Millisecond, b.NextBackOff())
}
