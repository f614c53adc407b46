package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-data/lookout/internal/detect"
	"github.com/lookout-data/lookout/internal/timeutil"
)

// recordingOutput captures every frequency written to the buzzer.
type recordingOutput struct {
	writes []int
}

func (o *recordingOutput) SetAlarm(frequencyHz int) error {
	o.writes = append(o.writes, frequencyHz)
	return nil
}

func newTestController(t *testing.T) (*Controller, *recordingOutput, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	out := &recordingOutput{}
	c := NewController(Config{
		Enabled:     true,
		FrequencyHz: 31000,
		Duration:    10 * time.Second,
		Blocklist:   []string{"cat", "person"},
		Allowlist:   []string{"scissors"},
	}, out, clock)
	return c, out, clock
}

func labels(names ...string) detect.Set {
	s := make(detect.Set, len(names))
	for i, n := range names {
		s[i] = detect.Detection{Label: n, Confidence: 0.9}
	}
	return s
}

func TestObserve_BlocklistedLabelArms(t *testing.T) {
	c, out, _ := newTestController(t)

	c.Observe(labels("cat"))

	assert.True(t, c.Armed())
	assert.Equal(t, []int{31000}, out.writes)
}

func TestObserve_AllowlistSuppressesBlocklist(t *testing.T) {
	c, out, _ := newTestController(t)

	c.Observe(labels("cat", "scissors"))

	assert.False(t, c.Armed())
	assert.Empty(t, out.writes)
}

func TestObserve_UnlistedLabelsDoNotArm(t *testing.T) {
	c, out, _ := newTestController(t)

	c.Observe(labels("bird", "sheep"))

	assert.False(t, c.Armed())
	assert.Empty(t, out.writes)
}

func TestObserve_RetriggerRefreshesTimerWithoutRewritingOutput(t *testing.T) {
	c, out, clock := newTestController(t)

	c.Observe(labels("cat"))
	require.Equal(t, []int{31000}, out.writes)

	// Re-trigger 8s in: the timer refreshes but the output is not re-enabled.
	clock.Advance(8 * time.Second)
	c.Observe(labels("person"))
	assert.Equal(t, []int{31000}, out.writes)

	// 8s later the original deadline has long passed, but the refreshed one
	// has not.
	clock.Advance(8 * time.Second)
	c.Observe(nil)
	assert.True(t, c.Armed())

	// 2s more reaches the refreshed deadline.
	clock.Advance(2 * time.Second)
	c.Observe(nil)
	assert.False(t, c.Armed())
	assert.Equal(t, []int{31000, 0}, out.writes)
}

func TestObserve_DisarmsOnDurationDespiteDetections(t *testing.T) {
	c, _, clock := newTestController(t)

	c.Observe(labels("cat"))
	require.True(t, c.Armed())

	// Only harmless objects from here on; the alarm still runs its full
	// duration and then cuts off.
	clock.Advance(9 * time.Second)
	c.Observe(labels("bird"))
	assert.True(t, c.Armed())

	clock.Advance(time.Second)
	c.Observe(labels("bird"))
	assert.False(t, c.Armed())
}

func TestObserve_DisabledConfigNeverArms(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	out := &recordingOutput{}
	c := NewController(Config{
		Enabled:     false,
		FrequencyHz: 31000,
		Duration:    10 * time.Second,
		Blocklist:   []string{"cat"},
	}, out, clock)

	c.Observe(labels("cat"))

	assert.False(t, c.Armed())
	assert.Empty(t, out.writes)
}

func TestObserve_IdleTimerResetsOnAnyDetection(t *testing.T) {
	c, _, clock := newTestController(t)

	clock.Advance(25 * time.Second)
	assert.Equal(t, 25*time.Second, c.IdleFor())

	// Even a harmless object counts as activity.
	c.Observe(labels("bird"))
	assert.Equal(t, time.Duration(0), c.IdleFor())

	clock.Advance(5 * time.Second)
	c.Observe(nil)
	assert.Equal(t, 5*time.Second, c.IdleFor())
}

func TestReset_ClearsIdleTimerAndAlarm(t *testing.T) {
	c, out, clock := newTestController(t)

	c.Observe(labels("cat"))
	require.True(t, c.Armed())

	clock.Advance(30 * time.Second)
	c.Reset()

	assert.False(t, c.Armed())
	assert.Equal(t, time.Duration(0), c.IdleFor())
	assert.Equal(t, []int{31000, 0}, out.writes)
}

func TestDisarm_NoOutputWriteWhenAlreadyDisarmed(t *testing.T) {
	c, out, _ := newTestController(t)

	c.Disarm()
	assert.Empty(t, out.writes)
}
