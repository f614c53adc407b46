package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects the package logger into a slice for the duration of the
// test. These tests mutate package state, so none of them run in parallel.
func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() {
		Logf = original
		SetDebug(false)
	})

	var msgs []string
	SetLogger(func(format string, v ...interface{}) {
		msgs = append(msgs, fmt.Sprintf(format, v...))
	})
	return &msgs
}

func TestLogf_Default(t *testing.T) {
	require.NotNil(t, Logf)
}

func TestSetLogger(t *testing.T) {
	msgs := capture(t)

	Logf("session file %s opened", "a.avi")
	require.Len(t, *msgs, 1)
	assert.Equal(t, "session file a.avi opened", (*msgs)[0])

	// nil installs a no-op logger rather than panicking.
	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, *msgs, 1)
}

func TestDebugf_SuppressedByDefault(t *testing.T) {
	msgs := capture(t)

	Debugf("motion sensor activated")
	assert.Empty(t, *msgs)
}

func TestDebugf_EmitsWithPrefixWhenEnabled(t *testing.T) {
	msgs := capture(t)

	SetDebug(true)
	Debugf("state %s -> %s", "inactive", "active")
	require.Len(t, *msgs, 1)
	assert.Equal(t, "DEBUG state inactive -> active", (*msgs)[0])

	SetDebug(false)
	Debugf("suppressed again")
	assert.Len(t, *msgs, 1)
}
