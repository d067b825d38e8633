package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeSpans(t *testing.T) {
	spans, err := ParseTimeSpans("0:30-1:45")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, TimeSpan{Start: 30, End: 105}, spans[0])

	spans, err = ParseTimeSpans("0:00-0:10, 2:05-3:00,10:00-12:30")
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, TimeSpan{Start: 0, End: 10}, spans[0])
	assert.Equal(t, TimeSpan{Start: 125, End: 180}, spans[1])
	assert.Equal(t, TimeSpan{Start: 600, End: 750}, spans[2])
}

func TestParseTimeSpans_SingleDigitFields(t *testing.T) {
	spans, err := ParseTimeSpans("1:5-2:0")
	require.NoError(t, err)
	assert.Equal(t, TimeSpan{Start: 65, End: 120}, spans[0])
}

func TestParseTimeSpans_Hours(t *testing.T) {
	spans, err := ParseTimeSpans("1:00:00-1:00:30")
	require.NoError(t, err)
	assert.Equal(t, TimeSpan{Start: 3600, End: 3630}, spans[0])
}

func TestParseTimeSpans_Rejects(t *testing.T) {
	bad := []string{
		"",
		"30-45",
		"0:30",
		"1:45-0:30", // end before start
		"0:30-0:30", // zero-length
		"abc",
		"0:30-1:45;2:00-3:00", // wrong separator
	}
	for _, in := range bad {
		_, err := ParseTimeSpans(in)
		assert.Error(t, err, "should reject %q", in)
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	for _, s := range []JobStatus{JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut, JobStatusCanceled} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, JobStatusTimedOut, StatusForError(ErrToolTimeout))
	assert.Equal(t, JobStatusCanceled, StatusForError(ErrCanceled))
	assert.Equal(t, JobStatusFailed, StatusForError(ErrToolFailed))
	assert.Equal(t, JobStatusFailed, StatusForError(ErrToolUnavailable))
	assert.Equal(t, JobStatusFailed, StatusForError(ErrToolProducedNoOutput))
	assert.Equal(t, JobStatusFailed, StatusForError(ErrQueueTimeout))
}
