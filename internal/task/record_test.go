package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `[
    {
        "start_time": "09:00",
        "end_time": "09:30",
        "path": "C:/Program Files/Player/player.exe",
        "days": [true, false, true, false, true, false, false],
        "volume": 0.65
    },
    {
        "start_time": "18:15",
        "end_time": "19:00",
        "path": "/usr/bin/mpv",
        "days": [false, false, false, false, false, false, false],
        "volume": 1
    }
]`

func TestDocumentRoundTrip(t *testing.T) {
	tasks, err := DecodeDocument([]byte(sampleDoc))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, MustTimeOfDay("09:00"), tasks[0].Start)
	assert.Equal(t, Weekdays{true, false, true, false, true}, tasks[0].Days)
	assert.True(t, tasks[1].IsOneShot())

	out, err := EncodeDocument(tasks)
	require.NoError(t, err)

	var want, got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(sampleDoc), &want))
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, want, got)
}

func TestDecodeDocumentEmpty(t *testing.T) {
	tasks, err := DecodeDocument([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = DecodeDocument([]byte("[]"))
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDecodeDocumentRejectsMalformed(t *testing.T) {
	bad := []string{
		`{"start_time":"09:00"}`,
		`[{"start_time":"9am","end_time":"10:00","path":"x","days":[false,false,false,false,false,false,false],"volume":1}]`,
		`[{"start_time":"09:00","end_time":"10:00","path":"x","days":[true],"volume":1}]`,
		`[{"start_time":"09:00","end_time":"10:00","path":"x","days":[false,false,false,false,false,false,false],"volume":1,"extra":1}]`,
		`[] []`,
		`[{"start_time":"10:00","end_time":"09:00","path":"x","days":[false,false,false,false,false,false,false],"volume":1}]`,
		`[{"start_time":"09:00","end_time":"10:00","path":"","days":[false,false,false,false,false,false,false],"volume":1}]`,
		`[{"start_time":"09:00","end_time":"10:00","path":"x","days":[false,false,false,false,false,false,false],"volume":7}]`,
	}
	for _, doc := range bad {
		_, err := DecodeDocument([]byte(doc))
		assert.Error(t, err, "doc %s", doc)
	}
}

func TestDecodeDocumentReportsValidationError(t *testing.T) {
	_, err := DecodeDocument([]byte(`[{"start_time":"10:00","end_time":"09:00","path":"x","days":[false,false,false,false,false,false,false],"volume":1}]`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "end_time", verr.Field)
}
