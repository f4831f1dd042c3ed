package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hh, mm, ss int) time.Time {
	// 2024-01-01 is a Monday.
	return time.Date(2024, 1, 1, hh, mm, ss, 0, time.UTC)
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "09:00", want: TimeOfDay{9, 0}},
		{in: " 23:59 ", want: TimeOfDay{23, 59}},
		{in: "7:05", want: TimeOfDay{7, 5}},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1200", wantErr: true},
		{in: "aa:bb", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "07:05", TimeOfDay{7, 5}.String())
}

func TestWeekdayIndexIsMondayFirst(t *testing.T) {
	assert.Equal(t, 0, WeekdayIndex(time.Monday))
	assert.Equal(t, 5, WeekdayIndex(time.Saturday))
	assert.Equal(t, 6, WeekdayIndex(time.Sunday))
}

func TestParseWeekdays(t *testing.T) {
	w, err := ParseWeekdays("mon-wed,sat")
	require.NoError(t, err)
	assert.Equal(t, Weekdays{true, true, true, false, false, true, false}, w)
	assert.Equal(t, "mon,tue,wed,sat", w.String())

	w, err = ParseWeekdays("sat-mon")
	require.NoError(t, err)
	assert.Equal(t, Weekdays{true, false, false, false, false, true, true}, w)

	w, err = ParseWeekdays("once")
	require.NoError(t, err)
	assert.False(t, w.Any())
	assert.Equal(t, "once", w.String())

	w, err = ParseWeekdays("daily")
	require.NoError(t, err)
	assert.Equal(t, "mon,tue,wed,thu,fri,sat,sun", w.String())

	_, err = ParseWeekdays("funday")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := Task{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("09:01"), Volume: 0.8, Path: "/usr/bin/mpv"}
	require.NoError(t, ok.Validate())

	bad := []Task{
		{Start: ok.Start, End: ok.End, Volume: 0.8},
		{Start: MustTimeOfDay("10:00"), End: MustTimeOfDay("09:00"), Volume: 0.8, Path: "x"},
		{Start: ok.Start, End: ok.Start, Volume: 0.8, Path: "x"},
		{Start: ok.Start, End: ok.End, Volume: 1.2, Path: "x"},
	}
	for _, b := range bad {
		err := b.Validate()
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "expected ValidationError for %+v", b)
	}
}

func TestEligibility(t *testing.T) {
	once := Task{}
	assert.True(t, once.IsOneShot())
	for d := 0; d < 7; d++ {
		assert.True(t, once.EligibleOn(d))
	}

	weekly := Task{Days: Weekdays{false, false, true}}
	assert.False(t, weekly.IsOneShot())
	assert.True(t, weekly.EligibleOn(2))
	assert.False(t, weekly.EligibleOn(0))
	assert.False(t, weekly.EligibleOn(7))
}

func TestWindowIsHalfOpen(t *testing.T) {
	tk := Task{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("09:01")}

	assert.False(t, tk.Contains(at(8, 59, 59)))
	assert.True(t, tk.Contains(at(9, 0, 0)))
	assert.True(t, tk.Contains(at(9, 0, 59)))
	assert.False(t, tk.Contains(at(9, 1, 0)))

	assert.False(t, tk.Ended(at(9, 0, 59)))
	assert.True(t, tk.Ended(at(9, 1, 0)))

	assert.Equal(t, 10*time.Second, tk.Remaining(at(9, 0, 50)))
	assert.Equal(t, -2*time.Second, tk.Remaining(at(9, 1, 2)))
}

func TestDescribe(t *testing.T) {
	tk := Task{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("10:30"), Volume: 0.8, Path: "/opt/players/mpv"}
	assert.Equal(t, "09:00 - 10:30 - mpv - volume 80% - once", tk.Describe())
}
