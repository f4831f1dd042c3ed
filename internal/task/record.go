package task

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is the persisted form of a Task.
type Record struct {
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Path      string  `json:"path"`
	Days      []bool  `json:"days"`
	Volume    float64 `json:"volume"`
}

// ToRecord converts a Task for persistence.
func (t Task) ToRecord() Record {
	days := make([]bool, 7)
	copy(days, t.Days[:])
	return Record{
		StartTime: t.Start.String(),
		EndTime:   t.End.String(),
		Path:      t.Path,
		Days:      days,
		Volume:    t.Volume,
	}
}

// Task parses a record. Any structural problem is an error; there is no
// partial recovery.
func (r Record) Task() (Task, error) {
	start, err := ParseTimeOfDay(r.StartTime)
	if err != nil {
		return Task{}, fmt.Errorf("start_time: %w", err)
	}
	end, err := ParseTimeOfDay(r.EndTime)
	if err != nil {
		return Task{}, fmt.Errorf("end_time: %w", err)
	}
	if len(r.Days) != 7 {
		return Task{}, fmt.Errorf("days: expected 7 entries, got %d", len(r.Days))
	}
	var w Weekdays
	copy(w[:], r.Days)
	return Task{Start: start, End: end, Days: w, Volume: r.Volume, Path: r.Path}, nil
}

// ValidTask parses a record and enforces the Task invariants. Stored
// documents go through it so an impossible window never reaches the scheduler.
func (r Record) ValidTask() (Task, error) {
	t, err := r.Task()
	if err != nil {
		return Task{}, err
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// DecodeDocument parses a whole task document (a JSON array of records).
// Unknown fields, trailing data and invalid tasks are rejected.
func DecodeDocument(b []byte) ([]Task, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return []Task{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode tasks: trailing data")
	}
	out := make([]Task, 0, len(recs))
	for i, r := range recs {
		t, err := r.ValidTask()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// EncodeDocument serializes tasks as an indented JSON array.
func EncodeDocument(tasks []Task) ([]byte, error) {
	recs := make([]Record, 0, len(tasks))
	for _, t := range tasks {
		recs = append(recs, t.ToRecord())
	}
	return json.MarshalIndent(recs, "", "    ")
}
