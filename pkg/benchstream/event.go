// Package benchstream folds the per-job benchmark event stream emitted
// by running jobs into live per-benchmark lifecycle counters. Events
// arrive at-least-once and unordered across tags; the aggregator only
// ever increments or overwrites, so any arrival order converges to the
// same counters.
package benchstream

import (
	"encoding/json"
	"fmt"
)

// EventKind is the lifecycle stage a benchmark event reports.
type EventKind string

const (
	EventConfig EventKind = "config"
	EventMeta   EventKind = "meta"
	EventStart  EventKind = "start"
	EventData   EventKind = "data"
	EventStop   EventKind = "stop"
	EventLine   EventKind = "line"
	EventError  EventKind = "error"
	EventEnd    EventKind = "end"
)

// Pipe identifies the output stream a line event came from.
type Pipe string

const (
	PipeStdout Pipe = "stdout"
	PipeStderr Pipe = "stderr"
)

// Event is one streamed benchmark event as delivered by the job
// runner transport. The wire shape is a contract with the backend.
type Event struct {
	JobID string    `json:"jr_job_id"`
	Data  EventBody `json:"data"`
}

// EventBody is the inner payload of a streamed event.
type EventBody struct {
	Event EventKind       `json:"event"`
	Tag   string          `json:"tag"`
	Pipe  Pipe            `json:"pipe,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEvent decodes one streamed event line.
func ParseEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding benchmark event: %w", err)
	}

	return ev, nil
}
