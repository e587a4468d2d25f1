package jobstatus

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// Snapshot is one polled status report for a job. Beyond the status
// string the scheduler may expose any subset of the time fields, so
// elapsed-time derivation has to try several sources in order.
type Snapshot struct {
	Status string `json:"status"`

	// Elapsed is an already formatted elapsed string, when present.
	Elapsed string `json:"elapsed,omitempty"`

	// StartEpoch/EndEpoch are unix timestamps, zero when unknown.
	StartEpoch int64 `json:"start_time,omitempty"`
	EndEpoch   int64 `json:"end_time,omitempty"`

	// RawTime is whatever loosely formatted time field the scheduler
	// reported when nothing better is available.
	RawTime string `json:"time,omitempty"`
}

// Elapsed-time sentinels. The exact wording is presentation detail,
// only the priority order of sources is contractual.
const (
	elapsedNotStarted = "Not started"
	elapsedUnknown    = "Unknown"
)

// acctRecord picks the one path this package understands out of the
// otherwise opaque accounting record.
type acctRecord struct {
	Time struct {
		Elapsed int `mapstructure:"elapsed"`
	} `mapstructure:"time"`
}

// AccountingElapsed extracts the elapsed seconds from a scheduler
// accounting record. The record is treated as opaque except for the
// time.elapsed path.
func AccountingElapsed(record map[string]any) (time.Duration, bool) {
	if record == nil {
		return 0, false
	}

	var rec acctRecord
	if err := mapstructure.Decode(record, &rec); err != nil {
		return 0, false
	}

	if rec.Time.Elapsed <= 0 {
		return 0, false
	}

	return time.Duration(rec.Time.Elapsed) * time.Second, true
}

// Elapsed derives a display elapsed value for a job, trying sources
// in fixed priority order:
//
//  1. accounting elapsed, for terminal jobs with accounting data
//  2. the snapshot's own elapsed string
//  3. the start timestamp: end-start for terminal jobs with a known
//     end, now-start otherwise
//  4. a "not started" sentinel for pending jobs
//  5. the snapshot's raw time field, or an "unknown" sentinel
func Elapsed(snap Snapshot, state State, accounting map[string]any, now time.Time) string {
	if state == StateTerminal {
		if d, ok := AccountingElapsed(accounting); ok {
			return formatDuration(d)
		}
	}

	if snap.Elapsed != "" {
		return snap.Elapsed
	}

	if snap.StartEpoch > 0 {
		start := time.Unix(snap.StartEpoch, 0)

		if state == StateTerminal && snap.EndEpoch > 0 {
			return formatDuration(time.Unix(snap.EndEpoch, 0).Sub(start))
		}

		return formatDuration(now.Sub(start))
	}

	if state == StatePending {
		return elapsedNotStarted
	}

	if snap.RawTime != "" {
		return snap.RawTime
	}

	return elapsedUnknown
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	return d.Truncate(time.Second).String()
}
