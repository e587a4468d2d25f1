// Package jobstatus classifies scheduler-reported job statuses,
// derives elapsed times from the heterogeneous time fields the
// scheduler exposes, and drives the fixed-period status polling loop.
package jobstatus

import "strings"

// State is the coarse lifecycle classification of a job.
type State string

const (
	StateUnknown State = "unknown"
	StatePending State = "pending"
	StateRunning State = "running"

	// StateTerminal is a sink state: once a job reports a terminal
	// status no further transition is expected and polling stops.
	StateTerminal State = "terminal"
)

// terminalStatuses is the fixed set of scheduler statuses from which
// no further state transition is expected. Membership is checked
// case-insensitively against the exact reported string.
var terminalStatuses = map[string]struct{}{
	"COMPLETED":     {},
	"FAILED":        {},
	"CANCELLED":     {},
	"TIMEOUT":       {},
	"NODE_FAIL":     {},
	"OUT_OF_MEMORY": {},
}

// IsTerminal reports whether the raw scheduler status is terminal.
func IsTerminal(status string) bool {
	_, ok := terminalStatuses[strings.ToUpper(strings.TrimSpace(status))]

	return ok
}

// Classify maps a raw scheduler status string onto a State. An empty
// status (nothing fetched yet) classifies as unknown; any recognized
// terminal status is terminal; PENDING is pending; everything else is
// treated as running.
func Classify(status string) State {
	s := strings.ToUpper(strings.TrimSpace(status))

	switch {
	case s == "":
		return StateUnknown
	case IsTerminal(s):
		return StateTerminal
	case s == "PENDING":
		return StatePending
	default:
		return StateRunning
	}
}
