package jobstatus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	mu         sync.Mutex
	statuses   []string
	errs       []error
	calls      int
	accounting map[string]any
	acctErr    error
}

func (f *scriptedFetcher) JobStatus(_ context.Context, _ string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++

	if i < len(f.errs) && f.errs[i] != nil {
		return Snapshot{}, f.errs[i]
	}

	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}

	return Snapshot{Status: f.statuses[i]}, nil
}

func (f *scriptedFetcher) Accounting(_ context.Context, _ string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.accounting, f.acctErr
}

func (f *scriptedFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type recordingListener struct {
	mu        sync.Mutex
	updates   []Update
	refreshes []string
}

func (l *recordingListener) StatusUpdated(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.updates = append(l.updates, u)
}

func (l *recordingListener) FinalRefresh(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refreshes = append(l.refreshes, jobID)
}

func (l *recordingListener) refreshCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.refreshes)
}

func (l *recordingListener) lastUpdate() Update {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.updates[len(l.updates)-1]
}

func newTestTracker(f Fetcher, l Listener) *Tracker {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return NewTracker(log, f, l, "j1", 5*time.Millisecond, time.Millisecond)
}

func TestTracker_FinalRefreshFiresOnTerminalEdgeOnly(t *testing.T) {
	fetcher := &scriptedFetcher{acctErr: errors.New("no accounting yet")}
	listener := &recordingListener{}
	tr := newTestTracker(fetcher, listener)

	ctx := context.Background()

	for _, status := range []string{"PENDING", "RUNNING", "COMPLETED", "COMPLETED"} {
		tr.observe(ctx, Snapshot{Status: status}, nil)
	}

	assert.Equal(t, StateTerminal, tr.State())

	require.Eventually(t, func() bool {
		return listener.refreshCount() == 1
	}, time.Second, time.Millisecond, "final refresh should fire exactly once")

	// Give a duplicate refresh a chance to show up.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, listener.refreshCount())
}

func TestTracker_TerminalStatusHaltsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{statuses: []string{"CANCELLED"}}
	listener := &recordingListener{}
	tr := newTestTracker(fetcher, listener)

	tr.Start(context.Background())

	require.Eventually(t, func() bool {
		return tr.State() == StateTerminal
	}, time.Second, time.Millisecond)

	fetches := fetcher.fetchCount()
	assert.Equal(t, 1, fetches, "terminal on first poll should stop immediately")

	// No further polls are scheduled once terminal.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, fetches, fetcher.fetchCount())

	tr.Stop()
}

func TestTracker_FetchFailureKeepsClassification(t *testing.T) {
	fetcher := &scriptedFetcher{}
	listener := &recordingListener{}
	tr := newTestTracker(fetcher, listener)

	ctx := context.Background()

	tr.observe(ctx, Snapshot{Status: "RUNNING"}, nil)
	require.Equal(t, StateRunning, tr.State())

	fetchErr := errors.New("squeue unreachable")
	stop := tr.observe(ctx, Snapshot{}, fetchErr)

	assert.False(t, stop, "a fetch failure must never halt polling")
	assert.Equal(t, StateRunning, tr.State())

	last := listener.lastUpdate()
	assert.Equal(t, "RUNNING", last.Status)
	assert.ErrorIs(t, last.FetchErr, fetchErr)
	assert.Zero(t, listener.refreshCount())
}

func TestTracker_AccountingElapsedOnTerminalEdge(t *testing.T) {
	fetcher := &scriptedFetcher{
		accounting: map[string]any{"time": map[string]any{"elapsed": 300}},
	}
	listener := &recordingListener{}
	tr := newTestTracker(fetcher, listener)

	ctx := context.Background()

	tr.observe(ctx, Snapshot{Status: "RUNNING"}, nil)
	tr.observe(ctx, Snapshot{Status: "COMPLETED"}, nil)

	assert.Equal(t, "5m0s", listener.lastUpdate().Elapsed)
}

func TestTracker_PollLoop(t *testing.T) {
	fetcher := &scriptedFetcher{statuses: []string{"PENDING", "RUNNING", "RUNNING", "COMPLETED"}}
	listener := &recordingListener{}
	tr := newTestTracker(fetcher, listener)

	tr.Start(context.Background())
	defer tr.Stop()

	require.Eventually(t, func() bool {
		return tr.State() == StateTerminal
	}, time.Second, time.Millisecond)

	assert.Equal(t, 4, fetcher.fetchCount())
	assert.Equal(t, "COMPLETED", tr.LastUpdate().Status)
}

func TestTracker_StopDiscardsLateResults(t *testing.T) {
	fetcher := &scriptedFetcher{statuses: []string{"RUNNING"}}
	listener := &recordingListener{}
	tr := newTestTracker(fetcher, listener)

	tr.Start(context.Background())

	require.Eventually(t, func() bool {
		return fetcher.fetchCount() >= 1
	}, time.Second, time.Millisecond)

	tr.Stop()

	count := fetcher.fetchCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, fetcher.fetchCount(), "no fetches after Stop")
}

func TestTracker_CountdownResetsOnArm(t *testing.T) {
	fetcher := &scriptedFetcher{statuses: []string{"RUNNING"}}
	tr := NewTracker(logrus.New(), fetcher, nil, "j1", time.Minute, time.Millisecond)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }

	assert.Zero(t, tr.Countdown(), "nothing armed yet")

	tr.armed()
	assert.Equal(t, time.Minute, tr.Countdown())

	current = current.Add(40 * time.Second)
	assert.Equal(t, 20*time.Second, tr.Countdown())

	tr.armed()
	assert.Equal(t, time.Minute, tr.Countdown())

	current = current.Add(2 * time.Minute)
	assert.Zero(t, tr.Countdown())
}
