package jobstatus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPollPeriod is the fixed re-fetch period while a job is
	// non-terminal.
	DefaultPollPeriod = 10 * time.Second

	// DefaultFinalRefreshDelay is how long after the terminal edge the
	// one-shot final refresh fires, giving the scheduler's accounting
	// data time to settle.
	DefaultFinalRefreshDelay = 2 * time.Second
)

// Fetcher retrieves status data for a job from the external
// scheduler.
type Fetcher interface {
	// JobStatus returns the current status snapshot.
	JobStatus(ctx context.Context, jobID string) (Snapshot, error)

	// Accounting returns the scheduler's accounting record for a job,
	// opaque except for the time.elapsed path.
	Accounting(ctx context.Context, jobID string) (map[string]any, error)
}

// Update is the tracker's digest of one polling cycle.
type Update struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	State   State  `json:"state"`
	Elapsed string `json:"elapsed"`

	// FetchErr is non-nil when this cycle's fetch failed; Status and
	// State then carry the last known values.
	FetchErr error `json:"-"`
}

// Listener receives tracker notifications.
type Listener interface {
	// StatusUpdated fires after every polling cycle, successful or not.
	StatusUpdated(update Update)

	// FinalRefresh fires exactly once per tracker, shortly after the
	// job first reaches a terminal status. It never fires again even
	// if later polls re-report a terminal status.
	FinalRefresh(jobID string)
}

// Tracker polls one job's status at a fixed period until the job
// reaches a terminal state, classifying each snapshot and deriving
// its elapsed time.
type Tracker struct {
	log      logrus.FieldLogger
	fetcher  Fetcher
	listener Listener
	jobID    string

	period       time.Duration
	refreshDelay time.Duration

	mu            sync.Mutex
	state         State
	lastStatus    string
	lastUpdate    Update
	accounting    map[string]any
	terminalFired bool
	nextFetch     time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewTracker creates a tracker for one job. period and refreshDelay
// fall back to the defaults when non-positive.
func NewTracker(
	log logrus.FieldLogger,
	fetcher Fetcher,
	listener Listener,
	jobID string,
	period time.Duration,
	refreshDelay time.Duration,
) *Tracker {
	if period <= 0 {
		period = DefaultPollPeriod
	}

	if refreshDelay <= 0 {
		refreshDelay = DefaultFinalRefreshDelay
	}

	return &Tracker{
		log:          log.WithField("component", "jobstatus").WithField("job", jobID),
		fetcher:      fetcher,
		listener:     listener,
		jobID:        jobID,
		period:       period,
		refreshDelay: refreshDelay,
		state:        StateUnknown,
		done:         make(chan struct{}),
		now:          time.Now,
	}
}

// Start launches the polling loop: one immediate fetch, then one per
// period until the job turns terminal or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()

		t.armed()

		if t.poll(ctx) {
			return
		}

		ticker := time.NewTicker(t.period)
		defer ticker.Stop()

		for {
			select {
			case <-t.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.armed()

				if t.poll(ctx) {
					return
				}
			}
		}
	}()
}

// Stop tears the tracker down. Results of any in-flight fetch are
// discarded; a pending final refresh is cancelled.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

// State returns the current classification.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// LastUpdate returns the digest of the most recent polling cycle.
func (t *Tracker) LastUpdate() Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lastUpdate
}

// Countdown reports the time remaining until the next scheduled
// fetch. It resets to the full period whenever a fetch is armed and
// is zero once polling has stopped.
func (t *Tracker) Countdown() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateTerminal || t.nextFetch.IsZero() {
		return 0
	}

	if left := t.nextFetch.Sub(t.now()); left > 0 {
		return left
	}

	return 0
}

func (t *Tracker) armed() {
	t.mu.Lock()
	t.nextFetch = t.now().Add(t.period)
	t.mu.Unlock()
}

// poll runs one fetch cycle. It returns true when polling should
// stop because the job reached a terminal state.
func (t *Tracker) poll(ctx context.Context) bool {
	snap, err := t.fetcher.JobStatus(ctx, t.jobID)

	// A late result after teardown is discarded, not applied.
	select {
	case <-t.done:
		return true
	default:
	}

	if err != nil {
		return t.observe(ctx, Snapshot{}, err)
	}

	return t.observe(ctx, snap, nil)
}

// observe folds one snapshot (or fetch failure) into the state
// machine. Fetch failures keep the previous classification and never
// count as a terminal transition. Only the non-terminal to terminal
// edge fires the final refresh.
func (t *Tracker) observe(ctx context.Context, snap Snapshot, fetchErr error) bool {
	t.mu.Lock()

	if fetchErr != nil {
		update := Update{
			JobID:    t.jobID,
			Status:   t.lastStatus,
			State:    t.state,
			Elapsed:  t.lastUpdate.Elapsed,
			FetchErr: fetchErr,
		}
		t.lastUpdate = update
		t.mu.Unlock()

		t.log.WithError(fetchErr).Warn("Status fetch failed, keeping last classification")
		t.notify(update)

		return false
	}

	prev := t.state
	state := Classify(snap.Status)

	t.state = state
	t.lastStatus = snap.Status

	terminalEdge := prev != StateTerminal && state == StateTerminal && !t.terminalFired
	if terminalEdge {
		t.terminalFired = true
	}

	accounting := t.accounting
	t.mu.Unlock()

	if terminalEdge {
		// Accounting data only exists for finished jobs; fetch it once
		// on the terminal edge so elapsed derivation can prefer it.
		if acct, err := t.fetcher.Accounting(ctx, t.jobID); err != nil {
			t.log.WithError(err).Debug("No accounting record available")
		} else {
			accounting = acct

			t.mu.Lock()
			t.accounting = acct
			t.mu.Unlock()
		}
	}

	update := Update{
		JobID:   t.jobID,
		Status:  snap.Status,
		State:   state,
		Elapsed: Elapsed(snap, state, accounting, t.now()),
	}

	t.mu.Lock()
	t.lastUpdate = update
	t.mu.Unlock()

	t.notify(update)

	if terminalEdge {
		t.log.WithField("status", snap.Status).Info("Job reached terminal status")
		t.scheduleFinalRefresh()
	}

	return state == StateTerminal
}

func (t *Tracker) notify(update Update) {
	if t.listener != nil {
		t.listener.StatusUpdated(update)
	}
}

func (t *Tracker) scheduleFinalRefresh() {
	if t.listener == nil {
		return
	}

	timer := time.AfterFunc(t.refreshDelay, func() {
		select {
		case <-t.done:
			return
		default:
		}

		t.listener.FinalRefresh(t.jobID)
	})

	// Cancel the pending refresh if the tracker is stopped first.
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()

		select {
		case <-t.done:
			timer.Stop()
		case <-time.After(t.refreshDelay):
		}
	}()
}
