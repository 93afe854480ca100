// Package eventlog provides an in-memory, per-run event buffer with bounded
// capacity and time-based retention of completed runs.
//
// Every appended event is assigned an absolute index that starts at 0 for
// the run and increases by one per append. When a run exceeds its capacity
// the oldest events are discarded; surviving events keep their index, so a
// client holding index N can always ask for "everything after N". If N is
// older than the oldest retained event, every retained event is returned
// and the difference is visible to the caller as a gap.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

const (
	// DefaultMaxEventsPerRun is the default per-run capacity.
	DefaultMaxEventsPerRun = 10000
	// DefaultCleanupInterval is how long a completed run is retained.
	DefaultCleanupInterval = 30 * time.Minute
	// DefaultSweepInterval is how often the janitor sweeps expired runs.
	DefaultSweepInterval = time.Minute
)

// ErrUnknownRun is returned when the log has no record of a run.
var ErrUnknownRun = errors.New("run not found")

// Options configures a Log. Zero values fall back to the defaults above.
type Options struct {
	MaxEventsPerRun int
	CleanupInterval time.Duration
	SweepInterval   time.Duration

	// Now returns the current time. Tests inject a fake clock here.
	Now func() time.Time

	Logger *zap.Logger
}

// RunSummary is what remains of a run after its events were swept.
type RunSummary struct {
	RunID       string           `json:"run_id"`
	Status      domain.RunStatus `json:"status"`
	TotalEvents int              `json:"total_events"`
	CompletedAt time.Time        `json:"completed_at"`
}

// RunInfo describes a tracked run without copying its events.
type RunInfo struct {
	RunID       string           `json:"run_id"`
	Status      domain.RunStatus `json:"status"`
	EventCount  int              `json:"event_count"`
	Retained    int              `json:"retained"`
	FirstIndex  int              `json:"first_index"`
	CreatedAt   time.Time        `json:"created_at"`
	LastUpdated time.Time        `json:"last_updated"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Snapshot is the state handed to a Resume callback.
type Snapshot struct {
	RunID string
	// Missed holds the retained events after the caller's last index.
	// It is empty when only a summary of the run survives.
	Missed []domain.EventEnvelope
	// MissedEvents is len(Missed) for a live run, and the number of events
	// after the caller's last index for a summarized run.
	MissedEvents int
	Status       domain.RunStatus
	EventCount   int
	// Summary is set when the run's events were already swept.
	Summary *RunSummary
}

// Stats is a point-in-time view of the log's size.
type Stats struct {
	Runs           int `json:"runs"`
	Summaries      int `json:"summaries"`
	RetainedEvents int `json:"retained_events"`
}

type record struct {
	mu          sync.Mutex
	events      []domain.EventEnvelope
	base        int
	status      domain.RunStatus
	createdAt   time.Time
	lastUpdated time.Time
	completedAt *time.Time
}

// count returns the number of events ever appended, which is also the
// index the next event will receive.
func (r *record) count() int {
	return r.base + len(r.events)
}

func (r *record) since(last *int) []domain.EventEnvelope {
	start := 0
	if last != nil {
		start = *last + 1 - r.base
		if start < 0 {
			start = 0
		}
	}
	if start >= len(r.events) {
		return nil
	}
	out := make([]domain.EventEnvelope, len(r.events)-start)
	copy(out, r.events[start:])
	return out
}

func (r *record) info(runID string) RunInfo {
	return RunInfo{
		RunID:       runID,
		Status:      r.status,
		EventCount:  r.count(),
		Retained:    len(r.events),
		FirstIndex:  r.base,
		CreatedAt:   r.createdAt,
		LastUpdated: r.lastUpdated,
		CompletedAt: r.completedAt,
	}
}

// Log is the in-memory event log. The run map is guarded by mu; each run's
// record is guarded by its own mutex so unrelated runs never contend.
// Lock order is always mu before a record's mutex.
type Log struct {
	opts Options
	log  *zap.Logger

	mu        sync.RWMutex
	runs      map[string]*record
	summaries map[string]RunSummary
}

// New creates an empty Log.
func New(opts Options) *Log {
	if opts.MaxEventsPerRun <= 0 {
		opts.MaxEventsPerRun = DefaultMaxEventsPerRun
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		opts:      opts,
		log:       logger.Named("eventlog"),
		runs:      make(map[string]*record),
		summaries: make(map[string]RunSummary),
	}
}

// MaxEventsPerRun returns the configured per-run capacity.
func (l *Log) MaxEventsPerRun() int {
	return l.opts.MaxEventsPerRun
}

func (l *Log) lookup(runID string) *record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.runs[runID]
}

func (l *Log) recordFor(runID string) *record {
	if rec := l.lookup(runID); rec != nil {
		return rec
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.runs[runID]; ok {
		return rec
	}
	now := l.opts.Now()
	rec := &record{
		status:      domain.RunStatusRunning,
		createdAt:   now,
		lastUpdated: now,
	}
	l.runs[runID] = rec
	delete(l.summaries, runID)
	return rec
}

// Append adds an event to the run, creating the run on first use, and
// returns the index assigned to the event.
func (l *Log) Append(runID string, event domain.RunEvent) int {
	return l.AppendFunc(runID, event, nil)
}

// AppendFunc appends like Append and then calls deliver with the new
// envelope while the run's lock is still held. A concurrent Resume for the
// same run therefore observes the event either in its snapshot or through
// deliver, never both and never neither. deliver must not block.
func (l *Log) AppendFunc(runID string, event domain.RunEvent, deliver func(domain.EventEnvelope)) int {
	rec := l.recordFor(runID)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	env := domain.EventEnvelope{
		RunID:      runID,
		EventIndex: rec.count(),
		EventType:  event.EventType(),
		Event:      event,
	}
	rec.events = append(rec.events, env)
	rec.lastUpdated = l.opts.Now()

	if overflow := len(rec.events) - l.opts.MaxEventsPerRun; overflow > 0 {
		rec.events = rec.events[overflow:]
		rec.base += overflow
	}

	if deliver != nil {
		deliver(env)
	}
	return env.EventIndex
}

// GetEventsSince returns the retained events with an index greater than
// last, or every retained event when last is nil.
func (l *Log) GetEventsSince(runID string, last *int) []domain.EventEnvelope {
	rec := l.lookup(runID)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.since(last)
}

// GetEventCount returns how many events were ever appended to the run.
func (l *Log) GetEventCount(runID string) int {
	rec := l.lookup(runID)
	if rec == nil {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.count()
}

// GetRunStatus returns the run's status, if the run is tracked.
func (l *Log) GetRunStatus(runID string) (domain.RunStatus, bool) {
	rec := l.lookup(runID)
	if rec == nil {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status, true
}

// RunInfo returns metadata about a tracked run.
func (l *Log) RunInfo(runID string) (RunInfo, bool) {
	rec := l.lookup(runID)
	if rec == nil {
		return RunInfo{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.info(runID), true
}

// ListRuns returns metadata about every tracked run.
func (l *Log) ListRuns() []RunInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	infos := make([]RunInfo, 0, len(l.runs))
	for id, rec := range l.runs {
		rec.mu.Lock()
		infos = append(infos, rec.info(id))
		rec.mu.Unlock()
	}
	return infos
}

// Summary returns the summary of a swept run.
func (l *Log) Summary(runID string) (RunSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.summaries[runID]
	return s, ok
}

// SetCompleted records the run's terminal status and completion time, then
// sweeps expired runs. Only the first call for a run takes effect.
func (l *Log) SetCompleted(runID string, status domain.RunStatus) {
	rec := l.lookup(runID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.completedAt == nil {
		now := l.opts.Now()
		rec.status = status
		rec.completedAt = &now
		rec.lastUpdated = now
	}
	rec.mu.Unlock()

	l.CleanupRuns()
}

// CleanupRun deletes everything known about the run.
func (l *Log) CleanupRun(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.runs, runID)
	delete(l.summaries, runID)
}

// CleanupRuns deletes terminal runs completed more than the cleanup
// interval ago, keeping a summary of each for one further interval. It
// returns the number of runs removed.
func (l *Log) CleanupRuns() int {
	now := l.opts.Now()
	interval := l.opts.CleanupInterval

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, rec := range l.runs {
		rec.mu.Lock()
		expired := rec.status.Terminal() && rec.completedAt != nil && now.Sub(*rec.completedAt) > interval
		var summary RunSummary
		if expired {
			summary = RunSummary{
				RunID:       id,
				Status:      rec.status,
				TotalEvents: rec.count(),
				CompletedAt: *rec.completedAt,
			}
		}
		rec.mu.Unlock()

		if expired {
			delete(l.runs, id)
			l.summaries[id] = summary
			removed++
		}
	}

	for id, s := range l.summaries {
		if now.Sub(s.CompletedAt) > 2*interval {
			delete(l.summaries, id)
		}
	}

	if removed > 0 {
		l.log.Debug("swept completed runs", zap.Int("removed", removed))
	}
	return removed
}

// Resume snapshots the events after last together with the run's status
// and passes them to attach while holding the run's lock. Events appended
// through AppendFunc after attach returns are delivered live, so a caller
// that binds itself for live delivery inside attach sees every event once.
func (l *Log) Resume(runID string, last *int, attach func(Snapshot)) error {
	rec := l.lookup(runID)
	if rec == nil {
		summary, ok := l.Summary(runID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
		}
		attach(Snapshot{
			RunID:        runID,
			MissedEvents: missedAfter(summary.TotalEvents, last),
			Status:       summary.Status,
			EventCount:   summary.TotalEvents,
			Summary:      &summary,
		})
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	missed := rec.since(last)
	attach(Snapshot{
		RunID:        runID,
		Missed:       missed,
		MissedEvents: len(missed),
		Status:       rec.status,
		EventCount:   rec.count(),
	})
	return nil
}

func missedAfter(count int, last *int) int {
	if last == nil {
		return count
	}
	missed := count - (*last + 1)
	if missed < 0 {
		return 0
	}
	return missed
}

// Stats returns the current size of the log.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{Runs: len(l.runs), Summaries: len(l.summaries)}
	for _, rec := range l.runs {
		rec.mu.Lock()
		stats.RetainedEvents += len(rec.events)
		rec.mu.Unlock()
	}
	return stats
}

// Run sweeps expired runs every sweep interval until ctx is cancelled.
func (l *Log) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.CleanupRuns()
		}
	}
}
