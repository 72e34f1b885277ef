package retry

import (
	"math"
	"sync"
	"time"
)

// DefaultRollingWindow is the exponential-decay time window used by
// rolling counters when none is configured.
const DefaultRollingWindow = 15 * time.Second

// RetryStatistics is a read-only snapshot of one label's counters.
type RetryStatistics struct {
	Label         string
	StartCount    int64
	CompleteCount int64
	ErrorCount    int64
	AbortCount    int64
	RecoveryCount int64
}

// StatisticsRepository collects per-label retry counters: started,
// complete, error, abort, recovery. Implementations must be safe for
// concurrent use, since an Engine may be shared across goroutines.
type StatisticsRepository interface {
	RegisterStarted(label string)
	RegisterComplete(label string)
	RegisterError(label string)
	RegisterAbort(label string)
	RegisterRecovery(label string)
	FindStatistics(label string) RetryStatistics
}

// rollingCounter is an exponentially decayed counter: Increment adds
// 1 after applying decay exp(-alpha*deltaT), and Value applies decay
// to the current time before reading. alpha = 1/window.
type rollingCounter struct {
	mu       sync.Mutex
	window   time.Duration
	value    float64
	lastSeen time.Time
	total    int64
	now      func() time.Time
}

func newRollingCounter(window time.Duration, now func() time.Time) *rollingCounter {
	if window <= 0 {
		window = DefaultRollingWindow
	}
	if now == nil {
		now = time.Now
	}
	return &rollingCounter{window: window, now: now}
}

func (c *rollingCounter) increment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	c.decayLocked(t)
	c.value++
	c.total++
	c.lastSeen = t
}

func (c *rollingCounter) decayLocked(at time.Time) {
	if c.lastSeen.IsZero() {
		c.lastSeen = at
		return
	}
	dt := at.Sub(c.lastSeen).Seconds()
	if dt <= 0 {
		return
	}
	alpha := 1.0 / c.window.Seconds()
	c.value *= math.Exp(-alpha * dt)
	c.lastSeen = at
}

func (c *rollingCounter) rollingValue() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decayLocked(c.now())
	return c.value
}

func (c *rollingCounter) count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// labelCounters bundles the five counters tracked per label.
type labelCounters struct {
	started, complete, errorC, abort, recovery *rollingCounter
}

func newLabelCounters(window time.Duration) *labelCounters {
	return &labelCounters{
		started:  newRollingCounter(window, nil),
		complete: newRollingCounter(window, nil),
		errorC:   newRollingCounter(window, nil),
		abort:    newRollingCounter(window, nil),
		recovery: newRollingCounter(window, nil),
	}
}

// DefaultStatisticsRepository is the in-memory StatisticsRepository,
// keyed by label, with an exponentially decayed rolling value
// alongside each raw count.
type DefaultStatisticsRepository struct {
	mu      sync.Mutex
	window  time.Duration
	byLabel map[string]*labelCounters
}

// NewDefaultStatisticsRepository builds a DefaultStatisticsRepository
// with the given rolling window (DefaultRollingWindow if zero).
func NewDefaultStatisticsRepository(window time.Duration) *DefaultStatisticsRepository {
	return &DefaultStatisticsRepository{
		window:  window,
		byLabel: make(map[string]*labelCounters),
	}
}

func (r *DefaultStatisticsRepository) counters(label string) *labelCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byLabel[label]
	if !ok {
		c = newLabelCounters(r.window)
		r.byLabel[label] = c
	}
	return c
}

func (r *DefaultStatisticsRepository) RegisterStarted(label string)  { r.counters(label).started.increment() }
func (r *DefaultStatisticsRepository) RegisterComplete(label string) { r.counters(label).complete.increment() }
func (r *DefaultStatisticsRepository) RegisterError(label string)    { r.counters(label).errorC.increment() }
func (r *DefaultStatisticsRepository) RegisterAbort(label string)    { r.counters(label).abort.increment() }
func (r *DefaultStatisticsRepository) RegisterRecovery(label string) { r.counters(label).recovery.increment() }

// FindStatistics returns the raw counts observed so far for label.
func (r *DefaultStatisticsRepository) FindStatistics(label string) RetryStatistics {
	c := r.counters(label)
	return RetryStatistics{
		Label:         label,
		StartCount:    c.started.count(),
		CompleteCount: c.complete.count(),
		ErrorCount:    c.errorC.count(),
		AbortCount:    c.abort.count(),
		RecoveryCount: c.recovery.count(),
	}
}

// RollingRates returns the current exponentially decayed rate for
// each counter of label (events per the repository's window, decayed
// to the moment of the call).
func (r *DefaultStatisticsRepository) RollingRates(label string) (started, complete, errorRate, abort, recovery float64) {
	c := r.counters(label)
	return c.started.rollingValue(), c.complete.rollingValue(), c.errorC.rollingValue(), c.abort.rollingValue(), c.recovery.rollingValue()
}

// StatisticsListener is a RetryListener that feeds a
// StatisticsRepository from the attempt lifecycle:
//   - started is incremented per attempt via OnError/OnSuccess for
//     stateless retries (giving it "attempts" rather than
//     "executions" semantics) and via Close for stateful retries.
//   - error increments on every failed attempt.
//   - recovery/abort/complete increment once at Close, based on the
//     context's terminal attributes.
type StatisticsListener struct {
	BaseRetryListener
	Repository StatisticsRepository
	Stateful   bool
}

// NewStatisticsListener builds a StatisticsListener over repo.
func NewStatisticsListener(repo StatisticsRepository, stateful bool) *StatisticsListener {
	return &StatisticsListener{Repository: repo, Stateful: stateful}
}

func (l *StatisticsListener) OnError(ctx *RetryContext, err error) {
	if !l.Stateful {
		l.Repository.RegisterStarted(ctx.Label())
	}
	l.Repository.RegisterError(ctx.Label())
}

// OnSuccess accounts for the attempt that finally succeeds. In
// stateless mode, started has "attempts" rather than "executions"
// semantics: every failed attempt is counted by OnError, and the one
// successful attempt that ends the loop is counted here.
func (l *StatisticsListener) OnSuccess(ctx *RetryContext, attempts int) error {
	if !l.Stateful {
		l.Repository.RegisterStarted(ctx.Label())
	}
	return nil
}

func (l *StatisticsListener) Close(ctx *RetryContext, finalErr error) {
	if l.Stateful {
		l.Repository.RegisterStarted(ctx.Label())
	}
	switch {
	case ctx.BoolAttribute(AttrRecovered):
		l.Repository.RegisterRecovery(ctx.Label())
	case ctx.BoolAttribute(AttrExhausted):
		l.Repository.RegisterAbort(ctx.Label())
	case ctx.BoolAttribute(AttrClosed):
		l.Repository.RegisterComplete(ctx.Label())
	}
}
