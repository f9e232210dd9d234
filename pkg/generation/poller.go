package generation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storybookai/pkg/domain"
)

// API is the subset of the storybook API the poller drives.
type API interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error)
	BookStatus(ctx context.Context, id int64) (domain.GenerationStatus, error)
}

// Observer receives every state change. It runs on the poller goroutine.
type Observer func(State)

// Milestone raises progress once After has elapsed since submission, while
// the job is still in the story phase.
type Milestone struct {
	After    time.Duration
	Progress int
}

// DefaultMilestones keep the indicator moving before the first real status change.
var DefaultMilestones = []Milestone{
	{After: 2 * time.Second, Progress: 30},
	{After: 5 * time.Second, Progress: 40},
}

type OutcomeStatus int

const (
	Completed OutcomeStatus = iota
	TimedOut
	Aborted
	Failed
)

func (s OutcomeStatus) String() string {
	switch s {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the terminal result of a run. Err is set only for Failed.
type Outcome struct {
	Status OutcomeStatus
	BookID int64
	State  State
	Err    error
}

type Poller struct {
	api             API
	clock           Clock
	logger          *slog.Logger
	interval        time.Duration
	completionDelay time.Duration
	milestones      []Milestone
}

type Option func(*Poller)

func WithClock(clock Clock) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

func WithCompletionDelay(d time.Duration) Option {
	return func(p *Poller) {
		p.completionDelay = d
	}
}

// WithMilestones replaces DefaultMilestones; they must be sorted by After.
func WithMilestones(m []Milestone) Option {
	return func(p *Poller) {
		p.milestones = m
	}
}

func NewPoller(api API, opts ...Option) *Poller {
	p := &Poller{
		api:             api,
		clock:           SystemClock{},
		logger:          slog.Default(),
		interval:        PollInterval,
		completionDelay: CompletionDelay,
		milestones:      DefaultMilestones,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Run submits req and polls until the job completes, the attempt ceiling is
// reached or ctx is cancelled. No status query is issued once ctx is done.
func (p *Poller) Run(ctx context.Context, req domain.GenerateRequest, observe Observer) Outcome {
	emit := func(s State) {
		if observe != nil {
			observe(s)
		}
	}

	state := Submitting()
	emit(state)
	resp, err := p.api.Generate(ctx, req)
	if ctx.Err() != nil {
		state = Abort(state)
		if err == nil {
			state.BookID = resp.BookID
		}
		return Outcome{Status: Aborted, BookID: state.BookID, State: state}
	}
	if err != nil {
		state.Phase = PhaseFailed
		emit(state)
		p.logger.Warn("generation_submit_failed", "err", err)
		return Outcome{Status: Failed, State: state, Err: err}
	}

	state = Start(resp.BookID)
	emit(state)
	return p.poll(ctx, state, emit)
}

// Resume polls a job that was submitted earlier, starting again from the
// story phase with a fresh attempt budget.
func (p *Poller) Resume(ctx context.Context, bookID int64, observe Observer) Outcome {
	emit := func(s State) {
		if observe != nil {
			observe(s)
		}
	}
	state := Start(bookID)
	emit(state)
	return p.poll(ctx, state, emit)
}

func (p *Poller) poll(ctx context.Context, state State, emit func(State)) Outcome {
	logger := p.logger.With("book_id", state.BookID)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		milestone <-chan time.Time
		nextIdx   int
		elapsed   time.Duration
	)
	if len(p.milestones) > 0 {
		milestone = p.clock.After(p.milestones[0].After)
	}

	for {
		select {
		case <-ctx.Done():
			return p.aborted(state, logger)

		case <-milestone:
			m := p.milestones[nextIdx]
			elapsed = m.After
			nextIdx++
			milestone = nil
			if nextIdx < len(p.milestones) {
				milestone = p.clock.After(p.milestones[nextIdx].After - elapsed)
			}
			if next := Advance(state, m.Progress); next != state {
				state = next
				emit(state)
			}

		case <-ticker.C():
			if ctx.Err() != nil {
				return p.aborted(state, logger)
			}
			status, err := p.api.BookStatus(ctx, state.BookID)
			if ctx.Err() != nil {
				// late result after teardown is dropped
				return p.aborted(state, logger)
			}
			if err != nil {
				logger.Warn("generation_poll_failed", "attempt", state.Attempts+1, "err", err)
				state = MissedPoll(state)
			} else {
				state = Transition(state, status)
				logger.Debug("generation_poll",
					"attempt", state.Attempts,
					"cover_ready", status.CoverReady,
					"pdf_ready", status.PDFReady,
				)
			}
			emit(state)

			switch state.Phase {
			case PhaseComplete:
				ticker.Stop()
				logger.Info("generation_complete", "polls", state.Attempts)
				if p.completionDelay > 0 {
					select {
					case <-ctx.Done():
					case <-p.clock.After(p.completionDelay):
					}
				}
				return Outcome{Status: Completed, BookID: state.BookID, State: state}
			case PhaseTimedOut:
				logger.Warn("generation_timed_out", "polls", state.Attempts)
				return Outcome{Status: TimedOut, BookID: state.BookID, State: state}
			}
		}
	}
}

func (p *Poller) aborted(state State, logger *slog.Logger) Outcome {
	state = Abort(state)
	logger.Info("generation_aborted", "polls", state.Attempts)
	return Outcome{Status: Aborted, BookID: state.BookID, State: state}
}

// Handle controls a run started with Start.
type Handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

// Start runs the poller on its own goroutine.
func (p *Poller) Start(ctx context.Context, req domain.GenerateRequest, observe Observer) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.outcome = p.Run(ctx, req, observe)
	}()
	return h
}

// Stop tears the run down and waits for the loop to exit. After Stop returns
// no further status query is issued and the observer is not called again.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Outcome blocks until the run ends.
func (h *Handle) Outcome() Outcome {
	<-h.done
	return h.outcome
}
