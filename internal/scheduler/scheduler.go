// Package scheduler drives an agent's posting on a fixed interval with
// pause, resume and stop controls.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andywolf/agentcast/internal/cursor"
	"github.com/andywolf/agentcast/internal/logging"
	"github.com/andywolf/agentcast/internal/poster"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

// State is the scheduler lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Poster is the part of poster.Manager the scheduler drives.
type Poster interface {
	PostNext(ctx context.Context, live bool) (poster.Outcome, error)
	Reset(ctx context.Context, c cursor.Cursor) error
	Cursor() cursor.Cursor
	Agent() string
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	// Live publishes for real; otherwise posts are only logged.
	Live   bool
	Policy EndPolicy
	// PostOnStart publishes immediately on Start when the cursor is at the
	// first post.
	PostOnStart bool
	Clock       Clock
	Logger      *logging.Logger
	// OnNeedsContent is called when PolicyAuto stops the scheduler.
	OnNeedsContent func(agent string)
}

// Status is a snapshot of the scheduler.
type Status struct {
	State       State
	Agent       string
	Interval    time.Duration
	Policy      EndPolicy
	Live        bool
	Cursor      cursor.Cursor
	LastOutcome poster.OutcomeKind
	LastPostID  string
	LastError   string
	LastTick    time.Time
	Ticks       int
	Skipped     int
	Published   int
	Failed      int
}

// Scheduler runs one recurring posting job for one agent.
type Scheduler struct {
	poster         Poster
	interval       time.Duration
	live           bool
	policy         EndPolicy
	postOnStart    bool
	clock          Clock
	logger         *logging.Logger
	onNeedsContent func(agent string)

	// tickDone, when set, is called after every tick including skipped ones.
	tickDone func()

	// looped is set after a LOOP reset until a tick finds a post. Only the
	// loop goroutine touches it.
	looped bool

	mu            sync.Mutex
	state         State
	stopCh        chan struct{}
	stopRequested bool
	done          chan struct{}
	status        Status
}

// New creates a stopped scheduler. An unknown policy falls back to STOP.
func New(p Poster, opts Options) (*Scheduler, error) {
	if p == nil {
		return nil, fmt.Errorf("scheduler: poster is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", opts.Interval)
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	policy, err := ParseEndPolicy(string(opts.Policy))
	if err != nil {
		opts.Logger.Warningf("%v; using %s", err, PolicyStop)
		policy = PolicyStop
	}

	return &Scheduler{
		poster:         p,
		interval:       opts.Interval,
		live:           opts.Live,
		policy:         policy,
		postOnStart:    opts.PostOnStart,
		clock:          opts.Clock,
		logger:         opts.Logger,
		onNeedsContent: opts.OnNeedsContent,
	}, nil
}

// Policy returns the resolved end-of-content policy.
func (s *Scheduler) Policy() EndPolicy {
	return s.policy
}

// Start begins ticking in the background. Cancelling ctx stops the loop;
// a tick already in progress still runs to completion.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateRunning
	s.stopCh = make(chan struct{})
	s.stopRequested = false
	s.done = make(chan struct{})
	s.looped = false
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.interval)
	s.logger.Infof("scheduler started for %s: every %s, policy %s, live %t", s.poster.Agent(), s.interval, s.policy, s.live)
	go s.loop(ctx, ticker, stopCh, done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, stopCh, done chan struct{}) {
	defer func() {
		ticker.Stop()
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		s.logger.Infof("scheduler stopped for %s", s.poster.Agent())
		close(done)
	}()

	if s.postOnStart && s.poster.Cursor() == cursor.Start() {
		if !s.tick(ctx) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C():
			if s.isPaused() {
				s.recordSkip()
				s.logger.Debugf("scheduler paused, skipping tick for %s", s.poster.Agent())
				s.afterTick()
				continue
			}
			cont := s.tick(ctx)
			s.afterTick()
			if !cont {
				return
			}
		}
	}
}

func (s *Scheduler) afterTick() {
	if s.tickDone != nil {
		s.tickDone()
	}
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePaused
}

// tick runs one post and applies the end policy. It reports whether the
// loop should keep going.
func (s *Scheduler) tick(ctx context.Context) bool {
	// Stopping must not cut a publish and its cursor commit in half.
	tickCtx := context.WithoutCancel(ctx)

	out, err := s.safePostNext(tickCtx)
	s.record(out, err)

	switch {
	case err != nil:
		s.logger.Errorf("tick for %s failed: %v", s.poster.Agent(), err)
		return true
	case out.Kind == poster.OutcomePublishFailed:
		s.logger.Warningf("%s not published, will retry next tick: %v", out.PostID, out.Err)
		return true
	case out.Kind != poster.OutcomeExhausted:
		s.looped = false
		return true
	}

	switch s.policy {
	case PolicyLoop:
		if s.looped {
			s.logger.Warningf("no postable content for %s even from the first post, stopping", s.poster.Agent())
			return false
		}
		if err := s.poster.Reset(tickCtx, cursor.Start()); err != nil {
			s.logger.Errorf("looping %s back to the first post failed: %v", s.poster.Agent(), err)
		} else {
			s.logger.Infof("content exhausted for %s, looping back to the first post", s.poster.Agent())
			s.looped = true
		}
		return true
	case PolicyAuto:
		s.logger.Infof("content exhausted for %s, requesting more and stopping", s.poster.Agent())
		s.notifyNeedsContent()
		return false
	default:
		s.logger.Infof("content exhausted for %s, stopping", s.poster.Agent())
		return false
	}
}

func (s *Scheduler) safePostNext(ctx context.Context) (out poster.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during tick: %v", r)
		}
	}()
	return s.poster.PostNext(ctx, s.live)
}

func (s *Scheduler) notifyNeedsContent() {
	if s.onNeedsContent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("content request callback panicked: %v", r)
		}
	}()
	s.onNeedsContent(s.poster.Agent())
}

func (s *Scheduler) record(out poster.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Ticks++
	s.status.LastTick = s.clock.Now()
	s.status.LastOutcome = out.Kind
	s.status.LastPostID = out.PostID
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	switch out.Kind {
	case poster.OutcomePublished, poster.OutcomeDryRun:
		s.status.Published++
	case poster.OutcomePublishFailed:
		s.status.Failed++
		if out.Err != nil {
			s.status.LastError = out.Err.Error()
		}
	}
}

func (s *Scheduler) recordSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Skipped++
}

// Pause suppresses publishing until Resume. Ticks that fire while paused
// are dropped.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStopped:
		return ErrNotRunning
	case StateRunning:
		s.state = StatePaused
		s.logger.Infof("scheduler paused for %s", s.poster.Agent())
	}
	return nil
}

// Resume continues publishing on the next tick.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStopped:
		return ErrNotRunning
	case StatePaused:
		s.state = StateRunning
		s.logger.Infof("scheduler resumed for %s", s.poster.Agent())
	}
	return nil
}

// Stop ends the loop and waits for an in-flight tick to finish. It is safe
// to call more than once and from any goroutine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopCh != nil && !s.stopRequested {
		close(s.stopCh)
		s.stopRequested = true
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Done is closed when the current run ends, by Stop, context cancellation
// or the end policy. It is nil before the first Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ForcePostNow posts immediately, outside the schedule. The end policy is
// not applied.
func (s *Scheduler) ForcePostNow(ctx context.Context) (poster.Outcome, error) {
	out, err := s.safePostNext(ctx)
	s.record(out, err)
	return out, err
}

// Status returns a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := s.status
	st.State = s.state
	s.mu.Unlock()

	st.Agent = s.poster.Agent()
	st.Interval = s.interval
	st.Policy = s.policy
	st.Live = s.live
	st.Cursor = s.poster.Cursor()
	return st
}
