package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"musictimer/internal/eventbus"
	"musictimer/internal/task"
	logx "musictimer/pkg/logx"
)

// Service is the scheduling loop.
type Service struct {
	log  logx.Logger
	deps Deps

	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	reload chan struct{}

	// Loop-owned state. Only Run and the closures it executes touch these.
	ctx      context.Context
	entries  []*entry
	fadeSeq  uint64
	started  time.Time
	fadeDone chan fadeResult

	reqs     chan func()
	running  atomic.Bool
	done     chan struct{}
	lastTick atomic.Int64
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	s := &Service{
		log:      log,
		deps:     deps,
		ctx:      context.Background(),
		reload:   make(chan struct{}, 1),
		fadeDone: make(chan fadeResult, 8),
		reqs:     make(chan func()),
		done:     make(chan struct{}),
	}
	s.cfg = cfg.withDefaults()
	s.loc = s.loadLocation(s.cfg.Timezone)
	return s
}

// Hydrate replaces the task list. Call it before Run.
func (s *Service) Hydrate(tasks []task.Task) {
	s.entries = s.entries[:0]
	for _, t := range tasks {
		s.entries = append(s.entries, newEntry(t))
	}
	s.log.Info("tasks loaded", logx.Int("count", len(tasks)))
}

func newEntry(t task.Task) *entry {
	return &entry{
		id:   uuid.NewString(),
		task: t,
		warn: rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// Apply hot-swaps tick, fade and timezone settings.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	loc := s.loadLocation(cfg.Timezone)

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.loc = loc
	s.mu.Unlock()

	if old != cfg {
		s.log.Info("config applied",
			logx.Duration("tick", cfg.Tick),
			logx.Duration("fade_in", cfg.FadeIn),
			logx.Duration("fade_out", cfg.FadeOut),
			logx.String("tz", loc.String()))
	}
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

func (s *Service) settings() (Config, *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.loc
}

func (s *Service) loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// LastTick returns the time of the latest evaluation pass (zero before the first).
// It is safe to call from any goroutine.
func (s *Service) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Done is closed once Run has returned.
func (s *Service) Done() <-chan struct{} { return s.done }

// Run drives the loop until ctx is cancelled. Running instances are stopped
// on the way out; the task list itself is left as is.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(s.done)

	s.ctx = ctx
	s.started = s.deps.Clock()
	cfg, loc := s.settings()
	s.log.Info("loop started", logx.Duration("tick", cfg.Tick), logx.String("tz", loc.String()), logx.Int("tasks", len(s.entries)))

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	s.tick(s.deps.Clock())
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.reqs:
			fn()
		case r := <-s.fadeDone:
			s.fadeFinished(r)
		case <-s.reload:
			next, _ := s.settings()
			if next.Tick != cfg.Tick {
				ticker.Reset(next.Tick)
			}
			cfg = next
		case <-ticker.C:
			s.drain()
			s.tick(s.deps.Clock())
		}
	}
}

// drain applies every queued request so the pass sees a settled list.
func (s *Service) drain() {
	for {
		select {
		case fn := <-s.reqs:
			fn()
		default:
			return
		}
	}
}

func (s *Service) shutdown() {
	n := 0
	for _, e := range s.entries {
		if e.handle != nil || e.fadeCancel != nil || e.autoCancel != nil {
			s.stopEntry(e, "shutdown")
			n++
		}
	}
	s.log.Info("loop stopped", logx.Int("stopped_instances", n))
}

// do runs fn on the loop goroutine and waits for it.
func (s *Service) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case s.reqs <- wrapped:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Accepted requests run synchronously on the loop.
	<-finished
	return nil
}

func (s *Service) spawn(name string, fn func(ctx context.Context)) {
	if s.deps.Spawner != nil {
		s.deps.Spawner.Go0(name, fn)
		return
	}
	go fn(s.ctx)
}

func (s *Service) publish(typ string, data TaskEvent) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Time: s.deps.Clock(), Data: data})
}

func (s *Service) persist(reason string) {
	if s.deps.Store == nil {
		return
	}
	tasks := make([]task.Task, 0, len(s.entries))
	for _, e := range s.entries {
		tasks = append(tasks, e.task)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Store.Save(ctx, tasks); err != nil {
		s.log.Error("save tasks failed; in-memory list stays authoritative", logx.String("reason", reason), logx.Err(err))
		return
	}
	s.log.Debug("tasks saved", logx.String("reason", reason), logx.Int("count", len(tasks)))
	s.publish(EventSaved, TaskEvent{Reason: reason, Count: len(tasks)})
}
