// Package control exposes the scheduler over JSON-RPC 2.0 on HTTP so the CLI
// can list and edit tasks of a running daemon.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"musictimer/internal/scheduler"
	"musictimer/internal/storage"
	"musictimer/internal/task"
	logx "musictimer/pkg/logx"
)

// Path is where the bridge is mounted.
const Path = "/rpc"

// JSON-RPC error codes.
const (
	codeInternal        = jrpc2.Code(-32000)
	codeIndexOutOfRange = jrpc2.Code(-32001)
	codeInvalidParams   = jrpc2.Code(-32602)
)

const defaultHistoryLimit = 50

// Scheduler is the subset of the scheduler service the API drives.
type Scheduler interface {
	List(ctx context.Context) ([]scheduler.View, error)
	AddOrUpdate(ctx context.Context, index int, t task.Task) (int, error)
	Replace(ctx context.Context, id string, t task.Task) (int, error)
	Delete(ctx context.Context, index int) error
	Status(ctx context.Context) (scheduler.Status, error)
}

// History reads run history records.
type History interface {
	History(ctx context.Context, limit int) ([]storage.HistoryEntry, error)
}

// Server manages the JSON-RPC bridge and method handlers.
type Server struct {
	bridge  jhttp.Bridge
	sched   Scheduler
	hist    History
	log     logx.Logger
	version string
	pprof   bool
}

type Option func(*Server)

func WithLogger(log logx.Logger) Option { return func(s *Server) { s.log = log } }
func WithVersion(v string) Option       { return func(s *Server) { s.version = v } }

// WithPprof mounts the runtime profiler under /debug/pprof/ next to the bridge.
func WithPprof(enabled bool) Option { return func(s *Server) { s.pprof = enabled } }

// NewServer creates the bridge. hist may be nil, in which case history.list
// returns no entries.
func NewServer(sched Scheduler, hist History, opts ...Option) *Server {
	s := &Server{sched: sched, hist: hist, log: logx.Nop()}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	methods := handler.Map{
		"task.list":     handler.New(s.taskList),
		"task.add":      handler.New(s.taskAdd),
		"task.update":   handler.New(s.taskUpdate),
		"task.delete":   handler.New(s.taskDelete),
		"system.status": handler.New(s.systemStatus),
		"history.list":  handler.New(s.historyList),
	}
	s.bridge = jhttp.NewBridge(methods, nil)
	return s
}

// Handler returns the HTTP handler with the bridge mounted at Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s.bridge)
	if s.pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("control api listening", logx.String("addr", ln.Addr().String()), logx.String("path", Path))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return err
}

// Close releases the bridge.
func (s *Server) Close() {
	_ = s.bridge.Close()
}

func (s *Server) taskList(ctx context.Context) (*ListResult, error) {
	views, err := s.sched.List(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	out := make([]*TaskItem, 0, len(views))
	for _, v := range views {
		item := &TaskItem{
			Index:   v.Index,
			ID:      v.ID,
			Task:    v.Task.ToRecord(),
			Display: v.Task.Describe(),
			Running: v.Running,
			Fading:  v.Fading,
			PID:     v.PID,
		}
		if !v.NextStart.IsZero() {
			next := v.NextStart
			item.NextStart = &next
		}
		out = append(out, item)
	}
	return &ListResult{Tasks: out}, nil
}

func (s *Server) taskAdd(ctx context.Context, p *TaskParams) (*IndexResult, error) {
	t, err := recordTask(p.Task)
	if err != nil {
		return nil, err
	}
	idx, err := s.sched.AddOrUpdate(ctx, -1, t)
	if err != nil {
		return nil, rpcError(err)
	}
	return &IndexResult{Index: idx}, nil
}

// taskUpdate replaces by id when one is given, otherwise by index.
func (s *Server) taskUpdate(ctx context.Context, p *UpdateParams) (*IndexResult, error) {
	if p.ID == "" && p.Index < 0 {
		return nil, &jrpc2.Error{Code: codeIndexOutOfRange, Message: "task index out of range"}
	}
	t, err := recordTask(p.Task)
	if err != nil {
		return nil, err
	}
	var idx int
	if p.ID != "" {
		idx, err = s.sched.Replace(ctx, p.ID, t)
	} else {
		idx, err = s.sched.AddOrUpdate(ctx, p.Index, t)
	}
	if err != nil {
		return nil, rpcError(err)
	}
	return &IndexResult{Index: idx}, nil
}

func (s *Server) taskDelete(ctx context.Context, p *IndexParam) (*EmptyResult, error) {
	if err := s.sched.Delete(ctx, p.Index); err != nil {
		return nil, rpcError(err)
	}
	return &EmptyResult{}, nil
}

func (s *Server) systemStatus(ctx context.Context) (*StatusResult, error) {
	st, err := s.sched.Status(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return &StatusResult{
		Version:   s.version,
		StartedAt: st.StartedAt,
		LastTick:  st.LastTick,
		Timezone:  st.Timezone,
		Tick:      st.Tick.String(),
		FadeIn:    st.FadeIn.String(),
		FadeOut:   st.FadeOut.String(),
		Tasks:     st.Tasks,
		Running:   st.Running,
	}, nil
}

func (s *Server) historyList(ctx context.Context, p *HistoryParams) (*HistoryResult, error) {
	if s.hist == nil {
		return &HistoryResult{Entries: []storage.HistoryEntry{}}, nil
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.hist.History(ctx, limit)
	if err != nil {
		return nil, rpcError(err)
	}
	if entries == nil {
		entries = []storage.HistoryEntry{}
	}
	return &HistoryResult{Entries: entries}, nil
}

// recordTask parses a wire record. Omitted days mean a one-shot task.
func recordTask(r task.Record) (task.Task, error) {
	if len(r.Days) == 0 {
		r.Days = make([]bool, 7)
	}
	t, err := r.Task()
	if err != nil {
		return task.Task{}, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	return t, nil
}

func rpcError(err error) error {
	var verr *task.ValidationError
	switch {
	case errors.As(err, &verr):
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, scheduler.ErrIndexOutOfRange), errors.Is(err, scheduler.ErrTaskNotFound):
		return &jrpc2.Error{Code: codeIndexOutOfRange, Message: err.Error()}
	default:
		return &jrpc2.Error{Code: codeInternal, Message: err.Error()}
	}
}
