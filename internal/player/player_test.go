package player

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "musictimer/pkg/logx"
)

type fakeProc struct {
	pid  int
	exit chan struct{}
	once sync.Once

	mu         sync.Mutex
	terminated int
	killed     int
	ignoreTerm bool
}

func newFakeProc(pid int) *fakeProc { return &fakeProc{pid: pid, exit: make(chan struct{})} }

func (p *fakeProc) Pid() int    { return p.pid }
func (p *fakeProc) Wait() error { <-p.exit; return nil }
func (p *fakeProc) finish()     { p.once.Do(func() { close(p.exit) }) }

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	p.terminated++
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.finish()
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed++
	p.mu.Unlock()
	p.finish()
	return nil
}

func (p *fakeProc) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

func TestStartRejectsEmptyPath(t *testing.T) {
	c := New(logx.Nop())
	_, err := c.Start(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestStartWrapsLaunchError(t *testing.T) {
	boom := errors.New("no such file")
	c := New(logx.Nop(), WithStarter(func(string) (Process, error) { return nil, boom }))
	h, err := c.Start(context.Background(), "/opt/missing")
	assert.Nil(t, h)
	assert.ErrorIs(t, err, boom)
}

func TestStartStop(t *testing.T) {
	proc := newFakeProc(42)
	c := New(logx.Nop(), WithStarter(func(string) (Process, error) { return proc, nil }))

	h, err := c.Start(context.Background(), "/usr/bin/mpv")
	require.NoError(t, err)
	assert.Equal(t, 42, h.PID)
	assert.NotEmpty(t, h.ID)
	assert.False(t, h.Exited())

	require.NoError(t, c.Stop(h))
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle not reaped")
	}
	// idempotent
	require.NoError(t, c.Stop(h))
	require.NoError(t, c.Stop(nil))

	term, kill := proc.counts()
	assert.Equal(t, 1, term)
	assert.Equal(t, 0, kill)
}

func TestStopEscalatesToKill(t *testing.T) {
	proc := newFakeProc(7)
	proc.ignoreTerm = true
	c := New(logx.Nop(),
		WithStarter(func(string) (Process, error) { return proc, nil }),
		WithKillGrace(10*time.Millisecond),
	)
	h, err := c.Start(context.Background(), "/usr/bin/vlc")
	require.NoError(t, err)
	require.NoError(t, c.Stop(h))

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("process not killed")
	}
	_, kill := proc.counts()
	assert.Equal(t, 1, kill)
}

func TestStopAlreadyDone(t *testing.T) {
	proc := &doneProc{fakeProc: newFakeProc(9)}
	c := New(logx.Nop(), WithStarter(func(string) (Process, error) { return proc, nil }), WithKillGrace(0))
	h, err := c.Start(context.Background(), "/usr/bin/mpv")
	require.NoError(t, err)
	assert.NoError(t, c.Stop(h))
}

type doneProc struct{ *fakeProc }

func (p *doneProc) Terminate() error { return os.ErrProcessDone }

func TestSpawnerOwnsGoroutines(t *testing.T) {
	var names []string
	var mu sync.Mutex
	proc := newFakeProc(1)
	c := New(logx.Nop(),
		WithStarter(func(string) (Process, error) { return proc, nil }),
		WithSpawner(SpawnerFunc(func(name string, fn func()) {
			mu.Lock()
			names = append(names, name)
			mu.Unlock()
			go fn()
		})),
		WithKillGrace(0),
	)
	h, err := c.Start(context.Background(), "/usr/bin/mpv")
	require.NoError(t, err)
	require.NoError(t, c.Stop(h))
	<-h.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"player.reap"}, names)
}

type recordingSender struct {
	mu   sync.Mutex
	sent [][]string
}

func (r *recordingSender) SendKeys(ctx context.Context, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, keys)
	return nil
}

func TestAutomatorMatch(t *testing.T) {
	a := NewAutomator([]Rule{
		{Match: "CloudMusic", Keys: []string{"ctrl+p"}},
		{Match: "spotify", Keys: []string{"space"}},
		{Match: "", Keys: []string{"x"}},
		{Match: "empty"},
	}, DefaultSettle, &recordingSender{}, logx.Nop())

	r, ok := a.Match(`C:\Program Files\cloudmusic\cloudmusic.exe`)
	require.True(t, ok)
	assert.Equal(t, []string{"ctrl+p"}, r.Keys)

	_, ok = a.Match("/usr/bin/mpv")
	assert.False(t, ok)
	_, ok = a.Match("/opt/empty/player")
	assert.False(t, ok)

	var nilA *Automator
	_, ok = nilA.Match("/usr/bin/spotify")
	assert.False(t, ok)
}

func TestAutomatorRunSendsAfterSettle(t *testing.T) {
	sender := &recordingSender{}
	a := NewAutomator([]Rule{{Match: "spotify", Keys: []string{"ctrl+Right", "space"}}}, DefaultSettle, sender, logx.Nop())
	var waited time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error { waited = d; return nil }

	h := &Handle{Path: "/usr/bin/spotify", done: make(chan struct{})}
	require.NoError(t, a.Run(context.Background(), h))
	assert.Equal(t, DefaultSettle, waited)
	assert.Equal(t, [][]string{{"ctrl+Right", "space"}}, sender.sent)
}

func TestAutomatorRunSkipsExitedOrCancelled(t *testing.T) {
	sender := &recordingSender{}
	a := NewAutomator([]Rule{{Match: "spotify", Keys: []string{"space"}}}, time.Hour, sender, logx.Nop())

	exited := &Handle{Path: "/usr/bin/spotify", done: make(chan struct{})}
	close(exited.done)
	require.NoError(t, a.Run(context.Background(), exited))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	live := &Handle{Path: "/usr/bin/spotify", done: make(chan struct{})}
	assert.ErrorIs(t, a.Run(ctx, live), context.Canceled)

	assert.Empty(t, sender.sent)
}

func TestXdotoolSenderArgs(t *testing.T) {
	x := NewXdotoolSender("")
	var got []string
	x.run = func(ctx context.Context, name string, args ...string) error {
		got = append([]string{name}, args...)
		return nil
	}
	require.NoError(t, x.SendKeys(context.Background(), []string{"space"}))
	assert.Equal(t, []string{"xdotool", "key", "--clearmodifiers", "space"}, got)

	got = nil
	require.NoError(t, x.SendKeys(context.Background(), nil))
	assert.Nil(t, got)
}
