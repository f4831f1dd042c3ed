package player

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	logx "musictimer/pkg/logx"
)

// DefaultSettle is how long a freshly started player is given before keys
// are sent to it.
const DefaultSettle = 7 * time.Second

// Rule maps a case-insensitive substring of the program path to the key
// sequence that skips the player's startup media.
type Rule struct {
	Match string
	Keys  []string
}

// KeySender delivers synthetic key presses to the focused window.
type KeySender interface {
	SendKeys(ctx context.Context, keys []string) error
}

// XdotoolSender sends keys with `xdotool key`.
type XdotoolSender struct {
	Bin string
	run func(ctx context.Context, name string, args ...string) error
}

func NewXdotoolSender(bin string) *XdotoolSender {
	if strings.TrimSpace(bin) == "" {
		bin = "xdotool"
	}
	return &XdotoolSender{Bin: bin, run: func(ctx context.Context, name string, args ...string) error {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
		}
		return nil
	}}
}

func (x *XdotoolSender) SendKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := append([]string{"key", "--clearmodifiers"}, keys...)
	return x.run(ctx, x.Bin, args...)
}

// Automator runs the matching rule for a started program. It is an optional
// layer above Controller; a nil *Automator does nothing.
type Automator struct {
	log logx.Logger

	mu     sync.RWMutex
	rules  []Rule
	settle time.Duration
	sender KeySender

	sleep func(ctx context.Context, d time.Duration) error
}

func NewAutomator(rules []Rule, settle time.Duration, sender KeySender, log logx.Logger) *Automator {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Automator{log: log, sleep: sleepCtx}
	a.Apply(rules, settle, sender)
	return a
}

// Apply swaps the rule table (config reload).
func (a *Automator) Apply(rules []Rule, settle time.Duration, sender KeySender) {
	if a == nil {
		return
	}
	if settle < 0 {
		settle = 0
	}
	cp := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.Match) == "" || len(r.Keys) == 0 {
			continue
		}
		cp = append(cp, Rule{Match: strings.ToLower(r.Match), Keys: append([]string(nil), r.Keys...)})
	}
	a.mu.Lock()
	a.rules = cp
	a.settle = settle
	a.sender = sender
	a.mu.Unlock()
}

// Match returns the first rule whose pattern occurs in path.
func (a *Automator) Match(path string) (Rule, bool) {
	if a == nil {
		return Rule{}, false
	}
	p := strings.ToLower(path)
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.rules {
		if strings.Contains(p, r.Match) {
			return r, true
		}
	}
	return Rule{}, false
}

// Run waits for the settle delay and then sends the matching keys. It blocks,
// so callers run it on a worker. It returns early without sending when ctx
// is cancelled or the program exits first.
func (a *Automator) Run(ctx context.Context, h *Handle) error {
	if a == nil || h == nil {
		return nil
	}
	rule, ok := a.Match(h.Path)
	if !ok {
		return nil
	}
	a.mu.RLock()
	settle, sender := a.settle, a.sender
	a.mu.RUnlock()
	if sender == nil {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-wctx.Done():
		}
	}()
	if err := a.sleep(wctx, settle); err != nil {
		if h.Exited() {
			return nil
		}
		return err
	}
	if h.Exited() {
		return nil
	}
	if err := sender.SendKeys(ctx, rule.Keys); err != nil {
		return fmt.Errorf("automation %q: %w", rule.Match, err)
	}
	a.log.Debug("automation keys sent", logx.String("path", h.Path), logx.String("rule", rule.Match), logx.Any("keys", rule.Keys))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
