package app

import (
	"context"
	"time"

	"musictimer/internal/eventbus"
	"musictimer/internal/scheduler"
	"musictimer/internal/storage"
	logx "musictimer/pkg/logx"
)

var historyKinds = map[string]string{
	scheduler.EventStarted:     "started",
	scheduler.EventStartFailed: "start_failed",
	scheduler.EventStopped:     "stopped",
	scheduler.EventRemoved:     "removed",
}

// historyEntry maps a task lifecycle event to a history record. Other
// events (task.saved) are not recorded.
func historyEntry(e eventbus.Event) (storage.HistoryEntry, bool) {
	kind, ok := historyKinds[e.Type]
	if !ok {
		return storage.HistoryEntry{}, false
	}
	te, ok := e.Data.(scheduler.TaskEvent)
	if !ok {
		return storage.HistoryEntry{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return storage.HistoryEntry{
		RunID:  te.RunID,
		At:     at.UTC(),
		Kind:   kind,
		Path:   te.Path,
		Window: te.Window,
		Error:  te.Err,
	}, true
}

// recordHistory appends lifecycle events until ctx ends. On the way out it
// waits for the scheduler loop to finish and records the stop events of its
// shutdown.
func (a *App) recordHistory(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			select {
			case <-a.sched.Done():
			case <-time.After(3 * time.Second):
			}
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					a.appendHistory(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			a.appendHistory(e)
		}
	}
}

func (a *App) appendHistory(e eventbus.Event) {
	entry, ok := historyEntry(e)
	if !ok {
		return
	}
	// Detached from the run context so shutdown events are still written.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendHistory(ctx, entry); err != nil {
		a.log.Warn("history append failed", logx.String("kind", entry.Kind), logx.Err(err))
	}
}
