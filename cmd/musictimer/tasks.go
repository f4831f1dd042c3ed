package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"musictimer/internal/control"
	"musictimer/internal/task"
)

const callTimeout = 10 * time.Second

var historyLimit int

var historyFlags = []cli.Flag{
	cli.IntFlag{
		Name:        "limit, n",
		Usage:       "number of entries to show",
		Value:       20,
		Destination: &historyLimit,
	},
}

// taskCmdFlags returns the flags shared by add and edit. Only add has
// defaults for days and volume.
func taskCmdFlags(withDefaults bool) []cli.Flag {
	days := cli.StringFlag{Name: "days, d", Usage: `weekdays: "mon,wed", "mon-fri", "daily" or "once"`}
	vol := cli.IntFlag{Name: "volume, v", Usage: "volume in percent (0-100)"}
	if withDefaults {
		days.Value = "once"
		vol.Value = 100
	}
	return []cli.Flag{
		cli.StringFlag{Name: "start, s", Usage: "start time, HH:MM"},
		cli.StringFlag{Name: "end, e", Usage: "end time, HH:MM"},
		cli.StringFlag{Name: "path, p", Usage: "program to run"},
		days,
		vol,
	}
}

// taskInput is what the user gave on the command line; set reports which
// flags were passed explicitly.
type taskInput struct {
	start, end, path, days string
	volume                 int
	set                    func(name string) bool
}

func inputFrom(ctx *cli.Context) taskInput {
	return taskInput{
		start:  ctx.String("start"),
		end:    ctx.String("end"),
		path:   ctx.String("path"),
		days:   ctx.String("days"),
		volume: ctx.Int("volume"),
		set:    ctx.IsSet,
	}
}

// apply overlays the input on base. For add, base is empty and every
// field is taken from the input.
func (in taskInput) apply(base task.Record, all bool) (task.Record, error) {
	r := base
	take := func(name string) bool { return all || in.set(name) }
	if take("start") {
		r.StartTime = strings.TrimSpace(in.start)
	}
	if take("end") {
		r.EndTime = strings.TrimSpace(in.end)
	}
	if take("path") {
		r.Path = strings.TrimSpace(in.path)
	}
	if take("days") {
		w, err := task.ParseWeekdays(in.days)
		if err != nil {
			return task.Record{}, err
		}
		r.Days = w[:]
	}
	if take("volume") {
		if in.volume < 0 || in.volume > 100 {
			return task.Record{}, fmt.Errorf("volume %d out of range [0, 100]", in.volume)
		}
		r.Volume = float64(in.volume) / 100
	}
	t, err := r.Task()
	if err != nil {
		return task.Record{}, err
	}
	if err := t.Validate(); err != nil {
		return task.Record{}, err
	}
	return r, nil
}

func dial(ctx *cli.Context) *control.Client {
	return control.NewClient(control.URL(ctx.GlobalString("addr")))
}

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func indexArg(ctx *cli.Context) (int, error) {
	raw := ctx.Args().First()
	if raw == "" {
		return 0, errors.New("missing task index")
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid task index %q", raw)
	}
	return idx, nil
}

// explain turns well-known RPC failures into plain messages.
func explain(op string, err error) error {
	switch control.ErrorCode(err) {
	case -32001:
		return fmt.Errorf("%s: no such task", op)
	case -32602:
		return fmt.Errorf("%s: %w", op, err)
	case 0:
		return fmt.Errorf("%s: daemon unreachable: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func list(ctx *cli.Context) error {
	c := dial(ctx)
	defer c.Close()
	cctx, cancel := callCtx()
	defer cancel()

	items, err := c.List(cctx)
	if err != nil {
		return explain("list", err)
	}
	if len(items) == 0 {
		fmt.Println("no tasks scheduled")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTASK\tSTATE\tNEXT")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", it.Index, it.Display, stateOf(it), nextOf(it, time.Now()))
	}
	return tw.Flush()
}

func stateOf(it *control.TaskItem) string {
	switch {
	case it.Running && it.Fading:
		return fmt.Sprintf("fading (pid %d)", it.PID)
	case it.Running:
		return fmt.Sprintf("playing (pid %d)", it.PID)
	default:
		return "idle"
	}
}

func nextOf(it *control.TaskItem, now time.Time) string {
	if it.NextStart == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", it.NextStart.Local().Format("Mon 15:04"), humanize.RelTime(*it.NextStart, now, "ago", "from now"))
}

func add(ctx *cli.Context) error {
	rec, err := inputFrom(ctx).apply(task.Record{}, true)
	if err != nil {
		return err
	}
	c := dial(ctx)
	defer c.Close()
	cctx, cancel := callCtx()
	defer cancel()

	idx, err := c.Add(cctx, rec)
	if err != nil {
		return explain("add", err)
	}
	fmt.Printf("added task %d\n", idx)
	return nil
}

func edit(ctx *cli.Context) error {
	idx, err := indexArg(ctx)
	if err != nil {
		return err
	}
	c := dial(ctx)
	defer c.Close()
	cctx, cancel := callCtx()
	defer cancel()

	items, err := c.List(cctx)
	if err != nil {
		return explain("edit", err)
	}
	if idx >= len(items) {
		return fmt.Errorf("edit: no such task")
	}
	rec, err := inputFrom(ctx).apply(items[idx].Task, false)
	if err != nil {
		return err
	}
	// by id: a one-shot retiring since the list call shifts indexes
	at, err := c.UpdateID(cctx, items[idx].ID, rec)
	if err != nil {
		return explain("edit", err)
	}
	fmt.Printf("updated task %d\n", at)
	return nil
}

func remove(ctx *cli.Context) error {
	idx, err := indexArg(ctx)
	if err != nil {
		return err
	}
	c := dial(ctx)
	defer c.Close()
	cctx, cancel := callCtx()
	defer cancel()

	if err := c.Delete(cctx, idx); err != nil {
		return explain("delete", err)
	}
	fmt.Printf("deleted task %d\n", idx)
	return nil
}

func status(ctx *cli.Context) error {
	c := dial(ctx)
	defer c.Close()
	cctx, cancel := callCtx()
	defer cancel()

	st, err := c.Status(cctx)
	if err != nil {
		return explain("status", err)
	}
	now := time.Now()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version\t%s\n", st.Version)
	fmt.Fprintf(tw, "up since\t%s (%s)\n", st.StartedAt.Local().Format(time.DateTime), humanize.RelTime(st.StartedAt, now, "ago", "from now"))
	fmt.Fprintf(tw, "last tick\t%s\n", humanize.RelTime(st.LastTick, now, "ago", "from now"))
	fmt.Fprintf(tw, "timezone\t%s\n", st.Timezone)
	fmt.Fprintf(tw, "tick / fade in / fade out\t%s / %s / %s\n", st.Tick, st.FadeIn, st.FadeOut)
	fmt.Fprintf(tw, "tasks\t%d (%d playing)\n", st.Tasks, st.Running)
	return tw.Flush()
}

func history(ctx *cli.Context) error {
	c := dial(ctx)
	defer c.Close()
	cctx, cancel := callCtx()
	defer cancel()

	entries, err := c.History(cctx, historyLimit)
	if err != nil {
		return explain("history", err)
	}
	if len(entries) == 0 {
		fmt.Println("no history yet")
		return nil
	}
	now := time.Now()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tEVENT\tWINDOW\tPROGRAM\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", humanize.RelTime(e.At, now, "ago", "from now"), e.Kind, e.Window, e.Path, e.Error)
	}
	return tw.Flush()
}
