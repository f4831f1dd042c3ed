package control

import (
	"context"
	"errors"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"

	"musictimer/internal/storage"
	"musictimer/internal/task"
)

// Client is a typed caller for a running daemon.
type Client struct {
	cli *jrpc2.Client
}

// URL returns the endpoint for a listen address such as "127.0.0.1:7317".
func URL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + Path
	}
	return "http://" + addr + Path
}

// NewClient dials the endpoint at url (see URL).
func NewClient(url string) *Client {
	ch := jhttp.NewChannel(url, nil)
	return &Client{cli: jrpc2.NewClient(ch, nil)}
}

func (c *Client) Close() error { return c.cli.Close() }

func (c *Client) List(ctx context.Context) ([]*TaskItem, error) {
	var out ListResult
	if err := c.cli.CallResult(ctx, "task.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) Add(ctx context.Context, r task.Record) (int, error) {
	var out IndexResult
	if err := c.cli.CallResult(ctx, "task.add", &TaskParams{Task: r}, &out); err != nil {
		return -1, err
	}
	return out.Index, nil
}

func (c *Client) Update(ctx context.Context, index int, r task.Record) (int, error) {
	var out IndexResult
	if err := c.cli.CallResult(ctx, "task.update", &UpdateParams{Index: index, Task: r}, &out); err != nil {
		return -1, err
	}
	return out.Index, nil
}

// UpdateID replaces the task with the given id, wherever it sits in the list.
func (c *Client) UpdateID(ctx context.Context, id string, r task.Record) (int, error) {
	var out IndexResult
	if err := c.cli.CallResult(ctx, "task.update", &UpdateParams{ID: id, Task: r}, &out); err != nil {
		return -1, err
	}
	return out.Index, nil
}

func (c *Client) Delete(ctx context.Context, index int) error {
	var out EmptyResult
	return c.cli.CallResult(ctx, "task.delete", &IndexParam{Index: index}, &out)
}

func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var out StatusResult
	if err := c.cli.CallResult(ctx, "system.status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	var out HistoryResult
	if err := c.cli.CallResult(ctx, "history.list", &HistoryParams{Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ErrorCode extracts the JSON-RPC code from a call error, or 0.
func ErrorCode(err error) int {
	var rerr *jrpc2.Error
	if errors.As(err, &rerr) {
		return int(rerr.Code)
	}
	return 0
}
