package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"remindbot/internal/record"
	logx "remindbot/pkg/logx"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPClient is the JSON-over-HTTP backup client.
type HTTPClient struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewHTTP(cfg Config, log logx.Logger) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backup base_url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("backup base_url: %w", err)
	}
	cfg.BaseURL = base
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// envelope is the common response wrapper of the backup API.
type envelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backup %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("backup %s %s: decode: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 || !env.OK {
		if env.Description != "" {
			return fmt.Errorf("backup %s %s: %s (http=%d)", method, path, env.Description, resp.StatusCode)
		}
		return fmt.Errorf("backup %s %s: http=%d", method, path, resp.StatusCode)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("backup %s %s: decode result: %w", method, path, err)
		}
	}
	return nil
}

func (c *HTTPClient) FetchActiveReminders(ctx context.Context) ([]record.Reminder, error) {
	var rs []record.Reminder
	if err := c.do(ctx, http.MethodGet, "/reminders?status="+record.StatusActive, nil, &rs); err != nil {
		return nil, err
	}
	if rs == nil {
		rs = []record.Reminder{}
	}
	return rs, nil
}

func (c *HTTPClient) FetchActivePolls(ctx context.Context) ([]record.Poll, error) {
	var ps []record.Poll
	if err := c.do(ctx, http.MethodGet, "/polls?status="+record.StatusActive, nil, &ps); err != nil {
		return nil, err
	}
	if ps == nil {
		ps = []record.Poll{}
	}
	return ps, nil
}

func (c *HTTPClient) FetchSubscriberIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.do(ctx, http.MethodGet, "/subscribers", nil, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

type syncReminderReq struct {
	Action   Action          `json:"action"`
	Reminder record.Reminder `json:"reminder"`
}

func (c *HTTPClient) SyncReminder(ctx context.Context, r record.Reminder, a Action) error {
	return c.do(ctx, http.MethodPost, "/reminders/sync", syncReminderReq{Action: a, Reminder: r}, nil)
}

type syncPollReq struct {
	Action Action      `json:"action"`
	Poll   record.Poll `json:"poll"`
}

func (c *HTTPClient) SyncPoll(ctx context.Context, p record.Poll, a Action) error {
	return c.do(ctx, http.MethodPost, "/polls/sync", syncPollReq{Action: a, Poll: p}, nil)
}

type replaceSubscribersReq struct {
	ChatIDs []int64 `json:"chat_ids"`
}

func (c *HTTPClient) ReplaceSubscribers(ctx context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return c.do(ctx, http.MethodPut, "/subscribers", replaceSubscribersReq{ChatIDs: ids}, nil)
}

func (c *HTTPClient) MaxAssignedID(ctx context.Context, collection string) (int, error) {
	var out struct {
		MaxID int `json:"max_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/"+collection+"/max-id", nil, &out); err != nil {
		return 0, err
	}
	return out.MaxID, nil
}
