// Package tracker extracts projects, boards, sprints, epics, issues and
// comments from the Jira REST API.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrUnauthorized means the tracker rejected the credentials.
var ErrUnauthorized = errors.New("tracker rejected credentials")

// maxRetryAfter caps how long a Retry-After header may stall a request.
const maxRetryAfter = 30 * time.Second

// HTTPError is a non-2xx tracker response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("tracker %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options tune the client.
type Options struct {
	PageSize   int
	MaxRetries int
	// InitialBackoff is the first retry delay. Defaults to 500ms.
	InitialBackoff time.Duration
	HTTPClient     *http.Client
}

// Client is a minimal Jira REST client with basic auth and bounded retry.
type Client struct {
	baseURL    string
	user       string
	token      string
	pageSize   int
	maxRetries int
	initial    time.Duration
	http       *http.Client
	logger     *slog.Logger
}

// NewClient creates a tracker client for baseURL.
func NewClient(baseURL, user, token string, opts Options, logger *slog.Logger) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		user:       user,
		token:      token,
		pageSize:   opts.PageSize,
		maxRetries: opts.MaxRetries,
		initial:    opts.InitialBackoff,
		http:       opts.HTTPClient,
		logger:     logger,
	}
}

// getJSON fetches path and decodes the body into out, retrying transient failures.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.SetBasicAuth(c.user, c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode))
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			httpErr := &HTTPError{StatusCode: resp.StatusCode, URL: path, Body: strings.TrimSpace(string(body))}
			if !httpErr.Temporary() {
				return backoff.Permanent(httpErr)
			}
			c.waitRetryAfter(ctx, resp.Header.Get("Retry-After"))
			return httpErr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("tracker request failed, retrying", "path", path, "wait", wait, "error", err)
	}

	return backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx),
		notify)
}

func (c *Client) waitRetryAfter(ctx context.Context, header string) {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return
	}
	wait := min(time.Duration(secs)*time.Second, maxRetryAfter)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// page covers the three paging envelopes the API uses: agile endpoints
// report isLast, search and comment endpoints report total.
type page struct {
	StartAt    int               `json:"startAt"`
	MaxResults int               `json:"maxResults"`
	Total      int               `json:"total"`
	IsLast     *bool             `json:"isLast"`
	Values     []json.RawMessage `json:"values"`
	Issues     []json.RawMessage `json:"issues"`
	Comments   []json.RawMessage `json:"comments"`
}

func (p *page) items() []json.RawMessage {
	switch {
	case p.Values != nil:
		return p.Values
	case p.Issues != nil:
		return p.Issues
	default:
		return p.Comments
	}
}

func (p *page) last(fetched int) bool {
	if p.IsLast != nil {
		return *p.IsLast
	}
	return fetched >= p.Total
}

// paginate follows startAt paging until the server reports the last page
// or returns an empty page. Items repeated across pages, which happens when
// the collection shifts between requests, are returned once.
func (c *Client) paginate(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	seen := make(map[string]bool)
	start := 0
	for {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("startAt", strconv.Itoa(start))
		q.Set("maxResults", strconv.Itoa(c.pageSize))

		var p page
		if err := c.getJSON(ctx, path, q, &p); err != nil {
			return all, err
		}

		items := p.items()
		if len(items) == 0 {
			return all, nil
		}
		for _, item := range items {
			if id := rawID(item); id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			all = append(all, item)
		}
		start += len(items)

		if p.last(start) {
			return all, nil
		}
	}
}

// issueFields are requested from the search endpoint.
var issueFields = []string{
	"summary", "description", "status", "priority", "issuetype", "created", "updated",
	"resolutiondate", "assignee", "reporter", "labels", "components", "parent",
	"customfield_10002", // story points
	"customfield_10014", // epic link
	"customfield_10020", // sprint
}

// Project fetches a single project by key.
func (c *Client) Project(ctx context.Context, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/rest/api/3/project/"+url.PathEscape(key), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Boards lists the agile boards of a project.
func (c *Client) Boards(ctx context.Context, projectKey string) ([]json.RawMessage, error) {
	return c.paginate(ctx, "/rest/agile/1.0/board", url.Values{"projectKeyOrId": {projectKey}})
}

// Sprints lists the sprints of a board.
func (c *Client) Sprints(ctx context.Context, boardID string) ([]json.RawMessage, error) {
	return c.paginate(ctx, "/rest/agile/1.0/board/"+url.PathEscape(boardID)+"/sprint", nil)
}

// Epics lists the epics of a board.
func (c *Client) Epics(ctx context.Context, boardID string) ([]json.RawMessage, error) {
	return c.paginate(ctx, "/rest/agile/1.0/board/"+url.PathEscape(boardID)+"/epic", nil)
}

// Issues lists every issue of a project, ordered by key.
func (c *Client) Issues(ctx context.Context, projectKey string) ([]json.RawMessage, error) {
	return c.paginate(ctx, "/rest/api/3/search", url.Values{
		"jql":    {fmt.Sprintf("project = %q ORDER BY key ASC", projectKey)},
		"fields": {strings.Join(issueFields, ",")},
	})
}

// Comments lists the comments of an issue.
func (c *Client) Comments(ctx context.Context, issueKey string) ([]json.RawMessage, error) {
	return c.paginate(ctx, "/rest/api/3/issue/"+url.PathEscape(issueKey)+"/comment", url.Values{
		"orderBy": {"created"},
	})
}
