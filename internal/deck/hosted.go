package deck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotFound is returned when the remote presentation no longer exists.
var ErrNotFound = errors.New("presentation not found")

// APIError is a non-2xx response from the hosted deck API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deck api %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Remote identifies a hosted presentation.
type Remote struct {
	ID     string  `json:"id"`
	Title  string  `json:"title,omitempty"`
	URL    string  `json:"url,omitempty"`
	Slides []Slide `json:"slides,omitempty"`
}

// HostedClient talks to the slide-authoring REST API with a bearer token.
type HostedClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	initial    time.Duration
}

// NewHostedClient creates a client. A nil httpClient uses a 30s timeout.
func NewHostedClient(baseURL, apiKey string, httpClient *http.Client) *HostedClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HostedClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		maxRetries: 3,
		initial:    500 * time.Millisecond,
	}
}

// WithRetry sets how often a request failing with 429, 5xx or a network
// error is retried, and the first retry delay.
func (c *HostedClient) WithRetry(maxRetries int, initial time.Duration) *HostedClient {
	c.maxRetries = max(maxRetries, 0)
	if initial > 0 {
		c.initial = initial
	}
	return c
}

func (c *HostedClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%s %s: %w", method, path, ErrNotFound))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: strings.TrimSpace(string(msg))}
			if !apiErr.Temporary() {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, path, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx))
}

// Create creates an empty presentation.
func (c *HostedClient) Create(ctx context.Context, title, description string) (*Remote, error) {
	var r Remote
	err := c.do(ctx, http.MethodPost, "/presentations", map[string]string{
		"title":       title,
		"description": description,
	}, &r)
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, errors.New("deck api returned a presentation without id")
	}
	return &r, nil
}

// Get fetches a presentation with its slides.
func (c *HostedClient) Get(ctx context.Context, id string) (*Remote, error) {
	var r Remote
	if err := c.do(ctx, http.MethodGet, "/presentations/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Rename updates a presentation's title and description.
func (c *HostedClient) Rename(ctx context.Context, id, title, description string) error {
	return c.do(ctx, http.MethodPatch, "/presentations/"+url.PathEscape(id), map[string]string{
		"title":       title,
		"description": description,
	}, nil)
}

// AddSlide appends a slide and returns the id the API assigned to it, which
// is empty when the API does not echo the slide back.
func (c *HostedClient) AddSlide(ctx context.Context, id string, s Slide) (string, error) {
	s.ID = ""
	var created Slide
	if err := c.do(ctx, http.MethodPost, "/presentations/"+url.PathEscape(id)+"/slides", s, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// DeleteSlide removes a slide.
func (c *HostedClient) DeleteSlide(ctx context.Context, id, slideID string) error {
	return c.do(ctx, http.MethodDelete,
		"/presentations/"+url.PathEscape(id)+"/slides/"+url.PathEscape(slideID), nil, nil)
}

// StaleSlidesError reports old slides that could not be removed after the
// new content was added.
type StaleSlidesError struct {
	Presentation string
	SlideIDs     []string
	Err          error
}

func (e *StaleSlidesError) Error() string {
	return fmt.Sprintf("presentation %s kept %d stale slides (%s): %v",
		e.Presentation, len(e.SlideIDs), strings.Join(e.SlideIDs, ", "), e.Err)
}

func (e *StaleSlidesError) Unwrap() error { return e.Err }

// ReplaceSlides makes slides the full content of presentation id. The new
// slides are added before the old ones are deleted, so a failure leaves the
// previous content in place rather than an empty deck. Returns ErrNotFound
// when the presentation was deleted remotely.
func (c *HostedClient) ReplaceSlides(ctx context.Context, id string, slides []Slide) error {
	current, err := c.Get(ctx, id)
	if err != nil {
		return err
	}

	added := make([]string, 0, len(slides))
	for i, s := range slides {
		slideID, err := c.AddSlide(ctx, id, s)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			c.rollback(context.WithoutCancel(ctx), id, added)
			return fmt.Errorf("add slide %d: %w", i, err)
		}
		if slideID != "" {
			added = append(added, slideID)
		}
	}

	var (
		stale []string
		errs  []error
	)
	for _, s := range current.Slides {
		if s.ID == "" {
			continue
		}
		if err := c.DeleteSlide(ctx, id, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
			stale = append(stale, s.ID)
			errs = append(errs, err)
		}
	}
	if len(stale) > 0 {
		return &StaleSlidesError{Presentation: id, SlideIDs: stale, Err: errors.Join(errs...)}
	}
	return nil
}

// rollback removes slides added by a ReplaceSlides that failed halfway.
func (c *HostedClient) rollback(ctx context.Context, id string, slideIDs []string) {
	for _, slideID := range slideIDs {
		_ = c.DeleteSlide(ctx, id, slideID)
	}
}
