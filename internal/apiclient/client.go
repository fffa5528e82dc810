// Package apiclient talks to a running inkwell daemon over its HTTP API.
//
// Client mirrors the method set of api.Service so CLI commands can run against
// either the daemon or an in-process runtime. Rejections are decoded back into
// *api.Error, which unwraps to the service sentinels, so errors.Is keeps
// working across the wire.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inkwell/internal/api"
)

// ErrUnavailable reports that no daemon API is configured or reachable.
var ErrUnavailable = errors.New("daemon API unavailable")

// Client is a thin JSON client for the daemon API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New returns nil without error when bind is empty.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

func (c *Client) CreateBook(ctx context.Context, req api.CreateBookRequest) (api.Book, error) {
	var out api.Book
	err := c.do(ctx, http.MethodPost, "/api/books", nil, req, &out)
	return out, err
}

func (c *Client) GetBook(ctx context.Context, id int64) (api.Book, error) {
	var out api.Book
	err := c.do(ctx, http.MethodGet, bookPath(id, ""), nil, nil, &out)
	return out, err
}

func (c *Client) ListBooks(ctx context.Context, statuses []string, limit int) ([]api.Book, error) {
	values := url.Values{}
	if len(statuses) > 0 {
		values.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var out []api.Book
	err := c.do(ctx, http.MethodGet, "/api/books", values, nil, &out)
	return out, err
}

func (c *Client) FireBookEvent(ctx context.Context, id int64, event string, expectedVersion int64) (api.Book, error) {
	var body any
	if expectedVersion > 0 {
		body = map[string]int64{"expectedVersion": expectedVersion}
	}
	var out api.Book
	err := c.do(ctx, http.MethodPost, bookPath(id, "/events/"+url.PathEscape(event)), nil, body, &out)
	return out, err
}

func (c *Client) ListChapters(ctx context.Context, bookID int64, statuses []string) ([]api.Chapter, error) {
	values := url.Values{}
	if len(statuses) > 0 {
		values.Set("status", strings.Join(statuses, ","))
	}
	var out []api.Chapter
	err := c.do(ctx, http.MethodGet, bookPath(bookID, "/chapters"), values, nil, &out)
	return out, err
}

func (c *Client) GetChapter(ctx context.Context, id int64) (api.Chapter, error) {
	var out api.Chapter
	err := c.do(ctx, http.MethodGet, chapterPath(id, ""), nil, nil, &out)
	return out, err
}

func (c *Client) ApproveChapter(ctx context.Context, id int64) (api.Chapter, error) {
	return c.chapterAction(ctx, http.MethodPost, id, "/approve", nil)
}

func (c *Client) RejectChapter(ctx context.Context, id int64, notes string) (api.Chapter, error) {
	return c.chapterAction(ctx, http.MethodPost, id, "/reject", map[string]string{"notes": notes})
}

func (c *Client) MarkReady(ctx context.Context, id int64) (api.Chapter, error) {
	return c.chapterAction(ctx, http.MethodPost, id, "/ready", nil)
}

func (c *Client) RequeueChapter(ctx context.Context, id int64) (api.Chapter, error) {
	return c.chapterAction(ctx, http.MethodPost, id, "/requeue", nil)
}

func (c *Client) SetChapterContent(ctx context.Context, id int64, content string) (api.Chapter, error) {
	return c.chapterAction(ctx, http.MethodPut, id, "/content", map[string]string{"content": content})
}

func (c *Client) chapterAction(ctx context.Context, method string, id int64, suffix string, body any) (api.Chapter, error) {
	var out api.Chapter
	err := c.do(ctx, method, chapterPath(id, suffix), nil, body, &out)
	return out, err
}

func (c *Client) Progress(ctx context.Context, bookID int64) (api.Progress, error) {
	var out api.Progress
	err := c.do(ctx, http.MethodGet, bookPath(bookID, "/progress"), nil, nil, &out)
	return out, err
}

func (c *Client) ResyncWordCount(ctx context.Context, bookID int64) (int, error) {
	var out struct {
		WordCount int `json:"wordCount"`
	}
	err := c.do(ctx, http.MethodPost, bookPath(bookID, "/resync"), nil, nil, &out)
	return out.WordCount, err
}

func (c *Client) RecordScores(ctx context.Context, bookID int64, req api.RecordScoresRequest) (api.Book, error) {
	var out api.Book
	err := c.do(ctx, http.MethodPost, bookPath(bookID, "/scores"), nil, req, &out)
	return out, err
}

func (c *Client) UpdateChecklist(ctx context.Context, bookID int64, items map[string]bool) (api.Book, error) {
	var out api.Book
	err := c.do(ctx, http.MethodPost, bookPath(bookID, "/checklist"), nil, items, &out)
	return out, err
}

func (c *Client) EvaluateGate(ctx context.Context, bookID int64) (api.GateResult, error) {
	var out api.GateResult
	err := c.do(ctx, http.MethodGet, bookPath(bookID, "/gate"), nil, nil, &out)
	return out, err
}

func (c *Client) SchedulePreflight(ctx context.Context, bookID int64) error {
	return c.do(ctx, http.MethodPost, bookPath(bookID, "/preflight"), nil, nil, nil)
}

func (c *Client) ConsistencyReports(ctx context.Context, bookID int64) ([]api.ConsistencyReport, error) {
	var out []api.ConsistencyReport
	err := c.do(ctx, http.MethodGet, bookPath(bookID, "/consistency"), nil, nil, &out)
	return out, err
}

func (c *Client) Pricing(ctx context.Context, bookID int64) (api.Pricing, error) {
	var out api.Pricing
	err := c.do(ctx, http.MethodGet, bookPath(bookID, "/pricing"), nil, nil, &out)
	return out, err
}

func (c *Client) RunPricingSweep(ctx context.Context, sweep string) (api.SweepResult, error) {
	if strings.TrimSpace(sweep) == "" {
		sweep = api.SweepDaily
	}
	var out api.SweepResult
	err := c.do(ctx, http.MethodPost, "/api/pricing/sweeps/"+url.PathEscape(sweep), nil, nil, &out)
	return out, err
}

func (c *Client) SetPricePhase(ctx context.Context, bookID int64, phase string, price float64, reason string) (api.Pricing, error) {
	body := struct {
		Phase  string  `json:"phase"`
		Price  float64 `json:"price"`
		Reason string  `json:"reason"`
	}{phase, price, reason}
	var out api.Pricing
	err := c.do(ctx, http.MethodPost, bookPath(bookID, "/pricing/phase"), nil, body, &out)
	return out, err
}

func (c *Client) StartPromotion(ctx context.Context, bookID int64) (api.Pricing, error) {
	var out api.Pricing
	err := c.do(ctx, http.MethodPost, bookPath(bookID, "/pricing/promotion"), nil, nil, &out)
	return out, err
}

func (c *Client) UpdatePricingSettings(ctx context.Context, bookID int64, settings api.PricingSettings) (api.Pricing, error) {
	var out api.Pricing
	err := c.do(ctx, http.MethodPatch, bookPath(bookID, "/pricing/settings"), nil, settings, &out)
	return out, err
}

func (c *Client) RecordReviews(ctx context.Context, bookID int64, total int, rating float64) error {
	body := struct {
		TotalReviews  int     `json:"totalReviews"`
		AverageRating float64 `json:"averageRating"`
	}{total, rating}
	return c.do(ctx, http.MethodPost, bookPath(bookID, "/reviews"), nil, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var apiErr api.Error
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Code == "" {
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return &apiErr
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}

func bookPath(id int64, suffix string) string {
	return "/api/books/" + strconv.FormatInt(id, 10) + suffix
}

func chapterPath(id int64, suffix string) string {
	return "/api/chapters/" + strconv.FormatInt(id, 10) + suffix
}
