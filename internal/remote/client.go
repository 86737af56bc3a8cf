// Package remote is the REST client for the sync backend: push batches of queued
// mutations, pull pages of server changes, and keep the bearer token fresh.
package remote

import (
	"bytes"
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

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apperrors "github.com/allisson/offline-sync/internal/errors"
	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

// CursorHeader carries the server-issued pull watermark.
const CursorHeader = "X-Sync-Cursor"

// Config holds remote client configuration
type Config struct {
	BaseURL string
	// Timeout bounds each HTTP round trip.
	Timeout time.Duration
	// RateLimit is the sustained request rate; zero disables throttling.
	RateLimit float64
	RateBurst int
}

// Client talks to the sync backend.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	tokens     TokenStore
	limiter    *rate.Limiter
	refreshes  singleflight.Group
	logger     *slog.Logger
}

// NewClient creates a new Client. A nil httpClient uses a default client.
func NewClient(config Config, tokens TokenStore, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    limiter,
		logger:     logger,
	}
}

// Push uploads a batch and returns one outcome per item, in input order. Only an
// expired session or cancellation is returned as an error; every other failure is
// reported per item.
func (c *Client) Push(
	ctx context.Context,
	domainName string,
	items []*outboxDomain.QueueItem,
) ([]syncDomain.Outcome, error) {
	if len(items) == 0 {
		return nil, nil
	}

	body := make([]pushItem, 0, len(items))
	for _, item := range items {
		body = append(body, pushItem{
			LocalID: item.EntityID.String(),
			Action:  string(item.Action),
			Version: item.Version,
			Payload: item.Payload,
		})
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push batch: %w", err)
	}

	_, data, err := c.do(ctx, http.MethodPost, "/sync/"+url.PathEscape(domainName)+"/push", nil, encoded)
	if err != nil {
		switch {
		case apperrors.Is(err, apperrors.ErrAuthExpired), ctx.Err() != nil:
			return nil, err
		case apperrors.Is(err, apperrors.ErrVersionConflict):
			// No per-item server state: resolution has to wait for the next attempt.
			return uniformOutcomes(items, syncDomain.OutcomeConflict, err.Error()), nil
		case apperrors.Is(err, apperrors.ErrValidationRejected):
			return uniformOutcomes(items, syncDomain.OutcomeRejected, err.Error()), nil
		default:
			return uniformOutcomes(items, syncDomain.OutcomeTransient, err.Error()), nil
		}
	}

	var results []pushResult
	if err := json.Unmarshal(data, &results); err != nil {
		reason := fmt.Sprintf("malformed push response: %v", err)
		return uniformOutcomes(items, syncDomain.OutcomeTransient, reason), nil
	}

	byLocalID := make(map[string]pushResult, len(results))
	for _, result := range results {
		byLocalID[result.LocalID] = result
	}

	outcomes := make([]syncDomain.Outcome, 0, len(items))
	for _, item := range items {
		result, ok := byLocalID[item.EntityID.String()]
		if !ok {
			outcomes = append(outcomes, outcomeFor(item, syncDomain.OutcomeTransient, "missing from push response"))
			continue
		}
		outcomes = append(outcomes, mapPushResult(item, result))
	}
	return outcomes, nil
}

// Pull fetches one page of changes after since. An empty page keeps the cursor.
//
// The next cursor comes from the X-Sync-Cursor header, then the body cursor. Without
// either it falls back to the page's latest updated_at, which relies on the server
// treating since as inclusive: records sharing that timestamp across a page boundary
// come back again on the next pull, and applying them twice is a no-op.
func (c *Client) Pull(
	ctx context.Context,
	domainName string,
	since string,
	limit int,
) (*syncDomain.PullResult, error) {
	query := url.Values{}
	query.Set("since", since)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	header, data, err := c.do(ctx, http.MethodGet, "/sync/"+url.PathEscape(domainName)+"/pull", query, nil)
	if err != nil {
		return nil, err
	}

	records, bodyCursor, err := decodePull(data)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed pull response: %v", apperrors.ErrTransientNetwork, err)
	}

	result := &syncDomain.PullResult{
		Records:    make([]*syncDomain.RemoteRecord, 0, len(records)),
		NextCursor: since,
	}
	var latest time.Time
	for _, record := range records {
		result.Records = append(result.Records, &syncDomain.RemoteRecord{
			RemoteID:  record.RemoteID,
			LocalID:   record.LocalID,
			Version:   record.Version,
			Payload:   record.Payload,
			Deleted:   record.Deleted,
			UpdatedAt: record.UpdatedAt.UTC(),
		})
		if record.UpdatedAt.After(latest) {
			latest = record.UpdatedAt
		}
	}

	switch {
	case header.Get(CursorHeader) != "":
		result.NextCursor = header.Get(CursorHeader)
	case bodyCursor != "":
		result.NextCursor = bodyCursor
	case !latest.IsZero():
		result.NextCursor = latest.UTC().Format(time.RFC3339Nano)
		if c.logger != nil {
			c.logger.Debug("pull response carried no cursor, using latest updated_at",
				slog.String("domain", domainName),
				slog.String("cursor", result.NextCursor),
			)
		}
	}
	return result, nil
}

// do sends an authorized request. A 401 triggers one token refresh and one retry.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body []byte,
) (http.Header, []byte, error) {
	tokens, err := c.tokens.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrAuthExpired, err)
	}

	header, data, err := c.send(ctx, method, path, query, body, tokens.AccessToken)
	if err == nil || !apperrors.Is(err, apperrors.ErrAuthExpired) {
		return header, data, err
	}

	refreshed, err := c.refresh(ctx, tokens.AccessToken)
	if err != nil {
		return nil, nil, err
	}

	header, data, err = c.send(ctx, method, path, query, body, refreshed.AccessToken)
	if err != nil && apperrors.Is(err, apperrors.ErrAuthExpired) {
		if c.logger != nil {
			c.logger.Warn("request unauthorized after token refresh", slog.String("path", path))
		}
	}
	return header, data, err
}

// refresh exchanges the refresh token once per stale access token, however many
// requests hit the 401 concurrently.
func (c *Client) refresh(ctx context.Context, staleAccessToken string) (Tokens, error) {
	result, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		current, err := c.tokens.Load(ctx)
		if err != nil {
			return Tokens{}, fmt.Errorf("%w: %v", apperrors.ErrAuthExpired, err)
		}
		if current.AccessToken != staleAccessToken {
			return current, nil
		}
		if current.RefreshToken == "" {
			return Tokens{}, fmt.Errorf("%w: no refresh token", apperrors.ErrAuthExpired)
		}

		encoded, err := json.Marshal(refreshRequest{RefreshToken: current.RefreshToken})
		if err != nil {
			return Tokens{}, err
		}

		_, data, err := c.send(ctx, http.MethodPost, "/auth/refresh", nil, encoded, "")
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
				return Tokens{}, fmt.Errorf("%w: refresh refused: %v", apperrors.ErrAuthExpired, err)
			}
			return Tokens{}, err
		}

		var response refreshResponse
		if err := json.Unmarshal(data, &response); err != nil || response.AccessToken == "" {
			return Tokens{}, fmt.Errorf("%w: malformed refresh response", apperrors.ErrAuthExpired)
		}

		next := Tokens{AccessToken: response.AccessToken, RefreshToken: current.RefreshToken}
		if response.RefreshToken != "" {
			next.RefreshToken = response.RefreshToken
		}
		if err := c.tokens.Save(ctx, next); err != nil {
			return Tokens{}, fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}

		if c.logger != nil {
			c.logger.Info("access token refreshed")
		}
		return next, nil
	})
	if err != nil {
		return Tokens{}, err
	}
	return result.(Tokens), nil
}

// send performs one throttled round trip bounded by the client timeout.
func (c *Client) send(
	ctx context.Context,
	method, path string,
	query url.Values,
	body []byte,
	accessToken string,
) (http.Header, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, classifyTransport(ctx, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, classifyTransport(ctx, err)
	}
	data, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, nil, classifyTransport(ctx, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, data, newHTTPError(resp.StatusCode, data)
	}
	return resp.Header, data, nil
}

func decodePull(data []byte) ([]pullRecord, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, "", nil
	}

	if trimmed[0] == '[' {
		var records []pullRecord
		err := json.Unmarshal(trimmed, &records)
		return records, "", err
	}

	var page struct {
		Records    []pullRecord `json:"records"`
		NextCursor string       `json:"next_cursor"`
	}
	err := json.Unmarshal(trimmed, &page)
	return page.Records, page.NextCursor, err
}

func mapPushResult(item *outboxDomain.QueueItem, result pushResult) syncDomain.Outcome {
	outcome := outcomeFor(item, syncDomain.OutcomeStatus(result.Status), result.Reason)

	switch outcome.Status {
	case syncDomain.OutcomeAccepted:
		outcome.RemoteID = result.RemoteID
		outcome.Version = result.Version
		if outcome.Version == 0 {
			outcome.Version = item.Version
		}
	case syncDomain.OutcomeConflict:
		outcome.RemoteID = result.RemoteID
		outcome.Version = result.Version
		outcome.ServerPayload = result.ServerPayload
		outcome.ServerDeleted = result.Deleted
		if result.UpdatedAt != nil {
			outcome.ServerUpdatedAt = result.UpdatedAt.UTC()
		}
	case syncDomain.OutcomeRejected, syncDomain.OutcomeTransient:
	default:
		outcome.Status = syncDomain.OutcomeTransient
		outcome.Reason = fmt.Sprintf("unknown push status %q", result.Status)
	}
	return outcome
}

func outcomeFor(item *outboxDomain.QueueItem, status syncDomain.OutcomeStatus, reason string) syncDomain.Outcome {
	return syncDomain.Outcome{
		ItemID:  item.ID,
		LocalID: item.EntityID,
		Status:  status,
		Reason:  reason,
	}
}

func uniformOutcomes(
	items []*outboxDomain.QueueItem,
	status syncDomain.OutcomeStatus,
	reason string,
) []syncDomain.Outcome {
	outcomes := make([]syncDomain.Outcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, outcomeFor(item, status, reason))
	}
	return outcomes
}
