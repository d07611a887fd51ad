package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxQuoteSymbols is the upstream limit on symbols per quote request.
const MaxQuoteSymbols = 500

// Client interface for testability
type Client interface {
	GetBars(ctx context.Context, req BarsRequest) ([]Bar, error)
	GetQuotes(ctx context.Context, symbols []string) ([]Quote, error)
	GetOptionQuotes(ctx context.Context, symbols []string) ([]Quote, error)
	GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	GetOptionStrikes(ctx context.Context, underlying string, expiration time.Time) ([]float64, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewClient(baseURL string, tokens TokenSource, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (c *HTTPClient) GetBars(ctx context.Context, req BarsRequest) ([]Bar, error) {
	q := url.Values{}
	if req.Interval > 0 {
		q.Set("interval", strconv.Itoa(req.Interval))
	}
	if req.Unit != "" {
		q.Set("unit", req.Unit)
	}
	if req.BarsBack > 0 {
		q.Set("barsback", strconv.Itoa(req.BarsBack))
	}
	if !req.FirstDate.IsZero() {
		q.Set("firstdate", req.FirstDate.UTC().Format(upstreamTimeLayout))
	}
	if !req.LastDate.IsZero() {
		q.Set("lastdate", req.LastDate.UTC().Format(upstreamTimeLayout))
	}
	if req.SessionTemplate != "" {
		q.Set("sessiontemplate", req.SessionTemplate)
	}

	body, err := c.get(ctx, "marketdata/barcharts/"+url.PathEscape(req.Symbol), q)
	if err != nil {
		return nil, fmt.Errorf("bars for %s: %w", req.Symbol, err)
	}
	return decodeBars(body)
}

func (c *HTTPClient) GetQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if len(symbols) > MaxQuoteSymbols {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySymbols, len(symbols), MaxQuoteSymbols)
	}

	escaped := make([]string, len(symbols))
	for i, s := range symbols {
		escaped[i] = url.PathEscape(s)
	}
	body, err := c.get(ctx, "marketdata/quotes/"+strings.Join(escaped, ","), nil)
	if err != nil {
		return nil, fmt.Errorf("quotes: %w", err)
	}
	return decodeQuotes(body)
}

// GetOptionQuotes fetches quotes for option symbols. Upstream serves equity
// and option quotes from the same endpoint.
func (c *HTTPClient) GetOptionQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	return c.GetQuotes(ctx, symbols)
}

func (c *HTTPClient) GetOptionExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	body, err := c.get(ctx, "marketdata/options/expirations/"+url.PathEscape(underlying), nil)
	if err != nil {
		return nil, fmt.Errorf("expirations for %s: %w", underlying, err)
	}
	return decodeExpirations(body)
}

func (c *HTTPClient) GetOptionStrikes(ctx context.Context, underlying string, expiration time.Time) ([]float64, error) {
	q := url.Values{}
	q.Set("expiration", expiration.Format("01-02-2006"))

	body, err := c.get(ctx, "marketdata/options/strikes/"+url.PathEscape(underlying), q)
	if err != nil {
		return nil, fmt.Errorf("strikes for %s: %w", underlying, err)
	}
	return decodeStrikes(body)
}

// get performs a rate-limited GET with retry and exponential backoff.
// A 401 invalidates the token and is retried once.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	c.logger.Debug("requesting", zap.String("url", endpoint))

	reauthed := false
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized:
			if reauthed {
				return nil, ErrAuthFailed
			}
			reauthed = true
			c.tokens.Invalidate()
			// The re-auth attempt does not consume a retry
			attempt--
			lastErr = ErrAuthFailed
			continue

		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue

		default:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
