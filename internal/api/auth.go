package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	// DefaultExpiresIn is assumed when the token endpoint omits expires_in.
	DefaultExpiresIn = 1200 * time.Second
	// DefaultRefreshMargin refreshes a token this long before it expires.
	DefaultRefreshMargin = 5 * time.Minute
)

// TokenSource hands out bearer tokens for upstream requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops any cached token so the next Token call refreshes.
	Invalidate()
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrAuthFailed
	}
	return string(s), nil
}

func (s StaticTokenSource) Invalidate() {}

// RefreshTokenSource exchanges a long-lived refresh token for short-lived
// access tokens and caches them until shortly before expiry.
type RefreshTokenSource struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
	margin       time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewRefreshTokenSource(tokenURL, clientID, clientSecret, refreshToken string, margin, timeout time.Duration, logger *zap.Logger) *RefreshTokenSource {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &RefreshTokenSource{
		httpClient:   &http.Client{Timeout: timeout},
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		margin:       margin,
		now:          time.Now,
		logger:       logger,
	}
}

func (s *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(s.margin).Before(s.expiresAt) {
		return s.token, nil
	}
	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

func (s *RefreshTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *RefreshTokenSource) refresh(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"refresh_token": {s.refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading token response: %w", readErr)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token endpoint returned %d", ErrAuthFailed, resp.StatusCode)
	}

	v, err := fastjson.ParseBytes(body)
	if err != nil {
		return fmt.Errorf("decoding token response: %w", err)
	}
	token := string(v.GetStringBytes("access_token"))
	if token == "" {
		return fmt.Errorf("%w: no access_token in response", ErrAuthFailed)
	}

	expiresIn := DefaultExpiresIn
	if secs := v.GetInt("expires_in"); secs > 0 {
		expiresIn = time.Duration(secs) * time.Second
	}
	// Some providers rotate the refresh token on every exchange
	if rotated := string(v.GetStringBytes("refresh_token")); rotated != "" {
		s.refreshToken = rotated
	}

	s.token = token
	s.expiresAt = s.now().Add(expiresIn)
	s.logger.Debug("access token refreshed", zap.Duration("expires_in", expiresIn))
	return nil
}
