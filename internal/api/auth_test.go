package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRefreshTokenSource_CachesUntilMargin(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-1" {
			t.Errorf("unexpected form %v", r.Form)
		}
		if r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			t.Errorf("missing client credentials %v", r.Form)
		}
		n := atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"access_token":"at-%d","expires_in":1200}`, n)
	}))
	defer server.Close()

	src := NewRefreshTokenSource(server.URL, "id", "secret", "rt-1", 5*time.Minute, time.Second, zap.NewNop())
	now := time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	ctx := context.Background()
	tok, err := src.Token(ctx)
	if err != nil || tok != "at-1" {
		t.Fatalf("first token = %q, %v", tok, err)
	}

	// 14 minutes later there are 6 minutes left: still cached
	now = now.Add(14 * time.Minute)
	if tok, _ := src.Token(ctx); tok != "at-1" {
		t.Errorf("expected cached token, got %q", tok)
	}

	// 16 minutes in only 4 remain: refresh
	now = now.Add(2 * time.Minute)
	if tok, _ := src.Token(ctx); tok != "at-2" {
		t.Errorf("expected refreshed token, got %q", tok)
	}

	src.Invalidate()
	if tok, _ := src.Token(ctx); tok != "at-3" {
		t.Errorf("expected refresh after invalidate, got %q", tok)
	}
}

func TestRefreshTokenSource_DefaultExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"at","refresh_token":"rt-2"}`)
	}))
	defer server.Close()

	src := NewRefreshTokenSource(server.URL, "id", "secret", "rt-1", 0, time.Second, zap.NewNop())
	now := time.Now()
	src.now = func() time.Time { return now }

	if _, err := src.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := src.expiresAt.Sub(now); got != DefaultExpiresIn {
		t.Errorf("expiry = %v, want %v", got, DefaultExpiresIn)
	}
	if src.refreshToken != "rt-2" {
		t.Errorf("rotated refresh token not stored: %q", src.refreshToken)
	}
}

func TestRefreshTokenSource_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	src := NewRefreshTokenSource(server.URL, "id", "secret", "rt", 0, time.Second, zap.NewNop())
	if _, err := src.Token(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestStaticTokenSource(t *testing.T) {
	if _, err := StaticTokenSource("").Token(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("empty static token should fail, got %v", err)
	}
	if tok, _ := StaticTokenSource("abc").Token(context.Background()); tok != "abc" {
		t.Errorf("token = %q", tok)
	}
}
