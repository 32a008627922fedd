package balance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRefreshParsesBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/balances/refresh" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"available_cents":12345,"current_cents":20000}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	balances, err := client.Refresh(context.Background(), RefreshInput{
		AccountRef: "acct-1",
		Source:     SourcePlaid,
		Reason:     "daily-job",
		Caller:     "ms-go-collections",
	})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if balances.AvailableCents != 12345 || balances.CurrentCents != 20000 {
		t.Fatalf("unexpected balances %+v", balances)
	}
}

func TestRefreshRateLimitCarriesSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"source":"plaid"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "key"})
	_, err := client.Refresh(context.Background(), RefreshInput{AccountRef: "acct-1", Source: SourcePlaid})

	var rateLimited *RateLimitError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateLimited.Source != SourcePlaid {
		t.Fatalf("expected plaid source, got %s", rateLimited.Source)
	}
}

func TestClassifyRetryBySource(t *testing.T) {
	if got := ClassifyRetry(&RateLimitError{Source: SourceMX}); got != RetryNow {
		t.Fatalf("mx rate limit = %d, want RetryNow", got)
	}
	if got := ClassifyRetry(&RateLimitError{Source: SourcePlaid}); got != RetryLater {
		t.Fatalf("plaid rate limit = %d, want RetryLater", got)
	}
	if got := ClassifyRetry(errors.New("boom")); got != RetryNone {
		t.Fatalf("generic error = %d, want RetryNone", got)
	}
}

func TestRefreshTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "key", RefreshTimeout: 50 * time.Millisecond})
	_, err := client.Refresh(context.Background(), RefreshInput{AccountRef: "acct-1", Source: SourceMX})
	if !errors.Is(err, ErrRefreshTimeout) {
		t.Fatalf("expected ErrRefreshTimeout, got %v", err)
	}
}
