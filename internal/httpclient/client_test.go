package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	c := New()
	if c.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", c.maxRetries)
	}
	if c.baseDelay != time.Second {
		t.Errorf("baseDelay = %v, want 1s", c.baseDelay)
	}
	if c.client.Timeout != 120*time.Second {
		t.Errorf("timeout = %v, want 120s", c.client.Timeout)
	}
}

func TestNew_Options(t *testing.T) {
	c := New(WithMaxRetries(1), WithBaseDelay(10*time.Millisecond), WithMaxDelay(50*time.Millisecond))
	if c.maxRetries != 1 {
		t.Errorf("maxRetries = %d, want 1", c.maxRetries)
	}
	if c.baseDelay != 10*time.Millisecond {
		t.Errorf("baseDelay = %v, want 10ms", c.baseDelay)
	}
}

func TestDo_RetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(2), WithBaseDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(3), WithBaseDelay(time.Millisecond))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 400)", attempts)
	}
}

func TestDefaultStrategy(t *testing.T) {
	cases := map[int]RetryStrategy{
		http.StatusTooManyRequests:     SmartRetry,
		http.StatusServiceUnavailable:  SmartRetry,
		http.StatusInternalServerError: ConservativeRetry,
		http.StatusBadGateway:          ConservativeRetry,
		http.StatusBadRequest:          NoRetry,
		http.StatusOK:                  NoRetry,
	}
	for status, want := range cases {
		if got := DefaultStrategy(status); got != want {
			t.Errorf("DefaultStrategy(%d) = %v, want %v", status, got, want)
		}
	}
}
