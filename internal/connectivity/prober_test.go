package connectivity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsReachable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"redirect target missing", http.StatusNotFound, true},
		{"server error", http.StatusBadGateway, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			p := NewProber(srv.URL, time.Second)
			if got := p.IsReachable(context.Background()); got != tc.want {
				t.Errorf("IsReachable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsReachableConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	p := NewProber("http://"+addr, 500*time.Millisecond)
	if p.IsReachable(context.Background()) {
		t.Error("Expected unreachable for closed port")
	}
}

func TestIsReachableTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewProber(srv.URL, 50*time.Millisecond)
	start := time.Now()
	if p.IsReachable(context.Background()) {
		t.Error("Expected unreachable on timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Probe did not honour timeout, took %v", elapsed)
	}
}

func TestIsReachableInvalidURL(t *testing.T) {
	p := NewProber("://bad url", time.Second)
	if p.IsReachable(context.Background()) {
		t.Error("Expected unreachable for invalid URL")
	}
}
