package remote

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGet(t *testing.T) {
	srv := newTestServer(t)
	client := NewHTTPClient(Options{}, testLogger())

	data, err := client.Get(context.Background(), srv.URL+"/ok.txt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("body = %q, want hello", data)
	}
}

func TestGet_NotFound(t *testing.T) {
	srv := newTestServer(t)
	client := NewHTTPClient(Options{}, testLogger())

	_, err := client.Get(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_StatusError(t *testing.T) {
	srv := newTestServer(t)
	client := NewHTTPClient(Options{}, testLogger())

	_, err := client.Get(context.Background(), srv.URL+"/forbidden")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusForbidden {
		t.Errorf("Code = %d, want 403", statusErr.Code)
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(Options{Retries: 1}, testLogger())
	data, err := client.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "recovered" {
		t.Errorf("body = %q, want recovered", data)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGet_CanceledContext(t *testing.T) {
	srv := newTestServer(t)
	client := NewHTTPClient(Options{Retries: 3}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Get(ctx, srv.URL+"/ok.txt"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestDownload(t *testing.T) {
	srv := newTestServer(t)
	client := NewHTTPClient(Options{}, testLogger())

	var buf bytes.Buffer
	n, err := client.Download(context.Background(), srv.URL+"/ok.txt", &buf)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if n != 5 || buf.String() != "hello" {
		t.Errorf("Download wrote %d bytes %q", n, buf.String())
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Base: "https://mods.example.com"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"manifest", l.ManifestURL(ChannelCommon), "https://mods.example.com/modfiles/common/modlist.txt"},
		{"archive", l.ArchiveURL(ChannelClient, "jei-1.0.jar"), "https://mods.example.com/modfiles/client/jei-1.0.jar"},
		{"bulk first", l.BulkArchiveURL(ChannelOptional, 0), "https://mods.example.com/modfiles/clientadditional/mods.zip"},
		{"bulk second", l.BulkArchiveURL(ChannelOptional, 1), "https://mods.example.com/modfiles/clientadditional/mods1.zip"},
		{"force update", l.ForceUpdateURL(), "https://mods.example.com/modfiles/forceupdate.txt"},
		{"server channel", l.ChannelURL(ChannelServer), "https://mods.example.com/modfiles/server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestIsSuccessStatusCode(t *testing.T) {
	for code, want := range map[int]bool{200: true, 204: true, 299: true, 301: false, 404: false, 500: false} {
		if got := IsSuccessStatusCode(code); got != want {
			t.Errorf("IsSuccessStatusCode(%d) = %v, want %v", code, got, want)
		}
	}
}
