//go:build integration

package tier1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	binaryName     = "modupdater"
	defaultTimeout = 5 * time.Minute
)

// Harness builds the modupdater binary and serves a mutable remote catalog
// over HTTP for Tier 1 integration tests
type Harness struct {
	t      *testing.T
	root   string
	binary string
	server *httptest.Server

	mu       sync.Mutex
	files    map[string][]byte // request path -> body
	requests []string
}

// NewHarness creates a new test harness rooted in a temp directory
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	root := t.TempDir()
	return &Harness{
		t:      t,
		root:   root,
		binary: filepath.Join(root, "bin", binaryName),
		files:  make(map[string][]byte),
	}
}

// BuildBinary compiles cmd/modupdater into the harness root
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	// Get absolute path to project root by finding go.mod
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.t.Logf("Building %s", h.binary)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/"+binaryName)
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// StartServer starts the catalog server
func (h *Harness) StartServer() {
	h.t.Helper()
	h.server = httptest.NewServer(http.HandlerFunc(h.serve))
	h.t.Logf("Catalog server listening on %s", h.server.URL)
}

func (h *Harness) serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.requests = append(h.requests, r.URL.Path)
	body, ok := h.files[r.URL.Path]
	h.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(body)
}

// Cleanup stops the catalog server
func (h *Harness) Cleanup() {
	if h.server != nil {
		h.server.Close()
	}
}

// URL returns the catalog base URL
func (h *Harness) URL() string {
	return h.server.URL
}

// Publish serves body at path, e.g. /modfiles/common/modlist.txt
func (h *Harness) Publish(path string, body []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = body
}

// Unpublish removes path from the catalog
func (h *Harness) Unpublish(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.files, path)
}

// Requests returns the paths requested since the last ClearRequests
func (h *Harness) Requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.requests...)
}

// ClearRequests resets the request log
func (h *Harness) ClearRequests() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = nil
}

// Requested reports whether path was requested since the last ClearRequests
func (h *Harness) Requested(path string) bool {
	for _, p := range h.Requests() {
		if p == path {
			return true
		}
	}
	return false
}

// Path returns an absolute path inside the harness root
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.root, rel)
}

// Exec runs the modupdater binary
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	execCmd := exec.CommandContext(ctx, h.binary, args...)
	execCmd.Dir = h.root
	execCmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustExec runs the binary and fails the test if it returns non-zero
func (h *Harness) MustExec(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteFile writes a file below the harness root
func (h *Harness) WriteFile(rel string, data []byte) error {
	h.t.Helper()
	path := h.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile reads a file below the harness root
func (h *Harness) ReadFile(rel string) (string, error) {
	h.t.Helper()
	data, err := os.ReadFile(h.Path(rel))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FileExists checks if a file exists below the harness root
func (h *Harness) FileExists(rel string) bool {
	h.t.Helper()
	info, err := os.Stat(h.Path(rel))
	return err == nil && info.Mode().IsRegular()
}

// ListDir returns the sorted file names in a directory below the root
func (h *Harness) ListDir(rel string) []string {
	h.t.Helper()
	entries, err := os.ReadDir(h.Path(rel))
	if err != nil {
		h.t.Fatalf("read dir %s: %v", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// ReadJSON decodes a JSON file below the harness root into v
func (h *Harness) ReadJSON(rel string, v any) error {
	data, err := os.ReadFile(h.Path(rel))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	// Get the directory of this source file
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
