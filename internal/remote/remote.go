package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/schollz/progressbar/v3"
)

// ErrNotFound is returned when the remote answers 404
var ErrNotFound = errors.New("remote resource not found")

// StatusError is returned for any other non-success response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Client fetches resources from the remote catalog
type Client interface {
	// Get returns the full body of url
	Get(ctx context.Context, url string) ([]byte, error)
	// Download streams the body of url into w and returns the byte count
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Options configures the HTTP client
type Options struct {
	Retries  int
	Timeout  time.Duration
	Progress bool // render a progress bar for downloads
}

// HTTPClient implements Client over a retrying HTTP client
type HTTPClient struct {
	client   *http.Client
	progress bool
}

// NewHTTPClient creates a client that retries transport errors and 5xx
// responses with backoff.
func NewHTTPClient(opts Options, logger *slog.Logger) *HTTPClient {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = logger
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	if opts.Timeout > 0 {
		retryClient.HTTPClient.Timeout = opts.Timeout
	}
	return &HTTPClient{
		client:   retryClient.StandardClient(),
		progress: opts.Progress,
	}
}

// Get fetches url and returns the body
func (c *HTTPClient) Get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.do(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	return data, nil
}

// Download streams url into w
func (c *HTTPClient) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	dst := w
	if c.progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, path.Base(url))
		defer func() {
			_ = bar.Finish()
		}()
		dst = io.MultiWriter(w, bar)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to download %s: %w", url, err)
	}
	return n, nil
}

func (c *HTTPClient) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create HTTP request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not make HTTP request: %w", err)
	}

	if IsSuccessStatusCode(resp.StatusCode) {
		return resp, nil
	}

	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	return nil, &StatusError{URL: url, Code: resp.StatusCode}
}

// IsSuccessStatusCode returns true for status code 2xx
func IsSuccessStatusCode(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}

// Channel is a distribution grouping with its own manifest and archives
type Channel string

const (
	ChannelCommon   Channel = "common"
	ChannelClient   Channel = "client"
	ChannelOptional Channel = "clientadditional"
	ChannelServer   Channel = "server"
)

// Layout builds URLs under the remote catalog base
type Layout struct {
	Base string // without trailing slash
}

// ChannelURL returns the directory URL of a channel
func (l Layout) ChannelURL(ch Channel) string {
	return l.Base + "/modfiles/" + string(ch)
}

// ManifestURL returns the modlist.txt URL of a channel
func (l Layout) ManifestURL(ch Channel) string {
	return l.ChannelURL(ch) + "/modlist.txt"
}

// ArchiveURL returns the URL of a single mod archive in a channel
func (l Layout) ArchiveURL(ch Channel, filename string) string {
	return l.ChannelURL(ch) + "/" + filename
}

// BulkArchiveURL returns the URL of the index-th bulk archive of a channel
func (l Layout) BulkArchiveURL(ch Channel, index int) string {
	return l.ChannelURL(ch) + "/" + BulkArchiveName(index)
}

// ForceUpdateURL returns the URL of the force-update token list
func (l Layout) ForceUpdateURL() string {
	return l.Base + "/modfiles/forceupdate.txt"
}

// BulkArchiveName names the index-th bulk archive: mods.zip, mods1.zip, ...
func BulkArchiveName(index int) string {
	if index == 0 {
		return "mods.zip"
	}
	return "mods" + strconv.Itoa(index) + ".zip"
}
