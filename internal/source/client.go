package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/toolup/internal/atomicfs"
	"github.com/ZebulonRouseFrantzich/toolup/internal/config"
)

const (
	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of retries after the first attempt
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "toolup/dev"

	releasesPerPage = 100
)

// Token environment variables, in lookup order.
var tokenEnvVars = []string{"TOOLUP_GITHUB_TOKEN", "GITHUB_TOKEN"}

// TokenFromEnv returns the first non-empty access token from the
// environment.
func TokenFromEnv() string {
	for _, name := range tokenEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL        string
	Token          string
	UserAgent      string
	Retries        int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	// CacheDir holds release lists and their ETags. Empty disables caching.
	CacheDir string
	// TempDir receives in-flight downloads. Defaults to os.TempDir().
	TempDir    string
	Logger     config.Logger
	HTTPClient *http.Client
}

// Client talks to a GitHub-compatible release API with bounded retries.
type Client struct {
	http      *http.Client
	baseURL   string
	apiHost   string
	token     string
	userAgent string
	retries   int
	baseDelay time.Duration
	timeout   time.Duration
	cacheDir  string
	tempDir   string
	logger    config.Logger
}

// NewClient creates a client.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		http:      opts.HTTPClient,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		token:     opts.Token,
		userAgent: opts.UserAgent,
		retries:   opts.Retries,
		baseDelay: opts.RetryBaseDelay,
		timeout:   opts.Timeout,
		cacheDir:  opts.CacheDir,
		tempDir:   opts.TempDir,
		logger:    config.OrNop(opts.Logger),
	}
	if c.http == nil {
		c.http = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				// Credentials never follow a redirect off the API host.
				if req.URL.Host != c.apiHost {
					req.Header.Del("Authorization")
				}
				return nil
			},
		}
	}
	if c.baseURL == "" {
		c.baseURL = config.DefaultAPIBaseURL
	}
	if u, err := url.Parse(c.baseURL); err == nil {
		c.apiHost = u.Host
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = time.Second
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.tempDir == "" {
		c.tempDir = os.TempDir()
	}
	return c
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	Code int
	URL  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
}

// permanentError wraps failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// withRetry runs fn up to retries+1 times with exponential backoff. Each
// attempt gets its own timeout.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			backoff := c.baseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Debug("retrying request", "op", op, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", op, c.retries, lastErr)
}

func (c *Client) newRequest(ctx context.Context, rawURL, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" && req.URL.Host == c.apiHost {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// cachedList is the on-disk form of a release list.
type cachedList struct {
	ETag      string          `json:"etag"`
	FetchedAt time.Time       `json:"fetched_at"`
	Releases  json.RawMessage `json:"releases"`
}

func (c *Client) cachePath(repo string) string {
	return filepath.Join(c.cacheDir, strings.ReplaceAll(repo, "/", "_")+".json")
}

func (c *Client) loadCachedList(repo string) *cachedList {
	if c.cacheDir == "" {
		return nil
	}
	var cl cachedList
	if err := atomicfs.ReadJSON(c.cachePath(repo), &cl); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("ignoring unreadable release cache", "repo", repo, "error", err)
		}
		return nil
	}
	return &cl
}

func (c *Client) saveCachedList(repo string, cl *cachedList) {
	if c.cacheDir == "" {
		return
	}
	if err := atomicfs.WriteJSON(c.cachePath(repo), cl, 0644); err != nil {
		c.logger.Warn("failed to cache release list", "repo", repo, "error", err)
	}
}

// releases lists the releases of owner/name. A 304 reuses the cached list.
// When the source stays unreachable after all retries the cached list is
// returned and a warning is logged.
func (c *Client) releases(ctx context.Context, repo string) ([]ghRelease, error) {
	listURL := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", c.baseURL, repo, releasesPerPage)
	cached := c.loadCachedList(repo)

	var body []byte
	var etag string
	err := c.withRetry(ctx, "list releases", func(ctx context.Context) error {
		req, err := c.newRequest(ctx, listURL, "application/vnd.github+json")
		if err != nil {
			return err
		}
		if cached != nil && cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotModified && cached != nil:
			body, etag = cached.Releases, cached.ETag
			return nil
		case resp.StatusCode != http.StatusOK:
			return &statusError{Code: resp.StatusCode, URL: listURL}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		body, etag = data, resp.Header.Get("ETag")
		return nil
	})
	if err != nil {
		if cached != nil && ctx.Err() == nil {
			c.logger.Warn("release source unreachable, using cached release list",
				"repo", repo, "fetched_at", cached.FetchedAt, "error", err)
			return decodeReleases(cached.Releases)
		}
		return nil, err
	}

	releases, err := decodeReleases(body)
	if err != nil {
		return nil, err
	}
	if cached == nil || cached.ETag != etag || string(cached.Releases) != string(body) {
		c.saveCachedList(repo, &cachedList{ETag: etag, FetchedAt: time.Now().UTC(), Releases: body})
	}
	return releases, nil
}

func decodeReleases(data []byte) ([]ghRelease, error) {
	var releases []ghRelease
	if err := json.Unmarshal(data, &releases); err != nil {
		return nil, fmt.Errorf("malformed release list: %w", err)
	}
	return releases, nil
}

// download fetches rawURL into a temporary file and returns it opened for
// reading. Closing the returned reader removes the file.
func (c *Client) download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := os.MkdirAll(c.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	var result *os.File
	err := c.withRetry(ctx, "download", func(ctx context.Context) error {
		f, err := c.downloadOnce(ctx, rawURL)
		if err != nil {
			return err
		}
		result = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tempFile{File: result}, nil
}

// downloadOnce performs a single download attempt
func (c *Client) downloadOnce(ctx context.Context, rawURL string) (*os.File, error) {
	req, err := c.newRequest(ctx, rawURL, "application/octet-stream")
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode, URL: rawURL}
	}

	tmpFile, err := os.CreateTemp(c.tempDir, ".download-*")
	if err != nil {
		return nil, &permanentError{fmt.Errorf("create temp file: %w", err)}
	}

	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			tmpFile.Close()
			os.Remove(tmpFile.Name())
		}
	}()

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("copy response body: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return nil, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return nil, &permanentError{fmt.Errorf("rewind temp file: %w", err)}
	}

	cleanupNeeded = false
	return tmpFile, nil
}

// fetchSmall reads a small auxiliary document such as a checksum list.
func (c *Client) fetchSmall(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, "fetch", func(ctx context.Context) error {
		req, err := c.newRequest(ctx, rawURL, "")
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &statusError{Code: resp.StatusCode, URL: rawURL}
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		return nil
	})
	return data, err
}

type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	os.Remove(t.File.Name())
	return err
}
