package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/crop-advisor/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// Limiter paces requests; nil allows 5 per second.
	Limiter *rate.Limiter
}

// HTTPFetcher downloads over HTTP(S), retrying 429s, 5xx responses, and
// transient network errors.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// statusError is a non-200 response.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return http.StatusText(e.code) + " from " + e.url
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "crop-advisor/1.0"
	}
	lim := opts.Limiter
	if lim == nil {
		lim = rate.NewLimiter(5, 5)
	}

	retry := resilience.WithAttempts(opts.MaxRetries, "fetcher.http")
	retry.InitialBackoff = time.Second
	retry.MaxBackoff = 30 * time.Second
	retry.ShouldRetry = func(err error) bool {
		var se *statusError
		if errors.As(err, &se) {
			return se.retryable()
		}
		return resilience.IsTransient(err)
	}

	return &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		limiter: lim,
		retry:   retry,
	}
}

// Download fetches rawURL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (io.ReadCloser, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "http get")
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, &statusError{code: resp.StatusCode, url: req.URL.Redacted()}
		}
		return resp.Body, nil
	})
}

// DownloadToFile implements Fetcher.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck
	return copyToFile(body, path)
}
