package fetch

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the shared download client.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RateLimiters throttles requests per host. Hosts not listed get the
	// default limiter.
	RateLimiters map[string]*rate.Limiter
}

// Client downloads over HTTP(S) with retry, backoff, and per-host rate
// limiting, and over FTP for archive mirrors that still publish that way.
type Client struct {
	http     *http.Client
	opts     Options
	limiters map[string]*rate.Limiter
	fallback *rate.Limiter
}

// NewClient creates a download client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geoharvest/1.0"
	}
	limiters := make(map[string]*rate.Limiter)
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
		fallback: rate.NewLimiter(10, 10),
	}
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return c.fallback
	}
	if lim, ok := c.limiters[u.Host]; ok {
		return lim
	}
	return c.fallback
}

func (c *Client) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := range c.opts.MaxRetries {
		if err := c.limiterFor(req.URL.String()).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("http request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, req.URL.String())
			zap.L().Warn("retryable http status",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		}

		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Get fetches a URL and returns the body and the declared content length
// (-1 when the server omits it).
func (c *Client) Get(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, 0, eris.Wrapf(ErrDownload, "%s: %v", rawURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, eris.Wrapf(ErrDownload, "%s: unexpected status %d", rawURL, resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, nil
}

// DownloadToFile fetches a URL to a local path, logging byte-level progress.
// ftp:// locations are routed to the FTP path; everything else is HTTP(S).
func (c *Client) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, eris.Wrapf(ErrDownload, "%s: %v", rawURL, err)
	}
	if u.Scheme == "ftp" {
		return c.downloadFTP(ctx, rawURL, path)
	}

	body, total, err := c.Get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, newProgressReader(body, total, rawURL))
	if err != nil {
		return n, eris.Wrapf(ErrDownload, "%s: %v", rawURL, err)
	}
	return n, nil
}

// progressReader logs download progress as bytes flow through. When the total
// is unknown (no Content-Length) progress is indeterminate but the copy still
// completes.
type progressReader struct {
	r     io.Reader
	url   string
	total int64
	read  int64
	last  time.Time
}

func newProgressReader(r io.Reader, total int64, url string) *progressReader {
	return &progressReader{r: r, total: total, url: url, last: time.Now()}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)

	if time.Since(p.last) >= 5*time.Second {
		p.last = time.Now()
		fields := []zap.Field{
			zap.String("url", p.url),
			zap.Int64("bytes", p.read),
		}
		if p.total > 0 {
			fields = append(fields, zap.Float64("pct", 100*float64(p.read)/float64(p.total)))
		}
		zap.L().Info("download progress", fields...)
	}
	return n, err
}
