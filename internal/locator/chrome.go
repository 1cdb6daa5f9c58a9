package locator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BrowserConfig pins the automation browser. All fields are optional;
// defaults run a headless bundled Chrome/Chromium.
type BrowserConfig struct {
	// BinaryPath points at an alternate Chromium-family binary (e.g. Brave).
	BinaryPath string
	// Headful disables headless mode for local debugging.
	Headful bool
	// NavTimeout bounds each page navigation. Default 30s.
	NavTimeout time.Duration
}

// ChromeSession implements Page over one exclusively-owned chromedp browser
// context. Not safe for concurrent locates; one session per batch.
type ChromeSession struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
}

// NewChromeSession launches the browser. The returned session must be closed.
func NewChromeSession(ctx context.Context, cfg BrowserConfig) (*ChromeSession, error) {
	if cfg.NavTimeout == 0 {
		cfg.NavTimeout = 30 * time.Second
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.BinaryPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BinaryPath))
	}
	if cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a bad binary path fails here, not mid-batch.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, eris.Wrap(err, "locator: start browser")
	}

	zap.L().Info("browser session started",
		zap.String("component", "locator.chrome"),
		zap.Bool("headless", !cfg.Headful),
	)

	return &ChromeSession{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		navTimeout: cfg.NavTimeout,
	}, nil
}

// Close tears down the browser.
func (s *ChromeSession) Close() {
	s.cancel()
}

// Navigate loads a URL, bounded by the session's navigation timeout.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, s.navTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return eris.Wrapf(err, "locator: navigate %s", url)
	}
	return nil
}

// WaitVisible waits for a flat-document element to exist.
func (s *ChromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return eris.Wrapf(err, "locator: wait for %s", selector)
	}
	return nil
}

type shadowResult struct {
	Missing string   `json:"missing"`
	Values  []string `json:"values"`
}

// ShadowAttrAll pierces the host chain and collects an attribute from every
// match. Nested components render asynchronously, so the script is polled
// until it succeeds or the bounded wait expires.
func (s *ChromeSession) ShadowAttrAll(ctx context.Context, hostPath []string, selector, attr string, timeout time.Duration) ([]string, error) {
	js := shadowQueryJS(hostPath, selector, attr)

	deadline := time.Now().Add(timeout)
	var lastMissing string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var res shadowResult
		runCtx, cancel := context.WithTimeout(s.ctx, timeout)
		err := chromedp.Run(runCtx, chromedp.Evaluate(js, &res))
		cancel()
		if err != nil {
			return nil, eris.Wrap(err, "locator: shadow query")
		}

		if res.Missing == "" && len(res.Values) > 0 {
			return res.Values, nil
		}
		lastMissing = res.Missing

		if time.Now().After(deadline) {
			if lastMissing != "" {
				return nil, eris.Errorf("locator: level %q never rendered", lastMissing)
			}
			return nil, eris.Errorf("locator: no %s inside %s", selector, strings.Join(hostPath, " > "))
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// ShadowAttr expects exactly one shadow-tree match.
func (s *ChromeSession) ShadowAttr(ctx context.Context, hostPath []string, selector, attr string, timeout time.Duration) (string, error) {
	values, err := s.ShadowAttrAll(ctx, hostPath, selector, attr, timeout)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", eris.Errorf("locator: expected one %s, found %d", selector, len(values))
	}
	return values[0], nil
}

// HrefByText finds the anchor with the given trimmed visible text. Matching
// by accessible text, not layout position, survives page redesigns.
func (s *ChromeSession) HrefByText(ctx context.Context, text string, timeout time.Duration) (string, error) {
	js := fmt.Sprintf(
		`(() => { const a = Array.from(document.querySelectorAll('a')).find(n => n.textContent.trim() === %s); return a ? a.href : ''; })()`,
		strconv.Quote(text))
	return s.pollHref(ctx, js, timeout, "text "+strconv.Quote(text))
}

// FirstHref returns the first anchor matching a flat CSS selector.
func (s *ChromeSession) FirstHref(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	js := fmt.Sprintf(
		`(() => { const a = document.querySelector(%s); return a ? a.href : ''; })()`,
		strconv.Quote(selector))
	return s.pollHref(ctx, js, timeout, selector)
}

func (s *ChromeSession) pollHref(ctx context.Context, js string, timeout time.Duration, what string) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var href string
		runCtx, cancel := context.WithTimeout(s.ctx, timeout)
		err := chromedp.Run(runCtx, chromedp.Evaluate(js, &href))
		cancel()
		if err != nil {
			return "", eris.Wrap(err, "locator: evaluate")
		}
		if href != "" {
			return href, nil
		}

		if time.Now().After(deadline) {
			return "", eris.Errorf("locator: no anchor for %s", what)
		}
		time.Sleep(250 * time.Millisecond)
	}
}
