package locator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Page is the minimal browser surface the state machine needs. The chromedp
// implementation lives in chrome.go; tests drive the machine with an
// in-memory fake. Every method is bounded: implementations must respect the
// timeout and never poll forever.
type Page interface {
	// Navigate loads a URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error

	// WaitVisible waits for a flat-document element to exist.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// ShadowAttrAll descends the shadow-host chain hostPath (each selector
	// resolved inside the previous host's shadow root), queries selector
	// inside the innermost shadow root, and returns the named attribute of
	// every match.
	ShadowAttrAll(ctx context.Context, hostPath []string, selector, attr string, timeout time.Duration) ([]string, error)

	// ShadowAttr is ShadowAttrAll for exactly one expected element.
	ShadowAttr(ctx context.Context, hostPath []string, selector, attr string, timeout time.Duration) (string, error)

	// HrefByText returns the target of the anchor whose trimmed visible text
	// equals text.
	HrefByText(ctx context.Context, text string, timeout time.Duration) (string, error)

	// FirstHref returns the target of the first anchor matching a flat or
	// light-DOM CSS selector, or empty string if none exists.
	FirstHref(ctx context.Context, selector string, timeout time.Duration) (string, error)
}

// shadowQueryJS builds the one traversal script used for every shadow-tree
// lookup: descend the host chain, piercing each shadow boundary explicitly,
// then collect an attribute from all matches of the final selector. The
// script reports the selector of the first missing level so failures name
// the broken layer.
func shadowQueryJS(hostPath []string, selector, attr string) string {
	var b strings.Builder
	b.WriteString("(() => {\n")
	b.WriteString("  let el = document;\n")
	for i, host := range hostPath {
		q := strconv.Quote(host)
		if i == 0 {
			fmt.Fprintf(&b, "  el = el.querySelector(%s);\n", q)
		} else {
			fmt.Fprintf(&b, "  el = el.shadowRoot ? el.shadowRoot.querySelector(%s) : null;\n", q)
		}
		fmt.Fprintf(&b, "  if (!el) return {missing: %s};\n", q)
	}
	fmt.Fprintf(&b, "  if (!el.shadowRoot) return {missing: %s + '::shadow-root'};\n",
		strconv.Quote(hostPath[len(hostPath)-1]))
	fmt.Fprintf(&b, "  const nodes = el.shadowRoot.querySelectorAll(%s);\n", strconv.Quote(selector))
	fmt.Fprintf(&b, "  return {values: Array.from(nodes).map(n => n.getAttribute(%s) || n[%s] || '')};\n",
		strconv.Quote(attr), strconv.Quote(attr))
	b.WriteString("})()")
	return b.String()
}
