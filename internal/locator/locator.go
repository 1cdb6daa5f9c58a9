// Package locator resolves a human-readable dataset name into a durable
// feature-service query endpoint by driving a headless browser through a
// catalog application whose results render inside nested shadow trees.
package locator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/fetch"
)

// Stage names the navigation state machine's states.
type Stage string

const (
	StageSearchPage  Stage = "search_page"
	StageResults     Stage = "results_resolved"
	StageDatasetPage Stage = "dataset_page_resolved"
	StageDetailsPage Stage = "details_page_resolved"
	StageAPIResolved Stage = "api_resolved"
)

// Reason codes for stage failures.
const (
	ReasonCatalogNotRendered = "catalog_not_rendered"
	ReasonTraversalBroken    = "traversal_broken"
	ReasonCardNotFound       = "card_not_found"
	ReasonAmbiguousMatch     = "ambiguous_match"
	ReasonDetailsLinkMissing = "details_link_missing"
	ReasonAPILinkMissing     = "api_link_missing"
	ReasonNavigationFailed   = "navigation_failed"
)

// LocateError reports which stage failed and why. Locate failures never
// retry automatically; the batch runner logs them and moves on.
type LocateError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *LocateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("locator: stage %s failed (%s): %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("locator: stage %s failed (%s)", e.Stage, e.Reason)
}

func (e *LocateError) Unwrap() error { return e.Err }

func fail(stage Stage, reason string, err error) error {
	return &LocateError{Stage: stage, Reason: reason, Err: err}
}

// Catalog component selectors. The results render behind a chain of shadow
// hosts; an ordinary document query cannot see past the first one.
const (
	selCatalog    = "arcgis-hub-catalog"
	selGallery    = "arcgis-hub-gallery"
	selLayout     = "arcgis-hub-gallery-layout"
	selCard       = "arcgis-hub-content-card"
	selCardLink   = "a.content-title"
	detailsText   = "View Full Details"
	selAPILink    = `a[data-test-id="item-api-link"]`
	selSourceLink = `a[data-test-id="data-source-link"]`
	selLayerLink  = `a[href*="FeatureServer"], a[href*="MapServer"]`
)

// resultsPath is the shadow-host chain from the document down to the
// container holding the result cards.
var resultsPath = []string{selCatalog, selGallery, selLayout}

// Config bounds every wait the locator performs.
type Config struct {
	// BaseURL is the catalog application root, e.g. https://data.gis.ny.gov.
	BaseURL string
	// StageTimeout bounds each navigation stage. Default 20s.
	StageTimeout time.Duration
}

// Locator walks the catalog's navigation state machine over one Page
// session. A Page is exclusively owned and must not be shared.
type Locator struct {
	page Page
	cfg  Config
}

// New creates a Locator over an exclusively-owned page session.
func New(page Page, cfg Config) *Locator {
	if cfg.StageTimeout == 0 {
		cfg.StageTimeout = 20 * time.Second
	}
	return &Locator{page: page, cfg: cfg}
}

// SearchURL builds the category search URL.
func (l *Locator) SearchURL(category string) string {
	return fmt.Sprintf("%s/search?categories=%s",
		strings.TrimSuffix(l.cfg.BaseURL, "/"),
		url.QueryEscape("/categories/"+category))
}

// Locate resolves a dataset's feature query URL. Every stage has a bounded
// wait; every failure carries its stage and reason.
func (l *Locator) Locate(ctx context.Context, category, keywords string) (string, error) {
	log := zap.L().With(
		zap.String("component", "locator"),
		zap.String("keywords", keywords),
	)

	// Stage 1: search page.
	searchURL := l.SearchURL(category)
	log.Info("navigating to search page", zap.String("url", searchURL))
	if err := l.page.Navigate(ctx, searchURL); err != nil {
		return "", fail(StageSearchPage, ReasonCatalogNotRendered, err)
	}
	if err := l.page.WaitVisible(ctx, selCatalog, l.cfg.StageTimeout); err != nil {
		return "", fail(StageSearchPage, ReasonCatalogNotRendered, err)
	}

	// Stage 2: pierce the shadow chain down to the result cards.
	names, err := l.page.ShadowAttrAll(ctx, resultsPath, selCard, "name", l.cfg.StageTimeout)
	if err != nil {
		return "", fail(StageResults, ReasonTraversalBroken, err)
	}

	// Stage 3: deterministic card match, then the card's own shadow content.
	cardName, err := matchCard(names, keywords)
	if err != nil {
		return "", err
	}
	cardSel := fmt.Sprintf("%s[name=%q]", selCard, cardName)
	cardPath := append(append([]string{}, resultsPath...), cardSel)
	datasetURL, err := l.page.ShadowAttr(ctx, cardPath, selCardLink, "href", l.cfg.StageTimeout)
	if err != nil {
		return "", fail(StageDatasetPage, ReasonCardNotFound, err)
	}
	log.Info("dataset page resolved", zap.String("url", datasetURL))

	// Stage 4: dataset page -> full details page.
	if err := l.page.Navigate(ctx, datasetURL); err != nil {
		return "", fail(StageDatasetPage, ReasonNavigationFailed, err)
	}
	detailsURL, err := l.page.HrefByText(ctx, detailsText, l.cfg.StageTimeout)
	if err != nil {
		return "", fail(StageDetailsPage, ReasonDetailsLinkMissing, err)
	}
	if err := l.page.Navigate(ctx, detailsURL); err != nil {
		return "", fail(StageDetailsPage, ReasonNavigationFailed, err)
	}

	// Stage 5: API reference, direct link first, data-source page fallback.
	apiURL, err := l.resolveAPILink(ctx)
	if err != nil {
		return "", err
	}
	log.Info("api resolved", zap.String("url", apiURL))

	// Stage 6: canonical feature query URL.
	return fetch.BuildQueryURL(apiURL), nil
}

// resolveAPILink finds the service base URL on the details page: strategy (a)
// a directly-exposed API link, strategy (b) the data-source page's first
// feature-layer link.
func (l *Locator) resolveAPILink(ctx context.Context) (string, error) {
	apiURL, err := l.page.FirstHref(ctx, selAPILink, l.cfg.StageTimeout)
	if err == nil && apiURL != "" {
		return apiURL, nil
	}

	sourceURL, srcErr := l.page.FirstHref(ctx, selSourceLink, l.cfg.StageTimeout)
	if srcErr != nil || sourceURL == "" {
		return "", fail(StageAPIResolved, ReasonAPILinkMissing, eris.New("no api link and no data source link"))
	}
	if err := l.page.Navigate(ctx, sourceURL); err != nil {
		return "", fail(StageAPIResolved, ReasonNavigationFailed, err)
	}

	layerURL, err := l.page.FirstHref(ctx, selLayerLink, l.cfg.StageTimeout)
	if err != nil || layerURL == "" {
		return "", fail(StageAPIResolved, ReasonAPILinkMissing, err)
	}
	return layerURL, nil
}

// matchCard picks the one card matching keywords: exact match preferred, then
// a unique substring match. Zero matches or more than one is a failure, never
// a non-deterministic pick.
func matchCard(names []string, keywords string) (string, error) {
	for _, n := range names {
		if n == keywords {
			return n, nil
		}
	}

	var subs []string
	lower := strings.ToLower(keywords)
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), lower) {
			subs = append(subs, n)
		}
	}

	switch len(subs) {
	case 1:
		return subs[0], nil
	case 0:
		return "", fail(StageDatasetPage, ReasonCardNotFound,
			eris.Errorf("no card matches %q among %d results", keywords, len(names)))
	default:
		return "", fail(StageDatasetPage, ReasonAmbiguousMatch,
			eris.Errorf("%d cards match %q: %v", len(subs), keywords, subs))
	}
}
