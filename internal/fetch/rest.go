package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcelworks/geoharvest/internal/feature"
	"github.com/parcelworks/geoharvest/internal/registry"
)

// querySuffix is the standard "all records, all fields, canonical SRID,
// GeoJSON" contract for feature services.
const querySuffix = "/query?where=1%3D1&outFields=*&outSR=4326&f=geojson"

// defaultPageSize is the record count requested per page. Services cap lower;
// the exceededTransferLimit flag drives the pagination loop either way.
const defaultPageSize = 2000

// BuildQueryURL turns a base feature-service URL into the full query URL.
// A base that does not already end in a numeric layer index gets layer 0.
func BuildQueryURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	seg := base[strings.LastIndex(base, "/")+1:]
	if _, err := strconv.Atoi(seg); err != nil {
		base += "/0"
	}
	return base + querySuffix
}

// REST fetches from a paginated feature service.
type REST struct {
	client   *Client
	pageSize int
}

// NewREST creates a REST feature-service fetcher.
func NewREST(client *Client) *REST {
	return &REST{client: client, pageSize: defaultPageSize}
}

// restPage mirrors the pagination fields of a feature-service GeoJSON page.
type restPage struct {
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
	Properties            struct {
		ExceededTransferLimit bool `json:"exceededTransferLimit"`
	} `json:"properties"`
}

// Fetch pages through the service until the transfer-limit flag clears,
// accumulating every page into one set.
func (r *REST) Fetch(ctx context.Context, src registry.Source) (*feature.Set, error) {
	log := zap.L().With(
		zap.String("component", "fetch.rest"),
		zap.String("source", src.ID),
	)

	// Hand-edited descriptors may carry a bare service URL; normalize to
	// the canonical query form before paginating.
	location := src.Location
	if !strings.Contains(location, "/query") {
		location = BuildQueryURL(location)
	}

	var combined *feature.Set
	offset := 0

	for {
		pageURL := fmt.Sprintf("%s&resultOffset=%d&resultRecordCount=%d",
			location, offset, r.pageSize)

		body, total, err := r.client.Get(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(newProgressReader(body, total, pageURL))
		closeErr := body.Close()
		if err != nil {
			return nil, eris.Wrapf(ErrDownload, "%s: %v", pageURL, err)
		}
		if closeErr != nil {
			log.Debug("close response body", zap.Error(closeErr))
		}

		set, err := feature.FromGeoJSON(data, feature.CanonicalSRID)
		if err != nil {
			return nil, eris.Wrapf(ErrParse, "%s: %v", pageURL, err)
		}

		var page restPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, eris.Wrapf(ErrParse, "%s: %v", pageURL, err)
		}

		log.Info("page fetched",
			zap.Int("offset", offset),
			zap.Int("features", len(set.Features)),
		)

		if combined == nil {
			combined = set
		} else {
			mergeSets(combined, set)
		}

		if len(set.Features) == 0 {
			break
		}
		if !page.ExceededTransferLimit && !page.Properties.ExceededTransferLimit {
			break
		}
		offset += len(set.Features)
	}

	log.Info("service fetched", zap.Int("features", len(combined.Features)))
	return combined, nil
}

// mergeSets appends src's features into dst, extending dst's schema with any
// keys the later page introduced.
func mergeSets(dst, src *feature.Set) {
	known := make(map[string]bool, len(dst.Schema.Keys))
	for _, k := range dst.Schema.Keys {
		known[k] = true
	}
	for _, k := range src.Schema.Keys {
		if !known[k] {
			dst.Schema.Keys = append(dst.Schema.Keys, k)
			known[k] = true
		}
		if _, typed := dst.Schema.Types[k]; !typed {
			if t, ok := src.Schema.Types[k]; ok {
				dst.Schema.Types[k] = t
			}
		}
	}
	dst.Features = append(dst.Features, src.Features...)
}
