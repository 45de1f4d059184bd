// Package geocode resolves trial location text (city/state/country) to
// lat/long coordinates via OpenStreetMap Nominatim, so the map renderer
// (an external collaborator) can plot trials without geocoding them
// itself. Lookups are cached in GeocodeRepo; a location already
// resolved (or already known unresolvable) is never looked up twice.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/globaltrial/registry-pipeline/internal/domain"
	"github.com/globaltrial/registry-pipeline/internal/platform/httpclient"
	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/platform/ratelimit"
	"github.com/globaltrial/registry-pipeline/internal/repos"
)

// registryName is the ratelimit.Registry bucket key geocoding shares
// with the scraper registries, configured to §4.1's 1 req/sec budget.
const registryName = "geocode"

// nominatimBaseURL is a var, not a const, so tests can point it at a
// local httptest.Server.
var nominatimBaseURL = "https://nominatim.openstreetmap.org/search"

// Client geocodes location text through Nominatim, caching results in
// Postgres so repeated calls for the same facility never re-hit the
// API.
type Client struct {
	log       *logger.Logger
	http      *httpclient.Client
	cache     *repos.GeocodeRepo
	userAgent string
}

// New configures the shared rate-limit registry's "geocode" bucket at
// 1 req/sec (60/min) and wraps it in an httpclient.Client, matching
// the same registry-scoped retry/backoff behavior every other registry
// adapter gets.
func New(log *logger.Logger, limiter *ratelimit.Registry, cache *repos.GeocodeRepo, userAgent string) *Client {
	limiter.Configure(registryName, 60)
	if strings.TrimSpace(userAgent) == "" {
		userAgent = "registry-pipeline/1.0 (geocoding)"
	}
	return &Client{
		log:       log.With("component", "geocode_client"),
		http:      httpclient.New(registryName, limiter, log),
		cache:     cache,
		userAgent: userAgent,
	}
}

// Resolve returns the lat/long for loc, consulting the cache first.
// A cache hit for a previously-unresolvable location returns
// (nil, nil, nil) without spending any API budget.
func (c *Client) Resolve(ctx context.Context, loc domain.Location) (lat, lng *float64, err error) {
	key := locationKey(loc)
	if key == "" {
		return nil, nil, nil
	}

	cached, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("load geocode cache: %w", err)
	}
	if cached != nil {
		return cached.Latitude, cached.Longitude, nil
	}

	query := locationQuery(loc)
	lat, lng, lookupErr := c.lookup(ctx, query)

	entry := domain.GeocodeCache{
		LocationKey: key,
		Query:       query,
		Latitude:    lat,
		Longitude:   lng,
		Resolved:    lookupErr == nil && lat != nil,
	}
	if err := c.cache.Put(ctx, entry); err != nil {
		c.log.Warn("geocode cache write failed", "location_key", key, "error", err)
	}
	if lookupErr != nil {
		return nil, nil, lookupErr
	}
	return lat, lng, nil
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (c *Client) lookup(ctx context.Context, query string) (*float64, *float64, error) {
	if query == "" {
		return nil, nil, nil
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nominatimBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read nominatim response: %w", err)
	}

	var results []nominatimResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, nil, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("parse nominatim latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("parse nominatim longitude: %w", err)
	}
	return &lat, &lon, nil
}

func locationKey(loc domain.Location) string {
	return strings.ToLower(strings.Join([]string{loc.Facility, loc.City, loc.State, loc.Country}, "|"))
}

func locationQuery(loc domain.Location) string {
	parts := make([]string, 0, 4)
	for _, v := range []string{loc.Facility, loc.City, loc.State, loc.Country} {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, ", ")
}
