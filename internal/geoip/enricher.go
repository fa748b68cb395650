// Package geoip resolves an IP address into geographic and network
// metadata using external lookup services.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/krezek/linktrace/internal/models"
)

// Enricher resolves IP metadata. It is a capability interface so the
// accumulator can be tested without network access.
type Enricher interface {
	Enrich(ctx context.Context, ip string) (models.NetworkInfo, error)
}

// Client queries a primary lookup provider and falls back to a secondary
// one. Lookups are bounded by the configured timeout; failures are reported
// to the caller, who is expected to absorb them.
type Client struct {
	primary   string
	secondary string
	httpc     *http.Client
}

// NewClient creates an enricher against the given provider base URLs.
// Empty URLs disable the corresponding provider.
func NewClient(primaryBaseURL, secondaryBaseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		primary:   strings.TrimRight(primaryBaseURL, "/"),
		secondary: strings.TrimRight(secondaryBaseURL, "/"),
		httpc:     &http.Client{Timeout: timeout},
	}
}

// Enrich resolves ip. Private and loopback addresses short-circuit to an
// empty record flagged is_private without touching the network.
func (c *Client) Enrich(ctx context.Context, ip string) (models.NetworkInfo, error) {
	if isPrivate(ip) {
		return models.NetworkInfo{IP: ip, IsPrivate: true}, nil
	}

	info, primaryErr := c.lookupPrimary(ctx, ip)
	if primaryErr == nil {
		return info, nil
	}
	info, secondaryErr := c.lookupSecondary(ctx, ip)
	if secondaryErr == nil {
		return info, nil
	}
	return models.NetworkInfo{IP: ip}, fmt.Errorf("geoip: primary: %v; fallback: %w", primaryErr, secondaryErr)
}

// primaryResponse mirrors the ipapi.co JSON shape.
type primaryResponse struct {
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	RegionCode  string  `json:"region_code"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Continent   string  `json:"continent_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Languages   string  `json:"languages"`
	InEU        bool    `json:"in_eu"`
	ASN         string  `json:"asn"`
	Org         string  `json:"org"`
}

func (c *Client) lookupPrimary(ctx context.Context, ip string) (models.NetworkInfo, error) {
	if c.primary == "" {
		return models.NetworkInfo{}, fmt.Errorf("geoip: primary provider disabled")
	}
	var resp primaryResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s/json/", c.primary, ip), &resp); err != nil {
		return models.NetworkInfo{}, err
	}
	if resp.Error {
		return models.NetworkInfo{}, fmt.Errorf("geoip: provider error: %s", resp.Reason)
	}
	return models.NetworkInfo{
		IP: ip,
		Location: models.GeoLocation{
			City:              resp.City,
			Region:            resp.Region,
			Country:           resp.CountryName,
			Continent:         resp.Continent,
			RegionCode:        resp.RegionCode,
			CountryCode:       resp.CountryCode,
			ContinentCode:     resp.Continent,
			Latitude:          floatString(resp.Latitude),
			Longitude:         floatString(resp.Longitude),
			TimeZone:          resp.Timezone,
			LocaleCode:        resp.Languages,
			IsInEuropeanUnion: resp.InEU,
		},
		Network: models.ASNInfo{
			Network:                      resp.Org,
			AutonomousSystemNumber:       resp.ASN,
			AutonomousSystemOrganization: resp.Org,
		},
	}, nil
}

// secondaryResponse mirrors the ipinfo.io JSON shape.
type secondaryResponse struct {
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
}

func (c *Client) lookupSecondary(ctx context.Context, ip string) (models.NetworkInfo, error) {
	if c.secondary == "" {
		return models.NetworkInfo{}, fmt.Errorf("geoip: fallback provider disabled")
	}
	var resp secondaryResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s/json", c.secondary, ip), &resp); err != nil {
		return models.NetworkInfo{}, err
	}
	lat, lon, _ := strings.Cut(resp.Loc, ",")
	return models.NetworkInfo{
		IP: ip,
		Location: models.GeoLocation{
			City:        resp.City,
			Region:      resp.Region,
			Country:     resp.Country,
			RegionCode:  resp.Region,
			CountryCode: resp.Country,
			Latitude:    lat,
			Longitude:   lon,
			TimeZone:    resp.Timezone,
		},
		Network: models.ASNInfo{
			Network:                      resp.Org,
			AutonomousSystemOrganization: resp.Org,
		},
	}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("geoip: build request: %w", err)
	}
	res, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("geoip: lookup: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("geoip: lookup status %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("geoip: read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("geoip: decode response: %w", err)
	}
	return nil
}

func floatString(f float64) string {
	if f == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
}

func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast()
}
