package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"ipreputation/internal/metrics"
	"ipreputation/internal/models"

	zlog "github.com/rs/zerolog/log"
)

// IPWhoisClient queries an ipwho.is-compatible HTTP API. The whole
// payload arrives in one flat JSON object with nested connection and
// timezone blocks; a "success": false body carries the API's own error
// message.
type IPWhoisClient struct {
	baseURL string
	client  *http.Client
}

func NewIPWhoisClient(baseURL string, timeout time.Duration) *IPWhoisClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IPWhoisClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type ipwhoisPayload struct {
	Success       *bool   `json:"success"`
	Message       string  `json:"message"`
	IP            string  `json:"ip"`
	Type          string  `json:"type"`
	Continent     string  `json:"continent"`
	ContinentCode string  `json:"continent_code"`
	Country       string  `json:"country"`
	CountryCode   string  `json:"country_code"`
	Region        string  `json:"region"`
	RegionCode    string  `json:"region_code"`
	City          string  `json:"city"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	IsEU          bool    `json:"is_eu"`
	Postal        string  `json:"postal"`
	CallingCode   string  `json:"calling_code"`
	Capital       string  `json:"capital"`
	Borders       string  `json:"borders"`
	Flag          struct {
		Emoji string `json:"emoji"`
	} `json:"flag"`
	Connection struct {
		ASN    uint   `json:"asn"`
		Org    string `json:"org"`
		ISP    string `json:"isp"`
		Domain string `json:"domain"`
	} `json:"connection"`
	Timezone struct {
		ID          string `json:"id"`
		Abbr        string `json:"abbr"`
		IsDST       bool   `json:"is_dst"`
		Offset      int    `json:"offset"`
		UTC         string `json:"utc"`
		CurrentTime string `json:"current_time"`
	} `json:"timezone"`
}

func (c *IPWhoisClient) Lookup(ctx context.Context, ip string) (*models.GeoResult, error) {
	if _, err := netip.ParseAddr(ip); err != nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidAddress, ip)
	}

	start := time.Now()
	defer func() {
		metrics.MetricGeoLookupDuration.WithLabelValues("ipwhois").Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+ip, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLookupFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: bad status %s", models.ErrLookupFailed, resp.Status)
	}

	var p ipwhoisPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", models.ErrLookupFailed, err)
	}

	if p.Success != nil && !*p.Success {
		msg := p.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: API error: %s", models.ErrLookupFailed, msg)
	}

	zlog.Debug().Str("ip", ip).Str("country", p.Country).Msg("Geo: ipwhois lookup ok")

	var borders []string
	if p.Borders != "" {
		borders = strings.Split(p.Borders, ",")
	}

	return &models.GeoResult{
		IP: ip,
		Location: &models.LocationInfo{
			Type:          p.Type,
			Continent:     p.Continent,
			ContinentCode: p.ContinentCode,
			Country:       p.Country,
			CountryCode:   p.CountryCode,
			Region:        p.Region,
			RegionCode:    p.RegionCode,
			City:          p.City,
			Latitude:      p.Latitude,
			Longitude:     p.Longitude,
			IsEU:          p.IsEU,
			Postal:        p.Postal,
			CallingCode:   p.CallingCode,
			Capital:       p.Capital,
			Borders:       borders,
			CountryFlag:   p.Flag.Emoji,
		},
		Connection: &models.ConnectionInfo{
			ASN:    p.Connection.ASN,
			Org:    p.Connection.Org,
			ISP:    p.Connection.ISP,
			Domain: p.Connection.Domain,
		},
		Timezone: &models.TimezoneInfo{
			ID:          p.Timezone.ID,
			Abbr:        p.Timezone.Abbr,
			IsDST:       p.Timezone.IsDST,
			Offset:      p.Timezone.Offset,
			UTC:         p.Timezone.UTC,
			CurrentTime: p.Timezone.CurrentTime,
		},
	}, nil
}
