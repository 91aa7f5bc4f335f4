package geo

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ipreputation/internal/metrics"
	"ipreputation/internal/models"

	"github.com/oschwald/geoip2-golang"
	zlog "github.com/rs/zerolog/log"
)

// MMDBProvider resolves lookups from local GeoLite2 City and ASN
// databases. It is the offline fallback when the HTTP provider is
// unreachable. Readers are hot-swappable after a database refresh.
type MMDBProvider struct {
	dir        string
	mu         sync.RWMutex
	cityReader *geoip2.Reader
	asnReader  *geoip2.Reader
}

func findMMDBPath(dir, filename string) string {
	paths := []string{
		filepath.Join(dir, filename),
		filepath.Join("/usr/share/GeoIP", filename),
		filepath.Join("/tmp", filename),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func NewMMDBProvider(dir string) *MMDBProvider {
	p := &MMDBProvider{dir: dir}
	p.ReloadReaders()
	return p
}

// ReloadReaders reopens the mmdb files, swapping readers in place and
// closing the previous ones. Called after a database refresh.
func (p *MMDBProvider) ReloadReaders() {
	cityPath := findMMDBPath(p.dir, "GeoLite2-City.mmdb")
	if cityPath != "" {
		if reader, err := geoip2.Open(cityPath); err == nil {
			p.mu.Lock()
			old := p.cityReader
			p.cityReader = reader
			p.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			zlog.Info().Str("path", cityPath).Msg("Geo: loaded GeoLite2-City")
		}
	}

	asnPath := findMMDBPath(p.dir, "GeoLite2-ASN.mmdb")
	if asnPath != "" {
		if reader, err := geoip2.Open(asnPath); err == nil {
			p.mu.Lock()
			old := p.asnReader
			p.asnReader = reader
			p.mu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			zlog.Info().Str("path", asnPath).Msg("Geo: loaded GeoLite2-ASN")
		}
	}
}

func (p *MMDBProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cityReader != nil {
		_ = p.cityReader.Close()
		p.cityReader = nil
	}
	if p.asnReader != nil {
		_ = p.asnReader.Close()
		p.asnReader = nil
	}
}

func (p *MMDBProvider) Lookup(ctx context.Context, ipStr string) (*models.GeoResult, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidAddress, ipStr)
	}

	start := time.Now()
	defer func() {
		metrics.MetricGeoLookupDuration.WithLabelValues("mmdb").Observe(time.Since(start).Seconds())
	}()

	p.mu.RLock()
	city, asn := p.cityReader, p.asnReader
	p.mu.RUnlock()

	if city == nil && asn == nil {
		return nil, fmt.Errorf("%w: no GeoLite2 databases available", models.ErrLookupFailed)
	}

	result := &models.GeoResult{
		IP:         ipStr,
		Location:   &models.LocationInfo{},
		Connection: &models.ConnectionInfo{},
		Timezone:   &models.TimezoneInfo{},
	}
	found := false

	if city != nil {
		record, err := city.City(ip)
		if err == nil {
			result.Location.Country = record.Country.Names["en"]
			result.Location.CountryCode = record.Country.IsoCode
			result.Location.Continent = record.Continent.Names["en"]
			result.Location.ContinentCode = record.Continent.Code
			result.Location.City = record.City.Names["en"]
			result.Location.Latitude = record.Location.Latitude
			result.Location.Longitude = record.Location.Longitude
			result.Location.IsEU = record.Country.IsInEuropeanUnion
			result.Location.Postal = record.Postal.Code
			if len(record.Subdivisions) > 0 {
				result.Location.Region = record.Subdivisions[0].Names["en"]
				result.Location.RegionCode = record.Subdivisions[0].IsoCode
			}
			result.Timezone.ID = record.Location.TimeZone
			if result.Location.CountryCode != "" {
				found = true
			}
		}
	}

	if asn != nil {
		record, err := asn.ASN(ip)
		if err == nil && record.AutonomousSystemNumber != 0 {
			result.Connection.ASN = record.AutonomousSystemNumber
			result.Connection.Org = record.AutonomousSystemOrganization
			result.Connection.ISP = record.AutonomousSystemOrganization
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: no record for %s", models.ErrLookupFailed, ipStr)
	}
	return result, nil
}
