package geo

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"ipreputation/internal/config"

	zlog "github.com/rs/zerolog/log"
)

// Updater downloads GeoLite2 databases from MaxMind using account
// credentials from config. The worker schedules it periodically; the
// mmdb provider reloads its readers afterwards.
type Updater struct {
	cfg *config.Config
}

func NewUpdater(cfg *config.Config) *Updater {
	return &Updater{cfg: cfg}
}

func (u *Updater) dbPath(edition string) string {
	filename := edition + ".mmdb"
	dir := u.cfg.GeoIPDir

	if err := os.MkdirAll(dir, 0o755); err != nil {
		zlog.Warn().Err(err).Str("dir", dir).Msg("Geo: database dir not creatable, falling back to /tmp")
		return filepath.Join("/tmp", filename)
	}

	testFile := filepath.Join(dir, ".permtest")
	f, err := os.Create(testFile)
	if err != nil {
		zlog.Warn().Err(err).Str("dir", dir).Msg("Geo: database dir not writable, falling back to /tmp")
		return filepath.Join("/tmp", filename)
	}
	f.Close()
	_ = os.Remove(testFile)

	return filepath.Join(dir, filename)
}

// Download fetches one edition (GeoLite2-City or GeoLite2-ASN) and
// unpacks the mmdb file into the configured directory.
func (u *Updater) Download(edition string) error {
	accountID := u.cfg.GeoIPAccountID
	licenseKey := u.cfg.GeoIPLicenseKey

	if accountID == "" || licenseKey == "" {
		return fmt.Errorf("MaxMind credentials missing")
	}

	url := fmt.Sprintf("https://download.maxmind.com/geoip/databases/%s/download?suffix=tar.gz", edition)
	zlog.Info().Str("edition", edition).Msg("Geo: downloading database")

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(accountID, licenseKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	gzr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if strings.HasSuffix(header.Name, ".mmdb") {
			destPath := u.dbPath(edition)
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return err
			}

			outFile, err := os.Create(destPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return err
			}
			outFile.Close()
			zlog.Info().Str("path", destPath).Msg("Geo: database updated")
			return nil
		}
	}

	return fmt.Errorf("mmdb not found in archive")
}
