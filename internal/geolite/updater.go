package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	cityEditionID = "GeoLite2-City"
	userAgent     = "proxyfinder-geolite-updater/1.0"
)

var (
	// Overridden in tests.
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"

	updateGroup singleflight.Group
	httpClient  = &http.Client{Timeout: 2 * time.Minute}
)

// ErrNoLicenseKey indicates that the MaxMind license key has not been configured.
var ErrNoLicenseKey = errors.New("geolite: license key is not configured")

// UpdateCity downloads the current GeoLite2-City database to destPath.
// Concurrent calls share one download.
func UpdateCity(ctx context.Context, licenseKey, destPath string) error {
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return ErrNoLicenseKey
	}
	if destPath == "" {
		destPath = FilePath(CityFileName)
	}

	_, err, _ := updateGroup.Do(destPath, func() (interface{}, error) {
		if err := downloadEdition(ctx, licenseKey, cityEditionID, destPath); err != nil {
			return nil, err
		}
		log.Info("GeoLite database updated", "edition", cityEditionID, "path", destPath)
		return nil, nil
	})
	return err
}

func downloadEdition(ctx context.Context, licenseKey, editionID, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildDownloadURL(licenseKey, editionID), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", editionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", editionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", editionID, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", editionID, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != editionID+".mmdb" {
			continue
		}

		if err := writeToFile(destPath, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", editionID, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", editionID)
}

// writeToFile replaces destPath atomically through a temp file in the same directory.
func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	return nil
}

func buildDownloadURL(licenseKey, edition string) string {
	query := url.Values{}
	query.Set("edition_id", edition)
	query.Set("license_key", licenseKey)
	query.Set("suffix", "tar.gz")
	return maxMindDownloadURL + "?" + query.Encode()
}
