package geolite

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"proxyfinder/internal/domain"
)

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mmdb"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Open returned %v, want os.ErrNotExist", err)
	}
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	if _, err := FromBytes([]byte("not a maxmind database")); err == nil {
		t.Fatal("FromBytes accepted an invalid database")
	}
}

func TestLookupWithoutDatabase(t *testing.T) {
	var locator Locator
	if _, err := locator.Lookup(context.Background(), "8.8.8.8"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Lookup returned %v, want ErrUnavailable", err)
	}
}

func TestAnnotateSkipsAnnotatedProxies(t *testing.T) {
	var locator Locator
	proxies := []domain.Proxy{
		{Host: "10.0.0.1", Port: 8080, Country: "Germany"},
		domain.NewProxy("10.0.0.2", 3128),
	}

	if n := locator.Annotate(context.Background(), proxies); n != 0 {
		t.Fatalf("Annotate updated %d proxies without a database, want 0", n)
	}
	if proxies[0].Country != "Germany" {
		t.Fatalf("Annotate changed an annotated proxy: %+v", proxies[0])
	}
}

func TestLocationEmpty(t *testing.T) {
	if !(Location{}).Empty() {
		t.Fatal("Empty returned false for a zero location")
	}
	if (Location{City: "Oslo"}).Empty() {
		t.Fatal("Empty returned true for a location with a city")
	}
}

func cityArchive(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{Name: "GeoLite2-City_20240101/GeoLite2-City.mmdb", Mode: 0o644, Size: int64(len(payload)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("write tar header: %v", err)
	}
	if _, err := tw.Write(payload); err != nil {
		t.Fatalf("write tar body: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func TestUpdateCity(t *testing.T) {
	archive := cityArchive(t, []byte("mmdb-bytes"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("license_key") != "secret" || r.URL.Query().Get("edition_id") != "GeoLite2-City" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	original := maxMindDownloadURL
	maxMindDownloadURL = srv.URL
	t.Cleanup(func() { maxMindDownloadURL = original })

	dest := filepath.Join(t.TempDir(), "geo", "GeoLite2-City.mmdb")
	if err := UpdateCity(context.Background(), "secret", dest); err != nil {
		t.Fatalf("UpdateCity returned error: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "mmdb-bytes" {
		t.Fatalf("downloaded file contained %q", data)
	}

	if err := UpdateCity(context.Background(), "wrong", dest); err == nil {
		t.Fatal("UpdateCity succeeded with a rejected license key")
	}
}

func TestUpdateCityWithoutKey(t *testing.T) {
	if err := UpdateCity(context.Background(), "  ", ""); !errors.Is(err, ErrNoLicenseKey) {
		t.Fatalf("UpdateCity returned %v, want ErrNoLicenseKey", err)
	}
}
