package geolite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
	"golang.org/x/sync/singleflight"

	"proxyfinder/internal/domain"
)

const (
	DataDir          = "data/geolite"
	CityFileName     = "GeoLite2-City.mmdb"
	dnsLookupTimeout = 2 * time.Second
	language         = "en"
)

var ErrUnavailable = errors.New("geolite: city database not loaded")

func FilePath(filename string) string {
	return filepath.Join(DataDir, filename)
}

// Location is what a city lookup yields for one address.
type Location struct {
	Country string
	Region  string
	City    string
}

func (l Location) Empty() bool {
	return l.Country == "" && l.Region == "" && l.City == ""
}

// Locator answers geo lookups from a local GeoLite2-City database. Host
// names are resolved first; concurrent lookups of the same host share one
// resolution.
type Locator struct {
	mu   sync.RWMutex
	city *geoip2.Reader
	path string

	lookups singleflight.Group
}

func Open(path string) (*Locator, error) {
	if path == "" {
		path = FilePath(CityFileName)
	}
	l := &Locator{path: path}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func FromBytes(data []byte) (*Locator, error) {
	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("geolite: %w", err)
	}
	return &Locator{city: reader}, nil
}

// Reload swaps in the database currently on disk.
func (l *Locator) Reload() error {
	if l.path == "" {
		return errors.New("geolite: locator has no file path")
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("geolite: read %s: %w", l.path, err)
	}
	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return fmt.Errorf("geolite: open %s: %w", l.path, err)
	}

	l.mu.Lock()
	old := l.city
	l.city = reader
	l.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Locator) Available() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.city != nil
}

func (l *Locator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.city == nil {
		return nil
	}
	err := l.city.Close()
	l.city = nil
	return err
}

// Lookup resolves host if needed and returns its location.
func (l *Locator) Lookup(ctx context.Context, host string) (Location, error) {
	ip, err := l.resolve(ctx, host)
	if err != nil {
		return Location{}, err
	}
	return l.LookupIP(ip)
}

func (l *Locator) LookupIP(ip net.IP) (Location, error) {
	if !l.Available() {
		return Location{}, ErrUnavailable
	}

	l.mu.RLock()
	record, err := l.city.City(ip)
	l.mu.RUnlock()
	if err != nil {
		return Location{}, fmt.Errorf("geolite: lookup %s: %w", ip, err)
	}

	location := Location{
		Country: record.Country.Names[language],
		City:    record.City.Names[language],
	}
	if len(record.Subdivisions) > 0 {
		location.Region = record.Subdivisions[0].Names[language]
	}
	return location, nil
}

func (l *Locator) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	result, err, _ := l.lookups.Do(host, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dnsLookupTimeout)
		defer cancel()

		addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no addresses for %s", host)
		}
		return addrs[0].IP, nil
	})
	if err != nil {
		return nil, fmt.Errorf("geolite: resolve %s: %w", host, err)
	}
	return result.(net.IP), nil
}

// Annotate fills country, region and city of every proxy that has none yet
// and returns how many were updated.
func (l *Locator) Annotate(ctx context.Context, proxies []domain.Proxy) int {
	var updated int
	for i := range proxies {
		if proxies[i].HasGeo() {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		location, err := l.Lookup(ctx, proxies[i].Host)
		if err != nil {
			log.Debug("Geo lookup failed", "proxy", proxies[i], "error", err)
			continue
		}
		if location.Empty() {
			continue
		}
		proxies[i].SetGeo(location.Country, location.Region, location.City)
		updated++
	}
	return updated
}
