package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidProxy = errors.New("invalid proxy")

// Proxy identifies one proxy endpoint. Only Host and Port take part in
// identity; the remaining fields are annotations filled in after construction.
type Proxy struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	Host string `gorm:"size:255;not null;uniqueIndex:idx_proxy_addr,priority:1" json:"host"`
	Port uint16 `gorm:"not null;uniqueIndex:idx_proxy_addr,priority:2" json:"port"`

	Country string `gorm:"size:56;default:''" json:"country,omitempty"`
	Region  string `gorm:"size:128;default:''" json:"region,omitempty"`
	City    string `gorm:"size:128;default:''" json:"city,omitempty"`

	Score       *float64   `json:"score,omitempty"`
	CreatedAt   *time.Time `gorm:"autoCreateTime:false" json:"created_at,omitempty"`
	LastCheckAt *time.Time `json:"last_check_at,omitempty"`
}

func NewProxy(host string, port uint16) Proxy {
	return Proxy{Host: host, Port: port}
}

// ParseProxy reads a "host:port" line. The line is split on the first colon
// only, so IPv6 literals cannot be expressed in this format.
func ParseProxy(line string) (Proxy, error) {
	host, rawPort, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found {
		return Proxy{}, fmt.Errorf("%w: missing port in %q", ErrInvalidProxy, line)
	}
	if host == "" {
		return Proxy{}, fmt.Errorf("%w: missing host in %q", ErrInvalidProxy, line)
	}

	port, err := strconv.ParseUint(strings.TrimSpace(rawPort), 10, 16)
	if err != nil {
		return Proxy{}, fmt.Errorf("%w: bad port in %q: %w", ErrInvalidProxy, line, err)
	}

	return NewProxy(host, uint16(port)), nil
}

func (proxy Proxy) Key() string {
	return proxy.Host + ":" + strconv.Itoa(int(proxy.Port))
}

func (proxy Proxy) String() string {
	return proxy.Key()
}

// URL is the address used when the endpoint acts as an HTTP proxy.
func (proxy Proxy) URL() string {
	return "http://" + proxy.Key()
}

func (proxy Proxy) Equal(other Proxy) bool {
	return proxy.Host == other.Host && proxy.Port == other.Port
}

func (proxy Proxy) HasGeo() bool {
	return proxy.Country != "" || proxy.Region != "" || proxy.City != ""
}

func (proxy *Proxy) SetGeo(country, region, city string) {
	proxy.Country = country
	proxy.Region = region
	proxy.City = city
}

func (proxy *Proxy) MarkChecked(at time.Time) {
	at = at.UTC()
	if proxy.CreatedAt == nil {
		created := at
		proxy.CreatedAt = &created
	}
	proxy.LastCheckAt = &at
}
