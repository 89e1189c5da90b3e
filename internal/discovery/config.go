package discovery

import "time"

const (
	DefaultTryURL         = "http://example.com/"
	DefaultCheckTimeout   = 3 * time.Second
	DefaultConnectTimeout = 1 * time.Second

	// Unlimited makes Search produce proxies until the consumer stops.
	Unlimited = -1
)

// DefaultPorts are the candidate ports probed on every random address.
var DefaultPorts = []uint16{8080, 3128}

type Config struct {
	// Threads is the number of search workers. Values below one are raised
	// to one.
	Threads        int
	TryURL         string
	CheckTimeout   time.Duration
	ConnectTimeout time.Duration
	Ports          []uint16
}

// withDefaults fills every unset field. Threads below one become one.
func (c Config) withDefaults() Config {
	if c.Threads < 1 {
		c.Threads = 1
	}
	if c.TryURL == "" {
		c.TryURL = DefaultTryURL
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if len(c.Ports) == 0 {
		c.Ports = DefaultPorts
	}
	c.Ports = append([]uint16(nil), c.Ports...)
	return c
}
