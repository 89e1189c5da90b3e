package discovery

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"proxyfinder/internal/domain"
)

// Generator produces the next candidate to probe. It is called concurrently
// from every worker.
type Generator func() domain.Proxy

// RandomGenerator draws four uniform octets and one port out of ports.
func RandomGenerator(ports []uint16) Generator {
	ports = append([]uint16(nil), ports...)
	return func() domain.Proxy {
		return domain.NewProxy(randomIPv4(), ports[rand.IntN(len(ports))])
	}
}

func randomIPv4() string {
	var b strings.Builder
	b.Grow(15)
	for i := range 4 {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(rand.IntN(256)))
	}
	return b.String()
}
