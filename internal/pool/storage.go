package pool

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/domain"
)

// Save writes one host:port line per member, in pool order. Metadata is not
// persisted.
func (p *Pool) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save pool: %w", err)
	}

	if err := p.Write(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("save pool: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("save pool: %w", err)
	}

	log.Info("Saved proxy pool", "path", path, "count", len(p.proxies))
	return nil
}

func (p *Pool) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, proxy := range p.proxies {
		if _, err := fmt.Fprintln(bw, proxy.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FromFile loads a pool written by Save. Blank lines are skipped; any other
// malformed line fails the load.
func FromFile(path string, opts ...Option) (*Pool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	defer file.Close()

	proxies, err := ReadProxies(file)
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", path, err)
	}

	log.Debug("Loaded proxy pool", "path", path, "count", len(proxies))
	return New(proxies, opts...), nil
}

func ReadProxies(r io.Reader) ([]domain.Proxy, error) {
	var proxies []domain.Proxy

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		proxy, err := domain.ParseProxy(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		proxies = append(proxies, proxy)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return proxies, nil
}
