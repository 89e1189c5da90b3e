package pool

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/database"
	"proxyfinder/internal/directory"
	"proxyfinder/internal/domain"
)

// DirectoryLister is the part of the directory client a pool is seeded from.
type DirectoryLister interface {
	List(ctx context.Context, options directory.ListOptions) (*directory.ListResponse, error)
}

// FromDirectory seeds a pool from the directory's list endpoint. A timeout
// while connecting to the directory is reported as ErrUnreachableDirectory.
func FromDirectory(ctx context.Context, lister DirectoryLister, options directory.ListOptions, opts ...Option) (*Pool, error) {
	resp, err := lister.List(ctx, options)
	if err != nil {
		if directory.IsConnectTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrUnreachableDirectory, err)
		}
		return nil, fmt.Errorf("%w: list proxies: %w", ErrPool, err)
	}

	proxies := make([]domain.Proxy, 0, len(resp.Result))
	for _, entry := range resp.Result {
		proxies = append(proxies, entry.Proxy())
	}

	log.Debug("Loaded proxy pool from directory", "count", len(proxies))
	return New(proxies, opts...), nil
}

// Source is anything that can hand over a batch of stored proxies, such as
// the database store or the Redis hand-off queue.
type Source interface {
	LoadProxies(ctx context.Context) ([]domain.Proxy, error)
}

func FromSource(ctx context.Context, source Source, opts ...Option) (*Pool, error) {
	proxies, err := source.LoadProxies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load proxies: %w", ErrPool, err)
	}
	return New(proxies, opts...), nil
}

// FromDatabase seeds a pool from the proxy store.
func FromDatabase(ctx context.Context, filter database.ProxyFilter, opts ...Option) (*Pool, error) {
	return FromSource(ctx, database.Source{Filter: filter}, opts...)
}

// QueueDrainer is the part of the Redis hand-off queue a pool is seeded from.
type QueueDrainer interface {
	Drain(ctx context.Context, max int) ([]domain.Proxy, error)
}

// FromQueue takes up to max proxies off the hand-off queue. A max of zero
// or less takes everything.
func FromQueue(ctx context.Context, queue QueueDrainer, max int, opts ...Option) (*Pool, error) {
	proxies, err := queue.Drain(ctx, max)
	if err != nil {
		return nil, fmt.Errorf("%w: drain queue: %w", ErrPool, err)
	}
	log.Debug("Loaded proxy pool from queue", "count", len(proxies))
	return New(proxies, opts...), nil
}
