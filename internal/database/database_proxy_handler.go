package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"proxyfinder/internal/domain"
)

const insertBatchSize = 500

var ErrNotConfigured = errors.New("database: not configured, call SetupDB first")

// ProxyFilter narrows GetProxies. Zero values do not filter.
type ProxyFilter struct {
	Country    string
	MinScore   float64
	MissingGeo bool
	Limit      int
}

// SaveProxies upserts proxies by host and port. Annotations of an existing
// row are overwritten only by non-empty values.
func SaveProxies(ctx context.Context, proxies []domain.Proxy) error {
	if DB == nil {
		return ErrNotConfigured
	}
	unique := deduplicateProxies(proxies)
	if len(unique) == 0 {
		return nil
	}

	return DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "host"}, {Name: "port"}},
		DoUpdates: clause.Assignments(map[string]any{
			"country":       gorm.Expr("COALESCE(NULLIF(excluded.country, ''), proxies.country)"),
			"region":        gorm.Expr("COALESCE(NULLIF(excluded.region, ''), proxies.region)"),
			"city":          gorm.Expr("COALESCE(NULLIF(excluded.city, ''), proxies.city)"),
			"score":         gorm.Expr("COALESCE(excluded.score, proxies.score)"),
			"last_check_at": gorm.Expr("COALESCE(excluded.last_check_at, proxies.last_check_at)"),
		}),
	}).CreateInBatches(&unique, insertBatchSize).Error
}

// GetProxies returns stored proxies, best score first.
func GetProxies(ctx context.Context, filter ProxyFilter) ([]domain.Proxy, error) {
	if DB == nil {
		return nil, ErrNotConfigured
	}

	query := DB.WithContext(ctx).Model(&domain.Proxy{})
	if filter.Country != "" {
		query = query.Where("LOWER(country) = LOWER(?)", filter.Country)
	}
	if filter.MinScore > 0 {
		query = query.Where("score >= ?", filter.MinScore)
	}
	if filter.MissingGeo {
		query = query.Where("COALESCE(country, '') = '' AND COALESCE(region, '') = '' AND COALESCE(city, '') = ''")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var proxies []domain.Proxy
	err := query.
		Order("score IS NULL").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "score"}, Desc: true}).
		Order("id").
		Find(&proxies).Error
	if err != nil {
		return nil, fmt.Errorf("database: get proxies: %w", err)
	}
	return proxies, nil
}

func CountProxies(ctx context.Context) (int64, error) {
	if DB == nil {
		return 0, ErrNotConfigured
	}
	var count int64
	err := DB.WithContext(ctx).Model(&domain.Proxy{}).Count(&count).Error
	return count, err
}

// DeleteProxies removes the rows matching the given host:port pairs.
func DeleteProxies(ctx context.Context, proxies []domain.Proxy) (int64, error) {
	if DB == nil {
		return 0, ErrNotConfigured
	}
	if len(proxies) == 0 {
		return 0, nil
	}

	var deleted int64
	err := DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, proxy := range deduplicateProxies(proxies) {
			result := tx.Where("host = ? AND port = ?", proxy.Host, proxy.Port).Delete(&domain.Proxy{})
			if result.Error != nil {
				return result.Error
			}
			deleted += result.RowsAffected
		}
		return nil
	})
	return deleted, err
}

// DeleteStaleProxies removes proxies whose last check, or creation when
// never checked, is older than cutoff. Rows carrying neither time are kept.
func DeleteStaleProxies(ctx context.Context, cutoff time.Time) (int64, error) {
	if DB == nil {
		return 0, ErrNotConfigured
	}

	result := DB.WithContext(ctx).
		Where("COALESCE(last_check_at, created_at) < ?", cutoff.UTC()).
		Delete(&domain.Proxy{})
	if result.Error != nil {
		return 0, fmt.Errorf("database: delete stale proxies: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Source loads proxies matching Filter, so a pool can be seeded from the store.
type Source struct {
	Filter ProxyFilter
}

func (s Source) LoadProxies(ctx context.Context) ([]domain.Proxy, error) {
	return GetProxies(ctx, s.Filter)
}

func deduplicateProxies(proxies []domain.Proxy) []domain.Proxy {
	seen := make(map[string]struct{}, len(proxies))
	unique := make([]domain.Proxy, 0, len(proxies))
	for _, p := range proxies {
		key := p.Key()
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		p.ID = 0
		unique = append(unique, p)
	}
	return unique
}
