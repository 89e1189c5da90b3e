package runtime

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/database"
	"proxyfinder/internal/domain"
	"proxyfinder/internal/geolite"
)

// RefreshStoredGeo locates stored proxies that have no location yet and
// writes the result back. limit caps the rows scanned, 0 scans all of them.
func RefreshStoredGeo(ctx context.Context, locator *geolite.Locator, limit int) (scanned, updated int, err error) {
	if !locator.Available() {
		return 0, 0, geolite.ErrUnavailable
	}
	start := time.Now()

	proxies, err := database.GetProxies(ctx, database.ProxyFilter{MissingGeo: true, Limit: limit})
	if err != nil {
		return 0, 0, err
	}
	scanned = len(proxies)

	if updated = locator.Annotate(ctx, proxies); updated > 0 {
		located := make([]domain.Proxy, 0, updated)
		for _, proxy := range proxies {
			if proxy.HasGeo() {
				located = append(located, proxy)
			}
		}
		if err := database.SaveProxies(ctx, located); err != nil {
			return scanned, 0, err
		}
	}

	log.Info("Proxy geo refresh completed", "scanned", scanned, "updated", updated, "duration", time.Since(start))
	return scanned, updated, nil
}
