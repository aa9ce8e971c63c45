package lookup

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"invoicepos/internal/cache"
	"invoicepos/internal/domain"
)

const (
	scoreExactCode   = 1.0
	scoreCodePrefix  = 0.8
	scoreNamePrefix  = 0.6
	scoreNameContain = 0.4

	DefaultLimit = 10
	maxLimit     = 50
)

type Engine struct {
	cache    cache.LookupCache
	cacheTTL time.Duration
}

func NewEngine(cacheStore cache.LookupCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopLookupCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Search ranks the active products matching query by code and name. stock
// carries the store's on-hand quantity per product id.
func (e *Engine) Search(
	ctx context.Context,
	storeID string,
	query string,
	products []domain.Product,
	stock map[int64]int,
	limit int,
) domain.LookupResponse {
	startedAt := time.Now()
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if query == "" {
		return domain.LookupResponse{
			Matches:   []domain.ProductMatch{},
			LatencyMS: time.Since(startedAt).Milliseconds(),
		}
	}

	cacheKey := buildCacheKey(storeID, query, limit)
	if cached, ok, err := e.cache.GetLookup(ctx, cacheKey); err == nil && ok {
		cached.Cached = true
		cached.LatencyMS = time.Since(startedAt).Milliseconds()
		return *cached
	}

	needle := strings.ToLower(query)
	matches := make([]domain.ProductMatch, 0)
	for _, product := range products {
		if !product.Active {
			continue
		}
		score, matchedOn := scoreProduct(product, needle)
		if score == 0 {
			continue
		}
		matches = append(matches, domain.ProductMatch{
			ProductID:      product.ID,
			Code:           product.Code,
			Name:           product.Name,
			UnitPrice:      product.UnitPrice,
			VATPercent:     product.VATPercent,
			AvailableStock: stock[product.ID],
			Score:          score,
			MatchedOn:      matchedOn,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Name != matches[j].Name {
			return matches[i].Name < matches[j].Name
		}
		return matches[i].ProductID < matches[j].ProductID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	resp := domain.LookupResponse{Query: query, Matches: matches}
	_ = e.cache.SetLookup(ctx, cacheKey, &resp, e.cacheTTL)
	resp.LatencyMS = time.Since(startedAt).Milliseconds()
	return resp
}

func scoreProduct(product domain.Product, needle string) (float64, string) {
	code := strings.ToLower(product.Code)
	name := strings.ToLower(product.Name)

	switch {
	case code != "" && code == needle:
		return scoreExactCode, "code"
	case code != "" && strings.HasPrefix(code, needle):
		return scoreCodePrefix, "code"
	case strings.HasPrefix(name, needle):
		return scoreNamePrefix, "name"
	case strings.Contains(name, needle):
		return scoreNameContain, "name"
	}
	return 0, ""
}

func buildCacheKey(storeID string, query string, limit int) string {
	parts := []string{storeID, strings.ToLower(query), fmt.Sprintf("l:%d", limit)}
	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "pos:lookup:" + hex.EncodeToString(hash[:])
}
