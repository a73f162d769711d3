package models

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// CacheKey identifies a cached analysis. It is fully determined by the
// content fingerprint, the analysis category and the requester role.
type CacheKey struct {
	Fingerprint string `json:"fingerprint"`
	Category    string `json:"category"`
	Role        string `json:"role"`
}

// String renders the key as fingerprint_category_role. Each component is
// escaped so that the rendering stays unique even when a category or role
// contains an underscore.
func (k CacheKey) String() string {
	return escapeKeyPart(k.Fingerprint) + "_" + escapeKeyPart(k.Category) + "_" + escapeKeyPart(k.Role)
}

func escapeKeyPart(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "_", "%5F")
}

// CacheEntry is a stored analysis result. Entries are never mutated after
// they are written.
type CacheEntry struct {
	CreatedAt time.Time
	Analysis  string
}

// cacheEntryJSON is the persisted record layout: createdAt in epoch millis.
type cacheEntryJSON struct {
	CreatedAt int64  `json:"createdAt"`
	Analysis  string `json:"analysis"`
}

// MarshalJSON encodes the entry as {"createdAt": <epoch ms>, "analysis": "..."}.
func (e CacheEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(cacheEntryJSON{
		CreatedAt: e.CreatedAt.UnixMilli(),
		Analysis:  e.Analysis,
	})
}

// UnmarshalJSON decodes the persisted record layout.
func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	var raw cacheEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.CreatedAt = time.UnixMilli(raw.CreatedAt).UTC()
	e.Analysis = raw.Analysis
	return nil
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Backend       string        `json:"backend"`
	Entries       int64         `json:"entries"`
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	Errors        int64         `json:"errors"`
	StoreFailures int64         `json:"store_failures"`
	TTL           time.Duration `json:"ttl"`
}
