package types

// CacheStats is a point-in-time snapshot of one named cache. HitRate is 0
// when the cache has not been accessed yet.
type CacheStats struct {
	Name      string  `json:"name"`
	Size      int     `json:"size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	MaxSize   int     `json:"max_size"`
	TTLMillis int64   `json:"ttl_millis"`
}
