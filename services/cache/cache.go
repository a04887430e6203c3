package cache

// CacheService defines the cooldown cache operations. The worker uses it to
// remember which scrape configurations ran recently so restarts do not
// hammer the same listings again.
type CacheService interface {
	// Get retrieves a value for the given key
	Get(key string) ([]byte, error)

	// Set stores a value with an expiration time in seconds
	Set(key string, value []byte, expiration int32) error

	// Delete removes a value
	Delete(key string) error
}
