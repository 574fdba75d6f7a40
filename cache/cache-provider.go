package cache

import (
	"time"
)

// CacheProvider is an interface for a cache store provider.
// It keeps any number of named caches, each of which maps keys to []byte values
// representing HTTP responses. Caches are ordered by the time they were created,
// which is the order in which they are searched when matching across all caches.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Names returns the names of all caches, in the order they were created.
	Names() ([]string, error)
	// Create creates an empty cache with the given name if it does not exist yet.
	Create(name string) error
	// Has checks if a cache with the given name exists.
	Has(name string) (bool, error)
	// Delete removes the named cache along with all of its entries.
	// It returns false if there was no such cache.
	Delete(name string) (bool, error)
	// All returns the entries of the named cache whose keys have the given prefix.
	// If name is empty, the entries of all caches are returned, ordered by cache creation.
	All(name, prefix string) ([]CacheEntry, error)
	// Put stores the given entries in the named cache, creating the cache if needed.
	// Either all entries are stored or none are.
	Put(name string, entries ...CacheEntry) error
	// Purge removes the entry with the given key from the named cache.
	// It returns false if there was no such entry.
	Purge(name, key string) (bool, error)
	// Keys calls the given callback for each key in the named cache.
	Keys(name string, cb func(string)) error
	// Close releases the resources held by the provider.
	Close() error
}

// CacheEntry is a single stored response.
type CacheEntry struct {
	// Name of the cache holding the entry. Set by the provider when reading.
	Cache       string
	Key         string
	RequestedAt time.Time
	ReceivedAt  time.Time
	Bytes       []byte
}

// Storage is the cache store. It hands out named caches and matches
// keys across all of them.
type Storage struct {
	provider CacheProvider
}

// NewStorage creates a cache store on top of the given provider.
func NewStorage(provider CacheProvider) *Storage {
	return &Storage{provider: provider}
}

// Open returns the cache with the given name, creating it if it does not exist.
func (s *Storage) Open(name string) (*Cache, error) {
	if err := s.provider.Create(name); err != nil {
		return nil, err
	}
	return &Cache{name: name, provider: s.provider}, nil
}

// Has checks if a cache with the given name exists.
func (s *Storage) Has(name string) (bool, error) {
	return s.provider.Has(name)
}

// Delete removes the named cache. It returns false if there was no such cache.
func (s *Storage) Delete(name string) (bool, error) {
	return s.provider.Delete(name)
}

// Names returns the names of all caches, oldest first.
func (s *Storage) Names() ([]string, error) {
	return s.provider.Names()
}

// Match returns all entries with the given key prefix across all caches,
// in the order the caches were created.
func (s *Storage) Match(prefix string) ([]CacheEntry, error) {
	return s.provider.All("", prefix)
}

// Close closes the underlying provider.
func (s *Storage) Close() error {
	return s.provider.Close()
}

// Cache is a handle to a single named cache.
type Cache struct {
	name     string
	provider CacheProvider
}

// Name returns the name of the cache.
func (c *Cache) Name() string {
	return c.name
}

// Put stores the entries in this cache, all or nothing.
func (c *Cache) Put(entries ...CacheEntry) error {
	return c.provider.Put(c.name, entries...)
}

// Match returns the entries of this cache with the given key prefix.
func (c *Cache) Match(prefix string) ([]CacheEntry, error) {
	return c.provider.All(c.name, prefix)
}

// Delete removes a single entry from this cache.
func (c *Cache) Delete(key string) (bool, error) {
	return c.provider.Purge(c.name, key)
}

// Keys returns all keys of this cache.
func (c *Cache) Keys() ([]string, error) {
	keys := make([]string, 0)
	err := c.provider.Keys(c.name, func(key string) {
		keys = append(keys, key)
	})
	return keys, err
}
