package cache

import (
	"sort"
	"strings"
	"sync"
)

type memCache struct {
	seq     int
	entries map[string]CacheEntry
}

type MemCache struct {
	mutex *sync.RWMutex
	seq   *int
	db    map[string]*memCache
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		seq:   new(int),
		db:    make(map[string]*memCache),
	}
}

// ordered returns the caches sorted by creation. Caller must hold the lock.
func (m MemCache) ordered() []string {
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.db[names[i]].seq < m.db[names[j]].seq
	})
	return names
}

// create adds the cache if needed. Caller must hold the write lock.
func (m MemCache) create(name string) *memCache {
	if c, ok := m.db[name]; ok {
		return c
	}
	*m.seq++
	c := &memCache{seq: *m.seq, entries: make(map[string]CacheEntry)}
	m.db[name] = c
	return c
}

func (m MemCache) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.ordered(), nil
}

func (m MemCache) Create(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.create(name)
	return nil
}

func (m MemCache) Has(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[name]
	return ok, nil
}

func (m MemCache) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[name]
	delete(m.db, name)
	return ok, nil
}

func (m MemCache) All(name, prefix string) ([]CacheEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := m.ordered()
	if name != "" {
		names = []string{name}
	}
	entries := make([]CacheEntry, 0)
	for _, n := range names {
		c, ok := m.db[n]
		if !ok {
			continue
		}
		keys := make([]string, 0)
		for key := range c.entries {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			entry := c.entries[key]
			entry.Cache = n
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m MemCache) Put(name string, entries ...CacheEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c := m.create(name)
	for _, ce := range entries {
		ce.Cache = name
		c.entries[ce.Key] = ce
	}
	return nil
}

func (m MemCache) Purge(name, key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, ok := m.db[name]
	if !ok {
		return false, nil
	}
	_, ok = c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (m MemCache) Keys(name string, cb func(string)) error {
	m.mutex.RLock()
	c, ok := m.db[name]
	keys := make([]string, 0)
	if ok {
		for key := range c.entries {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}
