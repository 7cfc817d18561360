// Package cache provides a timestamp-keyed loader cache used for
// per-tenant configuration snapshots.
package cache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

type item[V any] struct {
	value     V
	timestamp int64
}

// DataCache caches loaded values per key until the caller-supplied
// timestamp changes. Concurrent loads of the same key are collapsed
// into one loader call.
type DataCache[K comparable, V any] struct {
	sync.RWMutex
	items      map[K]*item[V]
	loaderLock *singleflight.Group
	loader     func(K) (V, error)
}

func NewDataCache[K comparable, V any](loader func(K) (V, error)) *DataCache[K, V] {
	return &DataCache[K, V]{
		items:      make(map[K]*item[V]),
		loaderLock: &singleflight.Group{},
		loader:     loader,
	}
}

func (c *DataCache[K, V]) get(key K) (*item[V], bool) {
	c.RLock()
	defer c.RUnlock()
	it, ok := c.items[key]
	return it, ok
}

// Get returns the cached value for key if it was loaded at timestamp
// t, loading it otherwise. Load errors are not cached.
func (c *DataCache[K, V]) Get(key K, t int64) (V, error) {
	it, ok := c.get(key)
	if ok && it.timestamp == t {
		return it.value, nil
	}
	strKey := fmt.Sprintf("%v", key)
	res, err, _ := c.loaderLock.Do(strKey, func() (interface{}, error) {
		value, err := c.loader(key)
		if err != nil {
			return value, err
		}
		c.Lock()
		defer c.Unlock()
		c.items[key] = &item[V]{value: value, timestamp: t}
		return value, nil
	})
	if err != nil {
		var v V
		return v, err
	}
	return res.(V), nil
}

func (c *DataCache[K, V]) Remove(key K) {
	c.Lock()
	defer c.Unlock()
	delete(c.items, key)
}
