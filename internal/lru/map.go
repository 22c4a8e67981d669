// Copyright (c) 2018-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package lru provides a bounded, concurrent safe least-recently-used map.
package lru

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	k K
	v V
}

// Map implements a least-recently-used (LRU) map with nearly O(1) lookups and
// inserts.  Items are added up to a limit, at which point further additions
// evict the least recently used item.  The zero value is not valid and Maps
// must be created with NewMap.  All Map methods are concurrent safe.
type Map[K comparable, V any] struct {
	mu    sync.Mutex
	m     map[K]*list.Element
	list  *list.List
	limit int
}

// NewMap creates an initialized and empty LRU map holding at most limit items.
// A limit below one is treated as one.
func NewMap[K comparable, V any](limit int) *Map[K, V] {
	if limit < 1 {
		limit = 1
	}
	return &Map[K, V]{
		m:     make(map[K]*list.Element, limit),
		list:  list.New(),
		limit: limit,
	}
}

// Put records value under key, replacing any existing value and marking it
// as the most recently used item.  The least recently used item is evicted
// when the map is full.
func (m *Map[K, V]) Put(key K, value V) {
	defer m.mu.Unlock()
	m.mu.Lock()

	if elem, ok := m.m[key]; ok {
		elem.Value.(*entry[K, V]).v = value
		m.list.MoveToFront(elem)
		return
	}

	if len(m.m) >= m.limit {
		if back := m.list.Back(); back != nil {
			e := m.list.Remove(back).(*entry[K, V])
			delete(m.m, e.k)
		}
	}

	m.m[key] = m.list.PushFront(&entry[K, V]{k: key, v: value})
}

// Get fetches the value under key, marking it as the most recently used item.
// The second return value reports whether the key was present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	defer m.mu.Unlock()
	m.mu.Lock()

	elem, ok := m.m[key]
	if !ok {
		var zero V
		return zero, false
	}
	m.list.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).v, true
}

// Remove deletes key from the map if present.
func (m *Map[K, V]) Remove(key K) {
	m.mu.Lock()
	if elem, ok := m.m[key]; ok {
		m.list.Remove(elem)
		delete(m.m, key)
	}
	m.mu.Unlock()
}

// Len returns the number of items held.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	n := len(m.m)
	m.mu.Unlock()
	return n
}
