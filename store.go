package signin

import (
	"container/list"
	"sync"
	"time"
)

// TimedStore is a map whose entries expire a fixed lifetime after they were
// set. A capacity above zero bounds the number of entries, evicting the
// least recently used to make room. Expired entries are dropped when next
// seen and are never returned. Safe for concurrent use.
type TimedStore[K comparable, V any] struct {
	mu       sync.Mutex
	lifetime time.Duration
	capacity int
	entries  map[K]*list.Element
	order    *list.List

	now func() time.Time
}

type storeEntry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

// NewTimedStore creates an empty store with the given entry lifetime. A
// capacity of zero or less means unbounded.
func NewTimedStore[K comparable, V any](lifetime time.Duration, capacity int) *TimedStore[K, V] {
	return &TimedStore[K, V]{
		lifetime: lifetime,
		capacity: capacity,
		entries:  map[K]*list.Element{},
		order:    list.New(),
		now:      time.Now,
	}
}

// Set adds or replaces the value for key, restarting its lifetime.
func (s *TimedStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*storeEntry[K, V])
		entry.value = value
		entry.expires = s.now().Add(s.lifetime)
		s.order.MoveToFront(el)
		return
	}

	s.entries[key] = s.order.PushFront(&storeEntry[K, V]{
		key:     key,
		value:   value,
		expires: s.now().Add(s.lifetime),
	})

	if s.capacity > 0 && s.order.Len() > s.capacity {
		s.evict(s.order.Back())
	}
}

// Get returns the value for key if it is still live, marking it as recently
// used.
func (s *TimedStore[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	entry := el.Value.(*storeEntry[K, V])
	if !s.now().Before(entry.expires) {
		s.evict(el)
		var zero V
		return zero, false
	}

	s.order.MoveToFront(el)
	return entry.value, true
}

// Take returns the value for key if it is still live, removing it so that a
// second Take of the same key misses.
func (s *TimedStore[K, V]) Take(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	entry := el.Value.(*storeEntry[K, V])
	s.evict(el)

	if !s.now().Before(entry.expires) {
		var zero V
		return zero, false
	}

	return entry.value, true
}

// Delete removes the entry for key, if present.
func (s *TimedStore[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.evict(el)
	}
}

// Len reports the number of live entries, dropping any that have expired.
func (s *TimedStore[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *list.Element
	for el := s.order.Front(); el != nil; el = next {
		next = el.Next()
		if !now.Before(el.Value.(*storeEntry[K, V]).expires) {
			s.evict(el)
		}
	}

	return s.order.Len()
}

func (s *TimedStore[K, V]) evict(el *list.Element) {
	entry := s.order.Remove(el).(*storeEntry[K, V])
	delete(s.entries, entry.key)
}
