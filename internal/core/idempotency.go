package core

import (
	"container/list"
	"fmt"
)

// RequestChecker implements two-tier request deduplication
type RequestChecker struct {
	// Tier 1: In-memory LRU
	lru *RequestLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBRequestChecker

	// Metrics
	metrics *RequestCheckerMetrics
}

// DBRequestChecker is the interface for Postgres dedup lookup
type DBRequestChecker interface {
	IsDuplicate(op string, requestID string) (bool, error)
}

func NewRequestChecker(capacity int, dbChecker DBRequestChecker) *RequestChecker {
	return &RequestChecker{
		lru:       NewRequestLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewRequestCheckerMetrics(),
	}
}

// IsDuplicate checks if the request has been processed (two-tier lookup)
func (rc *RequestChecker) IsDuplicate(op string, requestID string) bool {
	compositeKey := fmt.Sprintf("%s:%s", op, requestID)

	// Tier 1: LRU check (hot path)
	if rc.lru.Contains(compositeKey) {
		rc.metrics.RecordDuplicate(op, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if rc.dbChecker != nil {
		isDup, err := rc.dbChecker.IsDuplicate(op, requestID)
		if err != nil {
			// Conservative on DB error: assume not duplicate so a DB
			// outage cannot block operation processing.
			rc.metrics.RecordTier2Error()
			return false
		}

		if isDup {
			rc.metrics.RecordDuplicate(op, "postgres")
			// Add to LRU so we don't hit DB again
			rc.lru.Add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after successful processing
func (rc *RequestChecker) MarkProcessed(op string, requestID string) {
	compositeKey := fmt.Sprintf("%s:%s", op, requestID)
	rc.lru.Add(compositeKey)
}

// GetMetrics returns metrics for monitoring
func (rc *RequestChecker) GetMetrics() *RequestCheckerMetrics {
	return rc.metrics
}

// --- LRU Implementation ---

// RequestLRU is an LRU cache for request keys.
// Not thread-safe — only accessed under the engine's operation lock.
type RequestLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64 // For metrics
}

type lruEntry struct {
	key string
}

func NewRequestLRU(capacity int) *RequestLRU {
	return &RequestLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *RequestLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *RequestLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *RequestLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of composite keys into the LRU.
// On restart, recent request keys from Postgres are loaded so the
// hot path does not fall through to the DB for recent requests.
func (lru *RequestLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// GetAllKeys returns every cached composite key (newest first)
func (lru *RequestLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *RequestLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *RequestLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// RequestCheckerMetrics tracks dedup stats.
// Not thread-safe — only accessed under the engine's operation lock.
type RequestCheckerMetrics struct {
	duplicatesLRU      map[string]int64 // op -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewRequestCheckerMetrics() *RequestCheckerMetrics {
	return &RequestCheckerMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *RequestCheckerMetrics) RecordDuplicate(op string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[op]++
	} else {
		m.duplicatesPostgres[op]++
	}
}

func (m *RequestCheckerMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *RequestCheckerMetrics) GetDuplicates(op string) (lru int64, postgres int64) {
	return m.duplicatesLRU[op], m.duplicatesPostgres[op]
}

func (m *RequestCheckerMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
