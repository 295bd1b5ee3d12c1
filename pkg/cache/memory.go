// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"sync"
	"time"
)

// Default bounds for the in-process tier.
const (
	defaultMaxKeys       = 10000
	defaultSweepInterval = time.Minute
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryLayer is the in-process tier: a size-capped map with TTLs and a
// periodic expired-entry sweep. It is never the source of truth.
type MemoryLayer struct {
	mu        sync.RWMutex
	items     map[string]memoryItem
	maxKeys   int
	stopSweep chan struct{}
	stopOnce  sync.Once
}

// MemoryConfig holds in-process tier configuration.
type MemoryConfig struct {
	// MaxKeys caps the number of entries. Zero means the default.
	MaxKeys int

	// SweepInterval is how often expired entries are removed. Zero means
	// the default.
	SweepInterval time.Duration
}

// NewMemoryLayer creates the in-process tier and starts its sweeper.
func NewMemoryLayer(cfg MemoryConfig) *MemoryLayer {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	m := &MemoryLayer{
		items:     make(map[string]memoryItem),
		maxKeys:   cfg.MaxKeys,
		stopSweep: make(chan struct{}),
	}
	go m.sweep(cfg.SweepInterval)
	return m
}

// Name implements Layer.
func (*MemoryLayer) Name() string { return LayerMemory }

// Get implements Layer.
func (m *MemoryLayer) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(item.expiresAt) {
		return nil, ErrMiss
	}
	return item.value, nil
}

// Set implements Layer. When the map is full and the key is new, the entry
// is dropped silently: this tier is best-effort by contract.
func (m *MemoryLayer) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxKeys {
		m.evictExpiredLocked()
		if len(m.items) >= m.maxKeys {
			return nil
		}
	}
	m.items[key] = memoryItem{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete implements Layer.
func (m *MemoryLayer) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Close stops the sweeper goroutine.
func (m *MemoryLayer) Close() {
	m.stopOnce.Do(func() { close(m.stopSweep) })
}

// Len reports the current entry count.
func (m *MemoryLayer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryLayer) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.evictExpiredLocked()
			m.mu.Unlock()
		}
	}
}

func (m *MemoryLayer) evictExpiredLocked() {
	now := time.Now()
	for key, item := range m.items {
		if now.After(item.expiresAt) {
			delete(m.items, key)
		}
	}
}
