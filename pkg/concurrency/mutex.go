// Package concurrency holds the shared locking and sharding primitives used
// across the Paxos roles: a per-slot sharded map for Acceptor state, a
// consistent-hash ring for gateway read routing, and instrumented mutexes
// that can report lock-hold time without changing their locking semantics.
package concurrency

import (
	"sync"
	"time"

	"github.com/paxoskv/paxoskv/pkg/logger"
)

// MutexConfig names a mutex for diagnostics and optionally enables
// lock-hold-time logging.
type MutexConfig struct {
	Name      string
	DebugMode bool
}

// SmartMutex is a sync.Mutex that can report how long each critical section
// was held, when DebugMode is set. With DebugMode off it is a thin, zero
// overhead wrapper.
type SmartMutex struct {
	mu      sync.Mutex
	cfg     MutexConfig
	lockAt  time.Time
}

func NewSmartMutex(cfg MutexConfig) *SmartMutex {
	if cfg.Name == "" {
		cfg.Name = "mutex"
	}
	return &SmartMutex{cfg: cfg}
}

func (m *SmartMutex) Lock() {
	m.mu.Lock()
	if m.cfg.DebugMode {
		m.lockAt = time.Now()
	}
}

func (m *SmartMutex) Unlock() {
	if m.cfg.DebugMode && !m.lockAt.IsZero() {
		held := time.Since(m.lockAt)
		logger.L().Debug("mutex released", "name", m.cfg.Name, "held", held)
	}
	m.mu.Unlock()
}

// SmartRWMutex is a sync.RWMutex with the same opt-in diagnostics.
type SmartRWMutex struct {
	mu     sync.RWMutex
	cfg    MutexConfig
	lockAt time.Time
}

func NewSmartRWMutex(cfg MutexConfig) *SmartRWMutex {
	if cfg.Name == "" {
		cfg.Name = "rwmutex"
	}
	return &SmartRWMutex{cfg: cfg}
}

func (m *SmartRWMutex) Lock() {
	m.mu.Lock()
	if m.cfg.DebugMode {
		m.lockAt = time.Now()
	}
}

func (m *SmartRWMutex) Unlock() {
	if m.cfg.DebugMode && !m.lockAt.IsZero() {
		held := time.Since(m.lockAt)
		logger.L().Debug("rwmutex write-released", "name", m.cfg.Name, "held", held)
	}
	m.mu.Unlock()
}

func (m *SmartRWMutex) RLock() {
	m.mu.RLock()
}

func (m *SmartRWMutex) RUnlock() {
	m.mu.RUnlock()
}
