package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/barekit/docinsights/pkg/memory"
	"github.com/barekit/docinsights/pkg/metrics"
	"github.com/google/uuid"
)

// Manager owns the open sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	indexer         Indexer
	memory          memory.Memory
	metrics         *metrics.Metrics
	ttl             time.Duration
	keepTranscripts bool
	now             func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMemory records transcripts in mem.
func WithMemory(mem memory.Memory) ManagerOption {
	return func(m *Manager) {
		m.memory = mem
	}
}

// WithMetrics reports to mt.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithTTL ends sessions idle for longer than ttl on Sweep.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithKeepTranscripts keeps transcripts in memory after a session ends.
func WithKeepTranscripts(keep bool) ManagerOption {
	return func(m *Manager) {
		m.keepTranscripts = keep
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager building indexes with indexer.
func NewManager(indexer Indexer, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		indexer:  indexer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a session and returns the greeting it starts with.
func (m *Manager) Start() (*Session, Reply) {
	s := newSession(uuid.NewString(), m.indexer, m.memory, m.metrics, m.now)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsStarted.Inc()
		m.metrics.SessionsActive.Inc()
	}
	slog.Info("session started", "session_id", s.ID)
	return s, Reply{State: AwaitingUpload, Messages: []string{Greeting, Welcome}}
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// End closes the session and drops its vector namespace and keyword index.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}
	err := s.Close(ctx)
	if m.memory != nil && !m.keepTranscripts {
		if cerr := m.memory.Clear(ctx, id); cerr != nil && err == nil {
			err = cerr
		}
	}
	slog.Info("session ended", "session_id", id)
	return err
}

// Sweep ends sessions idle since before now minus the TTL and returns how
// many it ended. A zero TTL disables sweeping.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > m.ttl {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	ended := 0
	for _, id := range expired {
		if err := m.End(ctx, id); err != nil && err != ErrNotFound {
			slog.Warn("failed to end idle session", "session_id", id, "error", err)
		}
		ended++
	}
	return ended
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx, m.now()); n > 0 {
				slog.Info("swept idle sessions", "count", n)
			}
		}
	}
}

// Close ends every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.End(ctx, id)
	}
}
