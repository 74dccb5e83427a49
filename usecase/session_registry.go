package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/domain"
	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

const (
	DefaultIdleTimeout     = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultMaxSessions     = 1000
)

type RegistryConfig struct {
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	MaxSessions     int
}

type registryEntry struct {
	session      *domain.Session
	lastActivity time.Time
}

// SessionRegistry owns every live Session. Sessions idle longer than
// IdleTimeout are dropped by a background loop, and the least recently used
// session is evicted when MaxSessions is reached.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*registryEntry
	cfg      RegistryConfig
	now      func() time.Time

	cancelCleanup context.CancelFunc
	cleanupDone   chan struct{}
}

func NewSessionRegistry(cfg RegistryConfig) *SessionRegistry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &SessionRegistry{
		sessions:      make(map[string]*registryEntry),
		cfg:           cfg,
		now:           time.Now,
		cancelCleanup: cancel,
		cleanupDone:   make(chan struct{}),
	}
	go r.cleanupLoop(ctx)
	return r
}

// Create registers a new empty session under a fresh id.
func (r *SessionRegistry) Create() *domain.Session {
	session := domain.NewSession(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.cfg.MaxSessions {
		r.evictLRU()
	}
	r.sessions[session.ID()] = &registryEntry{session: session, lastActivity: r.now()}
	return session
}

// Get returns the session and marks it active.
func (r *SessionRegistry) Get(id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	entry.lastActivity = r.now()
	return entry.session, nil
}

func (r *SessionRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown stops the cleanup loop and waits for it to exit.
func (r *SessionRegistry) Shutdown() {
	r.cancelCleanup()
	<-r.cleanupDone
}

func (r *SessionRegistry) cleanupLoop(ctx context.Context) {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanupInactiveSessions()
		}
	}
}

// cleanupInactiveSessions drops idle sessions past the timeout. A session
// with an operation in flight is kept until it settles.
func (r *SessionRegistry) cleanupInactiveSessions() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, entry := range r.sessions {
		if now.Sub(entry.lastActivity) <= r.cfg.IdleTimeout {
			continue
		}
		if entry.session.LoadingState() != domain.LoadingIdle {
			continue
		}
		delete(r.sessions, id)
		removed++
	}

	if removed > 0 {
		log.With(zap.Int("removed", removed), zap.Int("total", len(r.sessions))).
			Info("Cleaned up inactive sessions")
	}
}

// evictLRU drops the least recently used idle session. When every session
// has an operation in flight nothing is evicted and the registry grows past
// MaxSessions until one settles. It must be called with r.mu held for
// writing.
func (r *SessionRegistry) evictLRU() {
	var oldestID string
	var oldest time.Time

	for id, entry := range r.sessions {
		if entry.session.LoadingState() != domain.LoadingIdle {
			continue
		}
		if oldestID == "" || entry.lastActivity.Before(oldest) {
			oldestID = id
			oldest = entry.lastActivity
		}
	}

	if oldestID == "" {
		log.With(zap.Int("total", len(r.sessions))).Warn("Session limit reached with every session busy")
		return
	}

	delete(r.sessions, oldestID)
	log.With(zap.String("session_id", oldestID), zap.Duration("inactive", r.now().Sub(oldest))).
		Info("Evicted least recently used session")
}
