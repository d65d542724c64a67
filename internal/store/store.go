// Package store persists session state to Redis so sessions survive process
// restarts. Persistence is best-effort: Redis being down degrades every
// operation to an in-process map and never surfaces an error to callers.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/metrics"
	"github.com/groupchatllm/orchestrator/internal/models"
)

// Key namespaces. Every keyed entry carries the session TTL, renewed on
// write; the active-sessions set is unexpiring.
const (
	sessionKeyPrefix      = "session:"
	memoryKeyPrefix       = "memory:"
	orchestratorKeyPrefix = "orchestrator:"
	activeSessionsKey     = "active_sessions"

	sessionTTL = 24 * time.Hour
)

// Store persists sessions, memory snapshots, and orchestrator state.
type Store struct {
	rdb    redis.UniversalClient
	logger *zap.Logger

	mu       sync.RWMutex
	local    map[string][]byte
	localSet map[string]struct{}
}

// New connects to Redis at the given URL. A failed connection is logged and
// the store runs on the in-process fallback; the client is kept so later
// operations recover if Redis comes back.
func New(redisURL string, logger *zap.Logger) *Store {
	s := &Store{
		logger:   logger,
		local:    make(map[string][]byte),
		localSet: make(map[string]struct{}),
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("Invalid Redis URL, running on in-process store only", zap.Error(err))
		return s
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, falling back to in-process store", zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("addr", opts.Addr))
	}
	s.rdb = rdb
	return s
}

// NewWithClient wires an existing client. Used by tests with miniredis.
func NewWithClient(cli redis.UniversalClient, logger *zap.Logger) *Store {
	return &Store{
		rdb:      cli,
		logger:   logger,
		local:    make(map[string][]byte),
		localSet: make(map[string]struct{}),
	}
}

// Client exposes the underlying Redis client for components that share the
// connection (the embedding cache). Nil when no client was configured.
func (s *Store) Client() redis.UniversalClient {
	return s.rdb
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) set(ctx context.Context, op, key string, value []byte) {
	s.mu.Lock()
	s.local[key] = value
	s.mu.Unlock()

	if s.rdb == nil {
		metrics.StoreFallbacks.Inc()
		return
	}
	if err := s.rdb.Set(ctx, key, value, sessionTTL).Err(); err != nil {
		metrics.StoreOperations.WithLabelValues(op, "error").Inc()
		metrics.StoreFallbacks.Inc()
		s.logger.Warn("Redis write failed, kept in-process copy",
			zap.String("key", key), zap.Error(err))
		return
	}
	metrics.StoreOperations.WithLabelValues(op, "ok").Inc()
}

func (s *Store) get(ctx context.Context, op, key string) ([]byte, bool) {
	if s.rdb != nil {
		b, err := s.rdb.Get(ctx, key).Bytes()
		if err == nil {
			metrics.StoreOperations.WithLabelValues(op, "ok").Inc()
			return b, true
		}
		if err != redis.Nil {
			metrics.StoreOperations.WithLabelValues(op, "error").Inc()
			metrics.StoreFallbacks.Inc()
			s.logger.Warn("Redis read failed, trying in-process copy",
				zap.String("key", key), zap.Error(err))
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.local[key]
	return b, ok
}

func (s *Store) del(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.local, key)
	s.mu.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("Redis delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// SaveSession persists a session shell, renewing its TTL.
func (s *Store) SaveSession(ctx context.Context, sess *models.Session) {
	b, err := json.Marshal(sess)
	if err != nil {
		s.logger.Error("Failed to encode session", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	s.set(ctx, "save_session", sessionKeyPrefix+sess.ID, b)
}

// LoadSession returns a persisted session, if any.
func (s *Store) LoadSession(ctx context.Context, id string) (*models.Session, bool) {
	b, ok := s.get(ctx, "load_session", sessionKeyPrefix+id)
	if !ok {
		return nil, false
	}
	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		s.logger.Error("Failed to decode session", zap.String("session_id", id), zap.Error(err))
		return nil, false
	}
	return &sess, true
}

// DeleteSession removes a session and its membership in the active set.
func (s *Store) DeleteSession(ctx context.Context, id string) {
	s.del(ctx, sessionKeyPrefix+id)
	s.RemoveActiveSession(ctx, id)
}

// SaveMemory persists a group-memory snapshot.
func (s *Store) SaveMemory(ctx context.Context, sessionID string, snapshot []byte) {
	s.set(ctx, "save_memory", memoryKeyPrefix+sessionID, snapshot)
}

// LoadMemory returns a persisted memory snapshot, if any.
func (s *Store) LoadMemory(ctx context.Context, sessionID string) ([]byte, bool) {
	return s.get(ctx, "load_memory", memoryKeyPrefix+sessionID)
}

// DeleteMemory removes a persisted memory snapshot.
func (s *Store) DeleteMemory(ctx context.Context, sessionID string) {
	s.del(ctx, memoryKeyPrefix+sessionID)
}

// SaveOrchestratorState persists participant states for observability across
// restarts.
func (s *Store) SaveOrchestratorState(ctx context.Context, sessionID string, states map[string]models.PanelistState) {
	b, err := json.Marshal(states)
	if err != nil {
		s.logger.Error("Failed to encode orchestrator state", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.set(ctx, "save_orchestrator", orchestratorKeyPrefix+sessionID, b)
}

// LoadOrchestratorState returns persisted participant states, if any.
func (s *Store) LoadOrchestratorState(ctx context.Context, sessionID string) (map[string]models.PanelistState, bool) {
	b, ok := s.get(ctx, "load_orchestrator", orchestratorKeyPrefix+sessionID)
	if !ok {
		return nil, false
	}
	var states map[string]models.PanelistState
	if err := json.Unmarshal(b, &states); err != nil {
		return nil, false
	}
	return states, true
}

// DeleteOrchestratorState removes persisted participant states.
func (s *Store) DeleteOrchestratorState(ctx context.Context, sessionID string) {
	s.del(ctx, orchestratorKeyPrefix+sessionID)
}

// AddActiveSession marks a session active.
func (s *Store) AddActiveSession(ctx context.Context, id string) {
	s.mu.Lock()
	s.localSet[id] = struct{}{}
	s.mu.Unlock()

	if s.rdb != nil {
		if err := s.rdb.SAdd(ctx, activeSessionsKey, id).Err(); err != nil {
			metrics.StoreFallbacks.Inc()
			s.logger.Warn("Redis SADD failed", zap.Error(err))
		}
	}
}

// RemoveActiveSession unmarks a session.
func (s *Store) RemoveActiveSession(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.localSet, id)
	s.mu.Unlock()

	if s.rdb != nil {
		if err := s.rdb.SRem(ctx, activeSessionsKey, id).Err(); err != nil {
			s.logger.Warn("Redis SREM failed", zap.Error(err))
		}
	}
}

// ActiveSessions lists session IDs marked active.
func (s *Store) ActiveSessions(ctx context.Context) []string {
	if s.rdb != nil {
		ids, err := s.rdb.SMembers(ctx, activeSessionsKey).Result()
		if err == nil {
			return ids
		}
		metrics.StoreFallbacks.Inc()
		s.logger.Warn("Redis SMEMBERS failed, using in-process set", zap.Error(err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.localSet))
	for id := range s.localSet {
		ids = append(ids, id)
	}
	return ids
}
