package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/circuitbreaker"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/metrics"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

const (
	backendRedis = BackendRedis

	// DefaultTTL is how long a session and its knowledge live in Redis
	DefaultTTL = 24 * time.Hour
)

// RedisStore keeps sessions as JSON blobs and knowledge in a sorted set
// scored by relevance. Writes to one session are serialized in process.
type RedisStore struct {
	client *redis.Client
	guard  *circuitbreaker.Guard
	logger *zap.Logger
	ttl    time.Duration
	locks  *keyedMutex
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(addr, password string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	store := NewRedisStoreFromClient(redisClient, ttl, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cfg := circuitbreaker.RedisProfile()
	// a miss is an answer, not a dependency failure
	cfg.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled)
	}
	return &RedisStore{
		client: client,
		guard:  circuitbreaker.NewGuard("redis", backendRedis, cfg, logger),
		logger: logger.With(zap.String("component", "session_store"), zap.String("backend", backendRedis)),
		ttl:    ttl,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// CreateSession creates a new pending session
func (r *RedisStore) CreateSession(ctx context.Context, query string, plan *models.ResearchPlan) (s *Session, err error) {
	defer func() { metrics.RecordStoreOperation(backendRedis, "create", err) }()

	now := r.now()
	s = &Session{
		ID:        uuid.New().String(),
		Query:     query,
		Plan:      plan.Clone(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Info("Created new session", zap.String("session_id", s.ID))
	return s, nil
}

// UpdateSession merges u into the stored session
func (r *RedisStore) UpdateSession(ctx context.Context, id string, u Update) (s *Session, err error) {
	defer func() { metrics.RecordStoreOperation(backendRedis, "update", err) }()

	release := r.locks.Lock(id)
	defer release()

	s, err = r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(s, r.now())
	if err := r.save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

// GetSession retrieves a session by ID
func (r *RedisStore) GetSession(ctx context.Context, id string) (s *Session, err error) {
	defer func() { metrics.RecordStoreOperation(backendRedis, "get", err) }()
	return r.load(ctx, id)
}

// AddKnowledge adds an entry to the session's knowledge set
func (r *RedisStore) AddKnowledge(ctx context.Context, sessionID string, entry models.KnowledgeEntry) (_ models.KnowledgeEntry, err error) {
	defer func() { metrics.RecordStoreOperation(backendRedis, "add_knowledge", err) }()

	var exists int64
	err = r.do(ctx, func() (err error) {
		exists, err = r.client.Exists(ctx, sessionKey(sessionID)).Result()
		return err
	})
	if err != nil {
		return models.KnowledgeEntry{}, fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return models.KnowledgeEntry{}, fmt.Errorf("add knowledge to %s: %w", sessionID, ErrSessionNotFound)
	}

	entry = prepareEntry(sessionID, entry, r.now())
	data, err := json.Marshal(entry)
	if err != nil {
		return models.KnowledgeEntry{}, fmt.Errorf("failed to marshal knowledge entry: %w", err)
	}

	key := knowledgeKey(sessionID)
	err = r.do(ctx, func() error {
		return r.client.ZAdd(ctx, key, &redis.Z{Score: entry.Relevance, Member: string(data)}).Err()
	})
	if err != nil {
		return models.KnowledgeEntry{}, fmt.Errorf("failed to add knowledge: %w", err)
	}
	if err := r.do(ctx, func() error { return r.client.Expire(ctx, key, r.ttl).Err() }); err != nil {
		r.logger.Warn("Failed to set knowledge TTL", zap.String("session_id", sessionID), zap.Error(err))
	}
	return entry, nil
}

// GetKnowledge returns entries ordered by relevance, highest first
func (r *RedisStore) GetKnowledge(ctx context.Context, sessionID string) (_ []models.KnowledgeEntry, err error) {
	defer func() { metrics.RecordStoreOperation(backendRedis, "get_knowledge", err) }()

	var members []string
	err = r.do(ctx, func() (err error) {
		members, err = r.client.ZRevRange(ctx, knowledgeKey(sessionID), 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge: %w", err)
	}
	entries := make([]models.KnowledgeEntry, 0, len(members))
	for _, m := range members {
		var e models.KnowledgeEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			r.logger.Warn("Skipping corrupt knowledge entry", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	sortByRelevance(entries)
	return entries, nil
}

// Ping checks the Redis connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.do(ctx, func() error { return r.client.Ping(ctx).Err() })
}

// Close closes the Redis client
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// BreakerState reports the store's circuit breaker state.
func (r *RedisStore) BreakerState() circuitbreaker.State { return r.guard.State() }

// do runs one command through the breaker.
func (r *RedisStore) do(ctx context.Context, cmd func() error) error {
	return r.guard.Execute(ctx, cmd)
}

func sessionKey(id string) string {
	return fmt.Sprintf("research:session:%s", id)
}

func knowledgeKey(id string) string {
	return fmt.Sprintf("research:session:%s:knowledge", id)
}

func (r *RedisStore) load(ctx context.Context, id string) (*Session, error) {
	var data []byte
	err := r.do(ctx, func() (err error) {
		data, err = r.client.Get(ctx, sessionKey(id)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return &s, nil
}

func (r *RedisStore) save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return r.do(ctx, func() error { return r.client.Set(ctx, sessionKey(s.ID), data, r.ttl).Err() })
}
