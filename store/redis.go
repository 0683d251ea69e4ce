package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// RedisStore is a Redis-backed Store for deployments that already run
// Redis. SETNX on the response key is the at-most-once binding primitive,
// playing the role the SQL backend's uniqueness constraint plays.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "cueflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_store")),
	}, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) requestKey(requestID string) string {
	return s.keyPrefix + "request:" + requestID
}

func (s *RedisStore) responseKey(requestID string) string {
	return s.keyPrefix + "response:" + requestID
}

func (s *RedisStore) filesKey(responseID uint) string {
	return fmt.Sprintf("%sresponse_files:%d", s.keyPrefix, responseID)
}

func (s *RedisStore) pendingKey() string { return s.keyPrefix + "pending" }
func (s *RedisStore) allKey() string     { return s.keyPrefix + "requests" }
func (s *RedisStore) seqKey(kind string) string {
	return s.keyPrefix + "seq:" + kind
}

// CreateRequest inserts a new PENDING request and indexes it in the
// pending sorted set by creation time.
func (s *RedisStore) CreateRequest(ctx context.Context, req *Request) error {
	if req == nil || req.Prompt == "" {
		return ErrInvalidInput
	}
	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}

	seq, err := s.client.Incr(ctx, s.seqKey("request")).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate request id: %w", err)
	}

	now := time.Now()
	req.ID = uint(seq)
	req.CreatedAt = now
	req.UpdatedAt = now

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.requestKey(req.RequestID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store request: %w", err)
	}
	if !ok {
		return fmt.Errorf("request id collision for %s", req.RequestID)
	}

	score := float64(now.UnixNano())
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: score, Member: req.RequestID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: req.RequestID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index request: %w", err)
	}
	return nil
}

func (s *RedisStore) loadRequest(ctx context.Context, requestID string) (*Request, error) {
	data, err := s.client.Get(ctx, s.requestKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return &req, nil
}

// GetRequest returns the request or ErrNotFound.
func (s *RedisStore) GetRequest(ctx context.Context, requestID string) (*Request, error) {
	return s.loadRequest(ctx, requestID)
}

// GetResponse returns the bound response, or ErrNotFound while unbound.
func (s *RedisStore) GetResponse(ctx context.Context, requestID string) (*Response, error) {
	data, err := s.client.Get(ctx, s.responseKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load response: %w", err)
	}

	var rsp Response
	if err := json.Unmarshal(data, &rsp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &rsp, nil
}

// InsertResponse binds a response via SETNX: the first writer wins, the
// second gets ErrAlreadyExists.
func (s *RedisStore) InsertResponse(ctx context.Context, requestID string, content UserResponse, cancelled bool) (*Response, error) {
	if requestID == "" {
		return nil, ErrInvalidInput
	}

	seq, err := s.client.Incr(ctx, s.seqKey("response")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate response id: %w", err)
	}

	rsp := &Response{
		ID:        uint(seq),
		RequestID: requestID,
		Response:  content,
		Cancelled: cancelled,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(rsp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.responseKey(requestID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to insert response: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyExists
	}
	return rsp, nil
}

// MarkStatus transitions the request status; terminal states never flip.
// Terminal requests leave the pending index.
func (s *RedisStore) MarkStatus(ctx context.Context, requestID string, status Status) error {
	if requestID == "" || (!status.Terminal() && status != StatusPending) {
		return ErrInvalidInput
	}

	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.Terminal() && req.Status != status {
		return nil // best-effort field; the bound response is authoritative
	}

	req.Status = status
	req.UpdatedAt = time.Now()
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.requestKey(requestID), data, 0)
	if status.Terminal() {
		pipe.ZRem(ctx, s.pendingKey(), requestID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark status: %w", err)
	}
	return nil
}

// OldestPending returns the PENDING request with the smallest creation
// time. Stale index entries (terminal or deleted requests) are pruned as
// they are encountered.
func (s *RedisStore) OldestPending(ctx context.Context) (*Request, error) {
	for {
		members, err := s.client.ZRange(ctx, s.pendingKey(), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to query pending index: %w", err)
		}
		if len(members) == 0 {
			return nil, ErrNotFound
		}

		req, err := s.loadRequest(ctx, members[0])
		if errors.Is(err, ErrNotFound) || (err == nil && req.Status != StatusPending) {
			if err := s.client.ZRem(ctx, s.pendingKey(), members[0]).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune pending index: %w", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return req, nil
	}
}

// SearchRequests returns requests with a non-empty agent id whose prompt
// contains hints, newest first.
func (s *RedisStore) SearchRequests(ctx context.Context, hints string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 10
	}

	members, err := s.client.ZRevRange(ctx, s.allKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query request index: %w", err)
	}

	var out []*Request
	for _, id := range members {
		req, err := s.loadRequest(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if req.AgentID != "" && strings.Contains(req.Prompt, hints) {
			out = append(out, req)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// AttachFiles records the ordered attachments of a response.
func (s *RedisStore) AttachFiles(ctx context.Context, responseID uint, refs []FileRef) error {
	if responseID == 0 {
		return ErrInvalidInput
	}

	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("failed to marshal file refs: %w", err)
	}
	if err := s.client.Set(ctx, s.filesKey(responseID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to attach files: %w", err)
	}
	return nil
}

// FilesForResponse returns the ordered attachments of a response.
func (s *RedisStore) FilesForResponse(ctx context.Context, responseID uint) ([]FileRef, error) {
	data, err := s.client.Get(ctx, s.filesKey(responseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file refs: %w", err)
	}

	var refs []FileRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file refs: %w", err)
	}
	return refs, nil
}
