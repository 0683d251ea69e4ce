package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and testing. Data is
// lost on restart, so it cannot provide the cross-process durability the
// rendezvous protocol relies on; it exists to exercise protocol logic
// in-process.
type MemoryStore struct {
	mu        sync.Mutex
	requests  map[string]*Request  // by request id
	responses map[string]*Response // by request id
	files     map[uint][]FileRef   // by response id
	nextReqID uint
	nextRspID uint
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*Request),
		responses: make(map[string]*Response),
		files:     make(map[uint][]FileRef),
	}
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is usable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// CreateRequest inserts a new PENDING request.
func (s *MemoryStore) CreateRequest(ctx context.Context, req *Request) error {
	if req == nil || req.Prompt == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	if _, ok := s.requests[req.RequestID]; ok {
		return fmt.Errorf("request id collision for %s", req.RequestID)
	}
	if req.Status == "" {
		req.Status = StatusPending
	}

	s.nextReqID++
	now := time.Now()
	req.ID = s.nextReqID
	req.CreatedAt = now
	req.UpdatedAt = now

	cp := *req
	s.requests[req.RequestID] = &cp
	return nil
}

// GetRequest returns the request or ErrNotFound.
func (s *MemoryStore) GetRequest(ctx context.Context, requestID string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	req, ok := s.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// GetResponse returns the bound response, or ErrNotFound while unbound.
func (s *MemoryStore) GetResponse(ctx context.Context, requestID string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rsp, ok := s.responses[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rsp
	return &cp, nil
}

// InsertResponse binds a response; the map entry plays the role of the
// uniqueness constraint.
func (s *MemoryStore) InsertResponse(ctx context.Context, requestID string, content UserResponse, cancelled bool) (*Response, error) {
	if requestID == "" {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	if _, ok := s.responses[requestID]; ok {
		return nil, ErrAlreadyExists
	}

	s.nextRspID++
	rsp := &Response{
		ID:        s.nextRspID,
		RequestID: requestID,
		Response:  content,
		Cancelled: cancelled,
		CreatedAt: time.Now(),
	}
	s.responses[requestID] = rsp

	cp := *rsp
	return &cp, nil
}

// MarkStatus transitions the request status; terminal states never flip.
func (s *MemoryStore) MarkStatus(ctx context.Context, requestID string, status Status) error {
	if requestID == "" || (!status.Terminal() && status != StatusPending) {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	req, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status.Terminal() && req.Status != status {
		return nil // best-effort field; the bound response is authoritative
	}
	req.Status = status
	req.UpdatedAt = time.Now()
	return nil
}

// OldestPending returns the PENDING request with the smallest CreatedAt.
func (s *MemoryStore) OldestPending(ctx context.Context) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var oldest *Request
	for _, req := range s.requests {
		if req.Status != StatusPending {
			continue
		}
		if oldest == nil ||
			req.CreatedAt.Before(oldest.CreatedAt) ||
			(req.CreatedAt.Equal(oldest.CreatedAt) && req.ID < oldest.ID) {
			oldest = req
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

// SearchRequests returns requests with a non-empty agent id whose prompt
// contains hints, newest first.
func (s *MemoryStore) SearchRequests(ctx context.Context, hints string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var matches []*Request
	for _, req := range s.requests {
		if req.AgentID != "" && strings.Contains(req.Prompt, hints) {
			matches = append(matches, req)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]*Request, 0, len(matches))
	for _, req := range matches {
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

// AttachFiles records the ordered attachments of a response.
func (s *MemoryStore) AttachFiles(ctx context.Context, responseID uint, refs []FileRef) error {
	if responseID == 0 {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.files[responseID] = append([]FileRef(nil), refs...)
	return nil
}

// FilesForResponse returns the ordered attachments of a response.
func (s *MemoryStore) FilesForResponse(ctx context.Context, responseID uint) ([]FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return append([]FileRef(nil), s.files[responseID]...), nil
}
