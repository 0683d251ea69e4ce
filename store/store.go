package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// SchemaVersion is the current on-disk layout version. Version 3 moved
// response attachments from inline base64 blobs to file references.
const SchemaVersion = "3"

// Status is the lifecycle state of a request. Transitions are monotonic:
// PENDING -> COMPLETED or PENDING -> CANCELLED, never back and never between
// the two terminal states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further status transition may occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Request is a question published by an agent for a human operator.
type Request struct {
	ID        uint      `json:"id"`
	RequestID string    `json:"request_id"`
	AgentID   string    `json:"agent_id"`
	Prompt    string    `json:"prompt"`
	Payload   string    `json:"payload,omitempty"` // optional structured document, carried byte-for-byte
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserResponse is the operator-authored content of a response. Attachments
// are not inlined here; they live as ordered file references on the
// Response row.
type UserResponse struct {
	Text string `json:"text"`
}

// Empty reports whether the operator typed nothing.
func (r UserResponse) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// MarshalText serializes the response content for storage.
func (r UserResponse) MarshalText() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseUserResponse decodes stored response content. Unparseable or
// non-object content degrades to an empty response rather than failing;
// the row itself is still a valid binding.
func ParseUserResponse(raw string) UserResponse {
	var r UserResponse
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return UserResponse{}
	}
	return r
}

// Response is the single answer bound to a request. At most one Response
// exists per RequestID, ever.
type Response struct {
	ID        uint         `json:"id"`
	RequestID string       `json:"request_id"`
	Response  UserResponse `json:"response"`
	Cancelled bool         `json:"cancelled"` // true: operator declined / no input
	CreatedAt time.Time    `json:"created_at"`
}

// FileRef points at an immutable content record attached to a response.
// Path is relative to the data directory (e.g. "files/<sha>.png"). Files
// are deduplicated by SHA256; the same content attached twice shares one
// record.
type FileRef struct {
	SHA256    string `json:"sha256"`
	Path      string `json:"path"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// IsImage reports whether the reference carries an image MIME type.
// Only image references are ever resolved to bytes; everything else is
// surfaced as a path.
func (f FileRef) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), "image/")
}

// Store is the durable table pair both processes rendezvous through.
//
// Implementations must report a duplicate response insert as
// ErrAlreadyExists, distinct from any other failure, so that a writer
// losing the binding race can treat the loss as a no-op.
type Store interface {
	// CreateRequest inserts a new PENDING request. A zero RequestID is
	// filled with a generated one. RequestID collision is an internal
	// error, not ErrAlreadyExists.
	CreateRequest(ctx context.Context, req *Request) error

	// GetRequest returns the request or ErrNotFound.
	GetRequest(ctx context.Context, requestID string) (*Request, error)

	// GetResponse is a non-blocking lookup; ErrNotFound while unbound.
	GetResponse(ctx context.Context, requestID string) (*Response, error)

	// InsertResponse attempts the unique insert that binds a response to
	// a request. Returns ErrAlreadyExists when some other writer won.
	InsertResponse(ctx context.Context, requestID string, content UserResponse, cancelled bool) (*Response, error)

	// MarkStatus updates the request status and bumps UpdatedAt.
	// Idempotent; the response uniqueness constraint stays authoritative
	// for which outcome actually bound.
	MarkStatus(ctx context.Context, requestID string, status Status) error

	// OldestPending returns the PENDING request with the smallest
	// CreatedAt (row id breaks ties), or ErrNotFound.
	OldestPending(ctx context.Context) (*Request, error)

	// SearchRequests returns requests with a non-empty agent id whose
	// prompt contains hints, newest first.
	SearchRequests(ctx context.Context, hints string, limit int) ([]*Request, error)

	// AttachFiles records the ordered file list for a response. Order is
	// display order and is preserved by FilesForResponse.
	AttachFiles(ctx context.Context, responseID uint, refs []FileRef) error

	// FilesForResponse returns the ordered attachments of a response.
	FilesForResponse(ctx context.Context, responseID uint) ([]FileRef, error)

	// Ping checks store health.
	Ping(ctx context.Context) error

	// Close releases the store handle.
	Close() error
}
