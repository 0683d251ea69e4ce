package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLConfig configures the SQL backend.
type SQLConfig struct {
	// Driver is one of: sqlite, postgres, mysql.
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string. For sqlite this is
	// the database file path.
	DSN string `json:"dsn" yaml:"dsn"`

	// Connection pool settings.
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// SQLStore is the GORM-backed durable store. It is safe for concurrent use
// by many coordinator sessions and one console loop.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQL opens the SQL backend, applies the table layout, and runs the
// schema guard. A guard failure (ErrSchemaOutdated) means the database was
// written under an older layout and must be migrated before either process
// may serve requests.
func OpenSQL(cfg SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "sql_store")),
	}

	if err := s.ensureReady(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}

	s.logger.Info("sql store ready",
		zap.String("driver", cfg.Driver),
		zap.String("schema_version", SchemaVersion),
	)
	return s, nil
}

// DB exposes the underlying GORM handle for migrations and diagnostics.
func (s *SQLStore) DB() *gorm.DB { return s.db }

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateRequest inserts a new PENDING request row.
func (s *SQLStore) CreateRequest(ctx context.Context, req *Request) error {
	if req == nil || req.Prompt == "" {
		return ErrInvalidInput
	}
	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}

	now := time.Now()
	rec := requestRecord{
		RequestID: req.RequestID,
		AgentID:   req.AgentID,
		Prompt:    req.Prompt,
		Payload:   req.Payload,
		Status:    string(req.Status),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicateKey(err) {
			// Caller-supplied ids are expected to be globally unique; a
			// collision is an internal fault, not a lost race.
			return fmt.Errorf("request id collision for %s: %w", req.RequestID, err)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.ID = rec.ID
	req.CreatedAt = rec.CreatedAt
	req.UpdatedAt = rec.UpdatedAt
	return nil
}

// GetRequest returns the request with the given id.
func (s *SQLStore) GetRequest(ctx context.Context, requestID string) (*Request, error) {
	var rec requestRecord
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return rec.toRequest(), nil
}

// GetResponse returns the bound response, or ErrNotFound while unbound.
func (s *SQLStore) GetResponse(ctx context.Context, requestID string) (*Response, error) {
	var rec responseRecord
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return rec.toResponse(), nil
}

// InsertResponse performs the unique insert that binds the response. The
// unique index on request_id is the arbiter: the second writer gets
// ErrAlreadyExists and must re-read the winning row.
func (s *SQLStore) InsertResponse(ctx context.Context, requestID string, content UserResponse, cancelled bool) (*Response, error) {
	if requestID == "" {
		return nil, ErrInvalidInput
	}

	raw, err := content.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	rec := responseRecord{
		RequestID:    requestID,
		ResponseJSON: raw,
		Cancelled:    cancelled,
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert response: %w", err)
	}
	return rec.toResponse(), nil
}

// MarkStatus transitions the request status. Only PENDING rows (or rows
// already at the target status, making the call idempotent) are updated;
// a terminal status never flips to the other terminal status.
func (s *SQLStore) MarkStatus(ctx context.Context, requestID string, status Status) error {
	if requestID == "" || (!status.Terminal() && status != StatusPending) {
		return ErrInvalidInput
	}

	res := s.db.WithContext(ctx).
		Model(&requestRecord{}).
		Where("request_id = ? AND status IN ?", requestID, []string{string(StatusPending), string(status)}).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Either the request does not exist, or it already reached the
		// other terminal state. The latter is a best-effort no-op.
		if _, err := s.GetRequest(ctx, requestID); err != nil {
			return err
		}
	}
	return nil
}

// OldestPending returns the PENDING request with the smallest CreatedAt,
// breaking ties by insertion order.
func (s *SQLStore) OldestPending(ctx context.Context) (*Request, error) {
	var rec requestRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", string(StatusPending)).
		Order("created_at ASC, id ASC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	return rec.toRequest(), nil
}

// SearchRequests returns requests with a non-empty agent id whose prompt
// contains hints, newest first.
func (s *SQLStore) SearchRequests(ctx context.Context, hints string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 10
	}

	var recs []requestRecord
	err := s.db.WithContext(ctx).
		Where("agent_id <> '' AND prompt LIKE ?", "%"+hints+"%").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search requests: %w", err)
	}

	out := make([]*Request, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toRequest())
	}
	return out, nil
}

// AttachFiles records the ordered attachments of a response. File content
// records are deduplicated by SHA256, so re-attaching known content links
// the existing record.
func (s *SQLStore) AttachFiles(ctx context.Context, responseID uint, refs []FileRef) error {
	if responseID == 0 {
		return ErrInvalidInput
	}
	if len(refs) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for idx, ref := range refs {
			if ref.SHA256 == "" || ref.Path == "" {
				return ErrInvalidInput
			}

			file := fileRecord{
				SHA256:    ref.SHA256,
				File:      ref.Path,
				MimeType:  ref.MimeType,
				SizeBytes: ref.SizeBytes,
				CreatedAt: time.Now(),
			}
			err := tx.Where("sha256 = ?", ref.SHA256).FirstOrCreate(&file).Error
			if err != nil && !isDuplicateKey(err) {
				return fmt.Errorf("failed to upsert file record: %w", err)
			}
			if file.ID == 0 {
				// Lost a create race; re-read the winner.
				if err := tx.Where("sha256 = ?", ref.SHA256).First(&file).Error; err != nil {
					return fmt.Errorf("failed to reload file record: %w", err)
				}
			}

			assoc := responseFileRecord{ResponseID: responseID, Idx: idx, FileID: file.ID}
			if err := tx.Create(&assoc).Error; err != nil {
				if isDuplicateKey(err) {
					continue // already attached at this position
				}
				return fmt.Errorf("failed to attach file: %w", err)
			}
		}
		return nil
	})
}

// FilesForResponse returns the ordered attachments of a response.
func (s *SQLStore) FilesForResponse(ctx context.Context, responseID uint) ([]FileRef, error) {
	if responseID == 0 {
		return nil, nil
	}

	type row struct {
		SHA256    string
		File      string
		MimeType  string
		SizeBytes int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("cue_response_files AS rf").
		Select("f.sha256 AS sha256, f.file AS file, f.mime_type AS mime_type, f.size_bytes AS size_bytes").
		Joins("JOIN cue_files f ON f.id = rf.file_id").
		Where("rf.response_id = ?", responseID).
		Order("rf.idx ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load response files: %w", err)
	}

	refs := make([]FileRef, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, FileRef{
			SHA256:    r.SHA256,
			Path:      r.File,
			MimeType:  r.MimeType,
			SizeBytes: r.SizeBytes,
		})
	}
	return refs, nil
}

// NewRequestID generates a request identifier.
func NewRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// isDuplicateKey reports whether err is a uniqueness-constraint violation.
// GORM translates these to ErrDuplicatedKey for the dialects we support;
// the string checks cover drivers that predate error translation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
