package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrSchemaOutdated is returned when the database holds rows written under
// an older on-disk layout. The process must not serve requests against it;
// run `cueflow migrate up` first.
var ErrSchemaOutdated = errors.New("database schema is outdated (pre-file storage); run: cueflow migrate up")

const schemaVersionKey = "schema_version"

// ensureReady is the one-time startup gate. It creates the table layout,
// then checks the schema version marker:
//
//   - marker equals the current version: proceed
//   - marker absent and both tables empty: stamp the current version
//   - anything else: refuse to start (ErrSchemaOutdated)
//
// Old rows are never silently reinterpreted under a new layout; the
// explicit migration step owns that.
func (s *SQLStore) ensureReady(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&schemaMetaRecord{},
		&requestRecord{},
		&responseRecord{},
		&fileRecord{},
		&responseFileRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate table layout: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var marker schemaMetaRecord
		err := tx.Where(map[string]any{"key": schemaVersionKey}).First(&marker).Error
		switch {
		case err == nil:
			if marker.Value == SchemaVersion {
				return nil
			}
			return fmt.Errorf("schema version %q, want %q: %w", marker.Value, SchemaVersion, ErrSchemaOutdated)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to the empty-store check
		default:
			return fmt.Errorf("failed to read schema marker: %w", err)
		}

		var reqCount, respCount int64
		if err := tx.Model(&requestRecord{}).Count(&reqCount).Error; err != nil {
			return fmt.Errorf("failed to count requests: %w", err)
		}
		if err := tx.Model(&responseRecord{}).Count(&respCount).Error; err != nil {
			return fmt.Errorf("failed to count responses: %w", err)
		}
		if reqCount > 0 || respCount > 0 {
			return fmt.Errorf("unversioned data present (%d requests, %d responses): %w", reqCount, respCount, ErrSchemaOutdated)
		}

		marker = schemaMetaRecord{Key: schemaVersionKey, Value: SchemaVersion}
		if err := tx.Create(&marker).Error; err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
		return nil
	})
}
