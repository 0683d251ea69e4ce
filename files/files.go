// Package files stores response attachments content-addressed: a file is
// copied into the store under its SHA-256 hash, so the same bytes
// attached twice occupy one entry and one FileRef can be resolved from
// any process that sees the directory.
package files

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/cueflow/internal/metrics"
	"github.com/BaSui01/cueflow/store"
)

// filesSubdir is where attachment content lives under the data dir.
// FileRef.Path records the data-dir-relative location ("files/<sha><ext>",
// forward slashes) so a ref written by one process resolves in any other
// process pointed at the same directory.
const filesSubdir = "files"

// Dir is a directory-backed attachment store.
type Dir struct {
	root    string
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewDir opens (creating if needed) an attachment directory.
func NewDir(root string, logger *zap.Logger) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("attachment directory not configured")
	}
	if err := os.MkdirAll(filepath.Join(root, filesSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{
		root:   root,
		logger: logger.With(zap.String("component", "files")),
	}, nil
}

// SetMetrics attaches an optional metrics collector.
func (d *Dir) SetMetrics(m *metrics.Collector) { d.metrics = m }

// Ingest copies the file at path into the store and returns its
// reference. Files whose content hash is already stored are not copied
// again.
func (d *Dir) Ingest(srcPath string) (store.FileRef, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return store.FileRef{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	mimeType := detectMime(srcPath, data)

	name := hash + canonicalExt(srcPath, mimeType)
	dest := filepath.Join(d.root, filesSubdir, name)
	ref := store.FileRef{
		SHA256:    hash,
		Path:      path.Join(filesSubdir, name),
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	}

	if _, err := os.Stat(dest); err == nil {
		if d.metrics != nil {
			d.metrics.FileIngested(ref.SizeBytes, true)
		}
		d.logger.Debug("attachment already stored",
			zap.String("sha256", hash), zap.String("path", dest))
		return ref, nil
	}

	// Write-then-rename so a concurrent ingest of the same content never
	// observes a partial file.
	tmp, err := os.CreateTemp(filepath.Join(d.root, filesSubdir), ".ingest-*")
	if err != nil {
		return store.FileRef{}, fmt.Errorf("failed to stage attachment: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return store.FileRef{}, fmt.Errorf("failed to stage attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return store.FileRef{}, fmt.Errorf("failed to stage attachment: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return store.FileRef{}, fmt.Errorf("failed to store attachment: %w", err)
	}

	if d.metrics != nil {
		d.metrics.FileIngested(ref.SizeBytes, false)
	}
	d.logger.Info("attachment stored",
		zap.String("sha256", hash),
		zap.String("mime", mimeType),
		zap.Int64("size", ref.SizeBytes),
	)
	return ref, nil
}

// Open reads the bytes of a stored attachment. Refs are data-dir-relative;
// anything absolute or escaping the directory is refused.
func (d *Dir) Open(ref store.FileRef) ([]byte, error) {
	rel := filepath.Clean(filepath.FromSlash(ref.Path))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("attachment path %q escapes the store directory", ref.Path)
	}
	data, err := os.ReadFile(filepath.Join(d.root, rel))
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return data, nil
}

func detectMime(path string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	sniffed := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mt
	}
	return "application/octet-stream"
}

func canonicalExt(path, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
