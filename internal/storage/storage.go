// Package storage keeps uploaded media on the local filesystem or in an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUnsupportedType = errors.New("only image and video uploads are allowed")

// Store persists an object and returns the URL clients use to fetch it.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
}

// mediaExtensions lists the accepted upload types. Only raster images and
// videos are allowed: SVG and HTML can carry script.
var mediaExtensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/avif":      ".avif",
	"image/bmp":       ".bmp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/ogg":       ".ogv",
	"video/quicktime": ".mov",
}

// AllowedContentType reports whether uploads of this media type are accepted.
func AllowedContentType(contentType string) bool {
	_, ok := extension(contentType)
	return ok
}

// ObjectKey builds yyyy/mm/<uuid><ext> for an upload received at now. The
// extension follows the validated media type, never the client filename.
func ObjectKey(now time.Time, contentType string) string {
	ext, _ := extension(contentType)
	return fmt.Sprintf("%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.NewString(), ext)
}

func extension(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	ext, ok := mediaExtensions[strings.ToLower(mediaType)]
	return ext, ok
}

// FileStore writes uploads below Root and serves them under URLPrefix.
type FileStore struct {
	Root      string
	URLPrefix string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root, URLPrefix: "/uploads"}
}

func (f *FileStore) Put(_ context.Context, key, _ string, r io.Reader, _ int64) (string, error) {
	clean := path.Clean("/" + key)
	target := filepath.Join(f.Root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(target)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return strings.TrimRight(f.URLPrefix, "/") + clean, nil
}
