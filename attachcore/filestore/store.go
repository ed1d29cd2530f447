package filestore

import "io"

// FileStore stores raw bytes under validated relative paths. It knows
// nothing about ownership or the catalog.
type FileStore interface {
	// Put writes the bytes at relPath, creating parent directories.
	Put(relPath string, data []byte) error
	// Get reads the whole file at relPath.
	Get(relPath string) ([]byte, error)
	// GetReader opens the file at relPath for streaming reads.
	GetReader(relPath string) (io.ReadCloser, error)
	// Delete removes the file at relPath; a missing file is not an error.
	Delete(relPath string) error
	// Exists reports whether relPath holds a file.
	Exists(relPath string) bool
	// Size returns the stored size in bytes.
	Size(relPath string) (int64, error)
	// GetRoot returns the configured storage root.
	GetRoot() string
}
