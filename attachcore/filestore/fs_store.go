package filestore

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/attachd/attachd/core/common"
)

// FileFSStore implements FileStore on the local filesystem, rooted at a
// single configured base directory.
type FileFSStore struct {
	RootDirectory string
}

// SetupFSStore creates the root directory and returns the store.
func SetupFSStore(rootDir string) (*FileFSStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, common.NewErrorf(common.ErrCodeStorageWrite,
			"could not create the storage root %v: %v", rootDir, err)
	}
	return &FileFSStore{RootDirectory: rootDir}, nil
}

func (fs *FileFSStore) GetRoot() string {
	return fs.RootDirectory
}

// resolve joins relPath onto the root and verifies the result stays inside it.
func (fs *FileFSStore) resolve(relPath string) (string, error) {
	full := filepath.Join(fs.RootDirectory, filepath.FromSlash(relPath))
	root := filepath.Clean(fs.RootDirectory) + string(os.PathSeparator)
	if !strings.HasPrefix(full, root) {
		return "", common.NewErrorf(common.ErrCodeStorageWrite,
			"path %v escapes the storage root", relPath)
	}
	return full, nil
}

func (fs *FileFSStore) Put(relPath string, data []byte) error {
	full, err := fs.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return common.NewErrorf(common.ErrCodeStorageWrite,
			"could not create directory for %v: %v", relPath, err)
	}

	// write to a temp name and rename so readers never see partial bytes
	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return common.NewErrorf(common.ErrCodeStorageWrite,
			"could not create temp file for %v: %v", relPath, err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return common.NewErrorf(common.ErrCodeStorageWrite,
			"could not write %v: %v", relPath, err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return common.NewErrorf(common.ErrCodeStorageWrite,
			"could not close %v: %v", relPath, err)
	}
	if err = os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return common.NewErrorf(common.ErrCodeStorageWrite,
			"could not move %v into place: %v", relPath, err)
	}
	return nil
}

func (fs *FileFSStore) Get(relPath string) ([]byte, error) {
	r, err := fs.GetReader(relPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (fs *FileFSStore) GetReader(relPath string) (io.ReadCloser, error) {
	full, err := fs.resolve(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewErrorf(common.ErrCodeNotFound, "no stored bytes at %v", relPath)
		}
		return nil, common.NewErrorf(common.ErrCodeStorageWrite, "could not open %v: %v", relPath, err)
	}
	return f, nil
}

func (fs *FileFSStore) Delete(relPath string) error {
	full, err := fs.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return common.NewErrorf(common.ErrCodeStorageWrite, "could not delete %v: %v", relPath, err)
	}
	return nil
}

func (fs *FileFSStore) Exists(relPath string) bool {
	full, err := fs.resolve(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

func (fs *FileFSStore) Size(relPath string) (int64, error) {
	full, err := fs.resolve(relPath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, common.NewErrorf(common.ErrCodeNotFound, "no stored bytes at %v", relPath)
	}
	return info.Size(), nil
}
