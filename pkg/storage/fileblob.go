package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileBlob implements Blob on the local filesystem rooted at a directory.
// Blob paths use forward slashes regardless of platform.
type FileBlob struct {
	root string
}

// NewFileBlob creates a blob store rooted at dir
func NewFileBlob(dir string) (*FileBlob, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FileBlob{root: dir}, nil
}

func (b *FileBlob) resolve(path string) string {
	clean := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	return filepath.Join(b.root, clean)
}

// Read returns the blob at path
func (b *FileBlob) Read(path string) ([]byte, error) {
	return os.ReadFile(b.resolve(path))
}

// Write stores data at path, creating parent directories as needed
func (b *FileBlob) Write(path string, data []byte) error {
	target := b.resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	return os.WriteFile(target, data, 0644)
}

// Delete removes the blob at path; a missing blob is not an error
func (b *FileBlob) Delete(path string) error {
	err := os.Remove(b.resolve(path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns all blob paths under prefix
func (b *FileBlob) List(prefix string) ([]string, error) {
	var paths []string
	start := b.resolve(prefix)

	info, err := os.Stat(start)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, "/"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
