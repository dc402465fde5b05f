package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/marina/core/logger"
)

// LocalFilesystem is the local filesystem implementation of the archive driver
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem rooted at baseFolder
func NewLocalFilesystem(baseFolder string) (*LocalFilesystem, error) {
	if baseFolder == "" {
		return nil, fmt.Errorf("baseFolder must not be empty")
	}
	if err := os.MkdirAll(baseFolder, 0755); err != nil {
		return nil, err
	}
	logger.Default().Debugln("filesystem archive enabled at", baseFolder)
	return &LocalFilesystem{baseFolder: baseFolder}, nil
}

func (f LocalFilesystem) path(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf(".. not authorized in keys")
	}
	return filepath.Join(f.baseFolder, filepath.FromSlash(key)), nil
}

// Store writes data under the given key
func (f LocalFilesystem) Store(ctx context.Context, key string, data []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads the data stored under the given key
func (f LocalFilesystem) Load(ctx context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// ListAllWithPrefix returns all keys starting with prefix
func (f LocalFilesystem) ListAllWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	if strings.Contains(prefix, "..") {
		return nil, fmt.Errorf(".. not authorized in keys")
	}
	var keys []string
	err := filepath.WalkDir(f.baseFolder, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.baseFolder, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

var _ Driver = LocalFilesystem{}
