package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
)

type localStorage struct {
	basePath string
}

func NewLocalStorage(cfg *config.StorageConfig) (Storage, error) {
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("LocalPath is empty, set storage.local_path in config or env")
	}
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &localStorage{basePath: cfg.LocalPath}, nil
}

func (s *localStorage) resolve(objectPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectPath))
	if objectPath == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid object path %q", domain.ErrStorageFailed, objectPath)
	}
	return filepath.Join(s.basePath, clean), nil
}

// Put writes through a temp file and rename so readers never see a partial object.
func (s *localStorage) Put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	fullPath, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to create directory")
		return fmt.Errorf("create directory for %s: %w", objectPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".put-*")
	if err != nil {
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to create file")
		return fmt.Errorf("create file %s: %w", objectPath, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to write file")
		return fmt.Errorf("write file %s: %w", objectPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close file %s: %w", objectPath, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename file %s: %w", objectPath, err)
	}

	zlog.Logger.Debug().
		Str("path", objectPath).
		Str("content_type", contentType).
		Int("bytes", len(data)).
		Msg("file saved successfully")
	return nil
}

func (s *localStorage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	fullPath, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, objectPath)
		}
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to open file")
		return nil, fmt.Errorf("read file %s: %w", objectPath, err)
	}
	return data, nil
}

func (s *localStorage) Delete(ctx context.Context, objectPath string) error {
	if objectPath == "" {
		return nil
	}
	fullPath, err := s.resolve(objectPath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			zlog.Logger.Warn().Str("path", fullPath).Msg("file not found, skipping delete")
			return nil
		}
		zlog.Logger.Error().Err(err).Str("path", fullPath).Msg("failed to delete file")
		return fmt.Errorf("delete file %s: %w", objectPath, err)
	}
	return nil
}
