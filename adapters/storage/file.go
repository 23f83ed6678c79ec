package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"tree-estimator/core/engine"
	ierrors "tree-estimator/internal/errors"
)

// FileStore keeps one JSON file per result under a directory per calculation date
type FileStore struct {
	basePath string
	mu       sync.RWMutex
	write    func(f *os.File, data []byte) error
}

// NewFileStore creates a file store
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{basePath: basePath, write: writeAndSync}, nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) Save(ctx context.Context, result *engine.Result) error {
	if err := checkSavable(result); err != nil {
		return err
	}
	if err := checkID(result.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.find(result.ID); err == nil {
		return conflict(result.ID)
	}

	dateDir := filepath.Join(s.basePath, result.Input.CalculationDate.String())
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return fmt.Errorf("failed to create date directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return ierrors.Internal("failed to marshal result", err)
	}

	path := filepath.Join(dateDir, result.ID+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return conflict(result.ID)
		}
		return fmt.Errorf("failed to write result: %w", err)
	}
	err = s.write(f, data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// a partial file would make every retry conflict
		os.Remove(path)
		return ierrors.Wrapf(ierrors.TypeInternal, err, "write result %s", result.ID)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*engine.Result, error) {
	if err := checkID(id); err != nil {
		return nil, notFound(id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return readResult(path)
}

// find searches every date directory for id
func (s *FileStore) find(id string) (string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return "", fmt.Errorf("failed to read storage: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.basePath, entry.Name(), id+".json")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", notFound(id)
}

func (s *FileStore) List(ctx context.Context, filter *ListFilter) ([]*engine.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*engine.Result
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		result, err := readResult(path)
		if err != nil {
			return err
		}
		if filter.Match(result) {
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filter.finish(results), nil
}

func (s *FileStore) Close() error {
	return nil
}

func readResult(path string) (*engine.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	var result engine.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, ierrors.Parsing("failed to unmarshal result "+path, err)
	}
	return &result, nil
}

// checkID keeps ids from escaping the storage directory
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ierrors.Newf(ierrors.TypeValidation, "invalid calculation id %q", id)
	}
	return nil
}
