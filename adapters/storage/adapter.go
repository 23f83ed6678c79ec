// Package storage keeps calculation results for audit and reproduction.
// Supports multiple backends: file, memory, DynamoDB.
//
// Results are write-once: saving an ID that already exists is a conflict.
package storage

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"tree-estimator/core/engine"
	ierrors "tree-estimator/internal/errors"
)

// Backend is a storage backend type
type Backend string

const (
	BackendFile     Backend = "file"
	BackendMemory   Backend = "memory"
	BackendDynamoDB Backend = "dynamodb"
)

// Store is the storage interface
type Store interface {
	// Save stores a result. It never overwrites.
	Save(ctx context.Context, result *engine.Result) error

	// Get retrieves a result by ID
	Get(ctx context.Context, id string) (*engine.Result, error)

	// List lists results matching filter, oldest first
	List(ctx context.Context, filter *ListFilter) ([]*engine.Result, error)

	// Close closes the store
	Close() error
}

// ListFilter filters result listing by calculation date.
// From is inclusive, To exclusive; zero dates are unbounded.
type ListFilter struct {
	From  civil.Date
	To    civil.Date
	Limit int
}

// Match reports whether r passes the filter
func (f *ListFilter) Match(r *engine.Result) bool {
	if f == nil {
		return true
	}
	d := r.Input.CalculationDate
	if f.From != (civil.Date{}) && d.Before(f.From) {
		return false
	}
	if f.To != (civil.Date{}) && !d.Before(f.To) {
		return false
	}
	return true
}

// finish sorts results and applies the limit
func (f *ListFilter) finish(results []*engine.Result) []*engine.Result {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.CalculatedAt.Equal(b.CalculatedAt) {
			return a.CalculatedAt.Before(b.CalculatedAt)
		}
		return a.ID < b.ID
	})
	if f != nil && f.Limit > 0 && f.Limit < len(results) {
		results = results[:f.Limit]
	}
	return results
}

// checkSavable rejects results that could not be audited later
func checkSavable(result *engine.Result) error {
	if result == nil || result.ID == "" {
		return ierrors.New(ierrors.TypeValidation, "result has no id")
	}
	if !result.VerifyChecksum() {
		return ierrors.Newf(ierrors.TypeValidation, "result %s: checksum does not match contents", result.ID)
	}
	return nil
}

func notFound(id string) error {
	return ierrors.NotFound("calculation", id).WithContext("id", id)
}

func conflict(id string) error {
	return ierrors.Conflict("calculation", id).WithContext("id", id)
}

// Options selects and configures a backend
type Options struct {
	Backend   Backend
	Directory string
	DynamoDB  DynamoDBOptions
	Logger    *zap.Logger
}

// Open creates a store for the configured backend
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch opts.Backend {
	case BackendFile:
		return NewFileStore(opts.Directory)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendDynamoDB:
		client, err := NewDynamoDBClient(ctx, opts.DynamoDB)
		if err != nil {
			return nil, err
		}
		logger.Info("using dynamodb result store", zap.String("table", opts.DynamoDB.Table))
		return NewDynamoStore(client, opts.DynamoDB.Table), nil
	default:
		return nil, ierrors.Config(fmt.Sprintf("unsupported storage backend: %s", opts.Backend), nil)
	}
}
