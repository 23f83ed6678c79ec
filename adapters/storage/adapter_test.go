package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"tree-estimator/core/engine"
	ierrors "tree-estimator/internal/errors"
	"tree-estimator/internal/fixture"
)

func calculate(t *testing.T, date civil.Date, at time.Time) *engine.Result {
	t.Helper()
	e := engine.New(fixture.Snapshot(), engine.WithClock(func() time.Time { return at }))
	in := fixture.Input()
	in.CalculationDate = date
	result, err := e.Calculate(in)
	require.NoError(t, err)
	return result
}

// fakeDynamo implements DynamoDBAPI over a map
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	scans []*dynamodb.ScanInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	if _, ok := f.items[id]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, in)
	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	return map[string]Store{
		"file":     fs,
		"memory":   NewMemoryStore(),
		"dynamodb": NewDynamoStore(newFakeDynamo(), ""),
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			result := calculate(t, fixture.Input().CalculationDate, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
			require.NoError(t, store.Save(ctx, result))

			got, err := store.Get(ctx, result.ID)
			require.NoError(t, err)
			require.Equal(t, result.Checksum, got.Checksum)
			require.True(t, got.VerifyChecksum())
			require.Equal(t, "2165", got.FinalTotal.String())

			// the stored result still reproduces
			_, err = engine.New(fixture.Snapshot()).Reproduce(got)
			require.NoError(t, err)
		})
	}
}

func TestSaveIsWriteOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			result := calculate(t, fixture.Input().CalculationDate, time.Now())
			require.NoError(t, store.Save(ctx, result))
			err := store.Save(ctx, result)
			require.Equal(t, ierrors.TypeConflict, ierrors.KindOf(err))
		})
	}
}

func TestSaveRejectsTamperedResult(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			result := calculate(t, fixture.Input().CalculationDate, time.Now())
			result.FinalTotal = result.FinalTotal.Add(result.FinalTotal)
			err := store.Save(context.Background(), result)
			require.Equal(t, ierrors.TypeValidation, ierrors.KindOf(err))
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "8f0e7a52-3b8c-4c9e-9d0a-0c6f3a1b2c3d")
			require.Equal(t, ierrors.TypeNotFound, ierrors.KindOf(err))
		})
	}
}

func TestListFiltersByCalculationDate(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			dates := []civil.Date{
				{Year: 2024, Month: 1, Day: 10},
				{Year: 2024, Month: 2, Day: 10},
				{Year: 2024, Month: 3, Day: 10},
			}
			var ids []string
			for i, d := range dates {
				r := calculate(t, d, base.Add(time.Duration(i)*time.Hour))
				require.NoError(t, store.Save(ctx, r))
				ids = append(ids, r.ID)
			}

			all, err := store.List(ctx, nil)
			require.NoError(t, err)
			require.Len(t, all, 3)
			require.Equal(t, ids[0], all[0].ID)

			feb, err := store.List(ctx, &ListFilter{From: dates[1], To: dates[2]})
			require.NoError(t, err)
			require.Len(t, feb, 1)
			require.Equal(t, ids[1], feb[0].ID)

			limited, err := store.List(ctx, &ListFilter{Limit: 2})
			require.NoError(t, err)
			require.Len(t, limited, 2)
		})
	}
}

func TestFileStoreRejectsPathIDs(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = fs.Get(context.Background(), "../../etc/passwd")
	require.Equal(t, ierrors.TypeNotFound, ierrors.KindOf(err))
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	result := calculate(t, fixture.Input().CalculationDate, time.Now())
	require.NoError(t, fs.Save(context.Background(), result))

	_, err = os.Stat(filepath.Join(dir, "2024-03-15", result.ID+".json"))
	require.NoError(t, err)
}

func TestFileStoreFailedWriteLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	result := calculate(t, fixture.Input().CalculationDate, time.Now())

	fs.write = func(f *os.File, data []byte) error {
		if _, err := f.Write(data[:len(data)/2]); err != nil {
			return err
		}
		return errors.New("disk full")
	}
	err = fs.Save(ctx, result)
	require.Error(t, err)
	require.Equal(t, ierrors.TypeInternal, ierrors.KindOf(err))
	_, err = os.Stat(filepath.Join(dir, "2024-03-15", result.ID+".json"))
	require.True(t, os.IsNotExist(err))

	fs.write = writeAndSync
	require.NoError(t, fs.Save(ctx, result))
	got, err := fs.Get(ctx, result.ID)
	require.NoError(t, err)
	require.Equal(t, result.Checksum, got.Checksum)
}

func TestDynamoItemShapeAndScanFilter(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "quotes")
	result := calculate(t, fixture.Input().CalculationDate, time.Now())
	require.NoError(t, store.Save(ctx, result))

	var item resultItem
	require.NoError(t, attributevalue.UnmarshalMap(fake.items[result.ID], &item))
	require.Equal(t, "2024-03-15", item.CalculationDate)
	require.Equal(t, "2165.00", item.FinalTotal)
	require.Equal(t, result.Checksum, item.Checksum)

	_, err := store.List(ctx, &ListFilter{From: civil.Date{Year: 2024, Month: 1, Day: 1}})
	require.NoError(t, err)
	require.Len(t, fake.scans, 1)
	require.Equal(t, "#d >= :from", *fake.scans[0].FilterExpression)
	require.Equal(t, "quotes", *fake.scans[0].TableName)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Backend: BackendFile, Directory: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, Options{Backend: "s3"})
	require.Equal(t, ierrors.TypeConfig, ierrors.KindOf(err))
}
