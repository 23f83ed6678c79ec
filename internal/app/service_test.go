package app

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tree-estimator/adapters/storage"
	"tree-estimator/core/engine"
	"tree-estimator/core/input"
	"tree-estimator/core/rates"
	ierrors "tree-estimator/internal/errors"
	"tree-estimator/internal/fixture"
	"tree-estimator/internal/metrics"
)

func newService(t *testing.T) (*Service, *rates.Table, *metrics.Metrics) {
	t.Helper()
	table, err := rates.NewTable(fixture.Records()...)
	require.NoError(t, err)
	m := metrics.New("tree", prometheus.NewRegistry())
	svc := NewService(table, engine.DefaultConfig(), WithStore(storage.NewMemoryStore()), WithMetrics(m))
	return svc, table, m
}

func TestCalculateStoresResult(t *testing.T) {
	ctx := context.Background()
	svc, _, m := newService(t)

	result, err := svc.Calculate(ctx, fixture.Input())
	require.NoError(t, err)
	require.Equal(t, "2165", result.FinalTotal.String())

	got, err := svc.Get(ctx, result.ID)
	require.NoError(t, err)
	require.Equal(t, result.Checksum, got.Checksum)

	list, err := svc.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.Equal(t, float64(1), testutil.ToFloat64(m.CalculationsTotal.WithLabelValues("calculate", "ok")))
}

func TestReproduceAfterRateChange(t *testing.T) {
	ctx := context.Background()
	svc, table, _ := newService(t)

	result, err := svc.Calculate(ctx, fixture.Input())
	require.NoError(t, err)

	// a raise after the calculation date leaves the stored quote reproducible
	_, _, err = table.Supersede(rates.Labor("climber"), decimal.NewFromInt(55), civil.Date{Year: 2024, Month: 6, Day: 1})
	require.NoError(t, err)

	fresh, err := svc.Reproduce(ctx, result.ID)
	require.NoError(t, err)
	require.Equal(t, result.Checksum, fresh.Checksum)
	require.NotEqual(t, result.ID, fresh.ID)

	later := fixture.Input()
	later.CalculationDate = civil.Date{Year: 2024, Month: 7, Day: 1}
	raised, err := svc.Calculate(ctx, later)
	require.NoError(t, err)
	require.Equal(t, "480", raised.Labor.Total.String())
}

func TestReproduceDetectsTampering(t *testing.T) {
	ctx := context.Background()
	svc, _, m := newService(t)

	result, err := svc.Calculate(ctx, fixture.Input())
	require.NoError(t, err)

	tampered := *result
	tampered.Profit = tampered.Profit.Add(decimal.NewFromInt(1))
	_, err = svc.ReproduceResult(ctx, &tampered)
	var mismatch *engine.MismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Contains(t, mismatch.Fields, "profit")
	require.Equal(t, float64(1), testutil.ToFloat64(m.CalculationsTotal.WithLabelValues("reproduce", string(ierrors.TypeMismatch))))
}

func TestValidateReportsMissingRates(t *testing.T) {
	svc, _, _ := newService(t)
	in := fixture.Input()
	in.Equipment = []string{"crane"}
	in.Crew = []string{"arborist"}

	_, err := svc.Validate(context.Background(), in)
	var verr *input.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 2)
	require.Equal(t, ierrors.TypeUnknownEquipment, ierrors.KindOf(err))
}

func TestWithoutStore(t *testing.T) {
	table, err := rates.NewTable(fixture.Records()...)
	require.NoError(t, err)
	svc := NewService(table, engine.DefaultConfig())

	_, err = svc.Calculate(context.Background(), fixture.Input())
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), "any")
	require.Equal(t, ierrors.TypeConfig, ierrors.KindOf(err))
}
