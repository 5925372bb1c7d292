package metrics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lodestar/internal/daylock"
	"lodestar/internal/model"
	"lodestar/internal/store"
)

var fixedNow = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestCalculator(t *testing.T) (*Calculator, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	c := NewCalculator(s, daylock.New(), nil, DefaultConstants(),
		WithWorkers(2),
		WithClock(func() time.Time { return fixedNow }),
	)
	return c, s
}

func TestComputeDay_WritesAllRows(t *testing.T) {
	t.Parallel()

	c, s := newTestCalculator(t)
	ctx := context.Background()

	if err := s.ReplaceMerged(ctx, "2024-03-05", "2024-03-06", []*model.MergedFact{
		{
			ProductKey:        "1001",
			Day:               "2024-03-05",
			Visitors:          1000,
			PaymentAmount:     dec("5000.00"),
			PaymentBuyerCount: 50,
			PaymentItemCount:  50,
			RefundAmount:      dec("100.00"),
			UnitCost:          decimal.NewNullDecimal(dec("10")),
			MergedAt:          fixedNow,
		},
		{ProductKey: "1002", Day: "2024-03-05", MergedAt: fixedNow},
		{ProductKey: "1001", Day: "2024-03-06", Visitors: 7, MergedAt: fixedNow},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := c.ComputeDay(ctx, "2024-03-05")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if report.Rows != 2 || report.Computed != 2 || report.MissingCost != 1 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	rows, _ := s.ListMerged(ctx, "2024-03-05", "2024-03-06")
	if got := rows[0].GrossProfit.StringFixed(2); got != "3233.00" {
		t.Fatalf("gross profit got=%s", got)
	}
	if rows[0].MetricsAt == nil || !rows[0].MetricsAt.Equal(fixedNow) {
		t.Fatalf("metrics_at not stamped: %v", rows[0].MetricsAt)
	}
	if !rows[1].ConversionRate.IsZero() || rows[1].MetricsAt == nil {
		t.Fatalf("zero row not computed: %+v", rows[1])
	}
	// 其他日期不受影响
	if rows[2].MetricsAt != nil {
		t.Fatalf("other day touched: %+v", rows[2])
	}
}

func TestComputeDay_RowErrorIsolated(t *testing.T) {
	t.Parallel()

	c, s := newTestCalculator(t)
	ctx := context.Background()

	if err := s.ReplaceMerged(ctx, "2024-03-05", "2024-03-05", []*model.MergedFact{
		{ProductKey: "1001", Day: "2024-03-05", Visitors: -3, MergedAt: fixedNow},
		{ProductKey: "1002", Day: "2024-03-05", Visitors: 10, PaymentBuyerCount: 1, MergedAt: fixedNow},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := c.ComputeDay(ctx, "2024-03-05")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if report.Computed != 1 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Errors[0].ProductKey != "1001" || !errors.Is(report.Errors[0], errNegative) {
		t.Fatalf("unexpected row error: %v", report.Errors[0])
	}

	rows, _ := s.ListMerged(ctx, "2024-03-05", "2024-03-05")
	if rows[0].MetricsAt != nil {
		t.Fatalf("failed row must not be written")
	}
	if rows[1].ConversionRate.StringFixed(4) != "10.0000" {
		t.Fatalf("healthy row conversion got=%s", rows[1].ConversionRate)
	}
}

func TestComputeDay_Idempotent(t *testing.T) {
	t.Parallel()

	c, s := newTestCalculator(t)
	ctx := context.Background()

	if err := s.ReplaceMerged(ctx, "2024-03-05", "2024-03-05", []*model.MergedFact{
		{ProductKey: "1001", Day: "2024-03-05", Visitors: 30, Favorites: 4, PaymentAmount: dec("99.9"), PaymentBuyerCount: 2, PaymentItemCount: 3, UnitCost: decimal.NewNullDecimal(dec("5.5")), MergedAt: fixedNow},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := c.ComputeDay(ctx, "2024-03-05"); err != nil {
		t.Fatalf("first: %v", err)
	}
	first, _ := s.ListMerged(ctx, "2024-03-05", "2024-03-05")
	if _, err := c.ComputeDay(ctx, "2024-03-05"); err != nil {
		t.Fatalf("second: %v", err)
	}
	second, _ := s.ListMerged(ctx, "2024-03-05", "2024-03-05")

	if first[0].GrossProfit.String() != second[0].GrossProfit.String() ||
		first[0].FavoriteRate.String() != second[0].FavoriteRate.String() {
		t.Fatalf("recompute changed values: %+v vs %+v", first[0], second[0])
	}
}

func TestComputeDay_PreconditionMissing(t *testing.T) {
	t.Parallel()

	c, _ := newTestCalculator(t)
	if _, err := c.ComputeDay(context.Background(), "2024-03-05"); !errors.Is(err, model.ErrPreconditionMissing) {
		t.Fatalf("want ErrPreconditionMissing got=%v", err)
	}
	if _, err := c.ComputeDay(context.Background(), "03/05/2024"); err == nil {
		t.Fatalf("expected invalid day error")
	}
}
