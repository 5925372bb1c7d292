package exporter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lodestar/internal/model"
	"lodestar/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "lodestar.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestExport_DetailAndSummary(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	name := "连衣裙"
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	rows := []*model.MergedFact{
		{ProductKey: "1001", Day: "2024-03-05", Platform: "tmall", StoreCount: 1, Visitors: 100,
			PaymentAmount: decimal.RequireFromString("1200"), ProductName: &name, CatalogMatched: true, MergedAt: now},
		{ProductKey: "1002", Day: "2024-03-05", Platform: "tmall", StoreCount: 2, Visitors: 20,
			PaymentAmount: decimal.RequireFromString("300.5"), MergedAt: now},
		{ProductKey: "1001", Day: "2024-03-06", Platform: "tmall", StoreCount: 1, Visitors: 50,
			PaymentAmount: decimal.RequireFromString("80"), ProductName: &name, CatalogMatched: true, MergedAt: now},
	}
	if err := st.ReplaceMerged(ctx, "2024-03-05", "2024-03-06", rows); err != nil {
		t.Fatalf("seed merged: %v", err)
	}

	var stages []string
	f, err := NewExporter(st).Export(ctx, ExportOptions{
		From:     "2024-03-05",
		To:       "2024-03-06",
		Progress: func(e ProgressEvent) { stages = append(stages, e.Stage) },
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer f.Close()

	detail, err := f.GetRows(detailSheet)
	if err != nil {
		t.Fatalf("get detail rows: %v", err)
	}
	if len(detail) != 4 {
		t.Fatalf("detail rows want=4 got=%d", len(detail))
	}
	if detail[0][1] != "商品ID" || detail[1][1] != "1001" || detail[1][4] != "连衣裙" {
		t.Fatalf("unexpected detail: %v", detail[:2])
	}
	if detail[2][4] != "" {
		t.Fatalf("unmatched row should have blank name, got=%q", detail[2][4])
	}

	summary, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatalf("get summary rows: %v", err)
	}
	if len(summary) != 3 {
		t.Fatalf("summary rows want=3 got=%d", len(summary))
	}
	if summary[1][0] != "2024-03-05" || summary[1][1] != "2" || summary[1][2] != "120" || summary[1][3] != "1500.5" {
		t.Fatalf("unexpected summary row: %v", summary[1])
	}
	if len(stages) == 0 || stages[len(stages)-1] != "完成" {
		t.Fatalf("progress stages: %v", stages)
	}
}

func TestExport_EmptyRangeIsPreconditionMissing(t *testing.T) {
	t.Parallel()

	_, err := NewExporter(newTestStore(t)).Export(context.Background(), ExportOptions{From: "2024-03-01", To: "2024-03-02"})
	if !errors.Is(err, model.ErrPreconditionMissing) {
		t.Fatalf("want ErrPreconditionMissing got=%v", err)
	}
}
