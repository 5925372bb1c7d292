package importer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lodestar/internal/model"
	"lodestar/internal/parser"
	"lodestar/internal/progress"
	"lodestar/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, *progress.Tracker) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "lodestar.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	tracker := progress.NewTracker()
	return NewCoordinator(st, tracker, nil), st, tracker
}

const salesCSV = "商品ID,商品访客数,支付金额,支付买家数,支付件数\n" +
	"1001,100,\"1,200.00\",3,4\n" +
	"1002,20,abc,0,0\n" +
	",,,,\n"

func TestRun_SalesUsesRequestDefaults(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	report, err := c.Run(ctx, Request{
		Data:     []byte(salesCSV),
		Filename: "/tmp/upload/日报.csv",
		Platform: parser.PlatformTmall,
		Kind:     parser.TableSales,
		Day:      "2024-03-05",
		StoreID:  "旗舰店",
		ActorID:  "u-42",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ParsedRows != 2 || report.ImportedRows != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Skipped[model.SkipEmpty] != 1 || len(report.Warnings) != 1 {
		t.Fatalf("skips=%v warnings=%v", report.Skipped, report.Warnings)
	}

	rows, err := st.ListSales(ctx, "2024-03-05", "2024-03-05")
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows want=2 got=%d", len(rows))
	}
	first := rows[0]
	if first.StoreID != "旗舰店" || first.Platform != "tmall" || first.Visitors != 100 {
		t.Fatalf("unexpected row: %+v", first)
	}
	if !first.PaymentAmount.Equal(decimal.RequireFromString("1200")) {
		t.Fatalf("payment amount got=%s", first.PaymentAmount)
	}
	if first.ActorID != "u-42" || first.SourceFile != "日报.csv" || first.ImportID != report.ImportID {
		t.Fatalf("provenance not stamped: %+v", first.Provenance)
	}
	if !rows[1].PaymentAmount.IsZero() {
		t.Fatalf("unparseable amount should be zero, got=%s", rows[1].PaymentAmount)
	}

	log, err := st.GetImportLog(ctx, report.ImportID)
	if err != nil {
		t.Fatalf("import log: %v", err)
	}
	if log.Status != "completed" || log.ImportedRows != 2 || log.SkippedRows != 1 || log.Encoding != "utf-8" {
		t.Fatalf("unexpected import log: %+v", log)
	}
	metas, err := st.ListSheetMeta(ctx, report.ImportID)
	if err != nil || len(metas) != 1 || metas[0].Status != "imported" {
		t.Fatalf("sheet meta=%+v err=%v", metas, err)
	}
}

func TestRun_MissingDaySkipsRows(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCoordinator(t)
	report, err := c.Run(context.Background(), Request{
		Data:     []byte("推广场景,商品ID,花费\n关键词推广,1001,12.5\n"),
		Filename: "推广.csv",
		Kind:     parser.TablePromotion,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ImportedRows != 0 || report.Skipped[skipMissingDay] != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRun_UnparseableDayIsSkipped(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()
	report, err := c.Run(ctx, Request{
		Data: []byte("推广场景,商品ID,日期,花费\n" +
			"关键词推广,1001,2024-03-05,12.5\n" +
			"关键词推广,1002,不是日期,8\n" +
			"关键词推广,1003,,9\n"),
		Filename: "推广.csv",
		Platform: parser.PlatformTmall,
		Kind:     parser.TablePromotion,
		Day:      "2024-03-06",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ImportedRows != 2 || report.Skipped[skipBadDay] != 1 || len(report.Warnings) != 1 {
		t.Fatalf("unexpected report: imported=%d skipped=%v warnings=%v", report.ImportedRows, report.Skipped, report.Warnings)
	}

	rows, err := st.ListPromotion(ctx, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("list promotion: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows want=2 got=%+v", rows)
	}
	// 空日期单元格仍套用请求日期
	if rows[0].ProductKey != "1001" || rows[0].Day != "2024-03-05" || rows[1].ProductKey != "1003" || rows[1].Day != "2024-03-06" {
		t.Fatalf("unexpected days: %+v", rows)
	}
}

func TestRun_CatalogGroupsCampaigns(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	csv := "商品ID,商品名称,运营,款号,活动名称,活动开始,活动结束\n" +
		"1001,连衣裙,小王,KX-01,38节,2024-03-01,2024-03-08\n" +
		"1001,连衣裙,小王,KX-01,618,2024/6/1,2024/6/18\n" +
		"1002,衬衫,小李,KX-02,,,\n"
	req := Request{Data: []byte(csv), Filename: "档案.csv", Kind: parser.TableCatalog}

	report, err := c.Run(ctx, req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ImportedRows != 2 || report.CatalogSkipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	got, err := st.CatalogByKeys(ctx, []string{"1001", "1002"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	camps := got["1001"].Campaigns
	if len(camps) != 2 || camps[1].Name != "618" || camps[1].Start != "2024-06-01" {
		t.Fatalf("campaigns: %+v", camps)
	}
	if got["1002"].Owner != "小李" || len(got["1002"].Campaigns) != 0 {
		t.Fatalf("second entry: %+v", got["1002"])
	}

	// 档案首写生效，重传全部跳过
	again, err := c.Run(ctx, req)
	if err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if again.ImportedRows != 0 || again.CatalogSkipped != 2 {
		t.Fatalf("re-import report: %+v", again)
	}
}

func TestRun_SettlementExtractsOrderRef(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	csv := "账务流水号,入账时间,收入金额,支出金额,备注\n" +
		"T1,2024-03-06 10:00:00,120.00,0,交易收款 订单号：240305000000123456\n" +
		"T2,2024-03-07 11:00:00,0,-3.50,售后退款 240305000000123456\n" +
		"T3,2024-03-07 12:00:00,8,0,平台补贴\n"
	if _, err := c.Run(ctx, Request{Data: []byte(csv), Filename: "结算.csv", Kind: parser.TableSettlement}); err != nil {
		t.Fatalf("run: %v", err)
	}

	totals, err := st.SettlementTotalsByRef(ctx, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if len(totals) != 1 || !totals["240305000000123456"].Equal(decimal.RequireFromString("116.5")) {
		t.Fatalf("unexpected totals: %v", totals)
	}
}

func TestRun_UnknownKindIsBatchError(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Run(ctx, Request{Data: []byte("a,b\n1,2\n"), Filename: "x.csv", Kind: "bogus"})
	var be *model.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("want BatchError got=%T %v", err, err)
	}
	if be.Counters["parsed"] != 0 {
		t.Fatalf("unexpected counters: %v", be.Counters)
	}

	var id string
	for _, l := range mustImportLogs(t, st) {
		id = l
	}
	log, err := st.GetImportLog(ctx, id)
	if err != nil {
		t.Fatalf("import log: %v", err)
	}
	if log.Status != "error" || log.ErrorMessage == "" {
		t.Fatalf("import log not marked failed: %+v", log)
	}
}

func mustImportLogs(t *testing.T, st *store.Store) []string {
	t.Helper()
	var ids []string
	if err := st.DB().Select(&ids, `SELECT import_id FROM import_logs ORDER BY id`); err != nil {
		t.Fatalf("select import logs: %v", err)
	}
	if len(ids) == 0 {
		t.Fatalf("no import logs")
	}
	return ids
}

func TestStart_ReportsThroughTracker(t *testing.T) {
	t.Parallel()

	c, _, tracker := newTestCoordinator(t)
	taskID := c.Start(context.Background(), Request{
		Data:     []byte(salesCSV),
		Filename: "日报.csv",
		Platform: parser.PlatformTmall,
		Kind:     parser.TableSales,
		Day:      "2024-03-05",
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, ok := tracker.Get(taskID)
		if !ok {
			t.Fatalf("task %s not registered", taskID)
		}
		if snap.Status == progress.StatusCompleted {
			if snap.Processed != 2 || snap.Counters["imported"] != 2 || snap.Counters["skipped_empty"] != 1 {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
			return
		}
		if snap.Status == progress.StatusError {
			t.Fatalf("task failed: %s", snap.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not finish: %+v", snap)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestImport_EmitsDoneEvent(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCoordinator(t)
	var last ProgressEvent
	var types []string
	for evt := range c.Import(context.Background(), Request{
		Data:     []byte(salesCSV),
		Filename: "日报.csv",
		Platform: parser.PlatformTmall,
		Kind:     parser.TableSales,
		Day:      "2024-03-05",
	}) {
		types = append(types, evt.Type)
		last = evt
	}
	if last.Type != "done" {
		t.Fatalf("last event=%s types=%v", last.Type, types)
	}
	if _, ok := last.Data.(*Report); !ok {
		t.Fatalf("done event data type %T", last.Data)
	}
	if types[0] != "start" {
		t.Fatalf("first event=%s", types[0])
	}
}
