package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lodestar/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sales(product, day, store string, visitors int64) *model.SalesSnapshot {
	return &model.SalesSnapshot{
		Platform:      "tmall",
		ProductKey:    product,
		Day:           day,
		StoreID:       store,
		Visitors:      visitors,
		PaymentAmount: decimal.RequireFromString("10.50"),
	}
}

func TestReplaceSales_ReplacesWholeDayStoreKey(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ReplaceSales(ctx, []*model.SalesSnapshot{
		sales("1001", "2024-03-05", "A", 10),
		sales("1002", "2024-03-05", "A", 20),
		sales("1001", "2024-03-05", "B", 30),
	}); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	// 店铺 A 重传只剩一个商品，店铺 B 不受影响
	if _, err := s.ReplaceSales(ctx, []*model.SalesSnapshot{
		sales("1001", "2024-03-05", "A", 11),
	}); err != nil {
		t.Fatalf("re-upload: %v", err)
	}

	rows, err := s.ListSales(ctx, "2024-03-05", "2024-03-05")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows want=2 got=%d", len(rows))
	}
	if rows[0].StoreID != "A" || rows[0].Visitors != 11 {
		t.Fatalf("store A not replaced: %+v", rows[0])
	}
	if rows[1].StoreID != "B" || rows[1].Visitors != 30 {
		t.Fatalf("store B changed: %+v", rows[1])
	}
	if !rows[0].PaymentAmount.Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("payment amount got=%s", rows[0].PaymentAmount)
	}
}

func TestInsertCatalog_FirstWriteWins(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	listing := "2024-01-01"
	first := &model.CatalogEntry{
		ProductKey:  "1001",
		ProductName: "第一次",
		ListingDate: &listing,
		StyleCode:   "KX-01",
		Campaigns:   []model.CampaignWindow{{Name: "38节", Start: "2024-03-01", End: "2024-03-08"}},
	}
	if ins, skip, err := s.InsertCatalog(ctx, []*model.CatalogEntry{first}); err != nil || ins != 1 || skip != 0 {
		t.Fatalf("first insert ins=%d skip=%d err=%v", ins, skip, err)
	}

	second := &model.CatalogEntry{ProductKey: "1001", ProductName: "第二次"}
	if ins, skip, err := s.InsertCatalog(ctx, []*model.CatalogEntry{second}); err != nil || ins != 0 || skip != 1 {
		t.Fatalf("second insert ins=%d skip=%d err=%v", ins, skip, err)
	}

	got, err := s.CatalogByKeys(ctx, []string{"1001", "9999"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 1 || got["1001"].ProductName != "第一次" {
		t.Fatalf("unexpected catalog: %+v", got)
	}
	if len(got["1001"].Campaigns) != 1 || got["1001"].Campaigns[0].Name != "38节" {
		t.Fatalf("campaigns not decoded: %+v", got["1001"].Campaigns)
	}

	byStyle, err := s.ProductKeysByStyleCode(ctx, []string{"KX-01", "NONE"})
	if err != nil {
		t.Fatalf("style lookup: %v", err)
	}
	if byStyle["KX-01"] != "1001" || len(byStyle) != 1 {
		t.Fatalf("unexpected style map: %v", byStyle)
	}
}

func TestUpsertCosts_ReplacesSameTriple(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertCosts(ctx, []*model.CostEntry{
		{ProductKey: "1001", Source: model.CostSourceCompany, UnitCost: decimal.RequireFromString("10")},
		{ProductKey: "1001", StaffKey: "小王", Source: model.CostSourceStaff, UnitCost: decimal.RequireFromString("9")},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.UpsertCosts(ctx, []*model.CostEntry{
		{ProductKey: "1001", Source: model.CostSourceCompany, UnitCost: decimal.RequireFromString("12")},
	}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	costs, err := s.CostsByProducts(ctx, []string{"1001"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(costs["1001"]) != 2 {
		t.Fatalf("entries want=2 got=%d", len(costs["1001"]))
	}
	if c, ok := model.ResolveUnitCost(costs["1001"], "小王"); !ok || !c.Equal(decimal.RequireFromString("9")) {
		t.Fatalf("staff cost got=%s ok=%v", c, ok)
	}
	if c, ok := model.ResolveUnitCost(costs["1001"], "小李"); !ok || !c.Equal(decimal.RequireFromString("12")) {
		t.Fatalf("company cost got=%s ok=%v", c, ok)
	}
}

func TestReplaceMerged_ScopedToRange(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)

	if err := s.ReplaceMerged(ctx, "2024-03-04", "2024-03-05", []*model.MergedFact{
		{ProductKey: "1001", Day: "2024-03-04", Visitors: 1, MergedAt: now},
		{ProductKey: "1001", Day: "2024-03-05", Visitors: 2, MergedAt: now},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.ReplaceMerged(ctx, "2024-03-05", "2024-03-05", []*model.MergedFact{
		{ProductKey: "1001", Day: "2024-03-05", Visitors: 3, MergedAt: now},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	rows, err := s.ListMerged(ctx, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Visitors != 1 || rows[1].Visitors != 3 {
		t.Fatalf("unexpected merged rows: %+v", rows)
	}
	if rows[0].UnitCost.Valid || rows[0].ProductName != nil {
		t.Fatalf("catalog fields should stay null")
	}

	err = s.ReplaceMerged(ctx, "2024-03-05", "2024-03-05", []*model.MergedFact{
		{ProductKey: "1001", Day: "2024-03-06", MergedAt: now},
	})
	if err == nil {
		t.Fatalf("expected out-of-range error")
	}
	rows, _ = s.ListMerged(ctx, "2024-03-05", "2024-03-05")
	if len(rows) != 1 {
		t.Fatalf("failed replace must roll back, rows=%d", len(rows))
	}
}

func TestSettlementTotalsByRef(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertSettlements(ctx, []*model.Settlement{
		{TransactionID: "T1", Day: "2024-03-05", Income: decimal.RequireFromString("100.00"), OrderRef: "O1"},
		{TransactionID: "T2", Day: "2024-03-20", Expense: decimal.RequireFromString("-3.50"), OrderRef: "O1"},
		{TransactionID: "T3", Day: "2024-03-05", Income: decimal.RequireFromString("8"), OrderRef: ""},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// 同一流水号重传覆盖
	if _, err := s.UpsertSettlements(ctx, []*model.Settlement{
		{TransactionID: "T1", Day: "2024-03-05", Income: decimal.RequireFromString("120.00"), OrderRef: "O1"},
	}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	totals, err := s.SettlementTotalsByRef(ctx, "2024-03-01", "2024-04-04")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if len(totals) != 1 || !totals["O1"].Equal(decimal.RequireFromString("116.50")) {
		t.Fatalf("unexpected totals: %v", totals)
	}
}

func TestClosedStore_ReportsUnavailable(t *testing.T) {
	t.Parallel()

	s, err := New(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_ = s.Close()

	_, err = s.ListSales(context.Background(), "2024-03-05", "2024-03-05")
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable got=%v", err)
	}
}

func TestReplacePromotion_KeepsOtherPlatformsSameDay(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	spend := func(platform, product string, v string) *model.PromotionSpend {
		return &model.PromotionSpend{Platform: platform, ProductKey: product, Day: "2024-03-05", Spend: decimal.RequireFromString(v)}
	}
	if _, err := s.ReplacePromotion(ctx, []*model.PromotionSpend{spend("tmall", "1", "10")}); err != nil {
		t.Fatalf("tmall upload: %v", err)
	}
	if _, err := s.ReplacePromotion(ctx, []*model.PromotionSpend{spend("jd", "2", "20")}); err != nil {
		t.Fatalf("jd upload: %v", err)
	}

	rows, err := s.ListPromotion(ctx, "2024-03-05", "2024-03-05")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Platform != "tmall" || rows[1].Platform != "jd" {
		t.Fatalf("both platforms should survive: %+v", rows)
	}

	// 同平台重传只替换自己的行
	if _, err := s.ReplacePromotion(ctx, []*model.PromotionSpend{spend("tmall", "1", "15")}); err != nil {
		t.Fatalf("tmall re-upload: %v", err)
	}
	rows, _ = s.ListPromotion(ctx, "2024-03-05", "2024-03-05")
	if len(rows) != 2 || rows[0].Platform != "jd" || !rows[1].Spend.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("tmall re-upload not scoped: %+v", rows)
	}
}

func TestReplaceRebatesAndOrderLines_ScopedByPlatform(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, p := range []string{"tmall", "pdd"} {
		if _, err := s.ReplaceRebates(ctx, []*model.RebateOrder{
			{Platform: p, OrderNo: "R-" + p, ProductKey: "1001", Day: "2024-03-05", Quantity: 1, Amount: decimal.RequireFromString("50")},
		}); err != nil {
			t.Fatalf("rebates %s: %v", p, err)
		}
		if _, err := s.ReplaceOrderLines(ctx, []*model.OrderLine{
			{Platform: p, OrderNo: "O-" + p, Day: "2024-03-05", StyleCode: "S1", Quantity: 1},
		}); err != nil {
			t.Fatalf("order lines %s: %v", p, err)
		}
	}

	rebates, err := s.ListRebates(ctx, "2024-03-05", "2024-03-05")
	if err != nil {
		t.Fatalf("list rebates: %v", err)
	}
	if len(rebates) != 2 {
		t.Fatalf("rebates want=2 got=%+v", rebates)
	}
	lines, err := s.ListOrderLines(ctx, "2024-03-05", "2024-03-05")
	if err != nil {
		t.Fatalf("list order lines: %v", err)
	}
	if len(lines) != 2 || lines[0].Platform != "pdd" || lines[1].Platform != "tmall" {
		t.Fatalf("order lines want both platforms got=%+v", lines)
	}
}

func TestReplaceMerged_StoresFixedPointText(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceMerged(ctx, "2024-03-05", "2024-03-05", []*model.MergedFact{{
		ProductKey:    "1001",
		Day:           "2024-03-05",
		PaymentAmount: decimal.RequireFromString("5000"),
		RefundAmount:  decimal.RequireFromString("12.5"),
		UnitCost:      decimal.NewNullDecimal(decimal.RequireFromString("3.2")),
		MergedAt:      time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC),
	}}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	var payment, refund, unitCost string
	if err := s.DB().QueryRowContext(ctx,
		`SELECT payment_amount, refund_amount, unit_cost FROM merged_facts WHERE product_key = ?`, "1001",
	).Scan(&payment, &refund, &unitCost); err != nil {
		t.Fatalf("select raw: %v", err)
	}
	if payment != "5000.00" || refund != "12.50" || unitCost != "3.2000" {
		t.Fatalf("stored text payment=%q refund=%q unit_cost=%q", payment, refund, unitCost)
	}
}
