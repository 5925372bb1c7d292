package importer

import (
	"lodestar/internal/model"
	"lodestar/internal/parser"
)

const (
	// skipMissingDay 行内没有日期且请求未给默认日期
	skipMissingDay model.SkipReason = "missing_day"
	// skipBadDay 行内日期有值但无法解析，不套用默认日期
	skipBadDay model.SkipReason = "bad_day"
)

type rowRef struct {
	sheet string
	line  int
}

// batch 一次导入映射出的模型，按表类型只有一个字段非空
type batch struct {
	sales       []*model.SalesSnapshot
	promotions  []*model.PromotionSpend
	rebates     []*model.RebateOrder
	orderLines  []*model.OrderLine
	settlements []*model.Settlement
	catalog     []*model.CatalogEntry
	costs       []*model.CostEntry

	skipped map[model.SkipReason]int
}

func (b *batch) size() int {
	return len(b.sales) + len(b.promotions) + len(b.rebates) + len(b.orderLines) +
		len(b.settlements) + len(b.catalog) + len(b.costs)
}

// mapper 把规范化行映射为事实/维度模型
type mapper struct {
	req  Request
	prov model.Provenance
	b    *batch

	catalogIndex map[string]*model.CatalogEntry
	badDays      map[rowRef]bool
}

func newMapper(req Request, importID string) *mapper {
	return &mapper{
		req: req,
		prov: model.Provenance{
			SourceFile: req.Filename,
			ActorID:    req.ActorID,
			ImportID:   importID,
		},
		b:            &batch{skipped: make(map[model.SkipReason]int)},
		catalogIndex: make(map[string]*model.CatalogEntry),
		badDays:      make(map[rowRef]bool),
	}
}

// noteWarnings 记下日期单元格转换失败的行
func (m *mapper) noteWarnings(warnings []model.CellWarning) {
	for _, w := range warnings {
		if w.Field == "day" {
			m.badDays[rowRef{w.Sheet, w.Row}] = true
		}
	}
}

// day 行内日期优先；日期列缺失或为空时用请求的默认日期
func (m *mapper) day(row parser.Row) (string, bool) {
	if d := row.Text("day"); d != "" {
		return d, true
	}
	if m.badDays[rowRef{row.Sheet, row.Line}] {
		m.b.skipped[skipBadDay]++
		return "", false
	}
	if m.req.Day != "" {
		return m.req.Day, true
	}
	m.b.skipped[skipMissingDay]++
	return "", false
}

func (m *mapper) add(row parser.Row) {
	switch m.req.Kind {
	case parser.TableSales:
		m.addSales(row)
	case parser.TablePromotion:
		m.addPromotion(row)
	case parser.TableRebate:
		m.addRebate(row)
	case parser.TableOrders:
		m.addOrderLine(row)
	case parser.TableSettlement:
		m.addSettlement(row)
	case parser.TableCatalog:
		m.addCatalog(row)
	case parser.TableCost:
		m.addCost(row)
	}
}

func (m *mapper) addSales(row parser.Row) {
	day, ok := m.day(row)
	if !ok {
		return
	}
	storeID := row.Text("store_id")
	if storeID == "" {
		storeID = m.req.StoreID
	}
	m.b.sales = append(m.b.sales, &model.SalesSnapshot{
		Platform:           string(m.req.Platform),
		ProductKey:         row.Text("product_key"),
		Day:                day,
		StoreID:            storeID,
		Visitors:           row.Int("visitors"),
		PageViews:          row.Int("page_views"),
		Favorites:          row.Int("favorites"),
		CartAdds:           row.Int("cart_adds"),
		CartBuyers:         row.Int("cart_buyers"),
		PaymentAmount:      row.Decimal("payment_amount"),
		PaymentBuyerCount:  row.Int("payment_buyer_count"),
		PaymentItemCount:   row.Int("payment_item_count"),
		RefundAmount:       row.Decimal("refund_amount"),
		ReportedConversion: row.NullDecimal("reported_conversion"),
		Provenance:         m.prov,
	})
}

func (m *mapper) addPromotion(row parser.Row) {
	day, ok := m.day(row)
	if !ok {
		return
	}
	m.b.promotions = append(m.b.promotions, &model.PromotionSpend{
		Platform:   string(m.req.Platform),
		Scene:      row.Text("scene"),
		ProductKey: row.Text("product_key"),
		Day:        day,
		Spend:      row.Decimal("spend"),
		Provenance: m.prov,
	})
}

func (m *mapper) addRebate(row parser.Row) {
	day, ok := m.day(row)
	if !ok {
		return
	}
	m.b.rebates = append(m.b.rebates, &model.RebateOrder{
		Platform:   string(m.req.Platform),
		OrderNo:    row.Text("order_no"),
		ProductKey: row.Text("product_key"),
		Day:        day,
		Quantity:   row.Int("quantity"),
		Amount:     row.Decimal("amount"),
		Commission: row.Decimal("commission"),
		Staff:      row.Text("staff"),
		Provenance: m.prov,
	})
}

func (m *mapper) addOrderLine(row parser.Row) {
	day, ok := m.day(row)
	if !ok {
		return
	}
	m.b.orderLines = append(m.b.orderLines, &model.OrderLine{
		Platform:   string(m.req.Platform),
		OrderNo:    row.Text("order_no"),
		Day:        day,
		StyleCode:  row.Text("style_code"),
		Quantity:   row.Int("quantity"),
		UnitPrice:  row.Decimal("unit_price"),
		Provenance: m.prov,
	})
}

func (m *mapper) addSettlement(row parser.Row) {
	day, ok := m.day(row)
	if !ok {
		return
	}
	memo := row.Text("memo")
	ref, _ := parser.ExtractOrderRef(memo)
	m.b.settlements = append(m.b.settlements, &model.Settlement{
		TransactionID: row.Text("transaction_id"),
		Day:           day,
		Income:        row.Decimal("income"),
		Expense:       row.Decimal("expense"),
		Memo:          memo,
		OrderRef:      ref,
		Provenance:    m.prov,
	})
}

// addCatalog 同一商品的多行合并为一条档案，每行可带一个活动档期
func (m *mapper) addCatalog(row parser.Row) {
	key := row.Text("product_key")
	entry, ok := m.catalogIndex[key]
	if !ok {
		entry = &model.CatalogEntry{
			ProductKey:  key,
			ProductName: row.Text("product_name"),
			SupplierRef: row.Text("supplier_ref"),
			Owner:       row.Text("owner"),
			Category:    row.Text("category"),
			StyleCode:   row.Text("style_code"),
			Provenance:  m.prov,
		}
		if d := row.Text("listing_date"); d != "" {
			entry.ListingDate = &d
		}
		m.catalogIndex[key] = entry
		m.b.catalog = append(m.b.catalog, entry)
	}
	if name := row.Text("campaign_name"); name != "" {
		entry.Campaigns = append(entry.Campaigns, model.CampaignWindow{
			Name:        name,
			Start:       row.Text("campaign_start"),
			End:         row.Text("campaign_end"),
			WarmupStart: row.Text("warmup_start"),
		})
	}
}

// addCost 带员工键的为员工成本，否则为公司成本
func (m *mapper) addCost(row parser.Row) {
	staff := row.Text("staff_key")
	source := model.CostSourceCompany
	if staff != "" {
		source = model.CostSourceStaff
	}
	m.b.costs = append(m.b.costs, &model.CostEntry{
		ProductKey: row.Text("product_key"),
		StaffKey:   staff,
		Source:     source,
		UnitCost:   row.Decimal("unit_cost"),
		Provenance: m.prov,
	})
}
