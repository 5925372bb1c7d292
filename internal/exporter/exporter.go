// Package exporter 把对账结果导出为 Excel 工作簿。
package exporter

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"lodestar/internal/model"
	"lodestar/internal/store"
)

const (
	detailSheet  = "对账明细"
	summarySheet = "日汇总"
)

// Exporter 对账结果导出器
type Exporter struct {
	store *store.Store
}

// NewExporter 创建导出器
func NewExporter(store *store.Store) *Exporter {
	return &Exporter{store: store}
}

// ExportOptions 导出选项
type ExportOptions struct {
	From     string
	To       string
	Progress func(ProgressEvent)
}

type column struct {
	header string
	width  float64
	value  func(m *model.MergedFact) interface{}
}

func str(p *string) interface{} {
	if p == nil {
		return ""
	}
	return *p
}

func num(d decimal.Decimal) interface{} {
	f, _ := d.Float64()
	return f
}

var columns = []column{
	{"日期", 12, func(m *model.MergedFact) interface{} { return m.Day }},
	{"商品ID", 16, func(m *model.MergedFact) interface{} { return m.ProductKey }},
	{"平台", 8, func(m *model.MergedFact) interface{} { return m.Platform }},
	{"店铺数", 8, func(m *model.MergedFact) interface{} { return m.StoreCount }},
	{"商品名称", 24, func(m *model.MergedFact) interface{} { return str(m.ProductName) }},
	{"运营", 10, func(m *model.MergedFact) interface{} { return str(m.Owner) }},
	{"类目", 12, func(m *model.MergedFact) interface{} { return str(m.Category) }},
	{"访客数", 10, func(m *model.MergedFact) interface{} { return m.Visitors }},
	{"支付金额", 12, func(m *model.MergedFact) interface{} { return num(m.PaymentAmount) }},
	{"支付买家数", 10, func(m *model.MergedFact) interface{} { return m.PaymentBuyerCount }},
	{"支付件数", 10, func(m *model.MergedFact) interface{} { return m.PaymentItemCount }},
	{"转化率%", 10, func(m *model.MergedFact) interface{} { return num(m.ConversionRate) }},
	{"UV价值", 10, func(m *model.MergedFact) interface{} { return num(m.UVValue) }},
	{"推广合计", 12, func(m *model.MergedFact) interface{} { return num(m.PromotionTotal()) }},
	{"补单笔数", 10, func(m *model.MergedFact) interface{} { return m.RebateOrderCount }},
	{"补单金额", 12, func(m *model.MergedFact) interface{} { return num(m.RebateAmount) }},
	{"真实金额", 12, func(m *model.MergedFact) interface{} { return num(m.TrueAmount) }},
	{"真实转化率%", 12, func(m *model.MergedFact) interface{} { return num(m.TrueConversionRate) }},
	{"货品成本", 12, func(m *model.MergedFact) interface{} { return num(m.ProductCost) }},
	{"扣点", 10, func(m *model.MergedFact) interface{} { return num(m.OrderDeduction) }},
	{"税点", 10, func(m *model.MergedFact) interface{} { return num(m.Tax) }},
	{"物流", 10, func(m *model.MergedFact) interface{} { return num(m.LogisticsCost) }},
	{"毛利", 12, func(m *model.MergedFact) interface{} { return num(m.GrossProfit) }},
}

// Export 导出日期范围内的对账结果；无数据返回 ErrPreconditionMissing
func (e *Exporter) Export(ctx context.Context, opts ExportOptions) (*excelize.File, error) {
	rows, err := e.store.ListMerged(ctx, opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no merged rows in [%s, %s]: %w", opts.From, opts.To, model.ErrPreconditionMissing)
	}
	reportProgress(opts.Progress, "加载数据", 10, 0, 0, len(rows))

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", detailSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeDetail(f, rows, opts.Progress); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("写入明细失败: %w", err)
	}
	reportProgress(opts.Progress, "写入明细", 10, 80, len(rows), len(rows))

	if err := writeSummary(f, rows); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("写入汇总失败: %w", err)
	}
	reportProgress(opts.Progress, "完成", 100, 0, len(rows), len(rows))

	f.SetActiveSheet(0)
	return f, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, widths []float64) error {
	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return err
		}
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return err
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(sheet, "A1", last+"1", style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeDetail(f *excelize.File, rows []model.MergedFact, progress func(ProgressEvent)) error {
	headers := make([]string, len(columns))
	widths := make([]float64, len(columns))
	for i, c := range columns {
		headers[i] = c.header
		widths[i] = c.width
	}
	if err := writeHeader(f, detailSheet, headers, widths); err != nil {
		return err
	}

	for i := range rows {
		m := &rows[i]
		values := make([]interface{}, len(columns))
		for j, c := range columns {
			values[j] = c.value(m)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(detailSheet, cell, &values); err != nil {
			return err
		}
		if (i+1)%500 == 0 {
			reportProgress(progress, "写入明细", 10, 80, i+1, len(rows))
		}
	}
	return nil
}

type dayTotal struct {
	products    int
	visitors    int64
	amount      decimal.Decimal
	promotion   decimal.Decimal
	trueAmount  decimal.Decimal
	grossProfit decimal.Decimal
}

func writeSummary(f *excelize.File, rows []model.MergedFact) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	headers := []string{"日期", "商品数", "访客数", "支付金额", "推广合计", "真实金额", "毛利"}
	widths := []float64{12, 8, 10, 14, 14, 14, 14}
	if err := writeHeader(f, summarySheet, headers, widths); err != nil {
		return err
	}

	totals := make(map[string]*dayTotal)
	for i := range rows {
		m := &rows[i]
		t, ok := totals[m.Day]
		if !ok {
			t = &dayTotal{}
			totals[m.Day] = t
		}
		t.products++
		t.visitors += m.Visitors
		t.amount = t.amount.Add(m.PaymentAmount)
		t.promotion = t.promotion.Add(m.PromotionTotal())
		t.trueAmount = t.trueAmount.Add(m.TrueAmount)
		t.grossProfit = t.grossProfit.Add(m.GrossProfit)
	}
	days := make([]string, 0, len(totals))
	for d := range totals {
		days = append(days, d)
	}
	sort.Strings(days)

	for i, d := range days {
		t := totals[d]
		values := []interface{}{d, t.products, t.visitors, num(t.amount), num(t.promotion), num(t.trueAmount), num(t.grossProfit)}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}
