// Package reconcile 按日期范围把日报与商品档案、推广/补单/结算台账对齐，
// 产出每个 (商品, 日期) 一行的 MergedFact。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lodestar/internal/daylock"
	"lodestar/internal/model"
	"lodestar/internal/store"
)

// 对账遍历名称
const (
	PassMerge      = "merge"
	PassPromotion  = "promotion"
	PassRebate     = "rebate"
	PassSettlement = "settlement"
)

// Options 对账参数
type Options struct {
	RebateLogisticsPerOrder decimal.Decimal // 每笔补单的物流费
	RebateDeductionRate     decimal.Decimal // 补单扣点
	SettlementLagDays       int             // 结算相对下单的最大滞后天数
	Now                     func() time.Time
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		RebateLogisticsPerOrder: decimal.RequireFromString("2.5"),
		RebateDeductionRate:     decimal.RequireFromString("0.08"),
		SettlementLagDays:       30,
		Now:                     time.Now,
	}
}

func (o Options) unset() bool {
	return o.RebateLogisticsPerOrder.IsZero() && o.RebateDeductionRate.IsZero() &&
		o.SettlementLagDays == 0 && o.Now == nil
}

// Engine 对账引擎
type Engine struct {
	store *store.Store
	locks *daylock.Set
	log   *zap.Logger
	opts  Options
}

// NewEngine 创建对账引擎；locks 与指标计算共享，保证同一日期串行
func NewEngine(s *store.Store, locks *daylock.Set, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if locks == nil {
		locks = daylock.New()
	}
	def := DefaultOptions()
	// 补单常数只在整体未配置时取默认值，显式配置的 0 保留
	if opts.unset() {
		opts.RebateLogisticsPerOrder = def.RebateLogisticsPerOrder
		opts.RebateDeductionRate = def.RebateDeductionRate
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.SettlementLagDays <= 0 {
		opts.SettlementLagDays = def.SettlementLagDays
	}
	return &Engine{store: s, locks: locks, log: log, opts: opts}
}

// PassReport 单次遍历统计
type PassReport struct {
	Pass          string            `json:"pass"`
	Rows          int               `json:"rows"`       // 参与遍历的行数
	Updated       int               `json:"updated"`    // 写入成功的行数
	Matched       int               `json:"matched"`    // 找到台账/档案的行数
	LedgerRows    int               `json:"ledgerRows"` // 读取的台账行数
	UnknownScenes map[string]int    `json:"unknownScenes,omitempty"`
	Errors        []*model.RowError `json:"errors,omitempty"`
	Skipped       string            `json:"skipped,omitempty"` // 前置数据缺失时的原因
}

// ErrorCount 行级错误数
func (p *PassReport) ErrorCount() int { return len(p.Errors) }

// Report 一次对账的汇总
type Report struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Passes   []*PassReport `json:"passes"`
	Duration time.Duration `json:"duration"`
}

// Pass 按名称查找遍历统计
func (r *Report) Pass(name string) *PassReport {
	for _, p := range r.Passes {
		if p.Pass == name {
			return p
		}
	}
	return nil
}

// UnknownScenes 未识别的推广场景计数
func (r *Report) UnknownScenes() map[string]int {
	if p := r.Pass(PassPromotion); p != nil {
		return p.UnknownScenes
	}
	return nil
}

// Reconcile 重建 [from, to] 的 MergedFact 并依次执行三个补充遍历
func (e *Engine) Reconcile(ctx context.Context, from, to string) (*Report, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	unlock, err := e.locks.Lock(ctx, from, to)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	report := &Report{From: from, To: to}

	merge, err := e.merge(ctx, from, to)
	if err != nil {
		return nil, err
	}
	report.Passes = append(report.Passes, merge)

	passes := []struct {
		name string
		run  func(context.Context, string, string) (*PassReport, error)
	}{
		{PassPromotion, e.enrichPromotion},
		{PassRebate, e.enrichRebate},
		{PassSettlement, e.enrichSettlement},
	}
	for _, p := range passes {
		pr, err := p.run(ctx, from, to)
		if errors.Is(err, model.ErrPreconditionMissing) {
			report.Passes = append(report.Passes, &PassReport{Pass: p.name, Skipped: err.Error()})
			continue
		}
		if err != nil {
			return report, fmt.Errorf("%s pass: %w", p.name, err)
		}
		report.Passes = append(report.Passes, pr)
	}

	report.Duration = time.Since(start)
	e.log.Info("reconcile finished",
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("rows", merge.Rows),
		zap.Int("matched", merge.Matched),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// EnrichPromotion 单独执行推广花费遍历
func (e *Engine) EnrichPromotion(ctx context.Context, from, to string) (*PassReport, error) {
	return e.locked(ctx, from, to, e.enrichPromotion)
}

// EnrichRebate 单独执行补单遍历
func (e *Engine) EnrichRebate(ctx context.Context, from, to string) (*PassReport, error) {
	return e.locked(ctx, from, to, e.enrichRebate)
}

// EnrichSettlement 单独执行结算回填遍历
func (e *Engine) EnrichSettlement(ctx context.Context, from, to string) (*PassReport, error) {
	return e.locked(ctx, from, to, e.enrichSettlement)
}

func (e *Engine) locked(ctx context.Context, from, to string, fn func(context.Context, string, string) (*PassReport, error)) (*PassReport, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	unlock, err := e.locks.Lock(ctx, from, to)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return fn(ctx, from, to)
}

type mergeKey struct {
	productKey string
	day        string
}

// merge 日报按 (商品, 日期) 汇总后左连接商品档案，整体替换范围内的 MergedFact
func (e *Engine) merge(ctx context.Context, from, to string) (*PassReport, error) {
	sales, err := e.store.ListSales(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, fmt.Errorf("no sales snapshots in [%s, %s]: %w", from, to, model.ErrPreconditionMissing)
	}

	now := e.opts.Now().UTC()
	grouped := make(map[mergeKey]*model.MergedFact)
	var keys []string
	seen := make(map[string]bool)
	for i := range sales {
		s := &sales[i]
		k := mergeKey{s.ProductKey, s.Day}
		m, ok := grouped[k]
		if !ok {
			m = &model.MergedFact{
				ProductKey: s.ProductKey,
				Day:        s.Day,
				Platform:   s.Platform,
				MergedAt:   now,
			}
			grouped[k] = m
		}
		addSales(m, s)
		if !seen[s.ProductKey] {
			seen[s.ProductKey] = true
			keys = append(keys, s.ProductKey)
		}
	}

	catalog, err := e.store.CatalogByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	costs, err := e.store.CostsByProducts(ctx, keys)
	if err != nil {
		return nil, err
	}

	rows := make([]*model.MergedFact, 0, len(grouped))
	report := &PassReport{Pass: PassMerge, LedgerRows: len(sales)}
	for _, m := range grouped {
		staff := ""
		if c, ok := catalog[m.ProductKey]; ok {
			applyCatalog(m, c)
			staff = c.Owner
			report.Matched++
		}
		if cost, ok := model.ResolveUnitCost(costs[m.ProductKey], staff); ok {
			m.UnitCost = decimal.NewNullDecimal(cost)
		}
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Day != rows[j].Day {
			return rows[i].Day < rows[j].Day
		}
		return rows[i].ProductKey < rows[j].ProductKey
	})

	if err := e.store.ReplaceMerged(ctx, from, to, rows); err != nil {
		return nil, err
	}
	report.Rows = len(rows)
	report.Updated = len(rows)
	return report, nil
}

func addSales(m *model.MergedFact, s *model.SalesSnapshot) {
	m.StoreCount++
	m.Visitors += s.Visitors
	m.PageViews += s.PageViews
	m.Favorites += s.Favorites
	m.CartAdds += s.CartAdds
	m.CartBuyers += s.CartBuyers
	m.PaymentAmount = m.PaymentAmount.Add(s.PaymentAmount)
	m.PaymentBuyerCount += s.PaymentBuyerCount
	m.PaymentItemCount += s.PaymentItemCount
	m.RefundAmount = m.RefundAmount.Add(s.RefundAmount)
}

func applyCatalog(m *model.MergedFact, c *model.CatalogEntry) {
	m.CatalogMatched = true
	m.ProductName = strPtr(c.ProductName)
	m.ListingDate = c.ListingDate
	m.SupplierRef = strPtr(c.SupplierRef)
	m.Owner = strPtr(c.Owner)
	m.Category = strPtr(c.Category)
}

func strPtr(s string) *string {
	return &s
}

func validateRange(from, to string) error {
	start, err := time.Parse(model.DayLayout, from)
	if err != nil {
		return fmt.Errorf("invalid from %q: %w", from, err)
	}
	end, err := time.Parse(model.DayLayout, to)
	if err != nil {
		return fmt.Errorf("invalid to %q: %w", to, err)
	}
	if end.Before(start) {
		return fmt.Errorf("range end %s before start %s", to, from)
	}
	return nil
}

// shiftDay 日期平移 n 天
func shiftDay(day string, n int) string {
	t, err := time.Parse(model.DayLayout, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, n).Format(model.DayLayout)
}
