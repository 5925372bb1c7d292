package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lodestar/internal/model"
	"lodestar/internal/store"
)

// guardRow 执行单行处理；panic 与普通错误一样记为行级错误
func (e *Engine) guardRow(report *PassReport, productKey, day string, fn func() error) error {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return nil
	}
	// 连接层面的失败需要整体回滚
	if errors.Is(err, model.ErrStoreUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	rowErr := &model.RowError{Stage: report.Pass, ProductKey: productKey, Day: day, Err: err}
	report.Errors = append(report.Errors, rowErr)
	e.log.Warn("reconcile row failed",
		zap.String("pass", report.Pass),
		zap.String("product_key", productKey),
		zap.String("day", day),
		zap.Error(err),
	)
	return nil
}

// enrichPromotion 推广花费：先清零再按场景表累加
func (e *Engine) enrichPromotion(ctx context.Context, from, to string) (*PassReport, error) {
	merged, err := e.store.ListMerged(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("no merged facts in [%s, %s]: %w", from, to, model.ErrPreconditionMissing)
	}
	ledger, err := e.store.ListPromotion(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byKey := make(map[mergeKey][]model.PromotionSpend)
	for _, p := range ledger {
		k := mergeKey{p.ProductKey, p.Day}
		byKey[k] = append(byKey[k], p)
	}

	report := &PassReport{Pass: PassPromotion, Rows: len(merged), LedgerRows: len(ledger), UnknownScenes: map[string]int{}}
	now := e.opts.Now().UTC()
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.ResetMergedPromotion(ctx, from, to); err != nil {
			return err
		}
		for i := range merged {
			m := &merged[i]
			spends := byKey[mergeKey{m.ProductKey, m.Day}]
			if len(spends) == 0 {
				continue
			}
			report.Matched++
			if err := e.guardRow(report, m.ProductKey, m.Day, func() error {
				resetPromotion(m)
				for _, s := range spends {
					field, ok := SceneField(s.Scene)
					if !ok {
						report.UnknownScenes[s.Scene]++
						continue
					}
					field.add(m, s.Spend)
				}
				if err := tx.UpdateMergedPromotion(ctx, m, now); err != nil {
					return err
				}
				report.Updated++
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 台账中没有对应日报行的推广记录也要在统计里可见
	present := make(map[mergeKey]bool, len(merged))
	for i := range merged {
		present[mergeKey{merged[i].ProductKey, merged[i].Day}] = true
	}
	for _, p := range ledger {
		if _, ok := SceneField(p.Scene); ok {
			continue
		}
		if !present[mergeKey{p.ProductKey, p.Day}] {
			report.UnknownScenes[p.Scene]++
		}
	}
	if len(report.UnknownScenes) > 0 {
		e.log.Warn("unknown promotion scenes", zap.Any("scenes", report.UnknownScenes))
	}
	return report, nil
}

// enrichRebate 补单汇总：笔数、金额、佣金、物流与扣点
func (e *Engine) enrichRebate(ctx context.Context, from, to string) (*PassReport, error) {
	merged, err := e.store.ListMerged(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("no merged facts in [%s, %s]: %w", from, to, model.ErrPreconditionMissing)
	}
	ledger, err := e.store.ListRebates(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byKey := make(map[mergeKey][]model.RebateOrder)
	for _, r := range ledger {
		k := mergeKey{r.ProductKey, r.Day}
		byKey[k] = append(byKey[k], r)
	}

	report := &PassReport{Pass: PassRebate, Rows: len(merged), LedgerRows: len(ledger)}
	now := e.opts.Now().UTC()
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.ResetMergedRebate(ctx, from, to); err != nil {
			return err
		}
		for i := range merged {
			m := &merged[i]
			orders := byKey[mergeKey{m.ProductKey, m.Day}]
			if len(orders) == 0 {
				continue
			}
			report.Matched++
			if err := e.guardRow(report, m.ProductKey, m.Day, func() error {
				e.applyRebate(m, orders)
				if err := tx.UpdateMergedRebate(ctx, m, now); err != nil {
					return err
				}
				report.Updated++
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Engine) applyRebate(m *model.MergedFact, orders []model.RebateOrder) {
	amount := decimal.Zero
	commission := decimal.Zero
	for _, o := range orders {
		amount = amount.Add(o.Amount)
		commission = commission.Add(o.Commission)
	}
	count := int64(len(orders))
	m.RebateOrderCount = count
	m.RebateAmount = amount
	m.RebateCost = commission
	m.RebateLogisticsCost = e.opts.RebateLogisticsPerOrder.Mul(decimal.NewFromInt(count)).Round(2)
	m.RebateDeduction = amount.Mul(e.opts.RebateDeductionRate).Round(2)
}

// enrichSettlement 订单明细回填：款号匹配商品，按订单号汇总结算净额写到该订单首行
func (e *Engine) enrichSettlement(ctx context.Context, from, to string) (*PassReport, error) {
	lines, err := e.store.ListOrderLines(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no order lines in [%s, %s]: %w", from, to, model.ErrPreconditionMissing)
	}

	styles := make([]string, 0, len(lines))
	seen := make(map[string]bool)
	for _, l := range lines {
		if l.StyleCode != "" && !seen[l.StyleCode] {
			seen[l.StyleCode] = true
			styles = append(styles, l.StyleCode)
		}
	}
	byStyle, err := e.store.ProductKeysByStyleCode(ctx, styles)
	if err != nil {
		return nil, err
	}
	windowEnd := shiftDay(to, e.opts.SettlementLagDays)
	totals, err := e.store.SettlementTotalsByRef(ctx, from, windowEnd)
	if err != nil {
		return nil, err
	}

	report := &PassReport{Pass: PassSettlement, Rows: len(lines), LedgerRows: len(totals)}
	now := e.opts.Now().UTC()
	// ListOrderLines 按 (order_no, id) 排序，首次出现即该订单首行
	firstLine := make(map[string]bool)
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.ResetOrderLineSettlement(ctx, from, to); err != nil {
			return err
		}
		for i := range lines {
			l := &lines[i]
			key := l.OrderNo
			if err := e.guardRow(report, key, l.Day, func() error {
				l.ProductKey = nil
				l.CatalogMatched = false
				if pk, ok := byStyle[l.StyleCode]; ok && l.StyleCode != "" {
					l.ProductKey = &pk
					l.CatalogMatched = true
				}
				l.PaidAmount = decimal.Zero
				l.SettledAt = nil
				if total, ok := totals[l.OrderNo]; ok && !firstLine[l.OrderNo] {
					l.PaidAmount = total
					at := now
					l.SettledAt = &at
					report.Matched++
				}
				firstLine[l.OrderNo] = true
				if err := tx.UpdateOrderLineSettlement(ctx, l); err != nil {
					return err
				}
				report.Updated++
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("settlement window",
		zap.String("from", from),
		zap.String("to", windowEnd),
		zap.Int("refs", len(totals)),
	)
	return report, nil
}
