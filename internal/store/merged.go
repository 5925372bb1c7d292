package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lodestar/internal/model"
)

// 金额两位小数、比率四位小数的定点文本
func money(d decimal.Decimal) string { return d.StringFixed(2) }
func rate(d decimal.Decimal) string  { return d.StringFixed(4) }

// ReplaceMerged 删除范围内的对账结果后重插，单事务完成（仅影响 [from, to]）
func (s *Store) ReplaceMerged(ctx context.Context, from, to string, rows []*model.MergedFact) error {
	return s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM merged_facts WHERE day BETWEEN ? AND ?`, from, to,
		); err != nil {
			return wrapErr("delete merged facts", err)
		}
		if len(rows) == 0 {
			return nil
		}

		stmt, err := tx.tx.PrepareNamedContext(ctx, `
			INSERT INTO merged_facts (
				product_key, day, platform, store_count,
				visitors, page_views, favorites, cart_adds, cart_buyers,
				payment_amount, payment_buyer_count, payment_item_count, refund_amount,
				catalog_matched, product_name, listing_date, supplier_ref, owner, category, unit_cost,
				merged_at
			) VALUES (
				:product_key, :day, :platform, :store_count,
				:visitors, :page_views, :favorites, :cart_adds, :cart_buyers,
				:payment_amount, :payment_buyer_count, :payment_item_count, :refund_amount,
				:catalog_matched, :product_name, :listing_date, :supplier_ref, :owner, :category, :unit_cost,
				:merged_at
			)
		`)
		if err != nil {
			return wrapErr("prepare merged insert", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if r.Day < from || r.Day > to {
				return fmt.Errorf("merged row %s@%s outside range [%s, %s]", r.ProductKey, r.Day, from, to)
			}
			if _, err := stmt.ExecContext(ctx, mergedInsertArgs(r)); err != nil {
				return wrapErr("insert merged "+r.ProductKey, err)
			}
		}
		return nil
	})
}

// mergedInsertArgs 金额字段统一写成定点文本；单件成本保留四位
func mergedInsertArgs(r *model.MergedFact) map[string]interface{} {
	var unitCost interface{}
	if r.UnitCost.Valid {
		unitCost = rate(r.UnitCost.Decimal)
	}
	return map[string]interface{}{
		"product_key":         r.ProductKey,
		"day":                 r.Day,
		"platform":            r.Platform,
		"store_count":         r.StoreCount,
		"visitors":            r.Visitors,
		"page_views":          r.PageViews,
		"favorites":           r.Favorites,
		"cart_adds":           r.CartAdds,
		"cart_buyers":         r.CartBuyers,
		"payment_amount":      money(r.PaymentAmount),
		"payment_buyer_count": r.PaymentBuyerCount,
		"payment_item_count":  r.PaymentItemCount,
		"refund_amount":       money(r.RefundAmount),
		"catalog_matched":     r.CatalogMatched,
		"product_name":        r.ProductName,
		"listing_date":        r.ListingDate,
		"supplier_ref":        r.SupplierRef,
		"owner":               r.Owner,
		"category":            r.Category,
		"unit_cost":           unitCost,
		"merged_at":           r.MergedAt,
	}
}

// ListMerged 查询范围内的对账结果，按日期、商品排序
func (s *Store) ListMerged(ctx context.Context, from, to string) ([]model.MergedFact, error) {
	var rows []model.MergedFact
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM merged_facts WHERE day BETWEEN ? AND ? ORDER BY day, product_key
	`, from, to)
	if err != nil {
		return nil, wrapErr("select merged facts", err)
	}
	return rows, nil
}

// ResetMergedPromotion 清零范围内的推广花费字段
func (t *Tx) ResetMergedPromotion(ctx context.Context, from, to string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE merged_facts SET
			promo_search = '0', promo_display = '0', promo_fullsite = '0',
			promo_content = '0', promo_brand = '0', promo_affiliate = '0'
		WHERE day BETWEEN ? AND ?
	`, from, to)
	return wrapErr("reset merged promotion", err)
}

// UpdateMergedPromotion 写入单行推广花费
func (t *Tx) UpdateMergedPromotion(ctx context.Context, m *model.MergedFact, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE merged_facts SET
			promo_search = ?, promo_display = ?, promo_fullsite = ?,
			promo_content = ?, promo_brand = ?, promo_affiliate = ?,
			enriched_at = ?
		WHERE id = ?
	`, money(m.PromoSearch), money(m.PromoDisplay), money(m.PromoFullsite),
		money(m.PromoContent), money(m.PromoBrand), money(m.PromoAffiliate),
		at, m.ID)
	return wrapErr("update merged promotion "+m.ProductKey, err)
}

// ResetMergedRebate 清零范围内的补单汇总字段
func (t *Tx) ResetMergedRebate(ctx context.Context, from, to string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE merged_facts SET
			rebate_order_count = 0, rebate_amount = '0', rebate_cost = '0',
			rebate_logistics_cost = '0', rebate_deduction = '0'
		WHERE day BETWEEN ? AND ?
	`, from, to)
	return wrapErr("reset merged rebate", err)
}

// UpdateMergedRebate 写入单行补单汇总
func (t *Tx) UpdateMergedRebate(ctx context.Context, m *model.MergedFact, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE merged_facts SET
			rebate_order_count = ?, rebate_amount = ?, rebate_cost = ?,
			rebate_logistics_cost = ?, rebate_deduction = ?,
			enriched_at = ?
		WHERE id = ?
	`, m.RebateOrderCount, money(m.RebateAmount), money(m.RebateCost),
		money(m.RebateLogisticsCost), money(m.RebateDeduction),
		at, m.ID)
	return wrapErr("update merged rebate "+m.ProductKey, err)
}

// UpdateMergedMetrics 写入单行派生指标
func (t *Tx) UpdateMergedMetrics(ctx context.Context, m *model.MergedFact, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE merged_facts SET
			conversion_rate = ?, favorite_rate = ?, cart_rate = ?, uv_value = ?,
			true_amount = ?, true_buyer_count = ?, true_item_count = ?,
			product_cost = ?, order_deduction = ?, tax = ?, logistics_cost = ?,
			true_conversion_rate = ?, gross_profit = ?,
			metrics_at = ?
		WHERE id = ?
	`, rate(m.ConversionRate), rate(m.FavoriteRate), rate(m.CartRate), money(m.UVValue),
		money(m.TrueAmount), m.TrueBuyerCount, m.TrueItemCount,
		money(m.ProductCost), money(m.OrderDeduction), money(m.Tax), money(m.LogisticsCost),
		rate(m.TrueConversionRate), money(m.GrossProfit),
		at, m.ID)
	return wrapErr("update merged metrics "+m.ProductKey, err)
}
