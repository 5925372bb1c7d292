package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"lodestar/internal/model"
)

type salesKey struct {
	platform string
	day      string
	store    string
}

// ReplaceSales 按 (平台, 日期, 店铺) 整组删除后重插日报快照，单事务完成
func (s *Store) ReplaceSales(ctx context.Context, rows []*model.SalesSnapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	keys := make(map[salesKey]bool)
	for _, r := range rows {
		keys[salesKey{r.Platform, r.Day, r.StoreID}] = true
	}

	err := s.InTx(ctx, func(tx *Tx) error {
		for k := range keys {
			if _, err := tx.tx.ExecContext(ctx,
				`DELETE FROM sales_snapshots WHERE platform = ? AND day = ? AND store_id = ?`,
				k.platform, k.day, k.store,
			); err != nil {
				return wrapErr("delete sales", err)
			}
		}

		stmt, err := tx.tx.PrepareNamedContext(ctx, `
			INSERT INTO sales_snapshots (
				platform, product_key, day, store_id,
				visitors, page_views, favorites, cart_adds, cart_buyers,
				payment_amount, payment_buyer_count, payment_item_count, refund_amount,
				reported_conversion, source_file, actor_id, import_id
			) VALUES (
				:platform, :product_key, :day, :store_id,
				:visitors, :page_views, :favorites, :cart_adds, :cart_buyers,
				:payment_amount, :payment_buyer_count, :payment_item_count, :refund_amount,
				:reported_conversion, :source_file, :actor_id, :import_id
			)
			ON CONFLICT(platform, product_key, day, store_id) DO UPDATE SET
				visitors = excluded.visitors,
				page_views = excluded.page_views,
				favorites = excluded.favorites,
				cart_adds = excluded.cart_adds,
				cart_buyers = excluded.cart_buyers,
				payment_amount = excluded.payment_amount,
				payment_buyer_count = excluded.payment_buyer_count,
				payment_item_count = excluded.payment_item_count,
				refund_amount = excluded.refund_amount,
				reported_conversion = excluded.reported_conversion,
				source_file = excluded.source_file,
				actor_id = excluded.actor_id,
				import_id = excluded.import_id
		`)
		if err != nil {
			return wrapErr("prepare sales insert", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r); err != nil {
				return wrapErr("insert sales "+r.ProductKey, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ListSales 查询日期范围内的日报快照，按商品、日期、店铺排序
func (s *Store) ListSales(ctx context.Context, from, to string) ([]model.SalesSnapshot, error) {
	var rows []model.SalesSnapshot
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM sales_snapshots
		WHERE day BETWEEN ? AND ?
		ORDER BY product_key, day, platform, store_id
	`, from, to)
	if err != nil {
		return nil, wrapErr("select sales", err)
	}
	return rows, nil
}

// uploadKeys 按平台归集文件中出现的日期；台账重传只覆盖同平台同日期的行
type uploadKeys map[string]map[string]bool

func (k uploadKeys) add(platform, day string) {
	days, ok := k[platform]
	if !ok {
		days = make(map[string]bool)
		k[platform] = days
	}
	days[day] = true
}

// replaceByUpload 删除 (平台, 日期) 范围内的旧行后重插（推广、补单、订单明细通用）
func (s *Store) replaceByUpload(ctx context.Context, table string, keys uploadKeys, insertSQL string, rows []any) error {
	return s.InTx(ctx, func(tx *Tx) error {
		for platform, days := range keys {
			query, args, err := sqlx.In(fmt.Sprintf(`DELETE FROM %s WHERE platform = ? AND day IN (?)`, table), platform, dayArgs(days))
			if err != nil {
				return fmt.Errorf("build delete %s: %w", table, err)
			}
			if _, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(query), args...); err != nil {
				return wrapErr("delete "+table, err)
			}
		}

		stmt, err := tx.tx.PrepareNamedContext(ctx, insertSQL)
		if err != nil {
			return wrapErr("prepare "+table+" insert", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r); err != nil {
				return wrapErr("insert "+table, err)
			}
		}
		return nil
	})
}

// ReplacePromotion 写入推广花费（覆盖同平台文件中出现的日期）
func (s *Store) ReplacePromotion(ctx context.Context, rows []*model.PromotionSpend) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	keys := make(uploadKeys)
	items := make([]any, 0, len(rows))
	for _, r := range rows {
		keys.add(r.Platform, r.Day)
		items = append(items, r)
	}
	err := s.replaceByUpload(ctx, "promotion_spend", keys, `
		INSERT INTO promotion_spend (platform, scene, product_key, day, spend, source_file, actor_id, import_id)
		VALUES (:platform, :scene, :product_key, :day, :spend, :source_file, :actor_id, :import_id)
	`, items)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ListPromotion 查询日期范围内的推广花费
func (s *Store) ListPromotion(ctx context.Context, from, to string) ([]model.PromotionSpend, error) {
	var rows []model.PromotionSpend
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM promotion_spend WHERE day BETWEEN ? AND ? ORDER BY id
	`, from, to)
	if err != nil {
		return nil, wrapErr("select promotion", err)
	}
	return rows, nil
}

// ReplaceRebates 写入补单流水（覆盖同平台文件中出现的日期）
func (s *Store) ReplaceRebates(ctx context.Context, rows []*model.RebateOrder) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	keys := make(uploadKeys)
	items := make([]any, 0, len(rows))
	for _, r := range rows {
		keys.add(r.Platform, r.Day)
		items = append(items, r)
	}
	err := s.replaceByUpload(ctx, "rebate_orders", keys, `
		INSERT INTO rebate_orders (platform, order_no, product_key, day, quantity, amount, commission, staff, source_file, actor_id, import_id)
		VALUES (:platform, :order_no, :product_key, :day, :quantity, :amount, :commission, :staff, :source_file, :actor_id, :import_id)
	`, items)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ListRebates 查询日期范围内的补单流水
func (s *Store) ListRebates(ctx context.Context, from, to string) ([]model.RebateOrder, error) {
	var rows []model.RebateOrder
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM rebate_orders WHERE day BETWEEN ? AND ? ORDER BY id
	`, from, to)
	if err != nil {
		return nil, wrapErr("select rebates", err)
	}
	return rows, nil
}

// ReplaceOrderLines 写入发货订单明细（覆盖同平台文件中出现的日期）
func (s *Store) ReplaceOrderLines(ctx context.Context, rows []*model.OrderLine) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	keys := make(uploadKeys)
	items := make([]any, 0, len(rows))
	for _, r := range rows {
		keys.add(r.Platform, r.Day)
		items = append(items, r)
	}
	err := s.replaceByUpload(ctx, "order_lines", keys, `
		INSERT INTO order_lines (platform, order_no, day, style_code, quantity, unit_price, source_file, actor_id, import_id)
		VALUES (:platform, :order_no, :day, :style_code, :quantity, :unit_price, :source_file, :actor_id, :import_id)
	`, items)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ListOrderLines 查询日期范围内的订单明细，同一订单内按 id 排序
func (s *Store) ListOrderLines(ctx context.Context, from, to string) ([]model.OrderLine, error) {
	var rows []model.OrderLine
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM order_lines WHERE day BETWEEN ? AND ? ORDER BY order_no, id
	`, from, to)
	if err != nil {
		return nil, wrapErr("select order lines", err)
	}
	return rows, nil
}

// UpsertSettlements 写入结算流水；同一流水号重传时覆盖
func (s *Store) UpsertSettlements(ctx context.Context, rows []*model.Settlement) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	err := s.InTx(ctx, func(tx *Tx) error {
		stmt, err := tx.tx.PrepareNamedContext(ctx, `
			INSERT INTO settlements (transaction_id, day, income, expense, memo, order_ref, source_file, actor_id, import_id)
			VALUES (:transaction_id, :day, :income, :expense, :memo, :order_ref, :source_file, :actor_id, :import_id)
			ON CONFLICT(transaction_id) DO UPDATE SET
				day = excluded.day,
				income = excluded.income,
				expense = excluded.expense,
				memo = excluded.memo,
				order_ref = excluded.order_ref,
				source_file = excluded.source_file,
				actor_id = excluded.actor_id,
				import_id = excluded.import_id
		`)
		if err != nil {
			return wrapErr("prepare settlement upsert", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r); err != nil {
				return wrapErr("upsert settlement "+r.TransactionID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// SettlementTotalsByRef 日期范围内按订单号汇总 收入+支出
func (s *Store) SettlementTotalsByRef(ctx context.Context, from, to string) (map[string]decimal.Decimal, error) {
	var rows []model.Settlement
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM settlements
		WHERE day BETWEEN ? AND ? AND order_ref <> ''
		ORDER BY transaction_id
	`, from, to)
	if err != nil {
		return nil, wrapErr("select settlements", err)
	}
	// 金额为定点文本，在 Go 侧求和避免浮点
	out := make(map[string]decimal.Decimal)
	for _, r := range rows {
		out[r.OrderRef] = out[r.OrderRef].Add(r.Net())
	}
	return out, nil
}

// ResetOrderLineSettlement 清空范围内订单明细的结算字段
func (t *Tx) ResetOrderLineSettlement(ctx context.Context, from, to string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE order_lines
		SET paid_amount = '0', settled_at = NULL, product_key = NULL, catalog_matched = 0
		WHERE day BETWEEN ? AND ?
	`, from, to)
	return wrapErr("reset order line settlement", err)
}

// UpdateOrderLineSettlement 写入单条订单明细的商品匹配与结算回款
func (t *Tx) UpdateOrderLineSettlement(ctx context.Context, line *model.OrderLine) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE order_lines
		SET product_key = ?, catalog_matched = ?, paid_amount = ?, settled_at = ?
		WHERE id = ?
	`, line.ProductKey, line.CatalogMatched, money(line.PaidAmount), line.SettledAt, line.ID)
	return wrapErr(fmt.Sprintf("update order line %d", line.ID), err)
}
