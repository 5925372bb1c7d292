package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"lodestar/internal/model"
)

// InsertCatalog 写入商品档案；已存在的商品键跳过（首次写入生效）
func (s *Store) InsertCatalog(ctx context.Context, entries []*model.CatalogEntry) (inserted, skipped int, err error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}

	err = s.InTx(ctx, func(tx *Tx) error {
		stmt, err := tx.tx.PrepareNamedContext(ctx, `
			INSERT OR IGNORE INTO catalog (
				product_key, product_name, listing_date, supplier_ref, owner, category,
				style_code, campaigns_json, source_file, actor_id, import_id
			) VALUES (
				:product_key, :product_name, :listing_date, :supplier_ref, :owner, :category,
				:style_code, :campaigns_json, :source_file, :actor_id, :import_id
			)
		`)
		if err != nil {
			return wrapErr("prepare catalog insert", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			campaigns := e.Campaigns
			if campaigns == nil {
				campaigns = []model.CampaignWindow{}
			}
			data, err := json.Marshal(campaigns)
			if err != nil {
				return fmt.Errorf("marshal campaigns of %s: %w", e.ProductKey, err)
			}
			e.CampaignsJSON = string(data)

			res, err := stmt.ExecContext(ctx, e)
			if err != nil {
				return wrapErr("insert catalog "+e.ProductKey, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				skipped++
			} else {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, skipped, nil
}

// CatalogByKeys 按商品键批量查询档案
func (s *Store) CatalogByKeys(ctx context.Context, keys []string) (map[string]*model.CatalogEntry, error) {
	out := make(map[string]*model.CatalogEntry, len(keys))
	for _, chunk := range chunkStrings(keys, 500) {
		query, args, err := sqlx.In(`SELECT * FROM catalog WHERE product_key IN (?)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("build catalog query: %w", err)
		}
		var rows []*model.CatalogEntry
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, wrapErr("select catalog", err)
		}
		for _, e := range rows {
			if e.CampaignsJSON != "" {
				if err := json.Unmarshal([]byte(e.CampaignsJSON), &e.Campaigns); err != nil {
					return nil, fmt.Errorf("decode campaigns of %s: %w", e.ProductKey, err)
				}
			}
			out[e.ProductKey] = e
		}
	}
	return out, nil
}

// ProductKeysByStyleCode 店铺款号 -> 商品键；一个款号对应多个商品时取最小商品键
func (s *Store) ProductKeysByStyleCode(ctx context.Context, styleCodes []string) (map[string]string, error) {
	out := make(map[string]string, len(styleCodes))
	for _, chunk := range chunkStrings(styleCodes, 500) {
		query, args, err := sqlx.In(`
			SELECT style_code, MIN(product_key) AS product_key
			FROM catalog
			WHERE style_code IN (?)
			GROUP BY style_code
		`, chunk)
		if err != nil {
			return nil, fmt.Errorf("build style code query: %w", err)
		}
		var rows []struct {
			StyleCode  string `db:"style_code"`
			ProductKey string `db:"product_key"`
		}
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, wrapErr("select style codes", err)
		}
		for _, r := range rows {
			out[r.StyleCode] = r.ProductKey
		}
	}
	return out, nil
}

// UpsertCosts 写入成本价；同一 (商品, 员工, 来源) 重传时覆盖
func (s *Store) UpsertCosts(ctx context.Context, entries []*model.CostEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	err := s.InTx(ctx, func(tx *Tx) error {
		stmt, err := tx.tx.PrepareNamedContext(ctx, `
			INSERT INTO cost_prices (
				product_key, staff_key, source, unit_cost, source_file, actor_id, import_id
			) VALUES (
				:product_key, :staff_key, :source, :unit_cost, :source_file, :actor_id, :import_id
			)
			ON CONFLICT(product_key, staff_key, source) DO UPDATE SET
				unit_cost = excluded.unit_cost,
				source_file = excluded.source_file,
				actor_id = excluded.actor_id,
				import_id = excluded.import_id,
				updated_at = CURRENT_TIMESTAMP
		`)
		if err != nil {
			return wrapErr("prepare cost upsert", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e); err != nil {
				return wrapErr("upsert cost "+e.ProductKey, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// CostsByProducts 按商品键批量查询成本价
func (s *Store) CostsByProducts(ctx context.Context, keys []string) (map[string][]model.CostEntry, error) {
	out := make(map[string][]model.CostEntry, len(keys))
	for _, chunk := range chunkStrings(keys, 500) {
		query, args, err := sqlx.In(`
			SELECT * FROM cost_prices WHERE product_key IN (?)
			ORDER BY product_key, source, staff_key
		`, chunk)
		if err != nil {
			return nil, fmt.Errorf("build cost query: %w", err)
		}
		var rows []model.CostEntry
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, wrapErr("select costs", err)
		}
		for _, r := range rows {
			out[r.ProductKey] = append(out[r.ProductKey], r)
		}
	}
	return out, nil
}

// chunkStrings 拆分 IN 参数，避免超过 SQLite 变量上限
func chunkStrings(items []string, size int) [][]string {
	var chunks [][]string
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}
