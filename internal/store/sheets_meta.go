package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// SheetMeta 单个表/工作表的列解析结果（用于追溯表头映射）
type SheetMeta struct {
	ImportID    string `db:"import_id"`
	SheetName   string `db:"sheet_name"`
	HeaderRow   int    `db:"header_row"`
	DataRows    int    `db:"data_rows"`
	ColumnsJSON string `db:"columns_json"`
	Status      string `db:"status"` // imported/skipped
}

// InsertSheetMeta 写入 Sheet 元信息
func (s *Store) InsertSheetMeta(ctx context.Context, metas []SheetMeta) error {
	for _, m := range metas {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO sheets_meta (import_id, sheet_name, header_row, data_rows, columns_json, status)
			VALUES (:import_id, :sheet_name, :header_row, :data_rows, :columns_json, :status)
		`, m)
		if err != nil {
			return wrapErr(fmt.Sprintf("insert sheets_meta %s", m.SheetName), err)
		}
	}
	return nil
}

// ListSheetMeta 查询某次导入的 Sheet 元信息
func (s *Store) ListSheetMeta(ctx context.Context, importID string) ([]SheetMeta, error) {
	var out []SheetMeta
	err := s.db.SelectContext(ctx, &out, `
		SELECT import_id, sheet_name, header_row, data_rows, columns_json, status
		FROM sheets_meta WHERE import_id = ? ORDER BY id
	`, importID)
	if err != nil {
		return nil, wrapErr("select sheets_meta", err)
	}
	return out, nil
}

// BuildColumnsJSON 将列映射序列化为 JSON
func BuildColumnsJSON(columns any) string {
	b, err := json.Marshal(columns)
	if err != nil {
		return "[]"
	}
	return string(b)
}
