package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ImportLog 导入日志
type ImportLog struct {
	ID           int64      `db:"id" json:"id"`
	ImportID     string     `db:"import_id" json:"importId"`
	Filename     string     `db:"filename" json:"filename"`
	Platform     string     `db:"platform" json:"platform"`
	Kind         string     `db:"kind" json:"kind"`
	ActorID      string     `db:"actor_id" json:"actorId"`
	FileSize     int64      `db:"file_size" json:"fileSize"`
	Encoding     string     `db:"encoding" json:"encoding"`
	TotalRows    int        `db:"total_rows" json:"totalRows"`
	ImportedRows int        `db:"imported_rows" json:"importedRows"`
	SkippedRows  int        `db:"skipped_rows" json:"skippedRows"`
	WarningCount int        `db:"warning_count" json:"warningCount"`
	Status       string     `db:"status" json:"status"` // processing/completed/error
	ErrorMessage string     `db:"error_message" json:"errorMessage"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	CompletedAt  *time.Time `db:"completed_at" json:"completedAt"`
}

// CreateImportLog 创建导入日志
func (s *Store) CreateImportLog(ctx context.Context, importID, filename, platform, kind, actorID string, fileSize int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_logs (import_id, filename, platform, kind, actor_id, file_size, status)
		VALUES (?, ?, ?, ?, ?, ?, 'processing')
	`, importID, filename, platform, kind, actorID, fileSize)
	return wrapErr("create import log", err)
}

// FinishImportLog 完成导入日志更新
func (s *Store) FinishImportLog(ctx context.Context, l *ImportLog) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_logs SET
			encoding = ?,
			total_rows = ?,
			imported_rows = ?,
			skipped_rows = ?,
			warning_count = ?,
			status = ?,
			error_message = ?,
			completed_at = CURRENT_TIMESTAMP
		WHERE import_id = ?
	`, l.Encoding, l.TotalRows, l.ImportedRows, l.SkippedRows, l.WarningCount, l.Status, l.ErrorMessage, l.ImportID)
	return wrapErr("finish import log", err)
}

// GetImportLog 按导入 ID 查询日志
func (s *Store) GetImportLog(ctx context.Context, importID string) (*ImportLog, error) {
	var l ImportLog
	err := s.db.GetContext(ctx, &l, `SELECT * FROM import_logs WHERE import_id = ?`, importID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("import log %s: %w", importID, ErrNotFound)
		}
		return nil, wrapErr("get import log", err)
	}
	return &l, nil
}
