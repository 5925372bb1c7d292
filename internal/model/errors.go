package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnreadableEncoding 所有候选编码都无法完整解析文件，整个文件放弃导入
	ErrUnreadableEncoding = errors.New("unreadable encoding")
	// ErrPreconditionMissing 请求的日期范围内没有可用的事实/流水数据
	ErrPreconditionMissing = errors.New("precondition missing")
	// ErrStoreUnavailable 存储连接中断，事务已整体回滚，可安全重试
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SkipReason 行被丢弃的原因
type SkipReason string

const (
	SkipEmpty      SkipReason = "empty"
	SkipHeader     SkipReason = "header"
	SkipMissingKey SkipReason = "missing_key"
)

// CellWarning 单元格转换失败（字段置空，行继续）
type CellWarning struct {
	Sheet  string `json:"sheet,omitempty"`
	Row    int    `json:"row"` // 源文件行号，从 1 开始
	Column string `json:"column"`
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (w CellWarning) String() string {
	return fmt.Sprintf("row %d column %q (%s): %s: %q", w.Row, w.Column, w.Field, w.Reason, w.Raw)
}

// RowError 对账或指标计算中单行失败，该行被跳过
type RowError struct {
	Stage      string `json:"stage"`
	ProductKey string `json:"productKey"`
	Day        string `json:"day"`
	Err        error  `json:"-"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: row %s@%s: %v", e.Stage, e.ProductKey, e.Day, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// BatchError 文件/批次级失败，携带已收集的部分计数
type BatchError struct {
	Summary  string
	Counters map[string]int
	Err      error
}

func (e *BatchError) Error() string {
	if len(e.Counters) == 0 {
		return fmt.Sprintf("%s: %v", e.Summary, e.Err)
	}
	keys := make([]string, 0, len(e.Counters))
	for k := range e.Counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, e.Counters[k]))
	}
	return fmt.Sprintf("%s (%s): %v", e.Summary, strings.Join(parts, " "), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
