package parser

import (
	"fmt"
	"strings"
	"time"

	"lodestar/internal/model"
)

// headerScanRows 表头行只在前若干行内查找（导出文件常带标题、说明行）
const headerScanRows = 10

// minNamedColumns 无关键字段时，至少命中这么多列才认作表头
const minNamedColumns = 3

// Normalize 把原始表格（CSV 或工作簿）规范化为带类型的行。
// 只有文件整体不可读时返回错误；单元格转换失败记为警告，整行缺失关键字段则计数丢弃。
func Normalize(raw []byte, filename string, platform Platform, kind TableKind) (*Result, error) {
	start := time.Now()

	if _, ok := tableFields[kind]; !ok {
		return nil, fmt.Errorf("unknown table kind %q", kind)
	}
	if platform == "" {
		platform = PlatformInternal
	}

	tables, enc, err := readTables(raw, filename)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", filename, err)
	}

	res := &Result{
		Filename: filename,
		Platform: platform,
		Kind:     kind,
		Encoding: enc,
		Skipped:  make(map[model.SkipReason]int),
	}

	resolver := newColumnResolver(platform, kind)
	for _, t := range tables {
		normalizeTable(res, resolver, t)
	}

	res.Duration = time.Since(start)
	return res, nil
}

func normalizeTable(res *Result, r *columnResolver, t rawTable) {
	headerIdx, cols := findHeader(r, t.rows)
	if headerIdx < 0 {
		res.SkippedSheets = append(res.SkippedSheets, t.name)
		return
	}

	header := t.rows[headerIdx]
	normHeader := make([]string, len(header))
	for i, h := range header {
		normHeader[i] = NormalizeColumnName(h)
	}

	info := TableInfo{Sheet: t.name, HeaderRow: headerIdx + 1}
	for _, spec := range r.fields {
		if c, ok := cols[spec.Name]; ok {
			info.Columns = append(info.Columns, c)
		}
	}

	for i := headerIdx + 1; i < len(t.rows); i++ {
		cells := t.rows[i]
		line := i + 1

		if isBlankRow(cells) {
			res.Skipped[model.SkipEmpty]++
			continue
		}
		if isRestatedHeader(cells, normHeader) {
			res.Skipped[model.SkipHeader]++
			continue
		}

		row := Row{Sheet: t.name, Line: line, Values: make(map[string]any, len(cols))}
		var warnings []model.CellWarning
		for _, spec := range r.fields {
			c, ok := cols[spec.Name]
			if !ok {
				continue
			}
			raw := strings.TrimSpace(cellAt(cells, c.Column))
			if raw == "" {
				continue
			}
			v, reason := coerce(spec.Kind, raw)
			if reason != "" {
				warnings = append(warnings, model.CellWarning{
					Sheet:  t.name,
					Row:    line,
					Column: c.Header,
					Field:  spec.Name,
					Raw:    raw,
					Reason: reason,
				})
				continue
			}
			if v != nil {
				row.Values[spec.Name] = v
			}
		}

		if missingAllKeys(r.fields, row) {
			res.Skipped[model.SkipMissingKey]++
			continue
		}

		// 被丢弃的行不产生单元格警告
		res.Warnings = append(res.Warnings, warnings...)
		res.Rows = append(res.Rows, row)
		info.DataRows++
	}

	res.Tables = append(res.Tables, info)
}

// findHeader 在前若干行中找到第一行能识别出关键字段（或足够多字段）的表头
func findHeader(r *columnResolver, rows [][]string) (int, map[string]Resolution) {
	limit := headerScanRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		if isBlankRow(rows[i]) {
			continue
		}
		named := r.resolveNamed(rows[i])
		if r.hasKeyField(named) || len(named) >= minNamedColumns {
			return i, r.resolve(rows[i])
		}
	}
	return -1, nil
}

// isRestatedHeader 分段导出时重复出现的表头行：至少一半非空单元格与表头一致
func isRestatedHeader(cells, normHeader []string) bool {
	nonEmpty, same := 0, 0
	for i, c := range cells {
		n := NormalizeColumnName(c)
		if n == "" {
			continue
		}
		nonEmpty++
		if i < len(normHeader) && n == normHeader[i] {
			same++
		}
	}
	return same > 0 && same*2 >= nonEmpty
}

func missingAllKeys(fields []FieldSpec, row Row) bool {
	for _, spec := range fields {
		if spec.Key && row.Has(spec.Name) {
			return false
		}
	}
	return true
}

// coerce 单元格转换，失败时返回原因
func coerce(kind ValueKind, raw string) (any, string) {
	switch kind {
	case ValueText:
		if nullMarkers[strings.ToLower(raw)] {
			return nil, ""
		}
		return raw, ""
	case ValueCode:
		if v, ok := ParseCode(raw); ok {
			return v, ""
		}
		return nil, "invalid code"
	case ValueInt:
		if nullMarkers[strings.ToLower(raw)] {
			return nil, ""
		}
		if v, ok := ParseInt(raw); ok {
			return v, ""
		}
		return nil, "invalid number"
	case ValueDecimal, ValueRate:
		if nullMarkers[strings.ToLower(raw)] {
			return nil, ""
		}
		if v, ok := ParseDecimal(raw); ok {
			return v, ""
		}
		return nil, "invalid number"
	case ValueDate:
		if nullMarkers[strings.ToLower(raw)] {
			return nil, ""
		}
		if t, ok := ParseDate(raw); ok {
			return t.Format(model.DayLayout), ""
		}
		return nil, "invalid date"
	}
	return nil, "unsupported kind"
}
