package exporter

// ProgressEvent 导出进度
type ProgressEvent struct {
	Stage   string
	Percent int
	Rows    int // 已写入明细行数
	Total   int
}

// reportProgress 在 [base, base+span] 区间内按行数折算百分比
func reportProgress(progress func(ProgressEvent), stage string, base, span, rows, total int) {
	if progress == nil {
		return
	}
	pct := base
	if total > 0 {
		pct = base + span*rows/total
	}
	pct = min(max(pct, 0), 100)
	progress(ProgressEvent{Stage: stage, Percent: pct, Rows: rows, Total: total})
}
