package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lodestar/internal/model"
	"lodestar/internal/parser"
	"lodestar/internal/progress"
	"lodestar/internal/store"
)

// 每映射多少行上报一次进度
const progressEvery = 200

// Coordinator 导入协调器
type Coordinator struct {
	store   *store.Store
	tracker *progress.Tracker
	log     *zap.Logger
}

// NewCoordinator 创建导入协调器
func NewCoordinator(s *store.Store, tracker *progress.Tracker, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	return &Coordinator{store: s, tracker: tracker, log: log}
}

// Request 一次上传
type Request struct {
	Data     []byte
	Filename string
	Platform parser.Platform
	Kind     parser.TableKind
	Day      string // 行内无日期时使用
	StoreID  string // 行内无店铺时使用
	ActorID  string
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string    `json:"type"` // start/parsed/mapped/done/error
	Message   string    `json:"message"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Report 导入结果
type Report struct {
	ImportID       string                   `json:"importId"`
	Filename       string                   `json:"filename"`
	Platform       parser.Platform          `json:"platform"`
	Kind           parser.TableKind         `json:"kind"`
	Encoding       string                   `json:"encoding"`
	Tables         []parser.TableInfo       `json:"tables"`
	SkippedSheets  []string                 `json:"skippedSheets,omitempty"`
	ParsedRows     int                      `json:"parsedRows"`
	ImportedRows   int                      `json:"importedRows"`
	CatalogSkipped int                      `json:"catalogSkipped"` // 档案已存在而跳过的商品数
	Skipped        map[model.SkipReason]int `json:"skipped"`
	Warnings       []model.CellWarning      `json:"warnings,omitempty"`
	Duration       time.Duration            `json:"duration"`
}

// Counters 汇总计数，用于进度与错误信息
func (r *Report) Counters() map[string]int {
	out := map[string]int{
		"parsed":   r.ParsedRows,
		"imported": r.ImportedRows,
		"warnings": len(r.Warnings),
	}
	if r.CatalogSkipped > 0 {
		out["catalog_skipped"] = r.CatalogSkipped
	}
	for reason, n := range r.Skipped {
		out["skipped_"+string(reason)] = n
	}
	return out
}

// Start 后台导入，立即返回任务 ID；进度写入 tracker
func (c *Coordinator) Start(ctx context.Context, req Request) string {
	taskID := uuid.NewString()
	c.tracker.Create(taskID, 0)

	ctx = context.WithoutCancel(ctx)
	go func() {
		for evt := range c.importWithID(ctx, taskID, req) {
			c.track(taskID, evt)
		}
	}()
	return taskID
}

func (c *Coordinator) track(taskID string, evt ProgressEvent) {
	switch evt.Type {
	case "parsed":
		c.tracker.SetTotal(taskID, evt.Total)
		c.tracker.Update(taskID, 0, evt.Message, nil)
	case "mapped":
		c.tracker.Update(taskID, evt.Processed, evt.Message, nil)
	case "done":
		if r, ok := evt.Data.(*Report); ok {
			c.tracker.Update(taskID, r.ParsedRows, evt.Message, r.Counters())
			for _, t := range r.Tables {
				c.tracker.AddKey(taskID, t.Sheet)
			}
		}
		c.tracker.Complete(taskID)
	case "error":
		if be, ok := evt.Data.(*model.BatchError); ok {
			c.tracker.Update(taskID, 0, "", be.Counters)
		}
		c.tracker.Error(taskID, evt.Message)
	default:
		c.tracker.Update(taskID, 0, evt.Message, nil)
	}
}

// Import 执行导入，返回进度通道（最后一个事件为 done 或 error）
func (c *Coordinator) Import(ctx context.Context, req Request) <-chan ProgressEvent {
	return c.importWithID(ctx, uuid.NewString(), req)
}

func (c *Coordinator) importWithID(ctx context.Context, importID string, req Request) <-chan ProgressEvent {
	progressChan := make(chan ProgressEvent, 100)

	go func() {
		defer close(progressChan)
		emit := func(evt ProgressEvent) {
			evt.Timestamp = time.Now()
			progressChan <- evt
		}
		report, err := c.run(ctx, importID, req, emit)
		if err != nil {
			emit(ProgressEvent{Type: "error", Message: err.Error(), Data: err})
			return
		}
		emit(ProgressEvent{
			Type:      "done",
			Message:   "导入完成",
			Processed: report.ParsedRows,
			Total:     report.ParsedRows,
			Data:      report,
		})
	}()

	return progressChan
}

// Run 同步导入
func (c *Coordinator) Run(ctx context.Context, req Request) (*Report, error) {
	return c.run(ctx, uuid.NewString(), req, func(ProgressEvent) {})
}

func (c *Coordinator) run(ctx context.Context, importID string, req Request, emit func(ProgressEvent)) (*Report, error) {
	startTime := time.Now()
	req.Filename = filepath.Base(req.Filename)
	log := c.log.With(
		zap.String("import_id", importID),
		zap.String("filename", req.Filename),
		zap.String("kind", string(req.Kind)),
	)

	emit(ProgressEvent{Type: "start", Message: fmt.Sprintf("开始导入 %s", req.Filename)})

	if err := c.store.CreateImportLog(ctx, importID, req.Filename, string(req.Platform), string(req.Kind), req.ActorID, int64(len(req.Data))); err != nil {
		return nil, &model.BatchError{Summary: "create import log", Err: err}
	}

	report := &Report{
		ImportID: importID,
		Filename: req.Filename,
		Platform: req.Platform,
		Kind:     req.Kind,
		Skipped:  make(map[model.SkipReason]int),
	}
	fail := func(summary string, err error) error {
		be := &model.BatchError{Summary: summary, Counters: report.Counters(), Err: err}
		c.finishLog(ctx, report, "error", be.Error())
		log.Error("import failed", zap.String("stage", summary), zap.Error(err))
		return be
	}

	res, err := parser.Normalize(req.Data, req.Filename, req.Platform, req.Kind)
	if err != nil {
		return nil, fail("normalize "+req.Filename, err)
	}
	report.Encoding = res.Encoding
	report.Tables = res.Tables
	report.SkippedSheets = res.SkippedSheets
	report.ParsedRows = len(res.Rows)
	report.Warnings = res.Warnings
	for reason, n := range res.Skipped {
		report.Skipped[reason] += n
	}
	emit(ProgressEvent{
		Type:    "parsed",
		Message: fmt.Sprintf("解析完成，编码 %s，共 %d 行", res.Encoding, len(res.Rows)),
		Total:   len(res.Rows),
	})

	m := newMapper(req, importID)
	m.noteWarnings(res.Warnings)
	for i, row := range res.Rows {
		if err := ctx.Err(); err != nil {
			return nil, fail("map rows", err)
		}
		m.add(row)
		if (i+1)%progressEvery == 0 {
			emit(ProgressEvent{Type: "mapped", Processed: i + 1, Total: len(res.Rows)})
		}
	}
	for reason, n := range m.b.skipped {
		report.Skipped[reason] += n
	}

	imported, err := c.write(ctx, m.b, report)
	if err != nil {
		return nil, fail("write "+string(req.Kind), err)
	}
	report.ImportedRows = imported

	if err := c.store.InsertSheetMeta(ctx, sheetMetas(importID, res)); err != nil {
		log.Warn("insert sheet meta failed", zap.Error(err))
	}

	report.Duration = time.Since(startTime)
	c.finishLog(ctx, report, "completed", "")
	log.Info("import completed",
		zap.String("encoding", report.Encoding),
		zap.Int("parsed", report.ParsedRows),
		zap.Int("imported", report.ImportedRows),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// write 按表类型落库；事实表按键整组替换，维度表首写/覆盖
func (c *Coordinator) write(ctx context.Context, b *batch, report *Report) (int, error) {
	if b.size() == 0 {
		return 0, nil
	}
	switch {
	case len(b.sales) > 0:
		return c.store.ReplaceSales(ctx, b.sales)
	case len(b.promotions) > 0:
		return c.store.ReplacePromotion(ctx, b.promotions)
	case len(b.rebates) > 0:
		return c.store.ReplaceRebates(ctx, b.rebates)
	case len(b.orderLines) > 0:
		return c.store.ReplaceOrderLines(ctx, b.orderLines)
	case len(b.settlements) > 0:
		return c.store.UpsertSettlements(ctx, b.settlements)
	case len(b.catalog) > 0:
		inserted, skipped, err := c.store.InsertCatalog(ctx, b.catalog)
		report.CatalogSkipped = skipped
		return inserted, err
	default:
		return c.store.UpsertCosts(ctx, b.costs)
	}
}

func (c *Coordinator) finishLog(ctx context.Context, r *Report, status, msg string) {
	warnings := len(r.Warnings)
	skipped := 0
	for _, n := range r.Skipped {
		skipped += n
	}
	err := c.store.FinishImportLog(context.WithoutCancel(ctx), &store.ImportLog{
		ImportID:     r.ImportID,
		Encoding:     r.Encoding,
		TotalRows:    r.ParsedRows + skipped,
		ImportedRows: r.ImportedRows,
		SkippedRows:  skipped,
		WarningCount: warnings,
		Status:       status,
		ErrorMessage: msg,
	})
	if err != nil {
		c.log.Warn("finish import log failed", zap.String("import_id", r.ImportID), zap.Error(err))
	}
}

func sheetMetas(importID string, res *parser.Result) []store.SheetMeta {
	metas := make([]store.SheetMeta, 0, len(res.Tables)+len(res.SkippedSheets))
	for _, t := range res.Tables {
		metas = append(metas, store.SheetMeta{
			ImportID:    importID,
			SheetName:   t.Sheet,
			HeaderRow:   t.HeaderRow,
			DataRows:    t.DataRows,
			ColumnsJSON: store.BuildColumnsJSON(t.Columns),
			Status:      "imported",
		})
	}
	for _, name := range res.SkippedSheets {
		metas = append(metas, store.SheetMeta{
			ImportID:    importID,
			SheetName:   name,
			ColumnsJSON: "[]",
			Status:      "skipped",
		})
	}
	return metas
}
