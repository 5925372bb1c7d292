package metrics

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lodestar/internal/daylock"
	"lodestar/internal/model"
	"lodestar/internal/store"
)

const stageMetrics = "metrics"

// Report 单日指标计算统计
type Report struct {
	Day         string            `json:"day"`
	Rows        int               `json:"rows"`
	Computed    int               `json:"computed"`
	MissingCost int               `json:"missingCost"` // 无单件成本的行（货品成本按 0 计）
	Errors      []*model.RowError `json:"errors,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// Calculator 指标计算器
type Calculator struct {
	store   *store.Store
	locks   *daylock.Set
	log     *zap.Logger
	consts  Constants
	workers int
	now     func() time.Time
}

// Option 计算器可选项
type Option func(*Calculator)

// WithWorkers 设置单日内并行计算的协程数
func WithWorkers(n int) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// NewCalculator 创建计算器；locks 与对账引擎共享
func NewCalculator(s *store.Store, locks *daylock.Set, log *zap.Logger, consts Constants, opts ...Option) *Calculator {
	if log == nil {
		log = zap.NewNop()
	}
	if locks == nil {
		locks = daylock.New()
	}
	c := &Calculator{
		store:   s,
		locks:   locks,
		log:     log,
		consts:  consts,
		workers: runtime.NumCPU(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type rowResult struct {
	fact *model.MergedFact
	err  error
}

// ComputeDay 全量重算某天所有 MergedFact 行的派生指标，单事务写回
func (c *Calculator) ComputeDay(ctx context.Context, day string) (*Report, error) {
	if _, err := time.Parse(model.DayLayout, day); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	unlock, err := c.locks.Lock(ctx, day, day)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	rows, err := c.store.ListMerged(ctx, day, day)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no merged facts on %s: %w", day, model.ErrPreconditionMissing)
	}

	results := make([]rowResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = computeRow(&rows[i], c.consts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Day: day, Rows: len(rows)}
	at := c.now().UTC()
	err = c.store.InTx(ctx, func(tx *store.Tx) error {
		for _, r := range results {
			if r.err != nil {
				c.rowFailed(report, r.fact, r.err)
				continue
			}
			if err := tx.UpdateMergedMetrics(ctx, r.fact, at); err != nil {
				if errors.Is(err, model.ErrStoreUnavailable) {
					return err
				}
				c.rowFailed(report, r.fact, err)
				continue
			}
			if !r.fact.UnitCost.Valid {
				report.MissingCost++
			}
			report.Computed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	c.log.Info("metrics computed",
		zap.String("day", day),
		zap.Int("rows", report.Rows),
		zap.Int("computed", report.Computed),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// computeRow 单行计算；panic 转为行级错误
func computeRow(m *model.MergedFact, consts Constants) (res rowResult) {
	res.fact = m
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()
	in, err := InputFrom(m)
	if err != nil {
		res.err = err
		return res
	}
	Compute(in, consts).Apply(m)
	return res
}

func (c *Calculator) rowFailed(report *Report, m *model.MergedFact, err error) {
	rowErr := &model.RowError{Stage: stageMetrics, ProductKey: m.ProductKey, Day: m.Day, Err: err}
	report.Errors = append(report.Errors, rowErr)
	c.log.Warn("metrics row failed",
		zap.String("product_key", m.ProductKey),
		zap.String("day", m.Day),
		zap.Error(err),
	)
}
