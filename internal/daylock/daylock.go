// Package daylock 按日期加锁，保证覆盖相同日期的对账/指标计算串行执行。
package daylock

import (
	"context"
	"sync"
	"time"

	"lodestar/internal/model"
)

// Set 日期锁集合
type Set struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked map[string]bool
}

// New 创建日期锁集合
func New() *Set {
	s := &Set{locked: make(map[string]bool)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Lock 一次性锁定 [from, to] 内的全部日期；任一日期被占用则整体等待，避免交叉死锁。
// 返回的函数用于释放。
func (s *Set) Lock(ctx context.Context, from, to string) (func(), error) {
	days, err := Expand(from, to)
	if err != nil {
		return nil, err
	}

	// ctx 取消时唤醒等待者
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.anyLocked(days) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.cond.Wait()
	}
	for _, d := range days {
		s.locked[d] = true
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			for _, d := range days {
				delete(s.locked, d)
			}
			s.mu.Unlock()
			s.cond.Broadcast()
		})
	}, nil
}

func (s *Set) anyLocked(days []string) bool {
	for _, d := range days {
		if s.locked[d] {
			return true
		}
	}
	return false
}

// Expand 展开日期范围（含两端）
func Expand(from, to string) ([]string, error) {
	start, err := time.Parse(model.DayLayout, from)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(model.DayLayout, to)
	if err != nil {
		return nil, err
	}
	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(model.DayLayout))
	}
	return days, nil
}
