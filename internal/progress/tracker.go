// Package progress 进程内的任务进度登记表，由调用方显式持有并传递。
package progress

import (
	"sort"
	"sync"
	"time"
)

// Status 任务状态
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Snapshot 任务进度快照（只读副本）
type Snapshot struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Percent   float64        `json:"percent"`
	Message   string         `json:"message"`
	Counters  map[string]int `json:"counters"`
	Keys      []string       `json:"keys,omitempty"` // 已处理的键（日期/商品等）
	StartedAt time.Time      `json:"startedAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	ETA       *time.Duration `json:"eta,omitempty"` // 运行中且有进度时才有值
	Error     string         `json:"error,omitempty"`
}

type task struct {
	status     Status
	total      int
	processed  int
	message    string
	counters   map[string]int
	keys       []string
	startedAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
	errMsg     string
}

// Tracker 任务进度登记表
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*task
	now   func() time.Time
}

// NewTracker 创建登记表
func NewTracker() *Tracker {
	return &Tracker{
		tasks: make(map[string]*task),
		now:   time.Now,
	}
}

// Create 登记新任务；同 ID 已存在时重置
func (t *Tracker) Create(id string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.tasks[id] = &task{
		status:    StatusRunning,
		total:     max(total, 0),
		counters:  make(map[string]int),
		startedAt: now,
		updatedAt: now,
	}
}

// SetTotal 任务开始后才知道总量时补设
func (t *Tracker) SetTotal(id string, total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return false
	}
	tk.total = max(total, tk.processed, 0)
	tk.updatedAt = t.now()
	return true
}

// Update 上报进度；processed 只增不减，超过总量时截断。counters 按键累加覆盖。
func (t *Tracker) Update(id string, processed int, message string, counters map[string]int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok || tk.status != StatusRunning {
		return false
	}
	if tk.total > 0 && processed > tk.total {
		processed = tk.total
	}
	if processed > tk.processed {
		tk.processed = processed
	}
	if message != "" {
		tk.message = message
	}
	for k, v := range counters {
		tk.counters[k] = v
	}
	tk.updatedAt = t.now()
	return true
}

// AddKey 记录已处理的键
func (t *Tracker) AddKey(id, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return false
	}
	tk.keys = append(tk.keys, key)
	return true
}

// Complete 标记完成，processed 补满
func (t *Tracker) Complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return false
	}
	now := t.now()
	tk.status = StatusCompleted
	if tk.processed < tk.total {
		tk.processed = tk.total
	}
	tk.updatedAt = now
	tk.finishedAt = now
	return true
}

// Error 标记失败
func (t *Tracker) Error(id, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return false
	}
	now := t.now()
	tk.status = StatusError
	tk.errMsg = message
	tk.updatedAt = now
	tk.finishedAt = now
	return true
}

// Get 查询快照；未知 ID 返回 false
func (t *Tracker) Get(id string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return tk.snapshot(id, t.now()), true
}

// List 所有任务快照，按开始时间排序
func (t *Tracker) List() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]Snapshot, 0, len(t.tasks))
	for id, tk := range t.tasks {
		out = append(out, tk.snapshot(id, now))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cleanup 清理结束超过 age 的任务，返回清理数量；运行中的任务不清理
func (t *Tracker) Cleanup(age time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.purgeFinishedLocked(t.now().Add(-age))
}

func (t *Tracker) purgeFinishedLocked(cutoff time.Time) int {
	n := 0
	for id, tk := range t.tasks {
		if tk.status == StatusRunning {
			continue
		}
		if tk.finishedAt.Before(cutoff) {
			delete(t.tasks, id)
			n++
		}
	}
	return n
}

func (tk *task) snapshot(id string, now time.Time) Snapshot {
	s := Snapshot{
		ID:        id,
		Status:    tk.status,
		Total:     tk.total,
		Processed: tk.processed,
		Message:   tk.message,
		Counters:  make(map[string]int, len(tk.counters)),
		Keys:      append([]string(nil), tk.keys...),
		StartedAt: tk.startedAt,
		UpdatedAt: tk.updatedAt,
		Error:     tk.errMsg,
	}
	for k, v := range tk.counters {
		s.Counters[k] = v
	}
	s.Percent = percent(tk.processed, tk.total)
	if tk.status == StatusCompleted {
		s.Percent = 100
	}
	if tk.status == StatusRunning && tk.processed > 0 && tk.total > tk.processed {
		elapsed := now.Sub(tk.startedAt)
		if elapsed > 0 {
			// 剩余量 / 平均速度
			eta := time.Duration(float64(elapsed) / float64(tk.processed) * float64(tk.total-tk.processed))
			s.ETA = &eta
		}
	}
	return s
}

func percent(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(processed) / float64(total) * 100
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}
