package parser

import (
	"time"

	"github.com/shopspring/decimal"

	"lodestar/internal/model"
)

// Platform 数据来源平台
type Platform string

const (
	PlatformTmall    Platform = "tmall"
	PlatformJD       Platform = "jd"
	PlatformPDD      Platform = "pdd"
	PlatformDouyin   Platform = "douyin"
	PlatformInternal Platform = "internal" // 内部台账（推广、补单、订单、结算、档案、成本）
)

// TableKind 表类型，决定规范字段集合
type TableKind string

const (
	TableSales      TableKind = "sales"
	TablePromotion  TableKind = "promotion"
	TableRebate     TableKind = "rebate"
	TableOrders     TableKind = "orders"
	TableSettlement TableKind = "settlement"
	TableCatalog    TableKind = "catalog"
	TableCost       TableKind = "cost"
)

// ParsePlatform 解析平台标识（空值视为内部台账）
func ParsePlatform(s string) (Platform, bool) {
	switch p := Platform(s); p {
	case PlatformTmall, PlatformJD, PlatformPDD, PlatformDouyin, PlatformInternal:
		return p, true
	case "":
		return PlatformInternal, true
	}
	return "", false
}

// ParseTableKind 解析表类型
func ParseTableKind(s string) (TableKind, bool) {
	k := TableKind(s)
	if _, ok := tableFields[k]; ok {
		return k, true
	}
	return "", false
}

// ValueKind 单元格取值类型
type ValueKind int

const (
	ValueText    ValueKind = iota // 原样字符串（去首尾空白）
	ValueCode                     // 编码：取最长连续数字
	ValueInt                      // 计数
	ValueDecimal                  // 金额
	ValueRate                     // 比率，带 % 时除以 100
	ValueDate                     // 日期，统一为 YYYY-MM-DD
)

// FieldSpec 规范字段定义
type FieldSpec struct {
	Name     string
	Kind     ValueKind
	Key      bool // 关键字段：全部缺失时整行丢弃
	Position int  // 位置兜底的列下标，-1 表示不兜底
}

// Resolution 列解析结果
type Resolution struct {
	Field  string `json:"field"`
	Column int    `json:"column"`
	Header string `json:"header"`
	Tier   int    `json:"tier"` // 1 精确别名 / 2 规则 / 3 位置
}

// TableInfo 单个表（CSV 或工作表）的解析信息
type TableInfo struct {
	Sheet     string       `json:"sheet"`
	HeaderRow int          `json:"headerRow"`
	Columns   []Resolution `json:"columns"`
	DataRows  int          `json:"dataRows"`
}

// Row 规范化后的一行
type Row struct {
	Sheet  string
	Line   int // 源文件行号，从 1 开始
	Values map[string]any
}

// Has 字段是否有值
func (r Row) Has(field string) bool {
	_, ok := r.Values[field]
	return ok
}

// Text 读取文本/编码/日期字段
func (r Row) Text(field string) string {
	if v, ok := r.Values[field].(string); ok {
		return v
	}
	return ""
}

// Int 读取计数字段
func (r Row) Int(field string) int64 {
	if v, ok := r.Values[field].(int64); ok {
		return v
	}
	return 0
}

// Decimal 读取金额/比率字段，缺失返回 0
func (r Row) Decimal(field string) decimal.Decimal {
	if v, ok := r.Values[field].(decimal.Decimal); ok {
		return v
	}
	return decimal.Zero
}

// NullDecimal 读取金额/比率字段，保留缺失状态
func (r Row) NullDecimal(field string) decimal.NullDecimal {
	if v, ok := r.Values[field].(decimal.Decimal); ok {
		return decimal.NewNullDecimal(v)
	}
	return decimal.NullDecimal{}
}

// Result 规范化结果
type Result struct {
	Filename      string                     `json:"filename"`
	Platform      Platform                   `json:"platform"`
	Kind          TableKind                  `json:"kind"`
	Encoding      string                     `json:"encoding"` // 工作簿为 "xlsx"
	Tables        []TableInfo                `json:"tables"`
	SkippedSheets []string                   `json:"skippedSheets,omitempty"`
	Rows          []Row                      `json:"-"`
	Warnings      []model.CellWarning        `json:"warnings,omitempty"`
	Skipped       map[model.SkipReason]int   `json:"skipped"`
	Duration      time.Duration              `json:"duration"`
}

// SkippedTotal 被丢弃的行数
func (r *Result) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}
