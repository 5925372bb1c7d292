package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/width"
)

var (
	digitRunRe   = regexp.MustCompile(`\d+`)
	sciNumberRe  = regexp.MustCompile(`^[+-]?\d+(\.\d+)?[eE][+-]?\d+$`)
	trailZeroRe  = regexp.MustCompile(`^(\d+)\.0+$`)
	orderLabelRe = regexp.MustCompile(`(?i)(?:订单号|订单编号|订单|order(?:\s*no)?)[:：#\s]*(\d{6,})`)
)

// nullMarkers 导出工具常用的空值占位
var nullMarkers = map[string]bool{
	"-": true, "--": true, "—": true, "null": true, "nan": true, "n/a": true, "/": true,
}

// dateLayouts 按顺序尝试的日期格式
var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006/01/02",
	"2006/1/2",
	"2006.01.02",
	"2006.1.2",
	"20060102",
	"2006年1月2日",
	"2006年01月02日",
	"2006-01-02 15:04:05",
	"2006-1-2 15:04:05",
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05",
	"2006/1/2 15:04",
	"2006年1月2日 15:04:05",
	time.RFC3339,
}

// cleanNumber 去除货币符号、千分位等，返回数值字符串与是否带百分号
func cleanNumber(raw string) (string, bool) {
	s := strings.TrimSpace(width.Narrow.String(raw))
	if s == "" || nullMarkers[strings.ToLower(s)] {
		return "", false
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.NewReplacer(",", "", "¥", "", "$", "", " ", "", "元", "", "'", "").Replace(s)
	// 会计格式负数 (123.45)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + s[1:len(s)-1]
	}
	return s, percent
}

// ParseNumeric 宽松解析数值；带 % 时除以 100
func ParseNumeric(raw string) (float64, bool) {
	s, percent := cleanNumber(raw)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return f, true
}

// ParseInt 计数字段：先按浮点解析再截断为整数
func ParseInt(raw string) (int64, bool) {
	f, ok := ParseNumeric(raw)
	if !ok || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// ParseDecimal 金额/比率字段，定点解析；带 % 时除以 100
func ParseDecimal(raw string) (decimal.Decimal, bool) {
	s, percent := cleanNumber(raw)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if percent {
		d = d.Div(decimal.NewFromInt(100))
	}
	return d, true
}

// ParseDate 按顺序尝试日期格式，最后尝试 Excel 序列号
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(width.Narrow.String(raw))
	if s == "" || nullMarkers[strings.ToLower(s)] {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return dayOf(t), true
		}
	}
	// Excel 日期序列号（1900 体系）
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f < 2958466 {
		t, err := excelize.ExcelDateToTime(f, false)
		if err == nil {
			return dayOf(t), true
		}
	}
	return time.Time{}, false
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseCode 标识类编码：去掉表格软件引入的科学计数法与 .0 尾巴后取最长连续数字
func ParseCode(raw string) (string, bool) {
	s := strings.TrimSpace(width.Narrow.String(raw))
	// ="0012345" 与 '0012345 写法
	if strings.HasPrefix(s, "=") {
		s = strings.Trim(strings.TrimPrefix(s, "="), `"`)
	}
	s = strings.TrimLeft(s, "'\t")
	if s == "" {
		return "", false
	}
	if sciNumberRe.MatchString(s) {
		if d, err := decimal.NewFromString(s); err == nil {
			s = d.Truncate(0).String()
		}
	}
	if m := trailZeroRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return longestDigitRun(s)
}

func longestDigitRun(s string) (string, bool) {
	best := ""
	for _, run := range digitRunRe.FindAllString(s, -1) {
		if len(run) > len(best) {
			best = run
		}
	}
	return best, best != ""
}

// ExtractOrderRef 从结算备注中提取订单号：优先带标签的数字，其次不短于 12 位的最长数字串
func ExtractOrderRef(memo string) (string, bool) {
	s := width.Narrow.String(memo)
	if m := orderLabelRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	run, ok := longestDigitRun(s)
	if !ok || len(run) < 12 {
		return "", false
	}
	return run, true
}
