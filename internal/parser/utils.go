package parser

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeColumnName 规范化列名：全角转半角、去空白、英文小写
func NormalizeColumnName(name string) string {
	name = width.Narrow.String(name)
	name = strings.TrimPrefix(name, "\ufeff")
	name = spaceRe.ReplaceAllString(name, "")
	// 去除导出工具常见的包裹符号
	name = strings.Trim(name, `"'*`)
	return strings.ToLower(name)
}

// ContainsAny 检查字符串是否包含任意一个关键词
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// isBlankRow 是否整行为空
func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cellAt 安全取单元格
func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}
