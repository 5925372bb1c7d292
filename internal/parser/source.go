package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var zipMagic = []byte("PK\x03\x04")

// rawTable 未解析的表格（CSV 文件或工作表）
type rawTable struct {
	name string
	rows [][]string
}

// readTables 读取原始表格；工作簿每个工作表都是候选表
func readTables(raw []byte, filename string) ([]rawTable, string, error) {
	if bytes.HasPrefix(raw, zipMagic) {
		tables, err := readWorkbook(raw)
		if err != nil {
			return nil, "", err
		}
		return tables, "xlsx", nil
	}

	records, enc, err := decodeTable(raw)
	if err != nil {
		return nil, "", err
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return []rawTable{{name: name, rows: records}}, enc, nil
}

func readWorkbook(raw []byte) ([]rawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var tables []rawTable
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		tables = append(tables, rawTable{name: sheet, rows: rows})
	}
	return tables, nil
}
