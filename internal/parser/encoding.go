package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"lodestar/internal/model"
)

// minSniffConfidence 低于该置信度的探测结果不参与尝试
const minSniffConfidence = 50

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type textEncoding struct {
	name   string
	decode func(raw []byte) ([]byte, bool)
}

// fallbackEncodings 固定回退顺序
var fallbackEncodings = []textEncoding{
	{name: "utf-8", decode: decodeStrictUTF8},
	{name: "gbk", decode: decodeWith(simplifiedchinese.GBK)},
	// GB2312 是 GB18030 的子集，按超集解码
	{name: "gb2312", decode: decodeWith(simplifiedchinese.GB18030)},
	{name: "utf-8-bom", decode: decodeUTF8BOM},
	{name: "latin-1", decode: decodeWith(charmap.ISO8859_1)},
}

// sniffedEncodings chardet 字符集名 -> 解码器；只信任 Unicode 与中文编码
var sniffedEncodings = map[string]textEncoding{
	"UTF-8":    {name: "utf-8", decode: decodeStrictUTF8},
	"GB-18030": {name: "gb18030", decode: decodeWith(simplifiedchinese.GB18030)},
	"UTF-16LE": {name: "utf-16le", decode: decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM))},
	"UTF-16BE": {name: "utf-16be", decode: decodeWith(unicode.UTF16(unicode.BigEndian, unicode.UseBOM))},
}

// decodeTable 依次尝试探测编码与回退编码，第一个能完整解码且能按 CSV 解析的胜出
func decodeTable(raw []byte) ([][]string, string, error) {
	candidates := make([]textEncoding, 0, len(fallbackEncodings)+1)
	if enc, ok := sniffEncoding(raw); ok {
		candidates = append(candidates, enc)
	}
	candidates = append(candidates, fallbackEncodings...)
	return tryEncodings(raw, candidates)
}

func tryEncodings(raw []byte, candidates []textEncoding) ([][]string, string, error) {
	tried := make([]string, 0, len(candidates))
	for _, enc := range candidates {
		tried = append(tried, enc.name)
		text, ok := enc.decode(raw)
		if !ok {
			continue
		}
		records, err := readCSV(text)
		if err != nil {
			continue
		}
		return records, enc.name, nil
	}
	return nil, "", fmt.Errorf("tried %s: %w", strings.Join(tried, ","), model.ErrUnreadableEncoding)
}

func sniffEncoding(raw []byte) (textEncoding, bool) {
	// BOM 是声明过的编码，直接采用
	if bytes.HasPrefix(raw, utf8BOM) {
		return textEncoding{name: "utf-8-bom", decode: decodeUTF8BOM}, true
	}
	sample := raw
	if len(sample) > 64*1024 {
		sample = sample[:64*1024]
	}
	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || res == nil || res.Confidence < minSniffConfidence {
		return textEncoding{}, false
	}
	enc, ok := sniffedEncodings[res.Charset]
	return enc, ok
}

func decodeStrictUTF8(raw []byte) ([]byte, bool) {
	// 带 BOM 的文件交给 utf-8-bom 处理
	if bytes.HasPrefix(raw, utf8BOM) || !utf8.Valid(raw) {
		return nil, false
	}
	return raw, true
}

func decodeUTF8BOM(raw []byte) ([]byte, bool) {
	if !bytes.HasPrefix(raw, utf8BOM) {
		return nil, false
	}
	body := raw[len(utf8BOM):]
	if !utf8.Valid(body) {
		return nil, false
	}
	return body, true
}

// decodeWith 使用 x/text 解码；出现替换字符视为解码失败
func decodeWith(enc encoding.Encoding) func([]byte) ([]byte, bool) {
	return func(raw []byte) ([]byte, bool) {
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, false
		}
		if bytes.ContainsRune(out, utf8.RuneError) {
			return nil, false
		}
		return out, true
	}
}

// readCSV 宽松解析 CSV/TSV，按首行判断分隔符
func readCSV(text []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func detectDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	if bytes.Count(line, []byte{'\t'}) > bytes.Count(line, []byte{','}) {
		return '\t'
	}
	return ','
}
