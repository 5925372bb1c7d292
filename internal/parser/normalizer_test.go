package parser

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"lodestar/internal/model"
)

const tmallCSV = "商品ID,统计日期,商品访客数,商品收藏人数,商品加购件数,支付金额,支付买家数,支付件数,成功退款金额,支付转化率\n" +
	"612345678901,2024-03-05,1000,30,80,\"5,000.00\",50,50,100.00,5.00%\n" +
	"612345678902,2024/3/5,200,2,5,300.50,3,4,0,1.50%\n"

func TestNormalize_UTF8AndGBKYieldSameRows(t *testing.T) {
	t.Parallel()

	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(tmallCSV))
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}

	fromUTF8, err := Normalize([]byte(tmallCSV), "商品日报.csv", PlatformTmall, TableSales)
	if err != nil {
		t.Fatalf("utf-8 normalize: %v", err)
	}
	fromGBK, err := Normalize(gbk, "商品日报.csv", PlatformTmall, TableSales)
	if err != nil {
		t.Fatalf("gbk normalize: %v", err)
	}

	if len(fromUTF8.Rows) != 2 {
		t.Fatalf("rows want=2 got=%d", len(fromUTF8.Rows))
	}
	if !reflect.DeepEqual(fromUTF8.Rows, fromGBK.Rows) {
		t.Fatalf("rows differ:\nutf8=%v\ngbk=%v", fromUTF8.Rows, fromGBK.Rows)
	}

	row := fromUTF8.Rows[0]
	if row.Text("product_key") != "612345678901" || row.Text("day") != "2024-03-05" {
		t.Fatalf("unexpected key/day: %v", row.Values)
	}
	if row.Int("visitors") != 1000 || row.Int("payment_buyer_count") != 50 {
		t.Fatalf("unexpected counters: %v", row.Values)
	}
	if !row.Decimal("payment_amount").Equal(decimal.RequireFromString("5000")) {
		t.Fatalf("payment_amount got=%s", row.Decimal("payment_amount"))
	}
	if !row.Decimal("reported_conversion").Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("reported_conversion got=%s", row.Decimal("reported_conversion"))
	}
	if fromUTF8.Rows[1].Text("day") != "2024-03-05" {
		t.Fatalf("second row day got=%s", fromUTF8.Rows[1].Text("day"))
	}
}

func TestNormalize_UTF8BOM(t *testing.T) {
	t.Parallel()

	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte(tmallCSV)...)
	res, err := Normalize(raw, "bom.csv", PlatformTmall, TableSales)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Encoding != "utf-8-bom" {
		t.Fatalf("encoding want=utf-8-bom got=%s", res.Encoding)
	}
	if len(res.Rows) != 2 || res.Rows[0].Text("product_key") != "612345678901" {
		t.Fatalf("unexpected rows: %v", res.Rows)
	}
}

func TestNormalize_ExactAliasBeatsFuzzyRule(t *testing.T) {
	t.Parallel()

	// "访客数趋势" 能命中模糊规则，但 "访客数" 是精确别名，应由后者认领
	csv := "访客数趋势,商品ID,访客数\n" +
		"999,100001,12\n"
	res, err := Normalize([]byte(csv), "x.csv", PlatformTmall, TableSales)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows want=1 got=%d", len(res.Rows))
	}
	if got := res.Rows[0].Int("visitors"); got != 12 {
		t.Fatalf("visitors want=12 got=%d", got)
	}

	var tier int
	for _, c := range res.Tables[0].Columns {
		if c.Field == "visitors" {
			tier = c.Tier
		}
	}
	if tier != 1 {
		t.Fatalf("visitors tier want=1 got=%d", tier)
	}
}

func TestNormalize_FuzzyRuleOrder(t *testing.T) {
	t.Parallel()

	// "退款金额(元)" 同时包含 "金额"，退款规则排在支付金额之前
	csv := "宝贝ID编号,商品编码,退款金额(元),成交金额(元),访客人数\n" +
		"x,200002,10.5,99.9,7\n"
	res, err := Normalize([]byte(csv), "x.csv", PlatformJD, TableSales)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	row := res.Rows[0]
	if row.Text("product_key") != "200002" {
		t.Fatalf("product_key got=%q", row.Text("product_key"))
	}
	if !row.Decimal("refund_amount").Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("refund got=%s", row.Decimal("refund_amount"))
	}
	if !row.Decimal("payment_amount").Equal(decimal.RequireFromString("99.9")) {
		t.Fatalf("payment got=%s", row.Decimal("payment_amount"))
	}
	if row.Int("visitors") != 7 {
		t.Fatalf("visitors got=%d", row.Int("visitors"))
	}
}

func TestNormalize_CartBuyersNotTakenAsPaymentBuyers(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"精确别名": "商品ID,日期,访客,加购买家数,付款买家数\n1001,2024-03-05,40,7,3\n",
		"模糊规则": "商品ID,日期,访客,加购买家数(人),成交人数\n1001,2024-03-05,40,7,3\n",
	}
	for name, csv := range cases {
		res, err := Normalize([]byte(csv), "x.csv", PlatformJD, TableSales)
		if err != nil {
			t.Fatalf("%s: normalize: %v", name, err)
		}
		row := res.Rows[0]
		if row.Int("cart_buyers") != 7 || row.Int("payment_buyer_count") != 3 {
			t.Fatalf("%s: cart_buyers=%d payment_buyer_count=%d", name, row.Int("cart_buyers"), row.Int("payment_buyer_count"))
		}
		if row.Int("visitors") != 40 {
			t.Fatalf("%s: visitors got=%d", name, row.Int("visitors"))
		}
	}
}

func TestNormalize_RowFilteringAndWarnings(t *testing.T) {
	t.Parallel()

	csv := "店铺日报导出,,\n" +
		"商品ID,访客数,支付金额\n" +
		"100001,10,20.00\n" +
		",,\n" +
		"商品ID,访客数,支付金额\n" +
		"合计,10,20.00\n" +
		"100002,abc,5.00\n"
	res, err := Normalize([]byte(csv), "x.csv", PlatformTmall, TableSales)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Tables[0].HeaderRow != 2 {
		t.Fatalf("header row want=2 got=%d", res.Tables[0].HeaderRow)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows want=2 got=%d", len(res.Rows))
	}
	if res.Rows[0].Line != 3 || res.Rows[1].Line != 7 {
		t.Fatalf("row order/lines not preserved: %d %d", res.Rows[0].Line, res.Rows[1].Line)
	}
	if res.Skipped[model.SkipEmpty] != 1 || res.Skipped[model.SkipHeader] != 1 || res.Skipped[model.SkipMissingKey] != 1 {
		t.Fatalf("unexpected skip counters: %v", res.Skipped)
	}
	if res.Rows[1].Has("visitors") {
		t.Fatalf("invalid cell should be null")
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "visitors" || res.Warnings[0].Row != 7 {
		t.Fatalf("unexpected warnings: %+v", res.Warnings)
	}
}

func TestNormalize_PositionalFallback(t *testing.T) {
	t.Parallel()

	// "编号" 不命中任何别名或规则，由位置兜底认领为订单号
	csv := "编号,补单日期,金额,佣金\n" +
		"FX-778899,2024-03-05,12.30,2.00\n"
	res, err := Normalize([]byte(csv), "ads.csv", PlatformInternal, TableRebate)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows want=1 got=%d", len(res.Rows))
	}
	if got := res.Rows[0].Text("order_no"); got != "778899" {
		t.Fatalf("order_no via position got=%q", got)
	}
}

func TestNormalize_WorkbookMultiSheet(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	defer f.Close()

	_ = f.SetSheetRow("Sheet1", "A1", &[]any{"说明：本表为示例"})
	if _, err := f.NewSheet("推广"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	_ = f.SetSheetRow("推广", "A1", &[]any{"推广场景", "商品ID", "日期", "花费"})
	_ = f.SetSheetRow("推广", "A2", &[]any{"关键词推广", "100001", "2024-03-05", 12.5})
	_ = f.SetSheetRow("推广", "A3", &[]any{"超级直播", "100001", "2024-03-05", 7})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	res, err := Normalize(buf.Bytes(), "推广.xlsx", PlatformInternal, TablePromotion)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Encoding != "xlsx" {
		t.Fatalf("encoding got=%s", res.Encoding)
	}
	if len(res.SkippedSheets) != 1 || res.SkippedSheets[0] != "Sheet1" {
		t.Fatalf("skipped sheets got=%v", res.SkippedSheets)
	}
	if len(res.Rows) != 2 || res.Rows[1].Text("scene") != "超级直播" {
		t.Fatalf("unexpected rows: %v", res.Rows)
	}
	if !res.Rows[0].Decimal("spend").Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("spend got=%s", res.Rows[0].Decimal("spend"))
	}
}

func TestNormalize_UnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := Normalize([]byte("a,b\n"), "x.csv", PlatformTmall, TableKind("nope")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTryEncodings_AllFail(t *testing.T) {
	t.Parallel()

	never := textEncoding{name: "none", decode: func([]byte) ([]byte, bool) { return nil, false }}
	_, _, err := tryEncodings([]byte("a,b\n"), []textEncoding{never, never})
	if !errors.Is(err, model.ErrUnreadableEncoding) {
		t.Fatalf("want ErrUnreadableEncoding got=%v", err)
	}
}

func TestTryEncodings_GBKFallsBackAfterUTF8(t *testing.T) {
	t.Parallel()

	gbk, _ := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("商品ID,访客数\n1,2\n"))
	records, enc, err := tryEncodings(gbk, fallbackEncodings)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if enc != "gbk" {
		t.Fatalf("encoding want=gbk got=%s", enc)
	}
	if records[0][0] != "商品ID" {
		t.Fatalf("header got=%q", records[0][0])
	}
}

func TestTryEncodings_SniffedCandidateGoesFirst(t *testing.T) {
	t.Parallel()

	// 纯 ASCII 对 utf-8 与 latin-1 都合法，排在前面的候选胜出
	sniffed := textEncoding{name: "latin-1", decode: decodeWith(charmap.ISO8859_1)}
	candidates := append([]textEncoding{sniffed}, fallbackEncodings...)
	_, enc, err := tryEncodings([]byte("sku,uv\n1,2\n"), candidates)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if enc != "latin-1" {
		t.Fatalf("sniffed encoding should win, got=%s", enc)
	}

	// 探测结果无法解码时继续走固定链
	never := textEncoding{name: "none", decode: func([]byte) ([]byte, bool) { return nil, false }}
	_, enc, err = tryEncodings([]byte("sku,uv\n1,2\n"), append([]textEncoding{never}, fallbackEncodings...))
	if err != nil || enc != "utf-8" {
		t.Fatalf("fallback chain want=utf-8 got=%s err=%v", enc, err)
	}
}
