package parser

// 规范字段集合、精确别名表与模糊规则表。
// 新平台或新表头只需追加数据，不需要新增分支。

func textField(name string) FieldSpec { return FieldSpec{Name: name, Kind: ValueText, Position: -1} }
func intField(name string) FieldSpec  { return FieldSpec{Name: name, Kind: ValueInt, Position: -1} }
func decField(name string) FieldSpec  { return FieldSpec{Name: name, Kind: ValueDecimal, Position: -1} }
func dateField(name string) FieldSpec { return FieldSpec{Name: name, Kind: ValueDate, Position: -1} }

func keyField(name string, kind ValueKind, pos int) FieldSpec {
	return FieldSpec{Name: name, Kind: kind, Key: true, Position: pos}
}

// tableFields 各表类型的规范字段
var tableFields = map[TableKind][]FieldSpec{
	TableSales: {
		keyField("product_key", ValueCode, 0),
		dateField("day"),
		textField("store_id"),
		intField("visitors"),
		intField("page_views"),
		intField("favorites"),
		intField("cart_adds"),
		intField("cart_buyers"),
		decField("payment_amount"),
		intField("payment_buyer_count"),
		intField("payment_item_count"),
		decField("refund_amount"),
		{Name: "reported_conversion", Kind: ValueRate, Position: -1},
	},
	TablePromotion: {
		textField("scene"),
		keyField("product_key", ValueCode, -1),
		dateField("day"),
		decField("spend"),
	},
	TableRebate: {
		keyField("order_no", ValueCode, 0),
		keyField("product_key", ValueCode, -1),
		dateField("day"),
		intField("quantity"),
		decField("amount"),
		decField("commission"),
		textField("staff"),
	},
	TableOrders: {
		keyField("order_no", ValueCode, 0),
		dateField("day"),
		textField("style_code"),
		intField("quantity"),
		decField("unit_price"),
	},
	TableSettlement: {
		keyField("transaction_id", ValueText, 0),
		dateField("day"),
		decField("income"),
		decField("expense"),
		textField("memo"),
	},
	TableCatalog: {
		keyField("product_key", ValueCode, 0),
		textField("product_name"),
		dateField("listing_date"),
		textField("supplier_ref"),
		textField("owner"),
		textField("category"),
		textField("style_code"),
		textField("campaign_name"),
		dateField("campaign_start"),
		dateField("campaign_end"),
		dateField("warmup_start"),
	},
	TableCost: {
		keyField("product_key", ValueCode, 0),
		textField("staff_key"),
		decField("unit_cost"),
	},
}

// commonAliases 各平台通用的精确表头（已规范化：半角、无空白、小写）
var commonAliases = map[TableKind]map[string]string{
	TableSales: {
		"商品id":  "product_key",
		"统计日期":  "day",
		"日期":    "day",
		"店铺":    "store_id",
		"店铺名称":  "store_id",
		"访客数":   "visitors",
		"浏览量":   "page_views",
		"支付金额":  "payment_amount",
		"支付买家数": "payment_buyer_count",
		"付款买家数": "payment_buyer_count",
		"加购买家数": "cart_buyers",
		"支付件数":  "payment_item_count",
		"退款金额":  "refund_amount",
	},
	TablePromotion: {
		"推广场景": "scene",
		"场景名称": "scene",
		"计划类型": "scene",
		"商品id": "product_key",
		"主体id": "product_key",
		"日期":   "day",
		"花费":   "spend",
		"消耗":   "spend",
	},
	TableRebate: {
		"订单号":  "order_no",
		"订单编号": "order_no",
		"商品id": "product_key",
		"日期":   "day",
		"补单日期": "day",
		"数量":   "quantity",
		"件数":   "quantity",
		"金额":   "amount",
		"补单金额": "amount",
		"佣金":   "commission",
		"操作人":  "staff",
		"运营":   "staff",
	},
	TableOrders: {
		"订单号":    "order_no",
		"订单编号":   "order_no",
		"线上订单号":  "order_no",
		"发货日期":   "day",
		"日期":     "day",
		"店铺款式编码": "style_code",
		"款式编码":   "style_code",
		"数量":     "quantity",
		"单价":     "unit_price",
	},
	TableSettlement: {
		"流水号":     "transaction_id",
		"账务流水号":   "transaction_id",
		"交易号":     "transaction_id",
		"入账时间":    "day",
		"发生时间":    "day",
		"收入金额(+元)": "income",
		"收入金额":    "income",
		"支出金额(-元)": "expense",
		"支出金额":    "expense",
		"备注":      "memo",
	},
	TableCatalog: {
		"商品id": "product_key",
		"商品名称": "product_name",
		"上架日期": "listing_date",
		"供应商":  "supplier_ref",
		"运营":   "owner",
		"负责人":  "owner",
		"类目":   "category",
		"款号":   "style_code",
		"店铺款号": "style_code",
		"活动名称": "campaign_name",
		"活动开始": "campaign_start",
		"活动结束": "campaign_end",
		"预热开始": "warmup_start",
	},
	TableCost: {
		"商品id": "product_key",
		"员工":   "staff_key",
		"运营":   "staff_key",
		"成本价":  "unit_cost",
		"成本":   "unit_cost",
	},
}

// platformAliases 平台专属的精确表头，优先于通用表头
var platformAliases = map[Platform]map[TableKind]map[string]string{
	PlatformTmall: {
		TableSales: {
			"商品访客数":   "visitors",
			"商品浏览量":   "page_views",
			"商品收藏人数":  "favorites",
			"商品加购件数":  "cart_adds",
			"商品加购人数":  "cart_buyers",
			"成功退款金额":  "refund_amount",
			"商品支付转化率": "reported_conversion",
			"支付转化率":   "reported_conversion",
		},
	},
	PlatformJD: {
		TableSales: {
			"sku":    "product_key",
			"商品编号":   "product_key",
			"时间":     "day",
			"关注人数":   "favorites",
			"加购商品件数": "cart_adds",
			"加购人数":   "cart_buyers",
			"成交金额":   "payment_amount",
			"成交客户数":  "payment_buyer_count",
			"成交商品件数": "payment_item_count",
			"成交转化率":  "reported_conversion",
		},
	},
	PlatformPDD: {
		TableSales: {
			"商品访客数":   "visitors",
			"商品浏览量":   "page_views",
			"商品收藏用户数": "favorites",
			"支付转化率":   "reported_conversion",
			"成功退款金额":  "refund_amount",
		},
	},
	PlatformDouyin: {
		TableSales: {
			"商品访客数":   "visitors",
			"商品浏览次数":  "page_views",
			"商品收藏人数":  "favorites",
			"加购人数":    "cart_buyers",
			"加购次数":    "cart_adds",
			"成交金额":    "payment_amount",
			"成交人数":    "payment_buyer_count",
			"成交件数":    "payment_item_count",
			"商品点击成交率": "reported_conversion",
		},
	},
}

// fuzzyRule 模糊规则：表头包含 Any 中任意一项且不包含 Not 中任何一项
type fuzzyRule struct {
	Field string
	Any   []string
	Not   []string
}

func (r fuzzyRule) match(header string) bool {
	return ContainsAny(header, r.Any) && !ContainsAny(header, r.Not)
}

// fuzzyRules 有序规则表；更具体的规则排在前面
var fuzzyRules = map[TableKind][]fuzzyRule{
	TableSales: {
		{Field: "reported_conversion", Any: []string{"转化率", "成交率"}},
		{Field: "refund_amount", Any: []string{"退款"}, Not: []string{"率", "笔数", "件数", "人数"}},
		{Field: "payment_buyer_count", Any: []string{"买家数", "支付人数", "成交人数", "客户数"}, Not: []string{"率", "老买家", "新买家", "加购", "收藏"}},
		{Field: "payment_item_count", Any: []string{"支付件数", "成交件数", "支付商品件数", "成交商品件数", "销量"}},
		{Field: "cart_buyers", Any: []string{"加购人数", "加购买家"}},
		{Field: "cart_adds", Any: []string{"加购"}, Not: []string{"人", "率"}},
		{Field: "favorites", Any: []string{"收藏", "关注"}, Not: []string{"率"}},
		{Field: "visitors", Any: []string{"访客", "uv"}, Not: []string{"价值", "平均", "率"}},
		{Field: "page_views", Any: []string{"浏览", "pv"}, Not: []string{"平均", "率"}},
		{Field: "payment_amount", Any: []string{"支付金额", "成交金额", "销售额", "gmv"}, Not: []string{"退款", "客单"}},
		{Field: "product_key", Any: []string{"商品id", "商品编号", "商品编码", "sku", "货品id"}},
		{Field: "day", Any: []string{"日期", "时间"}},
		{Field: "store_id", Any: []string{"店铺"}},
	},
	TablePromotion: {
		{Field: "scene", Any: []string{"场景", "计划类型", "推广工具", "渠道"}},
		{Field: "product_key", Any: []string{"商品id", "宝贝id", "主体id", "商品编号"}},
		{Field: "day", Any: []string{"日期", "时间"}},
		{Field: "spend", Any: []string{"花费", "消耗", "费用"}, Not: []string{"平均", "千次"}},
	},
	TableRebate: {
		{Field: "order_no", Any: []string{"订单"}, Not: []string{"金额", "日期", "时间"}},
		{Field: "product_key", Any: []string{"商品id", "宝贝id", "商品编号"}},
		{Field: "commission", Any: []string{"佣金", "红包", "服务费"}},
		{Field: "amount", Any: []string{"金额", "本金", "实付"}},
		{Field: "quantity", Any: []string{"数量", "件数"}},
		{Field: "day", Any: []string{"日期", "时间"}},
		{Field: "staff", Any: []string{"操作", "运营", "负责人", "员工"}},
	},
	TableOrders: {
		{Field: "style_code", Any: []string{"款式", "款号", "货号"}},
		{Field: "order_no", Any: []string{"订单号", "订单编号"}},
		{Field: "unit_price", Any: []string{"单价", "价格"}},
		{Field: "quantity", Any: []string{"数量", "件数"}},
		{Field: "day", Any: []string{"发货", "日期", "时间"}},
	},
	TableSettlement: {
		{Field: "transaction_id", Any: []string{"流水号", "交易号"}, Not: []string{"商户订单"}},
		{Field: "income", Any: []string{"收入"}},
		{Field: "expense", Any: []string{"支出"}},
		{Field: "memo", Any: []string{"备注", "说明", "摘要"}},
		{Field: "day", Any: []string{"时间", "日期"}},
	},
	TableCatalog: {
		{Field: "warmup_start", Any: []string{"预热"}},
		{Field: "campaign_start", Any: []string{"活动开始", "开始日期"}},
		{Field: "campaign_end", Any: []string{"活动结束", "结束日期"}},
		{Field: "campaign_name", Any: []string{"活动"}},
		{Field: "listing_date", Any: []string{"上架", "上新"}},
		{Field: "style_code", Any: []string{"款号", "款式"}},
		{Field: "product_key", Any: []string{"商品id", "商品编号", "商品编码"}},
		{Field: "product_name", Any: []string{"名称", "标题"}},
		{Field: "supplier_ref", Any: []string{"供应商", "厂家"}},
		{Field: "owner", Any: []string{"运营", "负责人"}},
		{Field: "category", Any: []string{"类目", "品类"}},
	},
	TableCost: {
		{Field: "unit_cost", Any: []string{"成本"}},
		{Field: "staff_key", Any: []string{"员工", "运营", "负责人"}},
		{Field: "product_key", Any: []string{"商品id", "商品编号", "商品编码"}},
	},
}

// lookupAlias 精确匹配：平台专属表优先，其次通用表
func lookupAlias(platform Platform, kind TableKind, header string) (string, bool) {
	if byKind, ok := platformAliases[platform]; ok {
		if f, ok := byKind[kind][header]; ok {
			return f, true
		}
	}
	f, ok := commonAliases[kind][header]
	return f, ok
}

// columnResolver 三级列解析：精确别名 > 有序模糊规则 > 位置兜底
type columnResolver struct {
	platform Platform
	kind     TableKind
	fields   []FieldSpec
}

func newColumnResolver(platform Platform, kind TableKind) *columnResolver {
	return &columnResolver{platform: platform, kind: kind, fields: tableFields[kind]}
}

// resolveNamed 只执行前两级，用于表头行识别
func (r *columnResolver) resolveNamed(headers []string) map[string]Resolution {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeColumnName(h)
	}

	claimed := make(map[string]Resolution)
	usedCols := make(map[int]bool)

	// 第一级：精确别名，遍历全部表头后才进入第二级
	for idx, h := range normalized {
		if h == "" {
			continue
		}
		field, ok := lookupAlias(r.platform, r.kind, h)
		if !ok {
			continue
		}
		if _, taken := claimed[field]; taken {
			continue
		}
		claimed[field] = Resolution{Field: field, Column: idx, Header: headers[idx], Tier: 1}
		usedCols[idx] = true
	}

	// 第二级：按列顺序，每列取第一条命中且字段未被占用的规则
	rules := fuzzyRules[r.kind]
	for idx, h := range normalized {
		if h == "" || usedCols[idx] {
			continue
		}
		for _, rule := range rules {
			if _, taken := claimed[rule.Field]; taken {
				continue
			}
			if rule.match(h) {
				claimed[rule.Field] = Resolution{Field: rule.Field, Column: idx, Header: headers[idx], Tier: 2}
				usedCols[idx] = true
				break
			}
		}
	}
	return claimed
}

// resolve 完整三级解析
func (r *columnResolver) resolve(headers []string) map[string]Resolution {
	claimed := r.resolveNamed(headers)
	usedCols := make(map[int]bool, len(claimed))
	for _, res := range claimed {
		usedCols[res.Column] = true
	}

	// 第三级：位置兜底，仅当该列未被任何字段占用
	for _, spec := range r.fields {
		if spec.Position < 0 || spec.Position >= len(headers) {
			continue
		}
		if _, taken := claimed[spec.Name]; taken || usedCols[spec.Position] {
			continue
		}
		claimed[spec.Name] = Resolution{Field: spec.Name, Column: spec.Position, Header: headers[spec.Position], Tier: 3}
		usedCols[spec.Position] = true
	}
	return claimed
}

// hasKeyField 解析结果中是否包含关键字段
func (r *columnResolver) hasKeyField(claimed map[string]Resolution) bool {
	for _, spec := range r.fields {
		if _, ok := claimed[spec.Name]; ok && spec.Key {
			return true
		}
	}
	return false
}
