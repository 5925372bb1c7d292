package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout 日期统一存储格式
const DayLayout = "2006-01-02"

// SalesSnapshot 平台商品日报快照（事实表）
// 以 (platform, product_key, day, store_id) 为键；同一 (day, store) 重传时整组删除后重插。
type SalesSnapshot struct {
	ID         int64  `db:"id" json:"id"`
	Platform   string `db:"platform" json:"platform"`
	ProductKey string `db:"product_key" json:"productKey"`
	Day        string `db:"day" json:"day"`
	StoreID    string `db:"store_id" json:"storeId"`

	// 流量
	Visitors   int64 `db:"visitors" json:"visitors"`
	PageViews  int64 `db:"page_views" json:"pageViews"`
	Favorites  int64 `db:"favorites" json:"favorites"`
	CartAdds   int64 `db:"cart_adds" json:"cartAdds"`
	CartBuyers int64 `db:"cart_buyers" json:"cartBuyers"`

	// 支付
	PaymentAmount      decimal.Decimal     `db:"payment_amount" json:"paymentAmount"`
	PaymentBuyerCount  int64               `db:"payment_buyer_count" json:"paymentBuyerCount"`
	PaymentItemCount   int64               `db:"payment_item_count" json:"paymentItemCount"`
	RefundAmount       decimal.Decimal     `db:"refund_amount" json:"refundAmount"`
	ReportedConversion decimal.NullDecimal `db:"reported_conversion" json:"reportedConversion"` // 平台口径转化率，仅留档

	Provenance
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PromotionSpend 推广花费流水，一个商品一天可对应多条
type PromotionSpend struct {
	ID         int64           `db:"id" json:"id"`
	Platform   string          `db:"platform" json:"platform"`
	Scene      string          `db:"scene" json:"scene"`
	ProductKey string          `db:"product_key" json:"productKey"`
	Day        string          `db:"day" json:"day"`
	Spend      decimal.Decimal `db:"spend" json:"spend"`

	Provenance
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// RebateOrder 补单（刷单/种草单）流水，按 (product_key, day) 归集
type RebateOrder struct {
	ID         int64           `db:"id" json:"id"`
	Platform   string          `db:"platform" json:"platform"`
	OrderNo    string          `db:"order_no" json:"orderNo"`
	ProductKey string          `db:"product_key" json:"productKey"`
	Day        string          `db:"day" json:"day"`
	Quantity   int64           `db:"quantity" json:"quantity"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Commission decimal.Decimal `db:"commission" json:"commission"`
	Staff      string          `db:"staff" json:"staff"`

	Provenance
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// OrderLine 发货订单明细，按店铺款号关联商品档案
type OrderLine struct {
	ID             int64           `db:"id" json:"id"`
	Platform       string          `db:"platform" json:"platform"`
	OrderNo        string          `db:"order_no" json:"orderNo"`
	Day            string          `db:"day" json:"day"`
	StyleCode      string          `db:"style_code" json:"styleCode"`
	ProductKey     *string         `db:"product_key" json:"productKey"`
	CatalogMatched bool            `db:"catalog_matched" json:"catalogMatched"`
	Quantity       int64           `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unitPrice"`
	PaidAmount     decimal.Decimal `db:"paid_amount" json:"paidAmount"` // 结算回款，由结算对账写入
	SettledAt      *time.Time      `db:"settled_at" json:"settledAt"`

	Provenance
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Settlement 支付渠道结算流水（收入为正、支出带符号）
type Settlement struct {
	TransactionID string          `db:"transaction_id" json:"transactionId"`
	Day           string          `db:"day" json:"day"`
	Income        decimal.Decimal `db:"income" json:"income"`
	Expense       decimal.Decimal `db:"expense" json:"expense"`
	Memo          string          `db:"memo" json:"memo"`
	OrderRef      string          `db:"order_ref" json:"orderRef"` // 从备注中提取的订单号

	Provenance
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Net 单笔结算净额
func (s Settlement) Net() decimal.Decimal {
	return s.Income.Add(s.Expense)
}
