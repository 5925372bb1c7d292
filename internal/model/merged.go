package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MergedFact 对账结果，每个 (product_key, day) 一行
type MergedFact struct {
	ID         int64  `db:"id" json:"id"`
	ProductKey string `db:"product_key" json:"productKey"`
	Day        string `db:"day" json:"day"`
	Platform   string `db:"platform" json:"platform"`
	StoreCount int64  `db:"store_count" json:"storeCount"` // 合并的店铺数

	// 日报字段（多店铺求和）
	Visitors          int64           `db:"visitors" json:"visitors"`
	PageViews         int64           `db:"page_views" json:"pageViews"`
	Favorites         int64           `db:"favorites" json:"favorites"`
	CartAdds          int64           `db:"cart_adds" json:"cartAdds"`
	CartBuyers        int64           `db:"cart_buyers" json:"cartBuyers"`
	PaymentAmount     decimal.Decimal `db:"payment_amount" json:"paymentAmount"`
	PaymentBuyerCount int64           `db:"payment_buyer_count" json:"paymentBuyerCount"`
	PaymentItemCount  int64           `db:"payment_item_count" json:"paymentItemCount"`
	RefundAmount      decimal.Decimal `db:"refund_amount" json:"refundAmount"`

	// 商品档案（未匹配时全部为 NULL）
	CatalogMatched bool                `db:"catalog_matched" json:"catalogMatched"`
	ProductName    *string             `db:"product_name" json:"productName"`
	ListingDate    *string             `db:"listing_date" json:"listingDate"`
	SupplierRef    *string             `db:"supplier_ref" json:"supplierRef"`
	Owner          *string             `db:"owner" json:"owner"`
	Category       *string             `db:"category" json:"category"`
	UnitCost       decimal.NullDecimal `db:"unit_cost" json:"unitCost"`

	// 推广花费（六类场景）
	PromoSearch    decimal.Decimal `db:"promo_search" json:"promoSearch"`
	PromoDisplay   decimal.Decimal `db:"promo_display" json:"promoDisplay"`
	PromoFullsite  decimal.Decimal `db:"promo_fullsite" json:"promoFullsite"`
	PromoContent   decimal.Decimal `db:"promo_content" json:"promoContent"`
	PromoBrand     decimal.Decimal `db:"promo_brand" json:"promoBrand"`
	PromoAffiliate decimal.Decimal `db:"promo_affiliate" json:"promoAffiliate"`

	// 补单汇总
	RebateOrderCount    int64           `db:"rebate_order_count" json:"rebateOrderCount"`
	RebateAmount        decimal.Decimal `db:"rebate_amount" json:"rebateAmount"`
	RebateCost          decimal.Decimal `db:"rebate_cost" json:"rebateCost"`
	RebateLogisticsCost decimal.Decimal `db:"rebate_logistics_cost" json:"rebateLogisticsCost"`
	RebateDeduction     decimal.Decimal `db:"rebate_deduction" json:"rebateDeduction"`

	// 派生指标
	ConversionRate     decimal.Decimal `db:"conversion_rate" json:"conversionRate"`
	FavoriteRate       decimal.Decimal `db:"favorite_rate" json:"favoriteRate"`
	CartRate           decimal.Decimal `db:"cart_rate" json:"cartRate"`
	UVValue            decimal.Decimal `db:"uv_value" json:"uvValue"`
	TrueAmount         decimal.Decimal `db:"true_amount" json:"trueAmount"`
	TrueBuyerCount     int64           `db:"true_buyer_count" json:"trueBuyerCount"`
	TrueItemCount      int64           `db:"true_item_count" json:"trueItemCount"`
	ProductCost        decimal.Decimal `db:"product_cost" json:"productCost"`
	OrderDeduction     decimal.Decimal `db:"order_deduction" json:"orderDeduction"`
	Tax                decimal.Decimal `db:"tax" json:"tax"`
	LogisticsCost      decimal.Decimal `db:"logistics_cost" json:"logisticsCost"`
	TrueConversionRate decimal.Decimal `db:"true_conversion_rate" json:"trueConversionRate"`
	GrossProfit        decimal.Decimal `db:"gross_profit" json:"grossProfit"`

	MergedAt   time.Time  `db:"merged_at" json:"mergedAt"`
	EnrichedAt *time.Time `db:"enriched_at" json:"enrichedAt"`
	MetricsAt  *time.Time `db:"metrics_at" json:"metricsAt"`
}

// PromotionTotal 六类推广花费合计
func (m *MergedFact) PromotionTotal() decimal.Decimal {
	return decimal.Sum(m.PromoSearch, m.PromoDisplay, m.PromoFullsite, m.PromoContent, m.PromoBrand, m.PromoAffiliate)
}
