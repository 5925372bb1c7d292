package metrics

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"lodestar/internal/model"
)

var hundred = decimal.NewFromInt(100)

// 存储精度：比率 4 位，金额 2 位
const (
	rateScale  = 4
	moneyScale = 2
)

// Input 计算所需的原始字段（只读）
type Input struct {
	Visitors          int64
	Favorites         int64
	CartAdds          int64
	PaymentAmount     decimal.Decimal
	PaymentBuyerCount int64
	PaymentItemCount  int64
	RefundAmount      decimal.Decimal
	UnitCost          decimal.Decimal
	HasUnitCost       bool

	RebateOrderCount    int64
	RebateAmount        decimal.Decimal
	RebateCost          decimal.Decimal
	RebateLogisticsCost decimal.Decimal
	RebateDeduction     decimal.Decimal
	PromotionTotal      decimal.Decimal
}

// Rates 第一阶段：转化率、收藏率、加购率、UV 价值
type Rates struct {
	Input
	ConversionRate decimal.Decimal
	FavoriteRate   decimal.Decimal
	CartRate       decimal.Decimal
	UVValue        decimal.Decimal
}

// TrueAmounts 第二阶段：剔除退款与补单后的真实成交
type TrueAmounts struct {
	Rates
	TrueAmount     decimal.Decimal
	TrueBuyerCount int64
	TrueItemCount  int64
}

// Cost 第三阶段：货品成本、扣点、税、物流、真实转化率
type Cost struct {
	TrueAmounts
	ProductCost        decimal.Decimal
	OrderDeduction     decimal.Decimal
	Tax                decimal.Decimal
	LogisticsCost      decimal.Decimal
	TrueConversionRate decimal.Decimal
}

// Profit 第四阶段：毛利
type Profit struct {
	Cost
	GrossProfit decimal.Decimal
}

var errNegative = errors.New("negative value")

// InputFrom 从 MergedFact 提取输入并校验
func InputFrom(m *model.MergedFact) (Input, error) {
	in := Input{
		Visitors:            m.Visitors,
		Favorites:           m.Favorites,
		CartAdds:            m.CartAdds,
		PaymentAmount:       m.PaymentAmount,
		PaymentBuyerCount:   m.PaymentBuyerCount,
		PaymentItemCount:    m.PaymentItemCount,
		RefundAmount:        m.RefundAmount,
		RebateOrderCount:    m.RebateOrderCount,
		RebateAmount:        m.RebateAmount,
		RebateCost:          m.RebateCost,
		RebateLogisticsCost: m.RebateLogisticsCost,
		RebateDeduction:     m.RebateDeduction,
		PromotionTotal:      m.PromotionTotal(),
	}
	if m.UnitCost.Valid {
		in.UnitCost = m.UnitCost.Decimal
		in.HasUnitCost = true
	}

	counts := []struct {
		name string
		v    int64
	}{
		{"visitors", in.Visitors},
		{"favorites", in.Favorites},
		{"cart_adds", in.CartAdds},
		{"payment_buyer_count", in.PaymentBuyerCount},
		{"payment_item_count", in.PaymentItemCount},
		{"rebate_order_count", in.RebateOrderCount},
	}
	for _, c := range counts {
		if c.v < 0 {
			return in, fmt.Errorf("%s=%d: %w", c.name, c.v, errNegative)
		}
	}
	if in.PaymentAmount.IsNegative() {
		return in, fmt.Errorf("payment_amount=%s: %w", in.PaymentAmount, errNegative)
	}
	if in.HasUnitCost && in.UnitCost.IsNegative() {
		return in, fmt.Errorf("unit_cost=%s: %w", in.UnitCost, errNegative)
	}
	return in, nil
}

// ratio 分母为 0 时结果为 0
func ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

func percent(num, den int64) decimal.Decimal {
	return ratio(decimal.NewFromInt(num), decimal.NewFromInt(den)).Mul(hundred).Round(rateScale)
}

// ComputeRates 第一阶段
func ComputeRates(in Input) Rates {
	return Rates{
		Input:          in,
		ConversionRate: percent(in.PaymentBuyerCount, in.Visitors),
		FavoriteRate:   percent(in.Favorites, in.Visitors),
		CartRate:       percent(in.CartAdds, in.Visitors),
		UVValue:        ratio(in.PaymentAmount, decimal.NewFromInt(in.Visitors)).Round(moneyScale),
	}
}

// ComputeTrueAmounts 第二阶段；补单笔数直接抵扣买家数与件数
func ComputeTrueAmounts(r Rates) TrueAmounts {
	return TrueAmounts{
		Rates:          r,
		TrueAmount:     r.PaymentAmount.Sub(r.RefundAmount).Sub(r.RebateAmount).Round(moneyScale),
		TrueBuyerCount: r.PaymentBuyerCount - r.RebateOrderCount,
		TrueItemCount:  r.PaymentItemCount - r.RebateOrderCount,
	}
}

// ComputeCost 第三阶段
func ComputeCost(t TrueAmounts, c Constants) Cost {
	trueItems := decimal.NewFromInt(t.TrueItemCount)
	multiItems := decimal.NewFromInt(t.PaymentItemCount - t.PaymentBuyerCount)
	return Cost{
		TrueAmounts:        t,
		ProductCost:        trueItems.Mul(t.UnitCost).Add(multiItems.Mul(t.UnitCost)).Round(moneyScale),
		OrderDeduction:     t.TrueAmount.Mul(c.OrderDeductionRate).Round(moneyScale),
		Tax:                t.PaymentAmount.Mul(c.TaxRate).Round(moneyScale),
		LogisticsCost:      trueItems.Mul(c.LogisticsPerItem).Round(moneyScale),
		TrueConversionRate: percent(t.TrueBuyerCount, t.Visitors),
	}
}

// ComputeProfit 第四阶段
func ComputeProfit(c Cost) Profit {
	gross := c.TrueAmount.
		Sub(c.ProductCost).
		Sub(c.OrderDeduction).
		Sub(c.Tax).
		Sub(c.LogisticsCost).
		Sub(c.RebateCost).
		Sub(c.RebateDeduction).
		Sub(c.RebateLogisticsCost).
		Sub(c.PromotionTotal)
	return Profit{Cost: c, GrossProfit: gross.Round(moneyScale)}
}

// Compute 依次执行四个阶段
func Compute(in Input, c Constants) Profit {
	return ComputeProfit(ComputeCost(ComputeTrueAmounts(ComputeRates(in)), c))
}

// Apply 把计算结果写回 MergedFact
func (p Profit) Apply(m *model.MergedFact) {
	m.ConversionRate = p.ConversionRate
	m.FavoriteRate = p.FavoriteRate
	m.CartRate = p.CartRate
	m.UVValue = p.UVValue
	m.TrueAmount = p.TrueAmount
	m.TrueBuyerCount = p.TrueBuyerCount
	m.TrueItemCount = p.TrueItemCount
	m.ProductCost = p.ProductCost
	m.OrderDeduction = p.OrderDeduction
	m.Tax = p.Tax
	m.LogisticsCost = p.LogisticsCost
	m.TrueConversionRate = p.TrueConversionRate
	m.GrossProfit = p.GrossProfit
}
