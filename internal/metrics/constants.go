// Package metrics 按天重算 MergedFact 的派生指标（定点小数，分阶段纯函数）。
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// 配置项名称（[business] 表中的键）
const (
	KeyOrderDeductionRate      = "order_deduction_rate"
	KeyTaxRate                 = "tax_rate"
	KeyLogisticsPerItem        = "logistics_per_item"
	KeyRebateLogisticsPerOrder = "rebate_logistics_per_order"
	KeyRebateDeductionRate     = "rebate_deduction_rate"
)

// Constants 业务常量
type Constants struct {
	OrderDeductionRate      decimal.Decimal // 订单扣点 8%
	TaxRate                 decimal.Decimal // 税点 13%
	LogisticsPerItem        decimal.Decimal // 每件物流 2.5
	RebateLogisticsPerOrder decimal.Decimal // 每笔补单物流 2.5
	RebateDeductionRate     decimal.Decimal // 补单扣点 8%
}

// DefaultConstants 默认业务常量
func DefaultConstants() Constants {
	return Constants{
		OrderDeductionRate:      decimal.RequireFromString("0.08"),
		TaxRate:                 decimal.RequireFromString("0.13"),
		LogisticsPerItem:        decimal.RequireFromString("2.5"),
		RebateLogisticsPerOrder: decimal.RequireFromString("2.5"),
		RebateDeductionRate:     decimal.RequireFromString("0.08"),
	}
}

// ParseConstants 在默认值上应用配置覆盖；空字符串表示沿用默认
func ParseConstants(overrides map[string]string) (Constants, error) {
	c := DefaultConstants()
	targets := map[string]*decimal.Decimal{
		KeyOrderDeductionRate:      &c.OrderDeductionRate,
		KeyTaxRate:                 &c.TaxRate,
		KeyLogisticsPerItem:        &c.LogisticsPerItem,
		KeyRebateLogisticsPerOrder: &c.RebateLogisticsPerOrder,
		KeyRebateDeductionRate:     &c.RebateDeductionRate,
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw := strings.TrimSpace(overrides[k])
		if raw == "" {
			continue
		}
		dst, ok := targets[k]
		if !ok {
			return c, fmt.Errorf("unknown business constant %q", k)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return c, fmt.Errorf("business constant %s=%q: %w", k, raw, err)
		}
		if v.IsNegative() {
			return c, fmt.Errorf("business constant %s must not be negative", k)
		}
		*dst = v
	}
	return c, nil
}
