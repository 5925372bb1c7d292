package reconcile

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"

	"lodestar/internal/model"
)

// PromoField 推广花费归属的六类字段
type PromoField int

const (
	PromoSearch    PromoField = iota + 1 // 搜索
	PromoDisplay                         // 人群/展示
	PromoFullsite                        // 全站
	PromoContent                         // 内容/直播
	PromoBrand                           // 品牌
	PromoAffiliate                       // 淘客
)

// sceneFields 推广场景名 -> 字段；未收录的场景只计数不累加
var sceneFields = map[string]PromoField{
	"关键词推广":  PromoSearch,
	"直通车":    PromoSearch,
	"搜索推广":   PromoSearch,
	"精准人群推广": PromoDisplay,
	"引力魔方":   PromoDisplay,
	"人群推广":   PromoDisplay,
	"全站推广":   PromoFullsite,
	"货品全站推":  PromoFullsite,
	"超级直播":   PromoContent,
	"内容营销":   PromoContent,
	"短视频推广":  PromoContent,
	"品销宝":    PromoBrand,
	"品牌专区":   PromoBrand,
	"淘宝客":    PromoAffiliate,
	"淘宝联盟":   PromoAffiliate,
}

// SceneField 查找场景对应字段
func SceneField(scene string) (PromoField, bool) {
	f, ok := sceneFields[strings.TrimSpace(width.Narrow.String(scene))]
	return f, ok
}

// add 把花费累加到对应字段
func (f PromoField) add(m *model.MergedFact, spend decimal.Decimal) {
	switch f {
	case PromoSearch:
		m.PromoSearch = m.PromoSearch.Add(spend)
	case PromoDisplay:
		m.PromoDisplay = m.PromoDisplay.Add(spend)
	case PromoFullsite:
		m.PromoFullsite = m.PromoFullsite.Add(spend)
	case PromoContent:
		m.PromoContent = m.PromoContent.Add(spend)
	case PromoBrand:
		m.PromoBrand = m.PromoBrand.Add(spend)
	case PromoAffiliate:
		m.PromoAffiliate = m.PromoAffiliate.Add(spend)
	}
}

func resetPromotion(m *model.MergedFact) {
	m.PromoSearch = decimal.Zero
	m.PromoDisplay = decimal.Zero
	m.PromoFullsite = decimal.Zero
	m.PromoContent = decimal.Zero
	m.PromoBrand = decimal.Zero
	m.PromoAffiliate = decimal.Zero
}
