package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignWindow 活动档期（可选预热开始日）
type CampaignWindow struct {
	Name        string `json:"name"`
	Start       string `json:"start"`
	End         string `json:"end"`
	WarmupStart string `json:"warmupStart,omitempty"`
}

// CatalogEntry 商品档案（维度表，首次写入生效）
type CatalogEntry struct {
	ProductKey  string  `db:"product_key" json:"productKey"`
	ProductName string  `db:"product_name" json:"productName"`
	ListingDate *string `db:"listing_date" json:"listingDate"`
	SupplierRef string  `db:"supplier_ref" json:"supplierRef"`
	Owner       string  `db:"owner" json:"owner"` // 运营负责人，同时作为成本价的员工维度
	Category    string  `db:"category" json:"category"`
	StyleCode   string  `db:"style_code" json:"styleCode"` // 店铺款号，订单明细按此关联

	CampaignsJSON string           `db:"campaigns_json" json:"-"`
	Campaigns     []CampaignWindow `db:"-" json:"campaigns"`

	Provenance
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// CostSource 成本价来源
type CostSource string

const (
	CostSourceCompany CostSource = "company" // 公司统一成本
	CostSourceStaff   CostSource = "staff"   // 员工维度成本
)

// CostEntry 成本价 (商品, 员工, 来源) -> 单件成本
type CostEntry struct {
	ProductKey string          `db:"product_key" json:"productKey"`
	StaffKey   string          `db:"staff_key" json:"staffKey"`
	Source     CostSource      `db:"source" json:"source"`
	UnitCost   decimal.Decimal `db:"unit_cost" json:"unitCost"`

	Provenance
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Provenance 入库溯源信息
type Provenance struct {
	SourceFile string `db:"source_file" json:"sourceFile"`
	ActorID    string `db:"actor_id" json:"actorId"`
	ImportID   string `db:"import_id" json:"importId"`
}

// ResolveUnitCost 按 员工成本 > 公司成本 的优先级选出单件成本
func ResolveUnitCost(entries []CostEntry, staffKey string) (decimal.Decimal, bool) {
	var company *CostEntry
	for i := range entries {
		e := &entries[i]
		if e.Source == CostSourceStaff && staffKey != "" && e.StaffKey == staffKey {
			return e.UnitCost, true
		}
		if e.Source == CostSourceCompany && company == nil {
			company = e
		}
	}
	if company != nil {
		return company.UnitCost, true
	}
	return decimal.Zero, false
}
