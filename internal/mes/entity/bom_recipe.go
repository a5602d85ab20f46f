package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BomRecipeStatus 配方状态
const (
	RecipeStatusDraft     = "draft"
	RecipeStatusCommitted = "committed"
	RecipeStatusApproved  = "approved"
	RecipeStatusDeleted   = "deleted"
)

// BomRecipe 产品BOM配方（按版本不可变，修订产生新记录）
type BomRecipe struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	Code        string    `json:"code" gorm:"size:64;not null;index:idx_recipe_code_rev,unique"`
	Revision    int       `json:"revision" gorm:"not null;default:1;index:idx_recipe_code_rev,unique"`
	ProductCode string    `json:"product_code" gorm:"size:64;not null;index"`
	Status      string    `json:"status" gorm:"size:16;not null;default:draft"`
	CreatedBy   string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Items []BomRecipeItem `json:"items,omitempty" gorm:"foreignKey:RecipeID"`
}

func (BomRecipe) TableName() string {
	return "mes_bom_recipes"
}

// BomRecipeItem BOM行项（item_code在配方内唯一）
type BomRecipeItem struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid"`
	RecipeID     string          `json:"recipe_id" gorm:"type:uuid;not null;index"`
	ItemCode     string          `json:"item_code" gorm:"size:64;not null"`
	MaterialCode string          `json:"material_code" gorm:"size:64;not null"`
	Unit         string          `json:"unit" gorm:"size:16;not null;default:pcs"`
	Quota        decimal.Decimal `json:"quota" gorm:"type:decimal(18,6);not null"` // 单台用量上限
	Description  string          `json:"description,omitempty" gorm:"size:256"`
	SortOrder    int             `json:"sort_order" gorm:"default:0"`
	IsDeleted    bool            `json:"is_deleted" gorm:"not null;default:false"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (BomRecipeItem) TableName() string {
	return "mes_bom_recipe_items"
}

// ActiveItem 取配方中未删除的行项
func (r *BomRecipe) ActiveItem(itemCode string) *BomRecipeItem {
	for i := range r.Items {
		it := &r.Items[i]
		if !it.IsDeleted && it.ItemCode == itemCode {
			return it
		}
	}
	return nil
}
