package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rate is the latest snapshot of a ticket rate. RateCategorySlug and
// NormalizedName are curated by operators directly in the database; the sync
// run always sends null for them and the upsert keeps any existing value.
type Rate struct {
	ID               string           `gorm:"primaryKey;size:64"`
	EventID          string           `gorm:"size:64;not null;index"`
	Name             *string          `gorm:"size:256"`
	Price            *decimal.Decimal `gorm:"type:numeric(12,2)"`
	MaxQuantity      *int
	SoldCount        *int
	RateCategorySlug *string `gorm:"size:64"`
	NormalizedName   *string `gorm:"size:256"`
	UpdatedAt        time.Time
}

func (Rate) TableName() string { return "rate" }
