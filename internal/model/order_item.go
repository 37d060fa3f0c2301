package model

import "github.com/shopspring/decimal"

type OrderItem struct {
	ID                string           `gorm:"primaryKey;size:64"`
	OrderID           string           `gorm:"size:64;not null;index"`
	Amount            *decimal.Decimal `gorm:"type:numeric(12,2)"`
	OrderState        *string          `gorm:"size:32"`
	QRCode            *string          `gorm:"column:qr_code;size:128"`
	AttendeeFirstName *string          `gorm:"size:128"`
	AttendeeLastName  *string          `gorm:"size:128"`
	RateID            *string          `gorm:"size:64;index"`
	// RatePrice is the price at time of first sighting; the upsert never
	// replaces a non-null stored value (see Repository.writeItems).
	RatePrice *decimal.Decimal `gorm:"type:numeric(12,2)"`
}

func (OrderItem) TableName() string { return "order_item" }
