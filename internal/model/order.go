package model

import "time"

type TicketOrder struct {
	ID             string     `gorm:"primaryKey;size:64"`
	EventID        string     `gorm:"size:64;not null;index"`
	State          *string    `gorm:"size:32"`
	CreatedAt      *time.Time `gorm:"autoCreateTime:false"`
	Confirmed      *bool
	BuyerFirstName *string `gorm:"size:128"`
	BuyerLastName  *string `gorm:"size:128"`
	BuyerEmail     *string `gorm:"size:256"`
}

func (TicketOrder) TableName() string { return "ticket_order" }
