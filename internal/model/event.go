package model

import "time"

// Event is a synced Universe event. Rows are seeded out of band; the sync run
// only updates metadata and the last_fetched_at watermark.
type Event struct {
	ID            string `gorm:"primaryKey;size:64"`
	FetchState    string `gorm:"size:16;not null;default:'active'"`
	CalendarDate  *time.Time
	LastFetchedAt *time.Time
	State         *string `gorm:"size:32"`
	MaxQuantity   *int
	// updated_at mirrors the remote updatedAt, not a local modification time.
	RemoteUpdatedAt *time.Time `gorm:"column:updated_at"`
}

func (Event) TableName() string { return "event" }
