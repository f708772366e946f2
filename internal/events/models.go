package events

import (
	"time"

	"gorm.io/gorm"
)

// AccessType tags how a visitor reached a channel's landing page.
type AccessType string

const (
	AccessTypeQRScan AccessType = "qr_scan"
	AccessTypeLink   AccessType = "link"
	// AccessTypePageView marks plain page views. They never count as access.
	AccessTypePageView AccessType = "page_view"
)

// Gender values stored on completion events.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// CTA types known to the dashboards. Other values are stored as-is.
const (
	CTAReservation = "reservation"
	CTAPhone       = "phone"
	CTALine        = "line"
	CTAWebsite     = "website"
	CTAMap         = "map"
)

// Event timestamps are stored in UTC. SQLite compares the stored text, so
// window filters and time buckets only hold for UTC values; the BeforeSave
// hooks below normalise whatever zone a writer passes.

// AccessEvent is a visit attributed to a channel.
type AccessEvent struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"`
	ChannelID string     `gorm:"index:idx_access_channel_ts;size:64;not null"`
	EventType AccessType `gorm:"size:32;not null;default:qr_scan"`
	Timestamp time.Time  `gorm:"index:idx_access_channel_ts;not null"`
	CreatedAt time.Time
}

func (AccessEvent) TableName() string { return "access_events" }

func (e *AccessEvent) BeforeSave(tx *gorm.DB) error {
	e.Timestamp = e.Timestamp.UTC()
	return nil
}

// CompletionEvent is a quiz session. CompletedAt is nil until the visitor
// reaches the result screen.
type CompletionEvent struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ChannelID      string    `gorm:"index:idx_completion_channel_ts;size:64;not null"`
	Timestamp      time.Time `gorm:"index:idx_completion_channel_ts;not null"`
	IsDemo         bool      `gorm:"not null;default:false"`
	CompletedAt    *time.Time
	Score          int
	ResultCategory string `gorm:"size:64"`
	UserAge        *int
	UserGender     *string `gorm:"size:16"`
	Latitude       *float64
	Longitude      *float64
	Region         string `gorm:"size:128"`
	City           string `gorm:"size:128"`
	Town           string `gorm:"size:128"`
	IPAddress      string `gorm:"size:64"`
	CreatedAt      time.Time
}

func (CompletionEvent) TableName() string { return "completion_events" }

func (e *CompletionEvent) BeforeSave(tx *gorm.DB) error {
	e.Timestamp = e.Timestamp.UTC()
	if e.CompletedAt != nil {
		completedAt := e.CompletedAt.UTC()
		e.CompletedAt = &completedAt
	}
	return nil
}

// CTAClickEvent is a click on a call-to-action shown on a result screen.
type CTAClickEvent struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ChannelID      string    `gorm:"index:idx_cta_channel_ts;size:64;not null"`
	CTAType        string    `gorm:"column:cta_type;size:32;not null"`
	ResultCategory string    `gorm:"size:64"`
	Timestamp      time.Time `gorm:"index:idx_cta_channel_ts;not null"`
	CreatedAt      time.Time
}

func (CTAClickEvent) TableName() string { return "cta_click_events" }

func (e *CTAClickEvent) BeforeSave(tx *gorm.DB) error {
	e.Timestamp = e.Timestamp.UTC()
	return nil
}

// Models returns every event model for migration.
func Models() []any {
	return []any{
		&AccessEvent{},
		&CompletionEvent{},
		&CTAClickEvent{},
	}
}
