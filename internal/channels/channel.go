package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"
)

// ChannelNotFoundError represents an error when a channel is not found
type ChannelNotFoundError struct {
	ID string
}

func (e *ChannelNotFoundError) Error() string {
	return fmt.Sprintf("channel not found: %s", e.ID)
}

// NewChannelNotFoundError creates a new ChannelNotFoundError
func NewChannelNotFoundError(id string) *ChannelNotFoundError {
	return &ChannelNotFoundError{ID: id}
}

// Channel is a tracked marketing source with its own QR code. Ad dates are
// calendar dates stored at midnight UTC.
type Channel struct {
	ID          string     `gorm:"primaryKey;size:64" json:"id"`
	Name        string     `gorm:"not null" json:"name"`
	Active      bool       `gorm:"not null;default:true" json:"active"`
	AdBudget    int64      `gorm:"not null;default:0" json:"ad_budget"`
	AdStartDate *time.Time `json:"ad_start_date"`
	AdEndDate   *time.Time `json:"ad_end_date"`
	AdPlacement string     `json:"ad_placement"`
	Latitude    *float64   `json:"latitude"`
	Longitude   *float64   `json:"longitude"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HasAdSpend reports whether ad efficiency metrics apply.
func (c *Channel) HasAdSpend() bool {
	return c.AdBudget > 0
}

// CreateChannel creates a new channel, assigning an id when none is set.
func CreateChannel(db *gorm.DB, channel *Channel) error {
	if channel.ID == "" {
		channel.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	channel.CreatedAt = now
	channel.UpdatedAt = now
	return db.Create(channel).Error
}

// UpdateChannel updates an existing channel
func UpdateChannel(db *gorm.DB, channel *Channel) error {
	channel.UpdatedAt = time.Now().UTC()
	return db.Save(channel).Error
}

// DeleteChannel deletes a channel by its ID
func DeleteChannel(db *gorm.DB, id string) error {
	result := db.Delete(&Channel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return NewChannelNotFoundError(id)
	}
	return nil
}

// GetChannelByID retrieves a channel by its ID
func GetChannelByID(db *gorm.DB, id string) (*Channel, error) {
	var channel Channel
	if err := db.Where("id = ?", id).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewChannelNotFoundError(id)
		}
		return nil, fmt.Errorf("unexpected error querying channel: %w", err)
	}
	return &channel, nil
}

// GetChannelsByIDs returns the known channels among ids, keyed by id.
// Unknown ids are simply absent from the result.
func GetChannelsByIDs(db *gorm.DB, ids []string) (map[string]Channel, error) {
	result := make(map[string]Channel, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var list []Channel
	if err := db.Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}
	for _, channel := range list {
		result[channel.ID] = channel
	}
	return result, nil
}

// GetAllChannels retrieves all channels ordered by creation time
func GetAllChannels(db *gorm.DB) ([]Channel, error) {
	var list []Channel
	if err := db.Order("created_at ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to get channels: %w", err)
	}
	return list, nil
}

// GetActiveChannelIDs returns the ids of all active channels
func GetActiveChannelIDs(db *gorm.DB) ([]string, error) {
	var ids []string
	if err := db.Model(&Channel{}).Where("active = ?", true).Order("created_at ASC, id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to get active channels: %w", err)
	}
	return ids, nil
}

// Directory serves channel lookups to the stats service.
type Directory struct {
	dbManager cartridge.DBManager
}

func NewDirectory(dbManager cartridge.DBManager) *Directory {
	return &Directory{dbManager: dbManager}
}

func (d *Directory) ChannelsByIDs(ctx context.Context, ids []string) (map[string]Channel, error) {
	return GetChannelsByIDs(d.dbManager.GetConnection().WithContext(ctx), ids)
}
