package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-display-sync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for all database operations.
type Store interface {
	UpsertDevices(ctx context.Context, devices []model.Device) error
	ListDevices(ctx context.Context) ([]model.Device, error)
	DeviceName(ctx context.Context, id string) (string, error)

	PutSubscription(ctx context.Context, sub model.PushSubscription, deviceIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForDevice(ctx context.Context, deviceID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// UpsertDevices writes configured devices, updating rows whose metadata changed.
func (s *gormStore) UpsertDevices(ctx context.Context, devices []model.Device) error {
	if len(devices) == 0 {
		return nil
	}

	existing, err := s.fetchAllDevices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not pre-fetch devices")
		existing = make(map[string]model.Device)
	}

	var toUpsert []model.Device
	for _, d := range devices {
		if old, ok := existing[d.ID]; ok && sameDevice(old, d) {
			continue
		}
		toUpsert = append(toUpsert, d)
	}
	if len(toUpsert) == 0 {
		return nil
	}

	log.Info().Int("count", len(toUpsert)).Msg("upserting devices")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "transport", "source", "updated_at"}),
		}).Create(&toUpsert).Error; err != nil {
			return fmt.Errorf("batch upsert devices failed: %w", err)
		}
		return nil
	})
}

func sameDevice(a, b model.Device) bool {
	return a.DisplayName == b.DisplayName && a.Transport == b.Transport && a.Source == b.Source
}

func (s *gormStore) fetchAllDevices(ctx context.Context) (map[string]model.Device, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Device, len(devices))
	for _, d := range devices {
		out[d.ID] = d
	}
	return out, nil
}

// ListDevices returns every stored device ordered by ID.
func (s *gormStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// DeviceName returns the display name of a device.
func (s *gormStore) DeviceName(ctx context.Context, id string) (string, error) {
	var device model.Device
	err := s.db.WithContext(ctx).Select("display_name").First(&device, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch device %s: %w", id, err)
	}
	return device.DisplayName, nil
}

// PutSubscription creates or replaces a subscription and its device set.
// Unknown device IDs are ignored.
func (s *gormStore) PutSubscription(ctx context.Context, sub model.PushSubscription, deviceIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub.Devices = nil
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(&sub).Error; err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}

		devices := []model.Device{}
		if len(deviceIDs) > 0 {
			if err := tx.Where("id IN ?", deviceIDs).Find(&devices).Error; err != nil {
				return fmt.Errorf("failed to resolve subscribed devices: %w", err)
			}
		}

		if err := tx.Model(&sub).Association("Devices").Replace(&devices); err != nil {
			return fmt.Errorf("failed to map subscription devices: %w", err)
		}
		return nil
	})
}

// GetSubscription returns a subscription with its devices loaded.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).Preload("Devices").First(&sub, "endpoint = ?", endpoint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sub, ErrNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	return sub, nil
}

// DeleteSubscription removes a subscription and its device mappings.
// Deleting an unknown endpoint is not an error.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	sub := model.PushSubscription{Endpoint: endpoint}
	if err := s.db.WithContext(ctx).Select("Devices").Delete(&sub).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// SubscriptionsForDevice returns every subscription mapped to a device.
func (s *gormStore) SubscriptionsForDevice(ctx context.Context, deviceID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.device_id = ?", deviceID).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for device %s: %w", deviceID, err)
	}
	return subs, nil
}
