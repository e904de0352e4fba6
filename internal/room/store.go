package room

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("room not found")

// Store is the durable home of room configuration and check history.
// Writes are whole-document; there is no optimistic concurrency check.
type Store struct {
	DB *gorm.DB
}

func (s *Store) All(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := s.DB.WithContext(ctx).Order("room_id").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (s *Store) Get(ctx context.Context, roomID int64) (*Room, error) {
	var rm Room
	err := s.DB.WithContext(ctx).First(&rm, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %d: %w", roomID, err)
	}
	return &rm, nil
}

func (s *Store) Save(ctx context.Context, rm *Room) error {
	if err := s.DB.WithContext(ctx).Save(rm).Error; err != nil {
		return fmt.Errorf("save room %d: %w", rm.RoomID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, rm *Room) error {
	if err := s.DB.WithContext(ctx).Delete(rm).Error; err != nil {
		return fmt.Errorf("delete room %d: %w", rm.RoomID, err)
	}
	return nil
}

func (s *Store) OfUser(ctx context.Context, userID int64) ([]Room, error) {
	var rooms []Room
	if err := s.DB.WithContext(ctx).Where("added_by = ?", userID).Order("room_id").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms of user %d: %w", userID, err)
	}
	return rooms, nil
}
