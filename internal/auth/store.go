package auth

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

func (s *Store) Get(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := s.DB.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}
