package auth

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cotrelay/server/internal/model"
)

// GormStore keeps principals in the users table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindPrincipal(ctx context.Context, username string) (*Principal, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", username, ErrUnknownPrincipal)
	}
	if err != nil {
		return nil, fmt.Errorf("find principal %s: %w", username, err)
	}
	return &Principal{Username: u.Username, PasswordHash: u.PasswordHash, Active: u.Active}, nil
}

func (s *GormStore) Verify(p *Principal, credential string) bool {
	return checkPassword(p, credential)
}

func (s *GormStore) IsActive(p *Principal) bool {
	return p != nil && p.Active
}

// AddUser creates or replaces a principal and activates it.
func (s *GormStore) AddUser(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)
	var u model.User
	err = db.Where("username = ?", username).First(&u).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		u = model.User{Username: username, PasswordHash: hash, Active: true}
		if err := db.Create(&u).Error; err != nil {
			return fmt.Errorf("create user %s: %w", username, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("find user %s: %w", username, err)
	}
	err = db.Model(&u).Updates(map[string]any{"password_hash": hash, "active": true}).Error
	if err != nil {
		return fmt.Errorf("update user %s: %w", username, err)
	}
	return nil
}

// SetActive enables or disables a principal.
func (s *GormStore) SetActive(ctx context.Context, username string, active bool) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", username).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("update user %s: %w", username, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", username, ErrUnknownPrincipal)
	}
	return nil
}
