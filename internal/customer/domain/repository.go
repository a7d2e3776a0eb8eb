package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListCustomerFilter struct {
	Name     string
	Email    string
	Currency string
	Region   string
}

// ListCursor continues a (created_at DESC, id DESC) listing.
type ListCursor struct {
	CreatedAt time.Time
	ID        snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, filter ListCustomerFilter, after *ListCursor, limit int) ([]*Customer, error)
}
