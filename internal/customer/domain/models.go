package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name       string            `gorm:"type:text;not null" json:"name"`
	Email      string            `gorm:"type:text;not null" json:"email"`
	Currency   string            `gorm:"type:text;not null" json:"currency"`
	Region     *string           `gorm:"type:varchar(64);index" json:"region,omitempty"`
	SalesAgent *string           `gorm:"type:text" json:"sales_agent,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// Provisioned bundles a customer with the billing rows created for it.
type Provisioned struct {
	Customer  Customer     `json:"customer"`
	AccountID snowflake.ID `json:"billing_account_id"`
	WalletID  snowflake.ID `json:"wallet_id"`
}
