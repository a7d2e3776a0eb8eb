package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgerd/pkg/db/pagination"
)

type ListCustomerRequest struct {
	PageToken string
	PageSize  int
	Name      string
	Email     string
	Currency  string
	Region    string
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type CreateCustomerRequest struct {
	Name       string
	Email      string
	Currency   string
	Region     string
	SalesAgent string
	Metadata   map[string]any
}

type Service interface {
	// Create inserts the customer and provisions its billing account and
	// wallet in one transaction.
	Create(ctx context.Context, req CreateCustomerRequest) (Provisioned, error)
	// Provision creates any missing billing rows for an existing customer.
	Provision(ctx context.Context, customerID snowflake.ID) (Provisioned, error)
	List(ctx context.Context, req ListCustomerRequest) (ListCustomerResponse, error)
	GetByID(ctx context.Context, id string) (Customer, error)
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidID       = errors.New("invalid_id")
	ErrNotFound        = errors.New("customer_not_found")
)

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrInvalidID)
}
