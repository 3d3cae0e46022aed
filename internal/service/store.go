package service

import (
	"context"

	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/repository"
)

// Storage resolves which backend an operation runs against.
type Storage interface {
	Active(ctx context.Context) (repository.Backend, error)
	ForOrder(orderID string) (repository.Backend, error)
	Prefix(name string) string
	Tolerant() bool
	Backends() []repository.Backend
	LookupMerchant(ctx context.Context, b repository.Backend, publicID string) (*models.Merchant, error)
	LookupBank(ctx context.Context, b repository.Backend, bankID string) (*models.Bank, error)
}

var _ Storage = (*repository.Resolver)(nil)
