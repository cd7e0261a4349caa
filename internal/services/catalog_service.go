package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stitchline/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid catalog arguments.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates no product exists for the id.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Clock   func() time.Time
}

type catalogService struct {
	repo  repositories.CatalogRepository
	clock func() time.Time
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		repo:  deps.Catalog,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		var catErr *repositories.CatalogError
		if errors.As(err, &catErr) && catErr.Code == repositories.CatalogErrorProductNotFound {
			return Product{}, fmt.Errorf("%w: %s", ErrCatalogProductNotFound, productID)
		}
		return Product{}, err
	}
	return product, nil
}
