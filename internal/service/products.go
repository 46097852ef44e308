package service

import (
	"context"
	"fmt"
	"strings"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	products, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, store.Persistence("list products", err)
	}
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.ID = domain.CanonicalProductID(req.ID)
	if req.ID == "" && req.SKU != "" {
		req.ID = domain.CanonicalProductID("prd-" + req.SKU)
	}

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.Invalid("sku, name and category are required")
	}
	if req.PriceCents < 1 {
		return domain.Product{}, store.Invalid("price must be positive")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	created, err := s.catalog.CreateProduct(ctx, domain.Product{
		ID:         req.ID,
		Name:       req.Name,
		SKU:        req.SKU,
		Category:   req.Category,
		PriceCents: req.PriceCents,
		Active:     true,
	})
	if err != nil {
		return domain.Product{}, store.Persistence("create product", err)
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d", created.SKU, created.PriceCents))
	return *created, nil
}
