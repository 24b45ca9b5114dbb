package service

import (
	"context"
	"strings"

	"github.com/mmeshcher/shipsavings/internal/model"
)

// ListCatalog возвращает каталог кораблей.
func (s *Service) ListCatalog(ctx context.Context, availableOnly bool) ([]model.CatalogItem, error) {
	items, err := s.repo.ListCatalog(ctx, availableOnly)
	if err != nil {
		return nil, translate(err)
	}
	return items, nil
}

// GetCatalogItem возвращает позицию каталога.
func (s *Service) GetCatalogItem(ctx context.Context, id int64) (*model.CatalogItem, error) {
	item, err := s.repo.GetCatalogItem(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return item, nil
}

// AddCatalogItem добавляет позицию каталога. Только для администратора.
func (s *Service) AddCatalogItem(ctx context.Context, p model.Principal, item model.CatalogItem) (*model.CatalogItem, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	item.Name = strings.TrimSpace(item.Name)
	item.Category = strings.TrimSpace(item.Category)
	if item.Name == "" {
		return nil, newError(KindValidation, ErrInvalidInput, "catalog item name is required")
	}
	if item.Price <= 0 {
		return nil, newError(KindValidation, ErrInvalidAmount, "catalog item price must be positive")
	}
	item.CreatedAt = s.now()

	id, err := s.repo.AddCatalogItem(ctx, &item)
	if err != nil {
		return nil, translate(err)
	}
	item.ID = id
	return &item, nil
}

// findCatalogByName ищет позицию каталога по названию без учёта регистра.
func findCatalogByName(items []model.CatalogItem, name string) (model.CatalogItem, bool) {
	for _, item := range items {
		if strings.EqualFold(item.Name, name) {
			return item, true
		}
	}
	return model.CatalogItem{}, false
}
