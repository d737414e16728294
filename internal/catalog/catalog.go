// Package catalog содержит статический каталог товаров витрины.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Product — карточка товара.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Stock       int    `json:"stock"`
	Merchant    string `json:"merchant"`
	Available   bool   `json:"available"`
}

// Catalog — неизменяемый справочник товаров.
type Catalog struct {
	products map[string]Product
}

// New собирает каталог из списка товаров.
func New(products []Product) *Catalog {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Default возвращает каталог витрины.
func Default() *Catalog {
	return New(defaultProducts)
}

// Get ищет товар по идентификатору.
func (c *Catalog) Get(id string) (Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// List возвращает товары в порядке идентификаторов.
func (c *Catalog) List() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i].ID)
		b, errB := strconv.Atoi(out[j].ID)
		if errA == nil && errB == nil {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve дополняет позиции корзины названием и мерчантом из каталога.
// Цена остаётся снимком клиента. Неизвестные или недоступные товары отклоняются.
func (c *Catalog) Resolve(items []domain.OrderItem) ([]domain.OrderItem, error) {
	out := make([]domain.OrderItem, 0, len(items))
	var errs []error
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		p, ok := c.products[id]
		switch {
		case id == "":
			errs = append(errs, domain.ErrItemProductRequired)
			continue
		case !ok:
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownProduct, id))
			continue
		case !p.Available:
			errs = append(errs, fmt.Errorf("%w: %s", ErrProductUnavailable, id))
			continue
		}
		if item.Name == "" {
			item.Name = p.Name
		}
		if item.Merchant == "" {
			item.Merchant = p.Merchant
		}
		item.ProductID = id
		out = append(out, item)
	}
	if len(errs) > 0 {
		return nil, domain.NewValidationError(errs...)
	}
	return out, nil
}
